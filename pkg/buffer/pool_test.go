package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/nainya/pagestore/pkg/page"
)

type fakeFetcher struct {
	pages map[page.ID][]byte
}

func (f *fakeFetcher) FetchPage(file FileKey, id page.ID) ([]byte, error) {
	data, ok := f.pages[id]
	if !ok {
		return make([]byte, 8), nil
	}
	return data, nil
}

func TestFixUnfixReadOnlyConcurrent(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[page.ID][]byte{1: []byte("12345678")}}
	pool := NewPool(4, 8, fetcher, nil)

	f1, err := pool.Fix(context.Background(), 0, page.ID(1), page.ReadOnly, page.Middle)
	if err != nil {
		t.Fatalf("Fix 1: %v", err)
	}
	f2, err := pool.Fix(context.Background(), 0, page.ID(1), page.ReadOnly, page.Middle)
	if err != nil {
		t.Fatalf("Fix 2 (second ReadOnly should not block): %v", err)
	}
	if f1 != f2 {
		t.Fatalf("two ReadOnly fixes of the same page should return the same frame")
	}
	pool.Unfix(f1, page.NotDirty)
	pool.Unfix(f2, page.NotDirty)
}

func TestFixWriteExclusiveBlocksUntilUnfix(t *testing.T) {
	fetcher := &fakeFetcher{}
	pool := NewPool(4, 8, fetcher, nil)

	f1, err := pool.Fix(context.Background(), 0, page.ID(1), page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Fix 1: %v", err)
	}

	done := make(chan struct{})
	go func() {
		f2, err := pool.Fix(context.Background(), 0, page.ID(1), page.ReadOnly, page.Middle)
		if err != nil {
			t.Errorf("Fix 2: %v", err)
			close(done)
			return
		}
		pool.Unfix(f2, page.NotDirty)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("second fix completed before the write fix was released")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Unfix(f1, page.NotDirty)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("second fix never completed after the write fix was released")
	}
}

func TestFixTimeout(t *testing.T) {
	fetcher := &fakeFetcher{}
	pool := NewPool(4, 8, fetcher, nil)

	f1, err := pool.Fix(context.Background(), 0, page.ID(1), page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Fix 1: %v", err)
	}
	defer pool.Unfix(f1, page.NotDirty)

	_, err = pool.FixTimeout(0, page.ID(1), page.ReadOnly, page.Middle, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("FixTimeout should have failed while the page is write-fixed")
	}
}

func TestUnfixDirtyResolution(t *testing.T) {
	fetcher := &fakeFetcher{}
	pool := NewPool(4, 8, fetcher, nil)

	frame, err := pool.Fix(context.Background(), 0, page.ID(1), page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Fix: %v", err)
	}
	pool.Unfix(frame, page.Omit)

	if !frame.Dirty() {
		t.Fatalf("Unfix(Omit) on a Write-fixed frame should mark it dirty")
	}
}

func TestEvictionPrefersLowPriority(t *testing.T) {
	fetcher := &fakeFetcher{}
	pool := NewPool(2, 8, fetcher, nil)

	low, _ := pool.Fix(context.Background(), 0, page.ID(1), page.ReadOnly, page.Low)
	pool.Unfix(low, page.NotDirty)
	high, _ := pool.Fix(context.Background(), 0, page.ID(2), page.ReadOnly, page.High)
	pool.Unfix(high, page.NotDirty)

	// Pool is now full with two unpinned frames; fixing a third page
	// should evict the Low-priority one, not the High-priority one.
	if _, err := pool.Fix(context.Background(), 0, page.ID(3), page.ReadOnly, page.Middle); err != nil {
		t.Fatalf("Fix 3: %v", err)
	}

	if _, ok := pool.Lookup(0, page.ID(1)); ok {
		t.Fatalf("Low-priority frame should have been evicted first")
	}
	if _, ok := pool.Lookup(0, page.ID(2)); !ok {
		t.Fatalf("High-priority frame should have survived eviction")
	}
}
