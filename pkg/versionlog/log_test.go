package versionlog

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/nainya/pagestore/pkg/page"
)

func TestLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.vlog")

	l, err := OpenLog(base)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}

	for i := 0; i < 5; i++ {
		lsn := l.NextLSN()
		e := &Entry{LSN: lsn, PageID: page.ID(i), Timestamp: page.Timestamp(i), Op: OpVersion, Data: []byte("data")}
		if err := l.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := OpenLog(base)
	if err != nil {
		t.Fatalf("reopen OpenLog: %v", err)
	}
	defer l2.Close()

	segments, err := l2.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	entries, err := ReadAll(segments)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("ReadAll returned %d entries, want 5", len(entries))
	}
	if l2.NextLSN() != 6 {
		t.Fatalf("NextLSN after reopen = %d, want 6 (LSN counter should resume)", l2.NextLSN()-1)
	}
}

func TestReaderSkipsCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "test.vlog")
	l, err := OpenLog(base)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}

	good1 := &Entry{LSN: l.NextLSN(), PageID: 1, Timestamp: 1, Op: OpVersion, Data: []byte("a")}
	bad := good1.Encode()
	bad[EntryHeaderSize] ^= 0xFF
	good2 := &Entry{LSN: l.NextLSN(), PageID: 2, Timestamp: 2, Op: OpVersion, Data: []byte("b")}

	if err := l.Append(good1); err != nil {
		t.Fatalf("Append good1: %v", err)
	}
	// Append a corrupt record directly, bypassing Append's own encode.
	l.mu.Lock()
	if _, err := l.fd.Write(bad); err != nil {
		l.mu.Unlock()
		t.Fatalf("write corrupt record: %v", err)
	}
	l.segSize += int64(len(bad))
	l.mu.Unlock()
	if err := l.Append(good2); err != nil {
		t.Fatalf("Append good2: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := OpenLog(base)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	segments, err := l2.Segments()
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	r, err := OpenReader(segments)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	var got []*Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, e)
	}
	if len(got) == 0 {
		t.Fatalf("expected at least good1 to survive corruption, got none")
	}
	if got[0].PageID != page.ID(1) {
		t.Fatalf("first surviving entry PageID = %v, want 1", got[0].PageID)
	}
}
