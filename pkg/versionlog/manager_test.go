package versionlog

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
)

func newTestManager(t *testing.T) (*Manager, page.ID) {
	t.Helper()
	dir := t.TempDir()
	master, err := masterdata.Create(filepath.Join(dir, "test.master"), masterdata.DefaultPageSize)
	if err != nil {
		t.Fatalf("masterdata.Create: %v", err)
	}
	t.Cleanup(func() { master.Close() })

	pid, err := master.Extend(1)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	zero := bytes.Repeat([]byte{0}, int(masterdata.DefaultPageSize))
	if err := master.WritePage(pid, zero); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	m, err := Open(master, filepath.Join(dir, "test.vlog"), filepath.Join(dir, "test.slog"))
	if err != nil {
		t.Fatalf("versionlog.Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, pid
}

func page4096(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, int(masterdata.DefaultPageSize))
}

func TestFetchFallsBackToMasterData(t *testing.T) {
	m, pid := newTestManager(t)

	data, err := m.Fetch(pid, page.Timestamp(1))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, page4096(0)) {
		t.Fatalf("Fetch with no versions should return master data content")
	}
}

func TestFetchSeesNewestVersionAtOrBeforeReadTimestamp(t *testing.T) {
	m, pid := newTestManager(t)

	if _, err := m.WriteVersion(pid, page.Timestamp(10), page4096(0xAA)); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	if _, err := m.WriteVersion(pid, page.Timestamp(20), page4096(0xBB)); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}

	got, err := m.Fetch(pid, page.Timestamp(15))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, page4096(0xAA)) {
		t.Fatalf("Fetch(ts=15) should see the ts=10 version, not ts=20")
	}

	got, err = m.Fetch(pid, page.Timestamp(25))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, page4096(0xBB)) {
		t.Fatalf("Fetch(ts=25) should see the ts=20 version")
	}

	got, err = m.Fetch(pid, page.Timestamp(5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, page4096(0)) {
		t.Fatalf("Fetch(ts=5), before any version, should see master data")
	}
}

func TestSyncFoldsBackAndMasterReflectsNewest(t *testing.T) {
	m, pid := newTestManager(t)

	if _, err := m.WriteVersion(pid, page.Timestamp(10), page4096(0xAA)); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	if err := m.Sync(pid); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got, err := m.Fetch(pid, page.Timestamp(10))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(got, page4096(0xAA)) {
		t.Fatalf("Fetch after Sync should still see the folded version's content")
	}
}

func TestRecoveryRevertsFoldBackInterruptedBeforeMasterWrite(t *testing.T) {
	dir := t.TempDir()
	master, err := masterdata.Create(filepath.Join(dir, "test.master"), masterdata.DefaultPageSize)
	if err != nil {
		t.Fatalf("masterdata.Create: %v", err)
	}
	pid, err := master.Extend(1)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if err := master.WritePage(pid, page4096(0x11)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	vlogPath := filepath.Join(dir, "test.vlog")
	slogPath := filepath.Join(dir, "test.slog")
	m1, err := Open(master, vlogPath, slogPath)
	if err != nil {
		t.Fatalf("versionlog.Open: %v", err)
	}

	lsn, err := m1.WriteVersion(pid, page.Timestamp(10), page4096(0xBB))
	if err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}

	// Simulate a crash between Sync's two flushes: the pre-image has been
	// written and flushed to the Sync Log, but the Master Data write that
	// follows never happened.
	startLSN := m1.slog.NextLSN()
	start := &Entry{LSN: startLSN, PageID: pid, Timestamp: page.Timestamp(10), Op: OpSyncStart, PrevLSN: lsn, Data: page4096(0x11)}
	if err := m1.slog.Append(start); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m1.slog.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := master.Close(); err != nil {
		t.Fatalf("master.Close: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("m1.Close: %v", err)
	}

	reopened, err := masterdata.Open(filepath.Join(dir, "test.master"))
	if err != nil {
		t.Fatalf("masterdata.Open: %v", err)
	}
	defer reopened.Close()

	m2, err := Open(reopened, vlogPath, slogPath)
	if err != nil {
		t.Fatalf("versionlog.Open after crash: %v", err)
	}
	defer m2.Close()

	got, err := reopened.ReadPage(pid)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if !bytes.Equal(got, page4096(0x11)) {
		t.Fatalf("recovery should have restored the pre-fold master content, got first byte %x", got[0])
	}

	preFold, err := m2.Fetch(pid, page.Timestamp(5))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(preFold, page4096(0x11)) {
		t.Fatalf("Fetch before the interrupted version should see the pre-crash content")
	}

	stillThere, err := m2.Fetch(pid, page.Timestamp(10))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(stillThere, page4096(0xBB)) {
		t.Fatalf("the committed version that was mid-fold must survive recovery")
	}
}

func TestSyncRespectsActiveReaderWatermark(t *testing.T) {
	m, pid := newTestManager(t)

	token := m.BeginRead(page.Timestamp(5))
	defer m.EndRead(token)

	if _, err := m.WriteVersion(pid, page.Timestamp(10), page4096(0xAA)); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}
	if err := m.Sync(pid); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// The ts=10 version is newer than the registered ts=5 reader, so it
	// must not have been folded back into master data yet.
	m.mu.RLock()
	remaining := len(m.index[pid])
	m.mu.RUnlock()
	if remaining != 1 {
		t.Fatalf("Sync folded back a version newer than an active reader's watermark")
	}
}
