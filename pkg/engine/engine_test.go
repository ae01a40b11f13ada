package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nainya/pagestore/internal/config"
	"github.com/nainya/pagestore/internal/logger"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/physfile"
	"github.com/nainya/pagestore/pkg/verify"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error"})
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestOpenAttachDetachRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(defaultConfig(t), testLogger(), 256)
	defer m.Close()

	key, err := m.Open(filepath.Join(dir, "pages"), 256, PageManaged)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id, err := m.AllocatePage(key)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	ctx := context.Background()
	h, err := m.Attach(ctx, nil, key, id, page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	copy(h.GetBuffer(), bytes.Repeat([]byte{0x42}, 256))
	if err := h.Dirty(); err != nil {
		t.Fatalf("Dirty: %v", err)
	}
	if err := h.Detach(page.NotDirty); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	h2, err := m.Attach(ctx, nil, key, id, page.ReadOnly, page.Middle)
	if err != nil {
		t.Fatalf("Attach (reread): %v", err)
	}
	defer h2.Detach(page.NotDirty)
	if !bytes.Equal(h2.GetBuffer(), bytes.Repeat([]byte{0x42}, 256)) {
		t.Fatalf("reread content does not match what was written")
	}
}

func TestCheckpointFoldsDirtyFrameIntoMasterData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pages")
	m := New(defaultConfig(t), testLogger(), 256)
	defer m.Close()

	key, err := m.Open(path, 256, PageManaged)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := m.AllocatePage(key)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	ctx := context.Background()
	h, err := m.Attach(ctx, nil, key, id, page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	copy(h.GetBuffer(), bytes.Repeat([]byte{0x99}, 256))
	if err := h.Dirty(); err != nil {
		t.Fatalf("Dirty: %v", err)
	}
	if err := h.Detach(page.NotDirty); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	if err := m.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	direct, err := physfile.OpenPageManaged(path + ".master")
	if err != nil {
		t.Fatalf("OpenPageManaged: %v", err)
	}
	defer direct.Close()
	raw, err := direct.ReadRawPage(id)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	if !bytes.Equal(raw, bytes.Repeat([]byte{0x99}, 256)) {
		t.Fatalf("checkpoint did not fold the dirty frame back into master data")
	}
}

func TestVerifyDispatchesByFileKind(t *testing.T) {
	dir := t.TempDir()
	m := New(defaultConfig(t), testLogger(), 256)
	defer m.Close()

	key, err := m.Open(filepath.Join(dir, "areas"), 256, AreaManaged)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	areaFile, err := m.AreaManagedFile(key)
	if err != nil {
		t.Fatalf("AreaManagedFile: %v", err)
	}
	if _, _, err := areaFile.AllocateArea(page.Undefined, 32); err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	report, err := m.Verify(key, verify.ReadOnly, verify.Summary)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("expected no findings on a freshly allocated area, got %+v", report.Findings)
	}
	if report.AreasScanned != 1 {
		t.Fatalf("AreasScanned = %d, want 1", report.AreasScanned)
	}
}

func TestOpenRejectsUnknownFileKind(t *testing.T) {
	dir := t.TempDir()
	m := New(defaultConfig(t), testLogger(), 256)
	defer m.Close()

	if _, err := m.Open(filepath.Join(dir, "bogus"), 256, FileKind(99)); err == nil {
		t.Fatalf("Open should reject an unrecognized FileKind")
	}
}

func TestAreaManagedFileRejectsWrongKind(t *testing.T) {
	dir := t.TempDir()
	m := New(defaultConfig(t), testLogger(), 256)
	defer m.Close()

	key, err := m.Open(filepath.Join(dir, "pages"), 256, PageManaged)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.AreaManagedFile(key); err == nil {
		t.Fatalf("AreaManagedFile should fail for a PageManaged key")
	}
}

func TestCloseClosesEveryOpenFile(t *testing.T) {
	dir := t.TempDir()
	m := New(defaultConfig(t), testLogger(), 256)

	if _, err := m.Open(filepath.Join(dir, "pages"), 256, PageManaged); err != nil {
		t.Fatalf("Open pages: %v", err)
	}
	if _, err := m.Open(filepath.Join(dir, "areas"), 256, AreaManaged); err != nil {
		t.Fatalf("Open areas: %v", err)
	}
	if _, err := m.Open(filepath.Join(dir, "direct"), 256, DirectArea); err != nil {
		t.Fatalf("Open direct: %v", err)
	}
	if _, err := m.Open(filepath.Join(dir, "flat"), 256, NonManaged); err != nil {
		t.Fatalf("Open flat: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStartDaemonsFlushesDirtyFramesInBackground(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig(t)
	cfg.BufferFlusherInterval = 5 * time.Millisecond
	cfg.CheckpointInterval = time.Hour
	cfg.BufferStatisticsInterval = time.Hour

	m := New(cfg, testLogger(), 256)
	key, err := m.Open(filepath.Join(dir, "pages"), 256, PageManaged)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := m.AllocatePage(key)
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	ctx := context.Background()
	h, err := m.Attach(ctx, nil, key, id, page.Write, page.Middle)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	copy(h.GetBuffer(), bytes.Repeat([]byte{0x7}, 256))
	if err := h.Dirty(); err != nil {
		t.Fatalf("Dirty: %v", err)
	}
	if err := h.Detach(page.NotDirty); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	m.StartDaemons()
	time.Sleep(50 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	frame, ok := m.pool.Lookup(key, id)
	if !ok {
		t.Fatalf("frame should still be resident after the flusher writes it back")
	}
	if frame.Dirty() {
		t.Fatalf("flusher daemon should have cleared the dirty bit")
	}
}

func TestConfigProgressLevel(t *testing.T) {
	cases := map[config.ProgressLevel]verify.Level{
		config.ProgressSilent:   verify.Silent,
		config.ProgressSummary:  verify.Summary,
		config.ProgressDetailed: verify.Detailed,
	}
	for in, want := range cases {
		if got := ConfigProgressLevel(in); got != want {
			t.Errorf("ConfigProgressLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileKindString(t *testing.T) {
	cases := map[FileKind]string{
		PageManaged: "PageManaged",
		AreaManaged: "AreaManaged",
		DirectArea:  "DirectArea",
		NonManaged:  "NonManaged",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
