package physfile

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nainya/pagestore/pkg/page"
)

func TestDirectAreaAllocateWriteReadArea(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	pid, aid, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	payload := bytes.Repeat([]byte{0x5A}, 16)
	if err := f.WriteArea(pid, aid, payload); err != nil {
		t.Fatalf("WriteArea: %v", err)
	}
	got, err := f.ReadArea(pid, aid)
	if err != nil {
		t.Fatalf("ReadArea: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadArea returned different bytes than were written")
	}
}

func TestDirectAreaWriteRejectsWrongSize(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	pid, aid, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	if err := f.WriteArea(pid, aid, make([]byte, 8)); err == nil {
		t.Fatalf("WriteArea with the wrong length should fail")
	}
}

func TestDirectAreaReusesCandidatePage(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	pid1, _, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	pid2, _, err := f.AllocateArea(pid1)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	if pid1 != pid2 {
		t.Fatalf("AllocateArea(candidate) should reuse the candidate page while it has room")
	}
}

func TestDirectAreaAllocatesNewPageWhenCandidateFull(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateDirectArea(filepath.Join(dir, "test.db"), 64, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	candidate := page.Undefined
	for i := 0; i < int(f.SlotsPerPage()); i++ {
		pid, _, err := f.AllocateArea(candidate)
		if err != nil {
			t.Fatalf("AllocateArea %d: %v", i, err)
		}
		candidate = pid
	}

	pidNext, _, err := f.AllocateArea(candidate)
	if err != nil {
		t.Fatalf("AllocateArea (overflow): %v", err)
	}
	if pidNext == candidate {
		t.Fatalf("AllocateArea should have moved to a new page once candidate filled up")
	}
}

func TestDirectAreaFreeAreaThenReuseRequiresNewAllocation(t *testing.T) {
	dir := t.TempDir()
	f, err := CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	pid, aid, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	if err := f.FreeArea(pid, aid); err != nil {
		t.Fatalf("FreeArea: %v", err)
	}
	reusedPid, reusedAid, err := f.AllocateArea(pid)
	if err != nil {
		t.Fatalf("AllocateArea after free: %v", err)
	}
	if reusedPid != pid || reusedAid != aid {
		t.Fatalf("expected the freed slot (%v,%v) to be reused, got (%v,%v)", pid, aid, reusedPid, reusedAid)
	}
}

func TestDirectAreaSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	f, err := CreateDirectArea(path, 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}

	pid, aid, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	payload := bytes.Repeat([]byte{0x11}, 16)
	if err := f.WriteArea(pid, aid, payload); err != nil {
		t.Fatalf("WriteArea: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenDirectArea(path)
	if err != nil {
		t.Fatalf("OpenDirectArea: %v", err)
	}
	defer reopened.Close()

	if reopened.AreaSize() != 16 {
		t.Fatalf("AreaSize after reopen = %d, want 16", reopened.AreaSize())
	}
	got, err := reopened.ReadArea(pid, aid)
	if err != nil {
		t.Fatalf("ReadArea after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadArea after reopen returned different bytes than were written")
	}
}
