package verify

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
	"github.com/nainya/pagestore/pkg/physfile"
)

func TestVerifyPageManagedCleanFileHasNoFindings(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreatePageManaged(filepath.Join(dir, "test.db"), 512)
	if err != nil {
		t.Fatalf("CreatePageManaged: %v", err)
	}
	defer f.Close()

	if _, err := f.AllocatePage(); err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}

	report, err := VerifyPageManaged(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyPageManaged: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("clean file should have no findings, got %+v", report.Findings)
	}
}

func TestVerifyAreaManagedCleanFileHasNoFindings(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateAreaManaged(filepath.Join(dir, "test.db"), 256)
	if err != nil {
		t.Fatalf("CreateAreaManaged: %v", err)
	}
	defer f.Close()

	if _, _, err := f.AllocateArea(page.Undefined, 32); err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	report, err := VerifyAreaManaged(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("clean file should have no findings, got %+v", report.Findings)
	}
	if report.AreasScanned != 1 {
		t.Fatalf("AreasScanned = %d, want 1", report.AreasScanned)
	}
}

// corruptFreeSpaceOffset writes a too-large freeSpaceOffset directly
// into the raw directory header, the way a torn write might, without
// going through AllocateArea/FreeArea.
func corruptFreeSpaceOffset(raw []byte, value uint16) {
	binary.LittleEndian.PutUint16(raw[4:6], value)
}

func TestVerifyAreaManagedReadOnlyReportsWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateAreaManaged(filepath.Join(dir, "test.db"), 256)
	if err != nil {
		t.Fatalf("CreateAreaManaged: %v", err)
	}
	defer f.Close()

	pid, _, err := f.AllocateArea(page.Undefined, 32)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	raw, err := f.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	corruptFreeSpaceOffset(raw, uint16(len(raw))) // claims no payload used at all
	if err := f.WriteRawPage(pid, raw); err != nil {
		t.Fatalf("WriteRawPage: %v", err)
	}

	report, err := VerifyAreaManaged(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged: %v", err)
	}
	if len(report.Findings) != 1 {
		t.Fatalf("expected exactly one finding, got %+v", report.Findings)
	}
	if report.Findings[0].Kind != perrors.KindDiscordFreeAreaRate {
		t.Fatalf("Kind = %s, want DiscordFreeAreaRate", report.Findings[0].Kind)
	}
	if report.Findings[0].Corrected {
		t.Fatalf("ReadOnly must never mark a finding Corrected")
	}

	after, err := f.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	if binary.LittleEndian.Uint16(after[4:6]) != uint16(len(raw)) {
		t.Fatalf("ReadOnly treatment must not modify the page on disk")
	}
}

func TestVerifyAreaManagedCorrectRepairsStaleFreeSpaceOffset(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateAreaManaged(filepath.Join(dir, "test.db"), 256)
	if err != nil {
		t.Fatalf("CreateAreaManaged: %v", err)
	}
	defer f.Close()

	pid, _, err := f.AllocateArea(page.Undefined, 32)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	raw, err := f.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	corruptFreeSpaceOffset(raw, uint16(len(raw)))
	if err := f.WriteRawPage(pid, raw); err != nil {
		t.Fatalf("WriteRawPage: %v", err)
	}

	report, err := VerifyAreaManaged(f, Correct, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged: %v", err)
	}
	if len(report.Findings) != 1 || !report.Findings[0].Corrected {
		t.Fatalf("expected one corrected finding, got %+v", report.Findings)
	}
	if report.Findings[0].Kind != perrors.KindCorrectedAreaUseSituation {
		t.Fatalf("Kind = %s, want CorrectedAreaUseSituation", report.Findings[0].Kind)
	}

	again, err := VerifyAreaManaged(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged (recheck): %v", err)
	}
	if len(again.Findings) != 0 {
		t.Fatalf("file should verify clean after Correct, got %+v", again.Findings)
	}
}

func TestVerifyAreaManagedForceReinitializesUnrepairablePage(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateAreaManaged(filepath.Join(dir, "test.db"), 256)
	if err != nil {
		t.Fatalf("CreateAreaManaged: %v", err)
	}
	defer f.Close()

	pid, _, err := f.AllocateArea(page.Undefined, 32)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	raw, err := f.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	corruptFreeSpaceOffset(raw, 0) // below dirEnd: out-of-bounds, uncorrectable
	if err := f.WriteRawPage(pid, raw); err != nil {
		t.Fatalf("WriteRawPage: %v", err)
	}

	correctReport, err := VerifyAreaManaged(f, Correct, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged(Correct): %v", err)
	}
	if correctReport.Findings[0].Kind != perrors.KindCanNotCorrectAreaUseSituation {
		t.Fatalf("Correct should leave an out-of-bounds offset uncorrectable, got %+v", correctReport.Findings)
	}
	if !correctReport.HasUncorrected() {
		t.Fatalf("HasUncorrected should report true")
	}

	forceReport, err := VerifyAreaManaged(f, Force, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged(Force): %v", err)
	}
	foundForced := false
	for _, fd := range forceReport.Findings {
		if fd.Kind == perrors.KindCorrectedAreaUseSituation && fd.Corrected {
			foundForced = true
		}
	}
	if !foundForced {
		t.Fatalf("Force should reinitialize the page and report it corrected, got %+v", forceReport.Findings)
	}

	clean, err := VerifyAreaManaged(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyAreaManaged (recheck): %v", err)
	}
	if len(clean.Findings) != 0 {
		t.Fatalf("file should verify clean after Force, got %+v", clean.Findings)
	}
}

func TestVerifyDirectAreaCleanFileHasNoFindings(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	if _, _, err := f.AllocateArea(page.Undefined); err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}

	report, err := VerifyDirectArea(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyDirectArea: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("clean file should have no findings, got %+v", report.Findings)
	}
}

func TestVerifyDirectAreaCorrectClearsStrayBitmapBits(t *testing.T) {
	dir := t.TempDir()
	f, err := physfile.CreateDirectArea(filepath.Join(dir, "test.db"), 256, 16)
	if err != nil {
		t.Fatalf("CreateDirectArea: %v", err)
	}
	defer f.Close()

	pid, _, err := f.AllocateArea(page.Undefined)
	if err != nil {
		t.Fatalf("AllocateArea: %v", err)
	}
	raw, err := f.ReadRawPage(pid)
	if err != nil {
		t.Fatalf("ReadRawPage: %v", err)
	}
	slots := f.SlotsPerPage()
	lastBitmapByte := (slots + 7) / 8 - 1
	raw[lastBitmapByte] = 0xFF // sets every bit in the last bitmap byte, including padding past slotsPerPage
	if err := f.WriteRawPage(pid, raw); err != nil {
		t.Fatalf("WriteRawPage: %v", err)
	}

	readOnly, err := VerifyDirectArea(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyDirectArea(ReadOnly): %v", err)
	}
	if len(readOnly.Findings) != 1 || readOnly.Findings[0].Kind != perrors.KindAllocationBitInconsistent {
		t.Fatalf("expected one AllocationBitInconsistent finding, got %+v", readOnly.Findings)
	}

	corrected, err := VerifyDirectArea(f, Correct, nil)
	if err != nil {
		t.Fatalf("VerifyDirectArea(Correct): %v", err)
	}
	if len(corrected.Findings) != 1 || corrected.Findings[0].Kind != perrors.KindCorrectedPageUseSituation || !corrected.Findings[0].Corrected {
		t.Fatalf("expected one corrected CorrectedPageUseSituation finding, got %+v", corrected.Findings)
	}

	clean, err := VerifyDirectArea(f, ReadOnly, nil)
	if err != nil {
		t.Fatalf("VerifyDirectArea (recheck): %v", err)
	}
	if len(clean.Findings) != 0 {
		t.Fatalf("file should verify clean after Correct, got %+v", clean.Findings)
	}
}

func TestTreatmentString(t *testing.T) {
	cases := map[Treatment]string{ReadOnly: "ReadOnly", Correct: "Correct", Force: "Force"}
	for treatment, want := range cases {
		if got := treatment.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", treatment, got, want)
		}
	}
}
