// Package verify implements the verify-tree traversal of spec.md §4.4 and
// §6: walk every page a Physical File manages, recompute what its
// directory/free-list bookkeeping claims, and report mismatches through
// the perrors taxonomy. A Correct or Force treatment additionally
// attempts repair and records whether it succeeded.
package verify

import (
	"fmt"

	"github.com/nainya/pagestore/internal/logger"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
	"github.com/nainya/pagestore/pkg/physfile"
)

// Treatment selects what VerifyPageManaged/VerifyAreaManaged do with a
// finding, per spec.md §4.4's verify(tx, treatment, progress).
type Treatment int

const (
	// ReadOnly reports findings but never writes to the file.
	ReadOnly Treatment = iota
	// Correct repairs what it safely can and reports the rest.
	Correct
	// Force repairs everything Correct would, and additionally
	// reinitializes an area directory that Correct would leave as
	// uncorrectable (e.g. an overlap whose right side it would have to
	// guess at) as an empty directory, discarding the areas it held.
	Force
)

func (t Treatment) String() string {
	switch t {
	case ReadOnly:
		return "ReadOnly"
	case Correct:
		return "Correct"
	case Force:
		return "Force"
	default:
		return "Treatment(?)"
	}
}

// Level mirrors internal/config.ProgressLevel without importing it, so
// pkg/verify stays a leaf package; callers that hold a
// config.ProgressLevel convert it to a Level when they build a Progress.
type Level int

const (
	Silent Level = iota
	Summary
	Detailed
)

// Finding is one verify-tree observation of spec.md §7's structural
// consistency conditions.
type Finding struct {
	Kind      perrors.Kind
	PageID    page.ID
	AreaID    page.AreaID
	Detail    string
	Corrected bool
}

// Progress is the progress-report sink of spec.md §4.4's verify(tx,
// treatment, progress): a logging level plus an optional *logger.Logger
// to emit through. A nil Logger makes every level behave as Silent.
type Progress struct {
	Level  Level
	Logger *logger.Logger
}

func (p *Progress) logFinding(f Finding) {
	if p == nil || p.Logger == nil || p.Level == Silent {
		return
	}
	msg := fmt.Sprintf("%s", f.Kind)
	if p.Level == Detailed {
		msg = fmt.Sprintf("%s: page=%s area=%s detail=%s", f.Kind, f.PageID, f.AreaID, f.Detail)
	}
	if f.Corrected {
		p.Logger.Info(msg).Msg("")
	} else {
		p.Logger.Warn(msg).Msg("")
	}
}

func (p *Progress) logSummary(r *Report) {
	if p == nil || p.Logger == nil || p.Level == Silent {
		return
	}
	p.Logger.Info(fmt.Sprintf("verify complete: %d pages, %d findings, %d corrected",
		r.PagesScanned, len(r.Findings), r.correctedCount())).Msg("")
}

// Report accumulates what one verify pass found, grounded on the
// teacher's RecoveryStats accumulate-while-traversing shape.
type Report struct {
	PagesScanned  int
	AreasScanned  int
	FreeListTotal int
	Findings      []Finding
}

func (r *Report) correctedCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Corrected {
			n++
		}
	}
	return n
}

// HasUncorrected reports whether any finding in r was left unrepaired.
func (r *Report) HasUncorrected() bool {
	for _, f := range r.Findings {
		if !f.Corrected {
			return true
		}
	}
	return false
}

// freeListChecker is implemented by every physfile variant.
type freeListChecker interface {
	ValidateFreeList() error
	FreeListTotal() int
	PageCount() uint32
}

func verifyFreeList(f freeListChecker, r *Report, progress *Progress) {
	r.FreeListTotal = f.FreeListTotal()
	if err := f.ValidateFreeList(); err != nil {
		finding := Finding{Kind: perrors.KindOf(err), Detail: "free list head/tail/sequence bookkeeping is inconsistent"}
		r.Findings = append(r.Findings, finding)
		progress.logFinding(finding)
	}
}

// VerifyPageManaged walks f's free list and checks it for internal
// consistency. Page-managed files have no per-page directory to
// traverse, so this is the whole of its verify tree.
func VerifyPageManaged(f *physfile.PageManagedFile, treatment Treatment, progress *Progress) (*Report, error) {
	r := &Report{PagesScanned: int(f.PageCount())}
	verifyFreeList(f, r, progress)
	progress.logSummary(r)
	return r, nil
}

// VerifyNonManaged walks f's free list and checks it for internal
// consistency. A non-managed file has no free list of its own
// (physfile.NonManagedFile.ValidateFreeList is a no-op), so this call
// only ever reports what PageCount itself already guarantees; it
// exists so every FileKind has a matching Verify entry point.
func VerifyNonManaged(f *physfile.NonManagedFile, treatment Treatment, progress *Progress) (*Report, error) {
	r := &Report{PagesScanned: int(f.PageCount())}
	verifyFreeList(f, r, progress)
	progress.logSummary(r)
	return r, nil
}

// VerifyDirectArea walks every page of f, checking its allocation
// bitmap for stray bits set past slotsPerPage. It is the bitmap
// equivalent of VerifyAreaManaged: a direct-area page has no directory
// to cross-check, so AllocationBitInconsistent is the only corruption
// this traversal can find.
func VerifyDirectArea(f *physfile.DirectAreaFile, treatment Treatment, progress *Progress) (*Report, error) {
	r := &Report{}
	verifyFreeList(f, r, progress)

	total := f.PageCount()
	slotsPerPage := f.SlotsPerPage()
	for id := page.ID(2); uint32(id) < total; id++ { // page 0: header, page 1: control
		raw, err := f.ReadRawPage(id)
		if err != nil {
			return r, err
		}
		r.PagesScanned++

		if physfile.VerifyDirectAreaPage(raw, slotsPerPage) {
			continue
		}

		if treatment == ReadOnly {
			finding := Finding{Kind: perrors.KindAllocationBitInconsistent, PageID: id, Detail: "allocation bitmap has a stray bit set past slotsPerPage"}
			r.Findings = append(r.Findings, finding)
			progress.logFinding(finding)
			continue
		}

		physfile.RepairDirectAreaPage(raw, slotsPerPage)
		if err := f.WriteRawPage(id, raw); err != nil {
			return r, err
		}
		finding := Finding{Kind: perrors.KindCorrectedPageUseSituation, PageID: id, Detail: "cleared stray allocation bits past slotsPerPage", Corrected: true}
		r.Findings = append(r.Findings, finding)
		progress.logFinding(finding)
	}

	progress.logSummary(r)
	return r, nil
}

// VerifyAreaManaged walks every page of f (skipping the control page),
// checking its area directory with VerifyAreaPage. With Correct or
// Force treatment, RepairAreaPage's fix is written back immediately;
// Force additionally treats an uncorrectable finding as fatal to the
// page's directory and reinitializes it empty, losing whatever areas it
// held, rather than leaving corrupt bytes in place.
func VerifyAreaManaged(f *physfile.AreaManagedFile, treatment Treatment, progress *Progress) (*Report, error) {
	r := &Report{}
	verifyFreeList(f, r, progress)

	total := f.PageCount()
	for id := page.ID(2); uint32(id) < total; id++ { // page 0: header, page 1: control
		raw, err := f.ReadRawPage(id)
		if err != nil {
			return r, err
		}
		r.PagesScanned++
		r.AreasScanned += physfile.LiveAreaCount(raw)

		findings := physfile.VerifyAreaPage(raw)
		if len(findings) == 0 {
			continue
		}

		if treatment == ReadOnly {
			for _, c := range findings {
				finding := Finding{Kind: c.Kind, PageID: id, AreaID: page.AreaID(c.Slot), Detail: c.Detail}
				r.Findings = append(r.Findings, finding)
				progress.logFinding(finding)
			}
			continue
		}

		corrected, uncorrectable := physfile.RepairAreaPage(raw)
		if corrected {
			if err := f.WriteRawPage(id, raw); err != nil {
				return r, err
			}
		}
		for _, c := range findings {
			isUncorrectable := false
			for _, u := range uncorrectable {
				if u == c {
					isUncorrectable = true
					break
				}
			}
			finding := Finding{Kind: c.Kind, PageID: id, AreaID: page.AreaID(c.Slot), Detail: c.Detail, Corrected: !isUncorrectable}
			if isUncorrectable && finding.Kind == perrors.KindDiscordAreaUseSituation {
				finding.Kind = perrors.KindCanNotCorrectAreaUseSituation
			} else if isUncorrectable && finding.Kind == perrors.KindExistProtrusiveArea {
				finding.Kind = perrors.KindCanNotCorrectAreaUseSituation
			} else if finding.Corrected {
				finding.Kind = perrors.KindCorrectedAreaUseSituation
			}
			r.Findings = append(r.Findings, finding)
			progress.logFinding(finding)
		}

		if treatment == Force && len(uncorrectable) > 0 {
			physfile.InitAreaPage(raw)
			if err := f.WriteRawPage(id, raw); err != nil {
				return r, err
			}
			forced := Finding{Kind: perrors.KindCorrectedAreaUseSituation, PageID: id, Detail: "directory reinitialized empty under Force treatment", Corrected: true}
			r.Findings = append(r.Findings, forced)
			progress.logFinding(forced)
		}
	}

	progress.logSummary(r)
	return r, nil
}
