package physfile

import (
	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// controlPageID is the fixed control page shared by the page-managed,
// area-managed and direct-area variants, holding the free list's head/tail bookkeeping
// (see control.go). Page 0 of the master data file is its own header;
// controlPageID is the first page physfile reserves for itself.
const controlPageID = page.ID(1)

// PageManagedFile is the page-managed Physical File variant of
// spec.md §4.4.1: every page is a fixed-size, independently addressable
// unit, and freed pages are recycled through a free list before the
// file is extended.
type PageManagedFile struct {
	master *masterdata.File
	free   *freeList
}

// CreatePageManaged creates a new page-managed file at path.
func CreatePageManaged(path string, pageSize uint32) (*PageManagedFile, error) {
	master, err := masterdata.Create(path, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := master.Extend(1); err != nil { // allocates controlPageID
		return nil, err
	}
	f := &PageManagedFile{master: master, free: freshFreeList(master)}
	if err := f.writeControl(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenPageManaged opens an existing page-managed file.
func OpenPageManaged(path string) (*PageManagedFile, error) {
	master, err := masterdata.Open(path)
	if err != nil {
		return nil, err
	}
	f := &PageManagedFile{master: master}
	control, err := master.ReadPage(controlPageID)
	if err != nil {
		return nil, err
	}
	headPage, tailPage, headSeq, tailSeq := decodeControl(control)
	f.free = loadFreeList(master, headPage, tailPage, headSeq, tailSeq)
	if err := f.free.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the underlying master data file.
func (f *PageManagedFile) Close() error { return f.master.Close() }

// Master exposes the underlying Master Data File for pkg/buffer's
// Fetcher and the checkpoint daemon's write-back path.
func (f *PageManagedFile) Master() *masterdata.File { return f.master }

// AllocatePage reserves a new page ID, reusing a freed one if the free
// list has one available, and returns it zeroed.
func (f *PageManagedFile) AllocatePage() (page.ID, error) {
	id, err := f.free.PopHead()
	if err != nil {
		return page.Undefined, err
	}
	if id.IsValid() {
		if err := f.master.WritePage(id, make([]byte, f.master.PageSize())); err != nil {
			return page.Undefined, err
		}
		if err := f.writeControl(); err != nil {
			return page.Undefined, err
		}
		return id, nil
	}
	id, err = f.master.Extend(1)
	if err != nil {
		return page.Undefined, perrors.New("physfile.allocatePage", perrors.KindIoError, err)
	}
	return id, nil
}

// FreePage returns id to the free list for later reuse. It is the
// caller's responsibility to ensure no outstanding Fix references id.
func (f *PageManagedFile) FreePage(id page.ID) error {
	if id == controlPageID {
		return perrors.NewForPage("physfile.freePage", perrors.KindOutOfRange, id, nil)
	}
	if err := f.free.PushTail(id); err != nil {
		return err
	}
	return f.writeControl()
}

// PageCount returns how many pages (including the header and control
// pages) the underlying master data file currently holds.
func (f *PageManagedFile) PageCount() uint32 { return f.master.PageCount() }

// ValidateFreeList checks the free list's own head/tail bookkeeping for
// internal consistency, for pkg/verify.
func (f *PageManagedFile) ValidateFreeList() error { return f.free.Validate() }

// FreeListTotal reports how many pages the free list currently holds
// reclaimable, for pkg/verify to cross-check against PageCount.
func (f *PageManagedFile) FreeListTotal() int { return f.free.Total() }

func (f *PageManagedFile) writeControl() error {
	raw := make([]byte, f.master.PageSize())
	encodeControl(raw, f.free.headPage, f.free.tailPage, f.free.headSeq, f.free.tailSeq)
	return f.master.WritePage(controlPageID, raw)
}
