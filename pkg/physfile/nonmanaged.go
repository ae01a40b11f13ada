package physfile

import (
	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// NonManagedFile is the NonManaged Physical File variant of spec.md
// §6's fileKind enum: a flat page space with no free list and no
// per-page directory. A page, once allocated, is never reclaimed —
// the collaborator that owns page identity (the SQL layer, a catalog)
// is responsible for whatever reuse policy it wants above this layer.
//
// Grounded on PageManagedFile minus the free list: the control page
// still exists (so every physfile variant has an identical header
// layout a verify pass can rely on) but nothing is ever written to it:
// the only state this variant has, the next PageID, is what
// master.PageCount() already tracks.
type NonManagedFile struct {
	master *masterdata.File
}

// CreateNonManaged creates a new non-managed file at path.
func CreateNonManaged(path string, pageSize uint32) (*NonManagedFile, error) {
	master, err := masterdata.Create(path, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := master.Extend(1); err != nil { // controlPageID, unused but kept for layout parity
		return nil, err
	}
	return &NonManagedFile{master: master}, nil
}

// OpenNonManaged opens an existing non-managed file.
func OpenNonManaged(path string) (*NonManagedFile, error) {
	master, err := masterdata.Open(path)
	if err != nil {
		return nil, err
	}
	return &NonManagedFile{master: master}, nil
}

// Close closes the underlying master data file.
func (f *NonManagedFile) Close() error { return f.master.Close() }

// Master exposes the underlying Master Data File.
func (f *NonManagedFile) Master() *masterdata.File { return f.master }

// AllocatePage always extends the file; there is no free list to pop
// a reclaimed page from.
func (f *NonManagedFile) AllocatePage() (page.ID, error) {
	id, err := f.master.Extend(1)
	if err != nil {
		return page.Undefined, perrors.New("physfile.allocatePage", perrors.KindIoError, err)
	}
	return id, nil
}

// FreePage always fails: a non-managed file has nowhere to put a freed
// page, by design.
func (f *NonManagedFile) FreePage(id page.ID) error {
	return perrors.NewForPage("physfile.freePage", perrors.KindNotManagePage, id, nil)
}

// PageCount returns how many pages (including the header and control
// pages) the underlying master data file currently holds.
func (f *NonManagedFile) PageCount() uint32 { return f.master.PageCount() }

// ValidateFreeList is a no-op: a non-managed file has no free list to
// validate. It exists so NonManagedFile satisfies pkg/verify's
// freeListChecker alongside the other three variants.
func (f *NonManagedFile) ValidateFreeList() error { return nil }

// FreeListTotal is always zero; see ValidateFreeList.
func (f *NonManagedFile) FreeListTotal() int { return 0 }

// ReadRawPage reads one page's raw bytes directly from master data.
func (f *NonManagedFile) ReadRawPage(id page.ID) ([]byte, error) { return f.master.ReadPage(id) }

// WriteRawPage overwrites one page's raw bytes directly in master data.
func (f *NonManagedFile) WriteRawPage(id page.ID, raw []byte) error {
	return f.master.WritePage(id, raw)
}
