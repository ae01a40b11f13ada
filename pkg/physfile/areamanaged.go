package physfile

import (
	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// AreaManagedFile is the area-managed Physical File variant of
// spec.md §4.4.2: each page is itself an area directory (areadirectory.go)
// so several variable-length records can share one page. Page allocation
// and free-list recycling are delegated to the same unrolled free list
// the page-managed variant uses.
type AreaManagedFile struct {
	master *masterdata.File
	free   *freeList
}

// CreateAreaManaged creates a new area-managed file at path.
func CreateAreaManaged(path string, pageSize uint32) (*AreaManagedFile, error) {
	master, err := masterdata.Create(path, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := master.Extend(1); err != nil { // controlPageID
		return nil, err
	}
	f := &AreaManagedFile{master: master, free: freshFreeList(master)}
	if err := f.writeControl(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenAreaManaged opens an existing area-managed file.
func OpenAreaManaged(path string) (*AreaManagedFile, error) {
	master, err := masterdata.Open(path)
	if err != nil {
		return nil, err
	}
	f := &AreaManagedFile{master: master}
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
func (f *AreaManagedFile) Close() error { return f.master.Close() }

// Master exposes the underlying Master Data File.
func (f *AreaManagedFile) Master() *masterdata.File { return f.master }

// AllocatePage reserves a new, freshly formatted area-directory page.
func (f *AreaManagedFile) AllocatePage() (page.ID, error) {
	id, err := f.free.PopHead()
	if err != nil {
		return page.Undefined, err
	}
	if !id.IsValid() {
		id, err = f.master.Extend(1)
		if err != nil {
			return page.Undefined, perrors.New("physfile.allocatePage", perrors.KindIoError, err)
		}
	} else if err := f.writeControl(); err != nil {
		return page.Undefined, err
	}

	raw := make([]byte, f.master.PageSize())
	InitAreaPage(raw)
	if err := f.master.WritePage(id, raw); err != nil {
		return page.Undefined, err
	}
	return id, nil
}

// FreePage returns a whole area-directory page to the free list. Callers
// must free every area on the page first; AllocateArea assumes any page
// it is handed a fresh one.
func (f *AreaManagedFile) FreePage(id page.ID) error {
	if id == controlPageID {
		return perrors.NewForPage("physfile.freePage", perrors.KindOutOfRange, id, nil)
	}
	if err := f.free.PushTail(id); err != nil {
		return err
	}
	return f.writeControl()
}

// AllocateArea finds (or creates) a page with room for size bytes and
// returns the DirectAreaID-style (page, area) pair addressing it. It
// tries candidate (when valid) and otherwise allocates a new page; no
// other existing page is searched for room.
func (f *AreaManagedFile) AllocateArea(candidate page.ID, size uint16) (page.ID, page.AreaID, error) {
	if candidate.IsValid() {
		raw, err := f.master.ReadPage(candidate)
		if err != nil {
			return page.Undefined, page.UndefinedArea, err
		}
		if GetFreeAreaSize(raw) >= size {
			areaID, err := AllocateArea(raw, size)
			if err != nil {
				return page.Undefined, page.UndefinedArea, err
			}
			if err := f.master.WritePage(candidate, raw); err != nil {
				return page.Undefined, page.UndefinedArea, err
			}
			return candidate, areaID, nil
		}
	}

	newPage, err := f.AllocatePage()
	if err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	raw, err := f.master.ReadPage(newPage)
	if err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	areaID, err := AllocateArea(raw, size)
	if err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	if err := f.master.WritePage(newPage, raw); err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	return newPage, areaID, nil
}

// FreeArea releases one area of pageID. It does not free the page itself
// even if every area on it becomes free; callers that want whole-page
// reclamation run a verify/compaction pass and call FreePage explicitly.
func (f *AreaManagedFile) FreeArea(pageID page.ID, areaID page.AreaID) error {
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return err
	}
	if err := FreeArea(raw, areaID); err != nil {
		return err
	}
	return f.master.WritePage(pageID, raw)
}

// ReadArea returns a copy of the bytes backing (pageID, areaID).
func (f *AreaManagedFile) ReadArea(pageID page.ID, areaID page.AreaID) ([]byte, error) {
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	area, err := GetArea(raw, areaID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(area))
	copy(out, area)
	return out, nil
}

// WriteArea overwrites the bytes backing (pageID, areaID) in place. len(data)
// must equal the area's allocated size; grow it with ReallocateArea first.
func (f *AreaManagedFile) WriteArea(pageID page.ID, areaID page.AreaID, data []byte) error {
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return err
	}
	area, err := GetArea(raw, areaID)
	if err != nil {
		return err
	}
	if len(data) != len(area) {
		return perrors.NewForPage("physfile.writeArea", perrors.KindExistProtrusiveArea, pageID, nil)
	}
	copy(area, data)
	return f.master.WritePage(pageID, raw)
}

// PageCount returns how many pages the underlying master data file holds.
func (f *AreaManagedFile) PageCount() uint32 { return f.master.PageCount() }

// ValidateFreeList checks the free list's own head/tail bookkeeping for
// internal consistency, for pkg/verify.
func (f *AreaManagedFile) ValidateFreeList() error { return f.free.Validate() }

// FreeListTotal reports how many pages the free list currently holds
// reclaimable, for pkg/verify to cross-check against PageCount.
func (f *AreaManagedFile) FreeListTotal() int { return f.free.Total() }

// ReadRawPage exposes one page's raw bytes for pkg/verify's area
// directory traversal. Callers must not retain the slice past the next
// WritePage to the same page.
func (f *AreaManagedFile) ReadRawPage(id page.ID) ([]byte, error) { return f.master.ReadPage(id) }

// WriteRawPage persists a page buffer pkg/verify has repaired in place.
func (f *AreaManagedFile) WriteRawPage(id page.ID, raw []byte) error {
	return f.master.WritePage(id, raw)
}

func (f *AreaManagedFile) writeControl() error {
	raw := make([]byte, f.master.PageSize())
	encodeControl(raw, f.free.headPage, f.free.tailPage, f.free.headSeq, f.free.tailSeq)
	return f.master.WritePage(controlPageID, raw)
}
