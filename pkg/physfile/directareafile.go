package physfile

import (
	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// DirectAreaFile is the direct-area Physical File variant of
// spec.md §4.4.3: pages are banks of fixed-width slots with no
// directory, used for LOB blocks and other coarse allocators where
// every area is the same size and a bitmap is all the bookkeeping
// needed.
type DirectAreaFile struct {
	master       *masterdata.File
	free         *freeList
	areaSize     uint32
	slotsPerPage uint32
}

// CreateDirectArea creates a new direct-area file at path whose every
// area is exactly areaSize bytes.
func CreateDirectArea(path string, pageSize, areaSize uint32) (*DirectAreaFile, error) {
	if areaSize == 0 || areaSize > pageSize {
		return nil, perrors.New("physfile.createDirectArea", perrors.KindOutOfRange, nil)
	}
	master, err := masterdata.Create(path, pageSize)
	if err != nil {
		return nil, err
	}
	if _, err := master.Extend(1); err != nil { // controlPageID
		return nil, err
	}
	f := &DirectAreaFile{
		master:       master,
		free:         freshFreeList(master),
		areaSize:     areaSize,
		slotsPerPage: directAreaSlotsPerPage(pageSize, areaSize),
	}
	if f.slotsPerPage == 0 {
		return nil, perrors.New("physfile.createDirectArea", perrors.KindOutOfRange, nil)
	}
	if err := f.writeControl(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenDirectArea opens an existing direct-area file.
func OpenDirectArea(path string) (*DirectAreaFile, error) {
	master, err := masterdata.Open(path)
	if err != nil {
		return nil, err
	}
	f := &DirectAreaFile{master: master}
	control, err := master.ReadPage(controlPageID)
	if err != nil {
		return nil, err
	}
	headPage, tailPage, headSeq, tailSeq := decodeControl(control)
	f.areaSize, f.slotsPerPage = decodeDirectAreaMeta(control)
	f.free = loadFreeList(master, headPage, tailPage, headSeq, tailSeq)
	if err := f.free.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the underlying master data file.
func (f *DirectAreaFile) Close() error { return f.master.Close() }

// Master exposes the underlying Master Data File.
func (f *DirectAreaFile) Master() *masterdata.File { return f.master }

// AreaSize reports the fixed size of every area in this file.
func (f *DirectAreaFile) AreaSize() uint32 { return f.areaSize }

// SlotsPerPage reports how many areas one page holds.
func (f *DirectAreaFile) SlotsPerPage() uint32 { return f.slotsPerPage }

// AllocatePage reserves a new, freshly formatted bank of free slots.
func (f *DirectAreaFile) AllocatePage() (page.ID, error) {
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
	InitDirectAreaPage(raw, f.slotsPerPage)
	if err := f.master.WritePage(id, raw); err != nil {
		return page.Undefined, err
	}
	return id, nil
}

// FreePage returns a whole slot bank to the free list. Callers must
// free every area on the page first.
func (f *DirectAreaFile) FreePage(id page.ID) error {
	if id == controlPageID {
		return perrors.NewForPage("physfile.freePage", perrors.KindOutOfRange, id, nil)
	}
	if err := f.free.PushTail(id); err != nil {
		return err
	}
	return f.writeControl()
}

// AllocateArea finds (or creates) a page with a free slot and returns
// the (PageID, AreaID) pair addressing it, trying candidate first.
func (f *DirectAreaFile) AllocateArea(candidate page.ID) (page.ID, page.AreaID, error) {
	if candidate.IsValid() {
		raw, err := f.master.ReadPage(candidate)
		if err != nil {
			return page.Undefined, page.UndefinedArea, err
		}
		if !directAreaFull(raw, f.slotsPerPage) {
			areaID, err := AllocateDirectArea(raw, f.slotsPerPage)
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
	areaID, err := AllocateDirectArea(raw, f.slotsPerPage)
	if err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	if err := f.master.WritePage(newPage, raw); err != nil {
		return page.Undefined, page.UndefinedArea, err
	}
	return newPage, areaID, nil
}

// FreeArea releases one area of pageID.
func (f *DirectAreaFile) FreeArea(pageID page.ID, areaID page.AreaID) error {
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return err
	}
	if err := FreeDirectArea(raw, f.slotsPerPage, areaID); err != nil {
		return err
	}
	return f.master.WritePage(pageID, raw)
}

// ReadArea returns a copy of the bytes backing (pageID, areaID).
func (f *DirectAreaFile) ReadArea(pageID page.ID, areaID page.AreaID) ([]byte, error) {
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	area, err := GetDirectArea(raw, f.slotsPerPage, f.areaSize, areaID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(area))
	copy(out, area)
	return out, nil
}

// WriteArea overwrites the bytes backing (pageID, areaID) in place.
// len(data) must equal AreaSize(); every direct area is the same fixed
// width, so there is no ReallocateArea for this variant.
func (f *DirectAreaFile) WriteArea(pageID page.ID, areaID page.AreaID, data []byte) error {
	if uint32(len(data)) != f.areaSize {
		return perrors.NewForPage("physfile.writeArea", perrors.KindExistProtrusiveArea, pageID, nil)
	}
	raw, err := f.master.ReadPage(pageID)
	if err != nil {
		return err
	}
	area, err := GetDirectArea(raw, f.slotsPerPage, f.areaSize, areaID)
	if err != nil {
		return err
	}
	copy(area, data)
	return f.master.WritePage(pageID, raw)
}

// PageCount returns how many pages the underlying master data file holds.
func (f *DirectAreaFile) PageCount() uint32 { return f.master.PageCount() }

// ValidateFreeList checks the free list's own head/tail bookkeeping for
// internal consistency, for pkg/verify.
func (f *DirectAreaFile) ValidateFreeList() error { return f.free.Validate() }

// FreeListTotal reports how many pages the free list currently holds
// reclaimable, for pkg/verify to cross-check against PageCount.
func (f *DirectAreaFile) FreeListTotal() int { return f.free.Total() }

// ReadRawPage exposes one page's raw bytes for pkg/verify's bitmap check.
func (f *DirectAreaFile) ReadRawPage(id page.ID) ([]byte, error) { return f.master.ReadPage(id) }

// WriteRawPage persists a page buffer pkg/verify has repaired in place.
func (f *DirectAreaFile) WriteRawPage(id page.ID, raw []byte) error {
	return f.master.WritePage(id, raw)
}

func (f *DirectAreaFile) writeControl() error {
	raw := make([]byte, f.master.PageSize())
	encodeControl(raw, f.free.headPage, f.free.tailPage, f.free.headSeq, f.free.tailSeq)
	encodeDirectAreaMeta(raw, f.areaSize, f.slotsPerPage)
	return f.master.WritePage(controlPageID, raw)
}
