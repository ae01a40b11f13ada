package physfile

import (
	"encoding/binary"

	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

var (
	errDirectAreaPageFull   = perrors.New("physfile.allocateDirectArea", perrors.KindNoSpace, nil)
	errDirectAreaOutOfRange = perrors.New("physfile.directArea", perrors.KindOutOfRange, nil)
	errDirectAreaDoubleFree = perrors.New("physfile.freeDirectArea", perrors.KindExistDuplicateArea, nil)
)

// Direct-area page layout, per spec.md §4.4.3: "No directory — each
// (pid, aid) names a fixed-width slot computed from aid." Unlike the
// area-managed variant there is no offset/length slot array; a slot's
// position is areaSize*aid past a leading bitmap that tracks which
// slots are in use. Space accounting is therefore a pure allocation
// bitmap, the natural home for spec §7's AllocationBitInconsistent.
//
//	[0:bitmapBytes] one bit per slot, 1 = in use
//	[bitmapBytes:]  slotsPerPage * areaSize payload
func directAreaBitmapBytes(slotsPerPage uint32) uint32 {
	return (slotsPerPage + 7) / 8
}

func directAreaSlotOffset(slotsPerPage, areaSize, slot uint32) uint32 {
	return directAreaBitmapBytes(slotsPerPage) + slot*areaSize
}

func directAreaBitSet(pg []byte, slot uint32) bool {
	return pg[slot/8]&(1<<(slot%8)) != 0
}

func directAreaSetBit(pg []byte, slot uint32, used bool) {
	mask := byte(1 << (slot % 8))
	if used {
		pg[slot/8] |= mask
	} else {
		pg[slot/8] &^= mask
	}
}

// directAreaSlotsPerPage returns the largest slot count whose bitmap
// plus payload both fit in a page of pageSize bytes with areas of
// areaSize bytes each.
func directAreaSlotsPerPage(pageSize, areaSize uint32) uint32 {
	slots := pageSize / areaSize
	for slots > 0 && directAreaBitmapBytes(slots)+slots*areaSize > pageSize {
		slots--
	}
	return slots
}

// InitDirectAreaPage formats a freshly allocated page as an all-free
// bank of slotsPerPage fixed-width slots.
func InitDirectAreaPage(pg []byte, slotsPerPage uint32) {
	bitmap := directAreaBitmapBytes(slotsPerPage)
	for i := uint32(0); i < bitmap; i++ {
		pg[i] = 0
	}
}

// AllocateDirectArea claims the lowest-numbered free slot on pg and
// returns its AreaID, or an error if the page is full.
func AllocateDirectArea(pg []byte, slotsPerPage uint32) (page.AreaID, error) {
	for slot := uint32(0); slot < slotsPerPage; slot++ {
		if !directAreaBitSet(pg, slot) {
			directAreaSetBit(pg, slot, true)
			return page.AreaID(slot), nil
		}
	}
	return page.UndefinedArea, errDirectAreaPageFull
}

// FreeDirectArea releases id back to pg's free set.
func FreeDirectArea(pg []byte, slotsPerPage uint32, id page.AreaID) error {
	slot := uint32(id)
	if slot >= slotsPerPage {
		return errDirectAreaOutOfRange
	}
	if !directAreaBitSet(pg, slot) {
		return errDirectAreaDoubleFree
	}
	directAreaSetBit(pg, slot, false)
	return nil
}

// GetDirectArea returns the bytes backing id.
func GetDirectArea(pg []byte, slotsPerPage, areaSize uint32, id page.AreaID) ([]byte, error) {
	slot := uint32(id)
	if slot >= slotsPerPage {
		return nil, errDirectAreaOutOfRange
	}
	if !directAreaBitSet(pg, slot) {
		return nil, errDirectAreaOutOfRange
	}
	off := directAreaSlotOffset(slotsPerPage, areaSize, slot)
	return pg[off : off+areaSize], nil
}

// directAreaFull reports whether every slot on pg is in use.
func directAreaFull(pg []byte, slotsPerPage uint32) bool {
	for slot := uint32(0); slot < slotsPerPage; slot++ {
		if !directAreaBitSet(pg, slot) {
			return false
		}
	}
	return true
}

// VerifyDirectAreaPage checks that no bit past slotsPerPage in the
// bitmap's last byte is set — the one invariant a flat bitmap can
// violate without a directory to cross-check it against, surfaced as
// spec §7's AllocationBitInconsistent.
func VerifyDirectAreaPage(pg []byte, slotsPerPage uint32) bool {
	bitmapBytes := directAreaBitmapBytes(slotsPerPage)
	if bitmapBytes == 0 {
		return true
	}
	lastByteBits := slotsPerPage - (bitmapBytes-1)*8
	if lastByteBits >= 8 {
		return true
	}
	stray := pg[bitmapBytes-1] &^ byte((1<<lastByteBits)-1)
	return stray == 0
}

// RepairDirectAreaPage clears any stray padding bits VerifyDirectAreaPage
// found set, the bitmap equivalent of RepairAreaPage's stale-offset fix.
func RepairDirectAreaPage(pg []byte, slotsPerPage uint32) {
	bitmapBytes := directAreaBitmapBytes(slotsPerPage)
	if bitmapBytes == 0 {
		return
	}
	lastByteBits := slotsPerPage - (bitmapBytes-1)*8
	if lastByteBits >= 8 {
		return
	}
	pg[bitmapBytes-1] &= byte(1<<lastByteBits) - 1
}

// encodeDirectAreaMeta/decodeDirectAreaMeta persist the file's fixed
// areaSize and derived slotsPerPage alongside the shared free-list
// control bytes, at offset 24 of the control page.
func encodeDirectAreaMeta(raw []byte, areaSize, slotsPerPage uint32) {
	binary.LittleEndian.PutUint32(raw[24:28], areaSize)
	binary.LittleEndian.PutUint32(raw[28:32], slotsPerPage)
}

func decodeDirectAreaMeta(raw []byte) (areaSize, slotsPerPage uint32) {
	areaSize = binary.LittleEndian.Uint32(raw[24:28])
	slotsPerPage = binary.LittleEndian.Uint32(raw[28:32])
	return
}
