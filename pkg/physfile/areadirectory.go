package physfile

import (
	"encoding/binary"
	"sort"

	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// Area-managed page layout, modeled on the teacher's btree.BNode
// slotted page (header + fixed-width directory + packed payload), with
// one difference the original doesn't need: AreaID must stay stable
// across a FreeArea, so directory slots are never shifted, only
// recycled through a free-slot list threaded through the offset field
// of unused slots.
//
//	[0:2]   slotCount   uint16
//	[2:4]   freeSlotHead uint16 (areaDirEmpty if none)
//	[4:6]   freeSpaceOffset uint16 (payload occupies [freeSpaceOffset:pageSize))
//	[6:8]   reserved
//	[8:...] slotCount * {offset uint16, length uint16}
const (
	areaDirHeaderSize = 8
	areaSlotSize      = 4
	areaDirEmpty      = 0xFFFF
	areaSlotFreeMark  = 0xFFFF // a slot's length field when it is on the free-slot list
)

func areaSlotCount(pg []byte) uint16    { return binary.LittleEndian.Uint16(pg[0:2]) }
func setAreaSlotCount(pg []byte, n uint16) { binary.LittleEndian.PutUint16(pg[0:2], n) }
func areaFreeSlotHead(pg []byte) uint16 { return binary.LittleEndian.Uint16(pg[2:4]) }
func setAreaFreeSlotHead(pg []byte, v uint16) { binary.LittleEndian.PutUint16(pg[2:4], v) }
func areaFreeSpaceOffset(pg []byte) uint16 { return binary.LittleEndian.Uint16(pg[4:6]) }
func setAreaFreeSpaceOffset(pg []byte, v uint16) { binary.LittleEndian.PutUint16(pg[4:6], v) }

func areaSlotPos(idx uint16) int { return areaDirHeaderSize + int(idx)*areaSlotSize }

func areaSlotOffset(pg []byte, idx uint16) uint16 {
	return binary.LittleEndian.Uint16(pg[areaSlotPos(idx):])
}
func areaSlotLength(pg []byte, idx uint16) uint16 {
	return binary.LittleEndian.Uint16(pg[areaSlotPos(idx)+2:])
}
func setAreaSlot(pg []byte, idx uint16, offset, length uint16) {
	pos := areaSlotPos(idx)
	binary.LittleEndian.PutUint16(pg[pos:], offset)
	binary.LittleEndian.PutUint16(pg[pos+2:], length)
}

// InitAreaPage formats a freshly allocated page as an empty area
// directory, with the whole page past the header available as payload.
func InitAreaPage(pg []byte) {
	setAreaSlotCount(pg, 0)
	setAreaFreeSlotHead(pg, areaDirEmpty)
	setAreaFreeSpaceOffset(pg, uint16(len(pg)))
}

// GetFreeAreaSize returns the largest area AllocateArea could hand back
// right now without compaction.
func GetFreeAreaSize(pg []byte) uint16 {
	dirEnd := uint16(areaDirHeaderSize) + areaSlotCount(pg)*areaSlotSize
	if areaFreeSlotHead(pg) == areaDirEmpty {
		dirEnd += areaSlotSize // a new area still needs a new slot
	}
	free := areaFreeSpaceOffset(pg)
	if free < dirEnd {
		return 0
	}
	return free - dirEnd
}

// AllocateArea reserves size contiguous bytes of payload and returns
// the AreaID addressing them. It never moves an existing area.
func AllocateArea(pg []byte, size uint16) (page.AreaID, error) {
	head := areaFreeSlotHead(pg)
	needsNewSlot := head == areaDirEmpty

	dirEnd := areaDirHeaderSize + int(areaSlotCount(pg))*areaSlotSize
	if needsNewSlot {
		dirEnd += areaSlotSize
	}
	newOffset := int(areaFreeSpaceOffset(pg)) - int(size)
	if newOffset < dirEnd {
		return page.UndefinedArea, perrors.New("physfile.allocateArea", perrors.KindNoSpace, nil)
	}

	var slot uint16
	if needsNewSlot {
		slot = areaSlotCount(pg)
		setAreaSlotCount(pg, slot+1)
	} else {
		slot = head
		setAreaFreeSlotHead(pg, areaSlotOffset(pg, slot)) // offset field doubled as next-free link
	}

	setAreaSlot(pg, slot, uint16(newOffset), size)
	setAreaFreeSpaceOffset(pg, uint16(newOffset))
	return page.AreaID(slot), nil
}

// FreeArea releases area id, threading its slot onto the free-slot
// list. The payload bytes are not reclaimed until ReallocateArea
// compacts the page.
func FreeArea(pg []byte, id page.AreaID) error {
	slot := uint16(id)
	if slot >= areaSlotCount(pg) {
		return perrors.New("physfile.freeArea", perrors.KindOutOfRange, nil)
	}
	if areaSlotLength(pg, slot) == areaSlotFreeMark {
		return perrors.New("physfile.freeArea", perrors.KindExistDuplicateArea, nil)
	}
	head := areaFreeSlotHead(pg)
	setAreaSlot(pg, slot, head, areaSlotFreeMark)
	setAreaFreeSlotHead(pg, slot)
	return nil
}

// GetAreaOffset returns id's current byte offset within pg.
func GetAreaOffset(pg []byte, id page.AreaID) (uint16, error) {
	slot := uint16(id)
	if slot >= areaSlotCount(pg) || areaSlotLength(pg, slot) == areaSlotFreeMark {
		return 0, perrors.New("physfile.getAreaOffset", perrors.KindOutOfRange, nil)
	}
	return areaSlotOffset(pg, slot), nil
}

// GetArea returns the bytes backing area id.
func GetArea(pg []byte, id page.AreaID) ([]byte, error) {
	offset, err := GetAreaOffset(pg, id)
	if err != nil {
		return nil, err
	}
	length := areaSlotLength(pg, uint16(id))
	return pg[offset : offset+length], nil
}

// LiveAreaCount returns how many slots in pg currently address a live
// area, for pkg/verify's per-page area accounting.
func LiveAreaCount(pg []byte) int {
	n := 0
	slotCount := areaSlotCount(pg)
	for s := uint16(0); s < slotCount; s++ {
		if areaSlotLength(pg, s) != areaSlotFreeMark {
			n++
		}
	}
	return n
}

// AreaCorruption describes one directory invariant VerifyAreaPage found
// broken (spec.md §4.4.2's "Corrupt directory is surfaced as
// DiscordPageUseSituation, DiscordAreaUseSituation, etc.").
type AreaCorruption struct {
	Slot   uint16
	Kind   perrors.Kind
	Detail string
}

// VerifyAreaPage checks pg's directory invariants: every live area's
// offset falls within bounds, no two live areas overlap, and
// freeSpaceOffset does not sit above the lowest live area's start. A
// freed-but-not-yet-compacted area is not itself a corruption — that's
// the gap ReallocateArea exists to reclaim — so a freeSpaceOffset below
// the lowest live area is accepted; only one above it, which would let
// the next AllocateArea overwrite live data, is flagged.
func VerifyAreaPage(pg []byte) []AreaCorruption {
	var out []AreaCorruption
	slotCount := areaSlotCount(pg)
	dirEnd := areaDirHeaderSize + int(slotCount)*areaSlotSize
	freeSpace := int(areaFreeSpaceOffset(pg))
	if freeSpace < dirEnd || freeSpace > len(pg) {
		return append(out, AreaCorruption{Kind: perrors.KindDiscordAreaUseSituation, Detail: "freeSpaceOffset out of page bounds"})
	}

	type span struct {
		start, end, slot uint16
	}
	var spans []span
	for s := uint16(0); s < slotCount; s++ {
		if areaSlotLength(pg, s) == areaSlotFreeMark {
			continue
		}
		off := areaSlotOffset(pg, s)
		length := areaSlotLength(pg, s)
		if int(off) < dirEnd || int(off)+int(length) > len(pg) {
			out = append(out, AreaCorruption{Slot: s, Kind: perrors.KindDiscordAreaUseSituation, Detail: "area offset out of page bounds"})
			continue
		}
		spans = append(spans, span{start: off, end: off + length, slot: s})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			out = append(out, AreaCorruption{Slot: spans[i].slot, Kind: perrors.KindExistProtrusiveArea, Detail: "area overlaps a neighboring area"})
		}
	}

	tightest := uint16(len(pg))
	if len(spans) > 0 {
		tightest = spans[0].start
	}
	if uint16(freeSpace) > tightest {
		out = append(out, AreaCorruption{Kind: perrors.KindDiscordFreeAreaRate, Detail: "freeSpaceOffset sits above the lowest live area's start"})
	}
	return out
}

// RepairAreaPage fixes the one corruption VerifyAreaPage can find that
// is safe to correct without deciding which of two conflicting areas is
// authoritative: a stale freeSpaceOffset. Overlap and out-of-bounds
// findings are left in uncorrectable, since ReallocateArea-driven
// compaction has no way to know which overlapping area's bytes are the
// real ones.
func RepairAreaPage(pg []byte) (corrected bool, uncorrectable []AreaCorruption) {
	for _, f := range VerifyAreaPage(pg) {
		if f.Kind != perrors.KindDiscordFreeAreaRate {
			uncorrectable = append(uncorrectable, f)
			continue
		}
		slotCount := areaSlotCount(pg)
		tightest := uint16(len(pg))
		for s := uint16(0); s < slotCount; s++ {
			if areaSlotLength(pg, s) == areaSlotFreeMark {
				continue
			}
			if off := areaSlotOffset(pg, s); off < tightest {
				tightest = off
			}
		}
		setAreaFreeSpaceOffset(pg, tightest)
		corrected = true
	}
	return corrected, uncorrectable
}

// ReallocateArea compacts pg in place, eliminating the gaps left by
// FreeArea and reassigning payload offsets while keeping every live
// AreaID's slot index unchanged, then re-allocates id at newSize,
// carrying over the first min(old, new) bytes of its content. It is the
// area-managed equivalent of a page reorganization.
func ReallocateArea(pg []byte, id page.AreaID, newSize uint16) error {
	type live struct {
		slot   uint16
		offset uint16
		length uint16
	}
	var entries []live
	slotCount := areaSlotCount(pg)
	for s := uint16(0); s < slotCount; s++ {
		if areaSlotLength(pg, s) == areaSlotFreeMark {
			continue
		}
		entries = append(entries, live{slot: s, offset: areaSlotOffset(pg, s), length: areaSlotLength(pg, s)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })

	totalLen := 0
	for _, e := range entries {
		totalLen += int(e.length)
	}
	packed := make([]byte, totalLen) // detached copy: never aliases pg
	cursor := uint16(len(pg))
	type placed struct {
		slot, offset, length uint16
	}
	placements := make([]placed, 0, len(entries))
	writePos := totalLen
	// Pack payloads from the tail backward, preserving relative order.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		cursor -= e.length
		writePos -= int(e.length)
		copy(packed[writePos:writePos+int(e.length)], pg[e.offset:e.offset+e.length])
		placements = append(placements, placed{slot: e.slot, offset: cursor, length: e.length})
	}
	copy(pg[cursor:], packed)

	for _, p := range placements {
		setAreaSlot(pg, p.slot, p.offset, p.length)
	}
	setAreaFreeSpaceOffset(pg, cursor)

	old, err := GetArea(pg, id)
	if err != nil {
		return err
	}
	saved := append([]byte(nil), old...)
	if err := FreeArea(pg, id); err != nil {
		return err
	}
	newID, err := AllocateArea(pg, newSize)
	if err != nil {
		return err
	}
	grown, err := GetArea(pg, newID)
	if err != nil {
		return err
	}
	copy(grown, saved)
	if newID != id {
		// ReallocateArea is only called to grow/shrink id in place; a
		// mismatch here means compaction changed which slot answers for
		// id, which callers must not observe.
		return perrors.New("physfile.reallocateArea", perrors.KindDiscordAreaUseSituation, nil)
	}
	return nil
}
