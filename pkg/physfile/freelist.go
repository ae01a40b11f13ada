// Package physfile implements the Physical File of spec.md §4.4: the
// page-managed, area-managed, and direct-area allocator variants layered
// on top of a Master Data File.
//
// Grounded on the teacher's pkg/storage/freelist.go unrolled-linked-list
// free list (reworked here to address masterdata.File pages instead of
// raw uint64 offsets) for the page-managed free list, and on
// pkg/btree/node.go's slotted-page layout for the area directory.
package physfile

import (
	"encoding/binary"

	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// freeListHeaderSize is next-node-pointer(4) + reserved(4).
const freeListHeaderSize = 8

// freeList is an unrolled linked list of reclaimed page IDs, one
// capacity-bounded node per page. Node capacity is derived from the
// file's page size, same as the teacher's FREE_LIST_CAP constant.
type freeList struct {
	master *masterdata.File
	cap    int

	headPage page.ID
	headSeq  uint64
	tailPage page.ID
	tailSeq  uint64
}

// freshFreeList builds an empty free list for a newly created file.
func freshFreeList(master *masterdata.File) *freeList {
	return &freeList{
		master:   master,
		cap:      (int(master.PageSize()) - freeListHeaderSize) / 4,
		headPage: page.Undefined,
		tailPage: page.Undefined,
	}
}

// loadFreeList rebuilds a free list handle from its persisted head/tail
// pointers and sequence counters (stored in the file's control page,
// see control.go).
func loadFreeList(master *masterdata.File, headPage, tailPage page.ID, headSeq, tailSeq uint64) *freeList {
	return &freeList{
		master:   master,
		cap:      (int(master.PageSize()) - freeListHeaderSize) / 4,
		headPage: headPage,
		headSeq:  headSeq,
		tailPage: tailPage,
		tailSeq:  tailSeq,
	}
}

type lnode []byte

func (n lnode) getNext() page.ID   { return page.ID(binary.LittleEndian.Uint32(n[0:4])) }
func (n lnode) setNext(id page.ID) { binary.LittleEndian.PutUint32(n[0:4], uint32(id)) }
func (n lnode) getPtr(idx int) page.ID {
	return page.ID(binary.LittleEndian.Uint32(n[freeListHeaderSize+idx*4:]))
}
func (n lnode) setPtr(idx int, id page.ID) {
	binary.LittleEndian.PutUint32(n[freeListHeaderSize+idx*4:], uint32(id))
}

// Total reports how many page IDs are currently reclaimable.
func (fl *freeList) Total() int {
	if fl.headSeq >= fl.tailSeq {
		return 0
	}
	return int(fl.tailSeq - fl.headSeq)
}

// Validate checks the head/tail bookkeeping for internal consistency:
// an empty list must agree on emptiness between its sequence counters
// and its page pointers, and a non-empty list must have a real head
// page. pkg/verify calls this on every verify pass, whatever the
// treatment, and each variant's Open function calls it at open time.
func (fl *freeList) Validate() error {
	empty := fl.headSeq >= fl.tailSeq
	if empty && (fl.headPage.IsValid() != fl.tailPage.IsValid()) {
		return errFreeListUnusable
	}
	if !empty && !fl.headPage.IsValid() {
		return errFreeListUnusable
	}
	if fl.headSeq > fl.tailSeq {
		return errFreeListUnusable
	}
	return nil
}

// PopHead removes and returns a reclaimed page ID, or page.Undefined if
// the list is empty.
func (fl *freeList) PopHead() (page.ID, error) {
	if fl.headSeq >= fl.tailSeq || !fl.headPage.IsValid() {
		return page.Undefined, nil
	}
	raw, err := fl.master.ReadPage(fl.headPage)
	if err != nil {
		return page.Undefined, err
	}
	node := lnode(raw)
	idx := int(fl.headSeq % uint64(fl.cap))
	id := node.getPtr(idx)
	fl.headSeq++

	if fl.headSeq%uint64(fl.cap) == 0 {
		next := node.getNext()
		if next.IsValid() {
			fl.headPage = next
		}
	}
	return id, nil
}

// PushTail adds id to the tail of the list, allocating a new node page
// from master when the current tail node is full.
func (fl *freeList) PushTail(id page.ID) error {
	if !fl.tailPage.IsValid() {
		first, err := fl.master.Extend(1)
		if err != nil {
			return err
		}
		raw := make([]byte, fl.master.PageSize())
		lnode(raw).setNext(page.Undefined)
		if err := fl.master.WritePage(first, raw); err != nil {
			return err
		}
		fl.headPage = first
		fl.tailPage = first
	}

	idx := int(fl.tailSeq % uint64(fl.cap))
	if idx == 0 && fl.tailSeq > 0 {
		next, err := fl.master.Extend(1)
		if err != nil {
			return err
		}
		newRaw := make([]byte, fl.master.PageSize())
		lnode(newRaw).setNext(page.Undefined)
		if err := fl.master.WritePage(next, newRaw); err != nil {
			return err
		}

		oldRaw, err := fl.master.ReadPage(fl.tailPage)
		if err != nil {
			return err
		}
		lnode(oldRaw).setNext(next)
		if err := fl.master.WritePage(fl.tailPage, oldRaw); err != nil {
			return err
		}
		fl.tailPage = next
		idx = 0
	}

	raw, err := fl.master.ReadPage(fl.tailPage)
	if err != nil {
		return err
	}
	node := lnode(raw)
	node.setPtr(idx, id)
	if err := fl.master.WritePage(fl.tailPage, raw); err != nil {
		return err
	}
	fl.tailSeq++
	return nil
}

// errFreeListUnusable is returned by validation helpers that detect a
// free list whose head/tail bookkeeping is internally contradictory
// (spec.md §7 KindBlockCountInconsistent).
var errFreeListUnusable = perrors.New("physfile.freelist", perrors.KindBlockCountInconsistent, nil)
