// Package buffer implements the Buffer Pool of spec.md §4.3: a
// fixed-capacity cache of page-sized frames, keyed by (file, PageID),
// with pin-counted fix/unfix and segmented-LRU replacement by
// page.Priority.
//
// Grounded on the teacher's pkg/storage/kv.go in-memory page overlay
// (db.page.updates/db.page.temp hold pages the mmap view doesn't yet
// reflect) for the "pages live in memory until something durable
// happens to them" shape, and on ryogrid-bltree-go-for-embedding's
// bufmgr.go pin-count/latch discipline as pack-corroborating reference
// for the part the teacher itself has no concept of: a page that is
// fixed by more than one caller at once.
package buffer

import "github.com/nainya/pagestore/pkg/page"

// FileKey identifies which physical file a frame's page belongs to, so
// one Pool can multiplex several open files.
type FileKey uint64

// Frame is one resident, page-sized buffer. It is only ever touched
// while the owning Pool's mutex is held, except for its Data, which a
// caller may read/write between Fix and Unfix.
type Frame struct {
	File FileKey
	Page page.ID

	Data []byte

	pinCount int32
	fixedAs  page.FixMode
	priority page.Priority
	dirty    bool

	// lruElem links this frame into Pool's per-priority eviction list
	// while pinCount is 0; nil while pinned.
	lruElem *lruNode
}

// PinCount reports how many outstanding Fix calls reference this frame.
func (f *Frame) PinCount() int32 { return f.pinCount }

// Dirty reports whether the frame's content differs from what is
// durable in the owning file.
func (f *Frame) Dirty() bool { return f.dirty }

// FixedAs reports the FixMode the frame is currently held under. Only
// meaningful while PinCount() > 0.
func (f *Frame) FixedAs() page.FixMode { return f.fixedAs }

type frameKey struct {
	file FileKey
	page page.ID
}

type lruNode struct {
	key        frameKey
	prev, next *lruNode
}
