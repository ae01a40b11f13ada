// Package pagehandle implements the reference-counted Page wrapper of
// spec.md §4.5: the contract every index driver (B-tree, bitmap,
// inverted, KdTree, record, lob, vector) attaches a page through instead
// of calling pkg/buffer directly.
//
// Grounded on the teacher's pkg/storage/transaction.go Begin/Commit/Abort
// shape for the commit/abort half; the attach/detach/refcount half has no
// teacher analogue (the teacher's KV store fixes nothing — it mmaps the
// whole file), so it follows spec.md §9's design note on replacing the
// original's manual incRef/decRef with an affine, ref-counted Go handle.
package pagehandle

import (
	"context"
	"sync"

	"github.com/nainya/pagestore/pkg/buffer"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// FreeFunc returns a page to its physical file's free list. A Handle
// calls it from Detach when MarkFree was called and the last reference
// drops, instead of just unfixing.
type FreeFunc func(id page.ID) error

// Handle is a ref-counted wrapper around one buffer.Frame, fixed under
// one FixMode for its entire lifetime. Copying the *Handle pointer does
// not share references on its own — call Ref to get a new reference
// that must itself be Detached.
type Handle struct {
	pool    *buffer.Pool
	frame   *buffer.Frame
	fixMode page.FixMode
	free    FreeFunc

	mu            sync.Mutex
	refCount      int32
	markedFree    bool
	preFixContent []byte // non-nil only for a Discardable fix
}

// Attach fixes (file, id) in pool under fixMode and wraps the resulting
// frame in a one-reference Handle. If fixMode is Write|Discardable, tx
// must be non-nil: the handle registers with tx so Transaction.Abort can
// restore the frame's pre-fix content.
func Attach(ctx context.Context, tx *Transaction, pool *buffer.Pool, file buffer.FileKey, id page.ID, fixMode page.FixMode, priority page.Priority, free FreeFunc) (*Handle, error) {
	frame, err := pool.Fix(ctx, file, id, fixMode, priority)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		pool:     pool,
		frame:    frame,
		fixMode:  fixMode,
		free:     free,
		refCount: 1,
	}
	if fixMode.IsDiscardable() {
		if tx == nil {
			pool.Unfix(frame, page.NotDirty)
			return nil, perrors.NewForPage("pagehandle.attach", perrors.KindDiscordPageUseSituation, id, nil)
		}
		h.preFixContent = append([]byte(nil), frame.Data...)
		tx.track(h)
	}
	return h, nil
}

// Ref adds a reference to the same underlying frame and returns the same
// *Handle; every reference taken this way needs its own Detach call.
func (h *Handle) Ref() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refCount++
	return h
}

// PageID reports which page this handle addresses.
func (h *Handle) PageID() page.ID { return h.frame.Page }

// FixMode reports the mode the handle was attached under.
func (h *Handle) FixMode() page.FixMode { return h.fixMode }

// MarkFree signals that, once the last reference to this handle is
// detached, the page should be returned to its physical file's free
// list rather than simply unfixed.
func (h *Handle) MarkFree() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.markedFree = true
}

// Dirty asserts the handle was attached non-ReadOnly and marks the
// frame dirty immediately, ahead of Detach.
func (h *Handle) Dirty() error {
	if !h.fixMode.IsWrite() && !h.fixMode.IsAllocate() {
		return perrors.NewForPage("pagehandle.dirty", perrors.KindCanNotFixNode, h.frame.Page, nil)
	}
	h.pool.MarkDirty(h.frame)
	return nil
}

// Clear fill-initializes the page payload and marks it dirty.
func (h *Handle) Clear(fill byte) error {
	if err := h.Dirty(); err != nil {
		return err
	}
	buf := h.frame.Data
	for i := range buf {
		buf[i] = fill
	}
	return nil
}

// GetBuffer returns the frame's payload: a writable slice for a
// non-ReadOnly fix, a defensive copy otherwise. pkg/buffer has no
// assertion that catches a write through a ReadOnly fix; the copy is
// the handle-level guard, so such a write never reaches the frame.
func (h *Handle) GetBuffer() []byte {
	if h.fixMode.IsWrite() || h.fixMode.IsAllocate() {
		return h.frame.Data
	}
	cp := make([]byte, len(h.frame.Data))
	copy(cp, h.frame.Data)
	return cp
}

// Detach drops one reference. When the last reference drops, the frame
// is unfixed with unfixMode (Omit lets the pool infer dirtiness from the
// fix mode), or — if MarkFree was called — returned to the free list via
// the FreeFunc given to Attach instead.
func (h *Handle) Detach(unfixMode page.UnfixMode) error {
	h.mu.Lock()
	h.refCount--
	last := h.refCount <= 0
	markedFree := h.markedFree
	h.mu.Unlock()
	if !last {
		return nil
	}

	if markedFree {
		h.pool.Unfix(h.frame, page.NotDirty)
		if h.free != nil {
			return h.free(h.frame.Page)
		}
		return nil
	}
	h.pool.Unfix(h.frame, unfixMode)
	return nil
}

// revert restores the frame's content to what it was at Attach time and
// clears its dirty bit, for Transaction.Abort to call on every
// Discardable handle it tracked.
func (h *Handle) revert() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.preFixContent == nil {
		return
	}
	copy(h.frame.Data, h.preFixContent)
	h.pool.ClearDirty(h.frame)
}
