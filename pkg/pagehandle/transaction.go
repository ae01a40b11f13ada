package pagehandle

import "sync"

// Transaction scopes the Discardable handles of spec.md §5: a Write|
// Discardable Attach must happen under one, and Abort restores every
// handle it tracked to its pre-fix committed content.
//
// Grounded on the teacher's pkg/storage/transaction.go KVTX, minus the
// saved-meta/page-overlay machinery that file's Commit/Abort need and
// this one doesn't — reverting a page's bytes in place is enough here,
// there is no separate in-memory tree to roll back.
type Transaction struct {
	mu      sync.Mutex
	handles []*Handle
}

// Begin starts a new transaction scope.
func Begin() *Transaction {
	return &Transaction{}
}

func (tx *Transaction) track(h *Handle) {
	tx.mu.Lock()
	tx.handles = append(tx.handles, h)
	tx.mu.Unlock()
}

// Commit ends the scope without touching any tracked handle's content;
// callers are still responsible for Detaching every handle they attached.
func (tx *Transaction) Commit() {
	tx.mu.Lock()
	tx.handles = nil
	tx.mu.Unlock()
}

// Abort reverts every Discardable handle attached under tx to its
// pre-fix committed content and clears the scope. It does not Detach
// the handles; callers still own releasing their pins.
func (tx *Transaction) Abort() {
	tx.mu.Lock()
	handles := tx.handles
	tx.handles = nil
	tx.mu.Unlock()

	for _, h := range handles {
		h.revert()
	}
}
