package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/nainya/pagestore/internal/stats"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// Fetcher reads a page's current content on a cache miss. pkg/engine
// implements this over pkg/versionlog to let Pool stay ignorant of how a
// page is actually stored.
type Fetcher interface {
	FetchPage(file FileKey, id page.ID) ([]byte, error)
}

// Pool is the Buffer Pool of spec.md §4.3: a fixed-capacity cache of
// page frames, replaced by segmented LRU across page.Priority tiers
// once the pool is full.
type Pool struct {
	mu       sync.Mutex
	capacity int
	pageSize int
	fetcher  Fetcher
	stats    *stats.Statistics

	frames map[frameKey]*Frame
	lru    [3]lruList // indexed by page.Priority

	waiters map[frameKey][]chan struct{}
}

// NewPool creates a Pool holding at most capacity frames of pageSize
// bytes each. stats may be nil to disable statistics recording.
func NewPool(capacity int, pageSize int, fetcher Fetcher, statistics *stats.Statistics) *Pool {
	return &Pool{
		capacity: capacity,
		pageSize: pageSize,
		fetcher:  fetcher,
		stats:    statistics,
		frames:   make(map[frameKey]*Frame),
		waiters:  make(map[frameKey][]chan struct{}),
	}
}

func (p *Pool) record(cat stats.Category, n uint64) {
	if p.stats != nil {
		p.stats.Record(cat, n)
	}
}

// Fix pins the frame for (file, id), fetching its content on a miss
// unless mode is Allocate, in which case the frame starts zeroed. Fix
// blocks until the frame is available for mode or ctx is done. If the
// page is not resident and every frame of a full pool is pinned, Fix
// does not wait: it returns a KindTimeout error at once.
func (p *Pool) Fix(ctx context.Context, file FileKey, id page.ID, mode page.FixMode, priority page.Priority) (*Frame, error) {
	key := frameKey{file: file, page: id}

	for {
		p.mu.Lock()
		frame, ok := p.frames[key]
		if ok {
			if frame.pinCount == 0 || frame.fixedAs.Compatible(mode) {
				frame.pinCount++
				if frame.lruElem != nil {
					p.lru[frame.priority].remove(frame.lruElem)
					frame.lruElem = nil
				}
				frame.fixedAs = mode
				frame.priority = priority
				p.mu.Unlock()
				p.record(stats.Fix, uint64(len(frame.Data)))
				return frame, nil
			}
			// Incompatible: wait for an unfix and retry.
			wait := make(chan struct{})
			p.waiters[key] = append(p.waiters[key], wait)
			p.mu.Unlock()

			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, perrors.NewForPage("buffer.fix", perrors.KindCancelled, id, ctx.Err())
			}
		}

		frame, err := p.loadLocked(file, id, mode, priority)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		p.record(stats.Fix, uint64(len(frame.Data)))
		return frame, nil
	}
}

// FixTimeout is Fix with a bounded wait, matching spec.md §6's
// fix.timeout_ms environment input.
func (p *Pool) FixTimeout(file FileKey, id page.ID, mode page.FixMode, priority page.Priority, timeout time.Duration) (*Frame, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	frame, err := p.Fix(ctx, file, id, mode, priority)
	if err != nil && perrors.KindOf(err) == perrors.KindCancelled {
		return nil, perrors.NewForPage("buffer.fix", perrors.KindTimeout, id, err)
	}
	return frame, err
}

// loadLocked must be called with p.mu held. It creates a new frame for
// key, evicting one if the pool is at capacity.
func (p *Pool) loadLocked(file FileKey, id page.ID, mode page.FixMode, priority page.Priority) (*Frame, error) {
	if len(p.frames) >= p.capacity {
		if !p.evictLocked() {
			p.record(stats.Exhaust, 0)
			return nil, perrors.NewForPage("buffer.fix", perrors.KindTimeout, id,
				errPoolExhausted)
		}
	}

	data := make([]byte, p.pageSize)
	if !mode.IsAllocate() {
		fetched, err := p.fetcher.FetchPage(file, id)
		if err != nil {
			return nil, err
		}
		copy(data, fetched)
		p.record(stats.Read, uint64(len(data)))
	}
	p.record(stats.Allocate, uint64(len(data)))

	frame := &Frame{
		File:     file,
		Page:     id,
		Data:     data,
		pinCount: 1,
		fixedAs:  mode,
		priority: priority,
	}
	p.frames[frameKey{file: file, page: id}] = frame
	return frame, nil
}

// evictLocked removes and discards the oldest unpinned frame, lowest
// priority tier first. It returns false if every frame is pinned.
func (p *Pool) evictLocked() bool {
	for priority := page.Low; priority <= page.High; priority++ {
		if node := p.lru[priority].popFront(); node != nil {
			delete(p.frames, node.key)
			p.record(stats.Replace, 0)
			return true
		}
	}
	return false
}

// Unfix releases one pin on frame, resolving its dirty bit per
// unfixMode, and wakes any caller blocked on an incompatible Fix.
func (p *Pool) Unfix(frame *Frame, unfixMode page.UnfixMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dirty := unfixMode.Resolve(frame.fixedAs)
	if dirty {
		frame.dirty = true
	}
	frame.pinCount--
	p.record(stats.Unfix, 0)

	key := frameKey{file: frame.File, page: frame.Page}
	if frame.pinCount == 0 {
		node := &lruNode{key: key}
		frame.lruElem = node
		p.lru[frame.priority].pushBack(node)
	}

	for _, wait := range p.waiters[key] {
		close(wait)
	}
	delete(p.waiters, key)
}

// Lookup returns the resident frame for (file, id) without fixing it,
// for callers (the checkpoint daemon) that only need to inspect dirty
// state.
func (p *Pool) Lookup(file FileKey, id page.ID) (*Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame, ok := p.frames[frameKey{file: file, page: id}]
	return frame, ok
}

// DirtyFrames returns every currently resident frame whose Dirty bit is
// set, for the DirtyPageFlusher and checkpoint daemons to write back.
func (p *Pool) DirtyFrames() []*Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var dirty []*Frame
	for _, f := range p.frames {
		if f.dirty {
			dirty = append(dirty, f)
		}
	}
	return dirty
}

// ClearDirty marks frame clean after its content has been durably
// written back by the caller.
func (p *Pool) ClearDirty(frame *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame.dirty = false
}

// MarkDirty marks frame dirty immediately rather than waiting for
// Unfix, for pkg/pagehandle's dirty()/clear() contract (spec.md §4.5).
func (p *Pool) MarkDirty(frame *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frame.dirty = true
}

// Len reports how many frames are currently resident.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}
