// Package stats implements the Buffer Pool statistics of spec.md §4.6:
// a per-category count and byte-size counter, drained and reset on a
// timer rather than accumulated forever.
//
// Grounded on original_source/sydney/Kernel/Buffer/{Buffer/Statistics.h,
// Statistics.cpp}: a single process-wide Statistics value, one
// mutable critical section guarding an 8-entry _count/_size array, a
// static record(category, size) call site from every other package,
// and a printLog that copies-then-clears under the lock to keep I/O out
// of the critical section.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Category names one of the eight operations the original C++ source's
// Buffer::Statistics::Category enum tracks, in the same order.
type Category uint8

const (
	Fix Category = iota
	Unfix
	Read
	Write
	Allocate
	Free
	Replace
	Exhaust
	categoryCount
)

func (c Category) String() string {
	switch c {
	case Fix:
		return "Fix"
	case Unfix:
		return "Unfix"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case Allocate:
		return "Allocate"
	case Free:
		return "Free"
	case Replace:
		return "Replace"
	case Exhaust:
		return "Exhaust"
	default:
		return "Category(?)"
	}
}

// Snapshot is one category's drained count/size pair.
type Snapshot struct {
	Category Category
	Count    uint64
	Bytes    uint64
}

// Statistics accumulates per-category operation counts and byte sizes
// under one latch, mirroring the original's single process-wide
// instance. Unlike the C++ original this is not a package-level
// singleton (spec.md §9's "no singleton manager" design note); an
// engine owns one Statistics value per open database.
type Statistics struct {
	mu    sync.Mutex
	count [categoryCount]uint64
	size  [categoryCount]uint64

	fixTotal       prometheus.Counter
	unfixTotal     prometheus.Counter
	readTotal      prometheus.Counter
	writeTotal     prometheus.Counter
	allocateTotal  prometheus.Counter
	freeTotal      prometheus.Counter
	replaceTotal   prometheus.Counter
	exhaustTotal   prometheus.Counter
}

// New creates a Statistics value and registers its prometheus counters
// against reg. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the global default registry across parallel runs.
func New(reg prometheus.Registerer) *Statistics {
	factory := promauto.With(reg)
	return &Statistics{
		fixTotal:      factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_fix_total", Help: "Buffer pages fixed."}),
		unfixTotal:    factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_unfix_total", Help: "Buffer pages unfixed."}),
		readTotal:     factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_read_total", Help: "Pages read from a file into the buffer pool."}),
		writeTotal:    factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_write_total", Help: "Dirty pages written back to a file."}),
		allocateTotal: factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_allocate_total", Help: "Frames allocated for a new page."}),
		freeTotal:     factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_free_total", Help: "Frames freed."}),
		replaceTotal:  factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_replace_total", Help: "Frames reused for a different page."}),
		exhaustTotal:  factory.NewCounter(prometheus.CounterOpts{Name: "pagestore_buffer_exhaust_total", Help: "Fix calls that found the buffer pool exhausted."}),
	}
}

// Record adds one operation of the given category, with size bytes, to
// the running totals, exactly like the original's static record().
func (s *Statistics) Record(category Category, size uint64) {
	s.mu.Lock()
	s.count[category]++
	s.size[category] += size
	s.mu.Unlock()

	switch category {
	case Fix:
		s.fixTotal.Inc()
	case Unfix:
		s.unfixTotal.Inc()
	case Read:
		s.readTotal.Inc()
	case Write:
		s.writeTotal.Inc()
	case Allocate:
		s.allocateTotal.Inc()
	case Free:
		s.freeTotal.Inc()
	case Replace:
		s.replaceTotal.Inc()
	case Exhaust:
		s.exhaustTotal.Inc()
	}
}

// Drain copies out every category's count/size and resets them to
// zero, mirroring printLog's "copy under the lock, clear, log outside
// the lock" structure so I/O never happens while the latch is held.
func (s *Statistics) Drain() []Snapshot {
	s.mu.Lock()
	var count, size [categoryCount]uint64
	count = s.count
	size = s.size
	s.count = [categoryCount]uint64{}
	s.size = [categoryCount]uint64{}
	s.mu.Unlock()

	out := make([]Snapshot, categoryCount)
	for i := range out {
		out[i] = Snapshot{Category: Category(i), Count: count[i], Bytes: size[i]}
	}
	return out
}
