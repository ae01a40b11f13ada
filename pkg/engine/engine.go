// Package engine is the embedding-owned Manager value of spec.md §9's
// design note: "the core should be a value owned by the embedding
// process (one per database instance), not a singleton." It wires the
// Buffer Pool (pkg/buffer), Version Manager (pkg/versionlog), Physical
// File (pkg/physfile), and the Page Wrapper (pkg/pagehandle) together
// behind the File-open API of spec.md §6, and owns the daemons of §4.6.
//
// Grounded on the teacher's internal/server/server.go NewServer/Close
// shape — one struct embedding everything a request needs, built once
// per database path — minus the gRPC service surface, which spec.md
// §1 explicitly places out of scope.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/pagestore/internal/config"
	"github.com/nainya/pagestore/internal/logger"
	"github.com/nainya/pagestore/internal/metrics"
	"github.com/nainya/pagestore/internal/stats"
	"github.com/nainya/pagestore/pkg/buffer"
	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/pagehandle"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
	"github.com/nainya/pagestore/pkg/physfile"
	"github.com/nainya/pagestore/pkg/verify"
	"github.com/nainya/pagestore/pkg/versionlog"
)

// FileKind selects which Physical File variant Open creates, per
// spec.md §6's fileKind ∈ {PageManaged, AreaManaged, DirectArea,
// NonManaged}.
type FileKind int

const (
	PageManaged FileKind = iota
	AreaManaged
	DirectArea
	NonManaged
)

func (k FileKind) String() string {
	switch k {
	case PageManaged:
		return "PageManaged"
	case AreaManaged:
		return "AreaManaged"
	case DirectArea:
		return "DirectArea"
	case NonManaged:
		return "NonManaged"
	default:
		return "FileKind(?)"
	}
}

// physicalFile is the common surface every pkg/physfile variant
// exposes, which is everything engine.Manager needs to drive the
// Fetcher, the daemons, and pkg/verify's freeListChecker without caring
// which variant it is holding.
type physicalFile interface {
	ReadRawPage(id page.ID) ([]byte, error)
	WriteRawPage(id page.ID, raw []byte) error
	PageCount() uint32
	AllocatePage() (page.ID, error)
	FreePage(id page.ID) error
	ValidateFreeList() error
	FreeListTotal() int
	Master() *masterdata.File
	Close() error
}

// fileEntry is one open (Physical File, Version Manager) pair,
// addressed by the buffer.FileKey Manager hands out from Open.
type fileEntry struct {
	kind     FileKind
	path     string
	phys     physicalFile
	versions *versionlog.Manager
}

// Manager is the storage core value of spec.md §9: one per database
// instance, holding the Buffer Pool, every open Physical File, and the
// daemons that keep them flushed and checkpointed. Callers construct
// one with New and tear it down with Close; there is no package-level
// singleton to initialize/terminate.
type Manager struct {
	cfg  *config.Config
	log  *logger.Logger
	stat *stats.Statistics
	met  *metrics.Metrics
	pool *buffer.Pool

	mu      sync.Mutex
	files   map[buffer.FileKey]*fileEntry
	nextKey uint64

	clock uint64 // monotonic commit-timestamp source for checkpoint flushes

	flusher    *stats.Daemon
	checkpoint *stats.Daemon
	reporter   *stats.Daemon
}

// New builds a Manager around cfg and log, with its own Buffer Pool and
// Statistics, but opens no files yet — call Open per database file.
// cfg.BufferPoolSize sets how many frames the pool holds and pageSize
// sets the size of each frame.
func New(cfg *config.Config, log *logger.Logger, pageSize int) *Manager {
	reg := prometheus.NewRegistry()
	m := &Manager{
		cfg:   cfg,
		log:   log,
		stat:  stats.New(reg),
		met:   metrics.NewMetrics(reg),
		files: make(map[buffer.FileKey]*fileEntry),
	}
	m.pool = buffer.NewPool(cfg.BufferPoolSize, pageSize, &poolFetcher{m: m}, m.stat)
	return m
}

// StartDaemons launches the flusher, checkpoint, and statistics-reporter
// daemons of spec.md §4.6, on the intervals cfg carries. Start must be
// called at most once; Close stops all three.
func (m *Manager) StartDaemons() {
	m.flusher = stats.NewDaemon(m.cfg.BufferFlusherInterval, m.flushDirty, func(err error) {
		m.log.Error("dirty page flusher failed").Err(err).Send()
	})
	m.checkpoint = stats.NewDaemon(m.cfg.CheckpointInterval, func() error { return m.Checkpoint() }, func(err error) {
		m.log.Error("checkpoint daemon failed").Err(err).Send()
	})
	m.reporter = stats.NewReporter(m.stat, m.log, m.cfg.BufferStatisticsInterval)

	m.flusher.Start()
	m.checkpoint.Start()
	m.reporter.Start()
}

// Pool exposes the Buffer Pool, for pkg/pagehandle.Attach callers that
// need it directly.
func (m *Manager) Pool() *buffer.Pool { return m.pool }

// Statistics exposes the Buffer Pool statistics collector.
func (m *Manager) Statistics() *stats.Statistics { return m.stat }

// Open implements spec.md §6's File-open API: `open(path, pageSize,
// pool, fileKind)`. It creates path+".master" (and, alongside it,
// path+".vlog"/path+".slog") if they do not already exist, or opens
// them if they do, and returns the buffer.FileKey the returned handle
// is addressed by in every subsequent Fix/Unfix/Checkpoint/Verify call.
func (m *Manager) Open(path string, pageSize uint32, kind FileKind) (buffer.FileKey, error) {
	masterPath := path + ".master"
	vlogPath := path + ".vlog"
	slogPath := path + ".slog"

	phys, err := openOrCreate(masterPath, pageSize, kind)
	if err != nil {
		return 0, err
	}
	versions, err := versionlog.Open(phys.Master(), vlogPath, slogPath)
	if err != nil {
		_ = phys.Close()
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKey++
	key := buffer.FileKey(m.nextKey)
	m.files[key] = &fileEntry{kind: kind, path: path, phys: phys, versions: versions}
	return key, nil
}

func openOrCreate(masterPath string, pageSize uint32, kind FileKind) (physicalFile, error) {
	_, statErr := os.Stat(masterPath)
	exists := statErr == nil

	switch kind {
	case PageManaged:
		if exists {
			return physfile.OpenPageManaged(masterPath)
		}
		return physfile.CreatePageManaged(masterPath, pageSize)
	case AreaManaged:
		if exists {
			return physfile.OpenAreaManaged(masterPath)
		}
		return physfile.CreateAreaManaged(masterPath, pageSize)
	case DirectArea:
		if exists {
			return physfile.OpenDirectArea(masterPath)
		}
		// A direct-area file's fixed area size is persisted in its own
		// control page once created, and OpenDirectArea reads it back; the
		// pageSize/4 default below applies only to a brand-new file.
		return physfile.CreateDirectArea(masterPath, pageSize, pageSize/4)
	case NonManaged:
		if exists {
			return physfile.OpenNonManaged(masterPath)
		}
		return physfile.CreateNonManaged(masterPath, pageSize)
	default:
		return nil, perrors.New("engine.open", perrors.KindOutOfRange, fmt.Errorf("unknown file kind %v", kind))
	}
}

func (m *Manager) entry(key buffer.FileKey) (*fileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.files[key]
	if !ok {
		return nil, perrors.New("engine", perrors.KindOutOfRange, fmt.Errorf("unknown file key %d", key))
	}
	return e, nil
}

// AreaManagedFile returns the underlying *physfile.AreaManagedFile for
// key, for drivers that need AllocateArea/FreeArea/ReadArea/WriteArea
// directly. It fails if key was not opened with FileKind AreaManaged.
func (m *Manager) AreaManagedFile(key buffer.FileKey) (*physfile.AreaManagedFile, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	f, ok := e.phys.(*physfile.AreaManagedFile)
	if !ok {
		return nil, perrors.New("engine.areaManagedFile", perrors.KindOutOfRange, fmt.Errorf("file key %d is not AreaManaged", key))
	}
	return f, nil
}

// DirectAreaFile returns the underlying *physfile.DirectAreaFile for
// key. It fails if key was not opened with FileKind DirectArea.
func (m *Manager) DirectAreaFile(key buffer.FileKey) (*physfile.DirectAreaFile, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	f, ok := e.phys.(*physfile.DirectAreaFile)
	if !ok {
		return nil, perrors.New("engine.directAreaFile", perrors.KindOutOfRange, fmt.Errorf("file key %d is not DirectArea", key))
	}
	return f, nil
}

// AllocatePage reserves a new page on key's Physical File, ready to be
// Attach-ed under FixMode Allocate.
func (m *Manager) AllocatePage(key buffer.FileKey) (page.ID, error) {
	e, err := m.entry(key)
	if err != nil {
		return page.Undefined, err
	}
	return e.phys.AllocatePage()
}

// Attach is the Fix half of spec.md §4.5's Page Wrapper API: it fixes
// (key, id) in the Buffer Pool and wraps the frame in a ref-counted
// pagehandle.Handle whose Detach, when MarkFree was called, returns the
// page to key's Physical File free list via FreePage.
func (m *Manager) Attach(ctx context.Context, tx *pagehandle.Transaction, key buffer.FileKey, id page.ID, mode page.FixMode, priority page.Priority) (*pagehandle.Handle, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	return pagehandle.Attach(ctx, tx, m.pool, key, id, mode, priority, e.phys.FreePage)
}

// Verify runs the verify tree (spec.md §4.4, §6) over key's Physical
// File, dispatching to the variant-specific driver in pkg/verify.
func (m *Manager) Verify(key buffer.FileKey, treatment verify.Treatment, progressLevel verify.Level) (*verify.Report, error) {
	e, err := m.entry(key)
	if err != nil {
		return nil, err
	}
	progress := &verify.Progress{Level: progressLevel, Logger: m.log}

	switch f := e.phys.(type) {
	case *physfile.PageManagedFile:
		return verify.VerifyPageManaged(f, treatment, progress)
	case *physfile.AreaManagedFile:
		return verify.VerifyAreaManaged(f, treatment, progress)
	case *physfile.DirectAreaFile:
		return verify.VerifyDirectArea(f, treatment, progress)
	case *physfile.NonManagedFile:
		return verify.VerifyNonManaged(f, treatment, progress)
	default:
		return nil, perrors.New("engine.verify", perrors.KindOutOfRange, fmt.Errorf("unsupported physical file type for key %d", key))
	}
}

// ConfigProgressLevel converts internal/config.ProgressLevel (the
// environment-configured setting of spec.md §6) into the
// pkg/verify.Level a Verify call needs. pkg/verify deliberately does
// not import internal/config so it stays a leaf package; this
// conversion is the one place that bridges the two.
func ConfigProgressLevel(level config.ProgressLevel) verify.Level {
	switch level {
	case config.ProgressSilent:
		return verify.Silent
	case config.ProgressDetailed:
		return verify.Detailed
	default:
		return verify.Summary
	}
}

// flushDirty is the DirtyPageFlusher daemon body: it writes every
// currently dirty frame's content to its file's Version Manager as a
// new version log block, without forcing a fold-back into master data
// (that's Checkpoint's job). It runs far more often than Checkpoint so
// a crash loses less unflushed content.
func (m *Manager) flushDirty() error {
	ts := page.Timestamp(atomic.AddUint64(&m.clock, 1))
	for _, frame := range m.pool.DirtyFrames() {
		e, err := m.entry(frame.File)
		if err != nil {
			continue // frame belongs to a file this Manager no longer tracks
		}
		if _, err := e.versions.WriteVersion(frame.Page, ts, frame.Data); err != nil {
			return err
		}
		m.pool.ClearDirty(frame)
	}
	m.met.SetFramesInUse(m.pool.Len())
	return nil
}

// Checkpoint implements spec.md §6's `checkpoint(tx)`: flush every
// dirty frame exactly as flushDirty does, then ask each file's Version
// Manager to fold every foldable version of every page back into master
// data, and finally to truncate its old log segments.
// Fold-back is a no-op for any page newer than the oldest active
// reader's watermark (pkg/versionlog.Manager.Sync), so a long-running
// snapshot read never loses the version it is reading.
func (m *Manager) Checkpoint() error {
	start := time.Now()
	if err := m.flushDirty(); err != nil {
		return err
	}

	m.mu.Lock()
	entries := make([]*fileEntry, 0, len(m.files))
	for _, e := range m.files {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		total := e.phys.PageCount()
		for id := page.ID(0); uint32(id) < total; id++ {
			if err := e.versions.Sync(id); err != nil {
				return err
			}
		}
		if err := e.versions.TruncateLogs(); err != nil {
			return err
		}
	}

	m.met.ObserveCheckpointDuration(time.Since(start))
	return nil
}

// Close stops the daemons and closes every open file's Version Manager
// and Physical File.
func (m *Manager) Close() error {
	if m.flusher != nil {
		m.flusher.Stop()
	}
	if m.checkpoint != nil {
		m.checkpoint.Stop()
	}
	if m.reporter != nil {
		m.reporter.Stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for key, e := range m.files {
		if err := e.versions.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.phys.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.files, key)
	}
	return firstErr
}
