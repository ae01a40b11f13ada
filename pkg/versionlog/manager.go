package versionlog

import (
	"io"
	"sort"
	"sync"

	"github.com/nainya/pagestore/pkg/masterdata"
	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

type versionRecord struct {
	timestamp page.Timestamp
	lsn       uint64
	prevLSN   uint64
	data      []byte
}

// Manager is the Version Manager of spec.md §4.2. It owns the Version
// Log, the Sync Log, and the Master Data File underneath one page ID
// space, and answers fetch/writeVersion/sync against all three.
//
// fold-back policy (spec.md §9 open question "fold-back vs. long
// readers"): Manager keeps a version log block alive as long as any
// registered reader's watermark is older than it. BeginRead/EndRead
// register and release that watermark.
type Manager struct {
	master *masterdata.File
	vlog   *Log
	slog   *Log

	mu        sync.RWMutex
	index     map[page.ID][]versionRecord
	lastLSN   map[page.ID]uint64 // per page: LSN of the most recently appended version, chains WriteVersion's PrevLSN
	foldedLSN map[page.ID]uint64 // per page: Version Log LSN the most recently completed Sync folded through

	readersMu sync.Mutex
	readers   map[uint64]page.Timestamp
	nextRead  uint64
}

// Open wires a Manager over an already-open master data file and the
// version/sync log base paths, running crash recovery before returning.
func Open(master *masterdata.File, versionLogPath, syncLogPath string) (*Manager, error) {
	vlog, err := OpenLog(versionLogPath)
	if err != nil {
		return nil, err
	}
	slog, err := OpenLog(syncLogPath)
	if err != nil {
		_ = vlog.Close()
		return nil, err
	}

	m := &Manager{
		master:    master,
		vlog:      vlog,
		slog:      slog,
		index:     make(map[page.ID][]versionRecord),
		lastLSN:   make(map[page.ID]uint64),
		foldedLSN: make(map[page.ID]uint64),
		readers:   make(map[uint64]page.Timestamp),
	}
	if err := m.recover(); err != nil {
		_ = vlog.Close()
		_ = slog.Close()
		return nil, err
	}
	return m, nil
}

// Close closes both logs; it does not sync the master data file.
func (m *Manager) Close() error {
	if err := m.vlog.Close(); err != nil {
		return err
	}
	return m.slog.Close()
}

// BeginRead registers a snapshot read at readTimestamp and returns a
// token EndRead needs to release it. While registered, Sync will not
// fold back any version newer than readTimestamp for any page.
func (m *Manager) BeginRead(readTimestamp page.Timestamp) uint64 {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	m.nextRead++
	token := m.nextRead
	m.readers[token] = readTimestamp
	return token
}

// EndRead releases a watermark registered by BeginRead.
func (m *Manager) EndRead(token uint64) {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	delete(m.readers, token)
}

func (m *Manager) oldestWatermark() (page.Timestamp, bool) {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	if len(m.readers) == 0 {
		return 0, false
	}
	first := true
	var oldest page.Timestamp
	for _, ts := range m.readers {
		if first || ts < oldest {
			oldest = ts
			first = false
		}
	}
	return oldest, true
}

// Fetch returns pageID's content as of readTimestamp: the newest
// version log entry at or below readTimestamp, or the master data page
// if no such version exists.
func (m *Manager) Fetch(pageID page.ID, readTimestamp page.Timestamp) ([]byte, error) {
	m.mu.RLock()
	records := m.index[pageID]
	m.mu.RUnlock()

	// records is sorted ascending by timestamp; find the last one <= readTimestamp.
	idx := sort.Search(len(records), func(i int) bool {
		return records[i].timestamp > readTimestamp
	}) - 1
	if idx >= 0 {
		data := make([]byte, len(records[idx].data))
		copy(data, records[idx].data)
		return data, nil
	}
	return m.master.ReadPage(pageID)
}

// WriteVersion appends a new committed version of pageID's content,
// tagged with writeTimestamp, returning the log sequence number the
// entry was written at. The entry's PrevLSN chains it to pageID's prior
// version (0 if this is its first), letting recovery detect a torn or
// reordered write (spec.md §7's VersionLogIDInconsistent).
func (m *Manager) WriteVersion(pageID page.ID, writeTimestamp page.Timestamp, data []byte) (uint64, error) {
	m.mu.RLock()
	prevLSN := m.lastLSN[pageID]
	m.mu.RUnlock()

	data = append([]byte(nil), data...) // the stored version must not alias the caller's buffer
	lsn := m.vlog.NextLSN()
	entry := &Entry{LSN: lsn, PageID: pageID, Timestamp: writeTimestamp, Op: OpVersion, PrevLSN: prevLSN, Data: data}
	if err := m.vlog.Append(entry); err != nil {
		return 0, perrors.NewForPage("versionlog.writeVersion", perrors.KindIoError, pageID, err)
	}
	if err := m.vlog.Sync(); err != nil {
		return 0, perrors.NewForPage("versionlog.writeVersion", perrors.KindIoError, pageID, err)
	}

	m.mu.Lock()
	m.index[pageID] = insertSorted(m.index[pageID], versionRecord{timestamp: writeTimestamp, lsn: lsn, prevLSN: prevLSN, data: data})
	m.lastLSN[pageID] = lsn
	m.mu.Unlock()
	return lsn, nil
}

// TruncateLogs drops version and sync log segments beyond the newest
// MaxSegments, implementing spec.md §4.6's checkpoint step "truncate
// obsolete version log blocks." Call it after folding back every page.
// TruncateOld removes segments by count alone, so the version log is
// truncated only while no page has an unfolded version left; every
// segment it removes then holds only versions Sync has durably folded.
func (m *Manager) TruncateLogs() error {
	m.mu.RLock()
	unfolded := len(m.index)
	m.mu.RUnlock()
	if unfolded == 0 {
		if err := m.vlog.TruncateOld(); err != nil {
			return perrors.New("versionlog.truncate", perrors.KindIoError, err)
		}
	}
	return m.slog.TruncateOld()
}

func insertSorted(records []versionRecord, r versionRecord) []versionRecord {
	i := sort.Search(len(records), func(i int) bool { return records[i].timestamp >= r.timestamp })
	records = append(records, versionRecord{})
	copy(records[i+1:], records[i:])
	records[i] = r
	return records
}

// Sync folds every foldable version log entry of pageID back into the
// master data file, the newest of them being the content master data
// ends up with: write a Sync Log "start" record carrying the page's
// pre-fold content (spec.md §4.2 step 1: "Write {pageID,
// masterOldContents} to Sync Log, flush"), write the new content to the
// master data page, fsync both, then write a "complete" marker and drop
// the folded log entries from the in-memory index. A version is
// foldable only if it is older than every active reader's watermark
// (see BeginRead). Before folding, Sync confirms the oldest unfolded
// version's PrevLSN picks up exactly where the last completed fold left
// off, raising PhysicalLogIDInconsistent if the version chain and the
// physical file's fold history disagree (spec.md §7).
func (m *Manager) Sync(pageID page.ID) error {
	m.mu.RLock()
	records := append([]versionRecord(nil), m.index[pageID]...)
	foldedThrough := m.foldedLSN[pageID]
	m.mu.RUnlock()
	if len(records) == 0 {
		return nil
	}

	watermark, hasReaders := m.oldestWatermark()
	foldCount := len(records)
	if hasReaders {
		foldCount = sort.Search(len(records), func(i int) bool { return records[i].timestamp >= watermark })
	}
	if foldCount == 0 {
		return nil
	}
	fold := records[foldCount-1]

	if records[0].prevLSN != foldedThrough {
		return perrors.NewForPage("versionlog.sync", perrors.KindPhysicalLogIDInconsistent, pageID, nil)
	}

	oldContent, err := m.master.ReadPage(pageID)
	if err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}

	startLSN := m.slog.NextLSN()
	start := &Entry{LSN: startLSN, PageID: pageID, Timestamp: fold.timestamp, Op: OpSyncStart, PrevLSN: fold.lsn, Data: oldContent}
	if err := m.slog.Append(start); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}
	if err := m.slog.Sync(); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}

	if err := m.master.WritePage(pageID, fold.data); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}
	if err := m.master.Sync(); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}

	completeLSN := m.slog.NextLSN()
	complete := &Entry{LSN: completeLSN, PageID: pageID, Timestamp: fold.timestamp, Op: OpSyncComplete, PrevLSN: fold.lsn}
	if err := m.slog.Append(complete); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}
	if err := m.slog.Sync(); err != nil {
		return perrors.NewForPage("versionlog.sync", perrors.KindIoError, pageID, err)
	}

	m.mu.Lock()
	m.foldedLSN[pageID] = fold.lsn
	remaining := m.index[pageID][foldCount:]
	if len(remaining) == 0 {
		delete(m.index, pageID)
	} else {
		m.index[pageID] = append([]versionRecord(nil), remaining...)
	}
	m.mu.Unlock()
	return nil
}

// recover replays the Sync Log to undo any fold-back that started but
// never completed, writing back the pre-fold master content its start
// record carries, then replays the Version Log to rebuild the
// in-memory index, mirroring the teacher's pkg/wal/recovery.go
// replay-after-crash posture.
func (m *Manager) recover() error {
	if err := m.recoverSyncLog(); err != nil {
		return err
	}
	return m.recoverVersionLog()
}

func (m *Manager) recoverSyncLog() error {
	segments, err := m.slog.Segments()
	if err != nil {
		return perrors.New("versionlog.recover", perrors.KindIoError, err)
	}
	entries, err := ReadAll(segments)
	if err != nil {
		return perrors.New("versionlog.recover", perrors.KindIoError, err)
	}

	inDoubt := make(map[page.ID]*Entry)
	for _, e := range entries {
		switch e.Op {
		case OpSyncStart:
			inDoubt[e.PageID] = e
		case OpSyncComplete:
			delete(inDoubt, e.PageID)
			m.foldedLSN[e.PageID] = e.PrevLSN
		}
	}
	for pageID, start := range inDoubt {
		if err := m.master.WritePage(pageID, start.Data); err != nil {
			return perrors.NewForPage("versionlog.recover", perrors.KindSyncLogFileFound, pageID, err)
		}
	}
	if len(inDoubt) > 0 {
		return m.master.Sync()
	}
	return nil
}

func (m *Manager) recoverVersionLog() error {
	segments, err := m.vlog.Segments()
	if err != nil {
		return perrors.New("versionlog.recover", perrors.KindIoError, err)
	}
	r, err := OpenReader(segments)
	if err != nil {
		return perrors.New("versionlog.recover", perrors.KindIoError, err)
	}
	defer r.Close()

	chainLSN := make(map[page.ID]uint64)
	seen := make(map[page.ID]bool)
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return perrors.New("versionlog.recover", perrors.KindIoError, err)
		}
		if e.Op != OpVersion {
			continue
		}
		// A page's first entry seen in this replay either truly is its
		// first-ever version, or its older history was already folded and
		// truncated away; either way there is nothing to chain against.
		if seen[e.PageID] && e.PrevLSN != chainLSN[e.PageID] {
			return perrors.NewForPage("versionlog.recover", perrors.KindVersionLogIDInconsistent, e.PageID, nil)
		}
		seen[e.PageID] = true
		chainLSN[e.PageID] = e.LSN
		m.lastLSN[e.PageID] = e.LSN

		m.index[e.PageID] = insertSorted(m.index[e.PageID], versionRecord{
			timestamp: e.Timestamp, lsn: e.LSN, prevLSN: e.PrevLSN, data: e.Data,
		})
	}
	return nil
}
