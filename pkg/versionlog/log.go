package versionlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nainya/pagestore/pkg/perrors"
)

// MaxSegmentSize bounds how large a single log segment file grows
// before Log rotates to a new one.
const MaxSegmentSize = 64 << 20

// MaxSegments is how many rotated segments Log keeps once TruncateOld is
// called; older ones are removed.
const MaxSegments = 8

// Log is an append-only, LSN-tagged, rotating segment file. Both the
// Version Log and the Sync Log of spec.md §4.2 are a Log with a
// different base path; they share an on-disk format and rotation
// policy because both are "append records durably, replay them on
// recovery" in the same sense.
type Log struct {
	basePath string

	mu         sync.Mutex
	fd         *os.File
	segIndex   int
	segSize    int64
	closed     bool
	lsn        uint64 // atomic
}

// OpenLog opens the newest existing segment of basePath, or creates the
// first one, restoring the LSN counter from the highest LSN found by
// scanning every record of every segment.
func OpenLog(basePath string) (*Log, error) {
	l := &Log{basePath: basePath}

	segments, err := l.findSegments()
	if err != nil {
		return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
	}

	if len(segments) == 0 {
		if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
			return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
		}
		fd, err := os.OpenFile(l.segmentPath(0), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
		}
		l.fd = fd
		l.segIndex = 0
		l.segSize = 0
		return l, nil
	}

	latest := segments[len(segments)-1]
	fd, err := os.OpenFile(latest, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
	}
	stat, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
	}
	l.fd = fd
	l.segSize = stat.Size()
	fmt.Sscanf(filepath.Base(latest), filepath.Base(basePath)+".%d", &l.segIndex)

	maxLSN, err := scanHighestLSN(segments)
	if err != nil {
		_ = fd.Close()
		return nil, perrors.New("versionlog.open", perrors.KindIoError, err)
	}
	atomic.StoreUint64(&l.lsn, maxLSN)
	return l, nil
}

// NextLSN hands out the next, strictly increasing log sequence number.
func (l *Log) NextLSN() uint64 { return atomic.AddUint64(&l.lsn, 1) }

// Append writes one encoded entry to the tail of the log, rotating to a
// new segment first if it would overflow MaxSegmentSize.
func (l *Log) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return perrors.New("versionlog.append", perrors.KindIoError, errLogClosed)
	}
	data := e.Encode()
	if l.segSize+int64(len(data)) > MaxSegmentSize {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := l.fd.Write(data)
	if err != nil {
		return perrors.New("versionlog.append", perrors.KindIoError, err)
	}
	l.segSize += int64(n)
	return nil
}

// Sync fsyncs the current segment.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return perrors.New("versionlog.sync", perrors.KindIoError, errLogClosed)
	}
	if err := l.fd.Sync(); err != nil {
		return perrors.New("versionlog.sync", perrors.KindIoError, err)
	}
	return nil
}

// Close closes the current segment file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.fd.Close(); err != nil {
		return perrors.New("versionlog.close", perrors.KindIoError, err)
	}
	return nil
}

// Segments returns the log's segment paths in ascending order, for use
// by a Reader that replays the whole log.
func (l *Log) Segments() ([]string, error) {
	return l.findSegments()
}

// TruncateOld removes every segment older than the MaxSegments most
// recent ones, called after a fold-back has advanced the durable
// watermark past them.
func (l *Log) TruncateOld() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	segments, err := l.findSegments()
	if err != nil {
		return perrors.New("versionlog.truncateOld", perrors.KindIoError, err)
	}
	if len(segments) <= MaxSegments {
		return nil
	}
	for _, s := range segments[:len(segments)-MaxSegments] {
		_ = os.Remove(s)
	}
	return nil
}

func (l *Log) rotateLocked() error {
	if err := l.fd.Sync(); err != nil {
		return perrors.New("versionlog.rotate", perrors.KindIoError, err)
	}
	if err := l.fd.Close(); err != nil {
		return perrors.New("versionlog.rotate", perrors.KindIoError, err)
	}
	l.segIndex++
	fd, err := os.OpenFile(l.segmentPath(l.segIndex), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return perrors.New("versionlog.rotate", perrors.KindIoError, err)
	}
	l.fd = fd
	l.segSize = 0
	return nil
}

func (l *Log) segmentPath(index int) string {
	return fmt.Sprintf("%s.%03d", l.basePath, index)
}

func (l *Log) findSegments() ([]string, error) {
	dir := filepath.Dir(l.basePath)
	base := filepath.Base(l.basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(entry.Name(), base+".%d", &idx); err == nil {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		var a, b int
		fmt.Sscanf(filepath.Base(files[i]), base+".%d", &a)
		fmt.Sscanf(filepath.Base(files[j]), base+".%d", &b)
		return a < b
	})
	return files, nil
}
