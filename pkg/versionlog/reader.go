package versionlog

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/nainya/pagestore/pkg/perrors"
)

// Reader replays every Entry of a sequence of log segments in order,
// skipping past any single corrupted record rather than stopping,
// mirroring the teacher's pkg/wal/reader.go recovery posture: a torn
// write at the tail of the log should not hide everything before it.
type Reader struct {
	files   []string
	current int
	fd      *os.File
}

// OpenReader opens a Reader over the given segment paths, as returned
// by Log.Segments().
func OpenReader(files []string) (*Reader, error) {
	r := &Reader{files: files, current: -1}
	if err := r.advance(); err != nil && err != io.EOF {
		return nil, err
	}
	return r, nil
}

func (r *Reader) advance() error {
	if r.fd != nil {
		_ = r.fd.Close()
		r.fd = nil
	}
	r.current++
	if r.current >= len(r.files) {
		return io.EOF
	}
	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return perrors.New("versionlog.reader", perrors.KindIoError, err)
	}
	r.fd = fd
	return nil
}

// Next returns the next Entry, or io.EOF once every segment is exhausted.
func (r *Reader) Next() (*Entry, error) {
	for {
		if r.fd == nil {
			return nil, io.EOF
		}
		e, err := readEntry(r.fd)
		if err == io.EOF {
			if advErr := r.advance(); advErr != nil {
				return nil, advErr
			}
			continue
		}
		if err != nil {
			if perrors.KindOf(err) != perrors.KindUnknown {
				// DecodeEntry rejected a record readEntry had already read
				// in full, so the next record starts at the current offset.
				continue
			}
			// Skip forward past the torn record and keep going; same
			// defensive seek the teacher's WAL reader performs.
			if _, seekErr := r.fd.Seek(1024, io.SeekCurrent); seekErr != nil {
				return nil, perrors.New("versionlog.reader", perrors.KindIoError, seekErr)
			}
			continue
		}
		return e, nil
	}
}

// Close closes whichever segment file is currently open.
func (r *Reader) Close() error {
	if r.fd == nil {
		return nil
	}
	return r.fd.Close()
}

// ReadAll replays every entry of the given segment files into memory,
// in order, skipping corrupted records.
func ReadAll(files []string) ([]*Entry, error) {
	r, err := OpenReader(files)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []*Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func readEntry(r io.Reader) (*Entry, error) {
	header := make([]byte, EntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	dataLen := binary.LittleEndian.Uint32(header[32:36])
	rest := make([]byte, int(dataLen)+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	full := append(header, rest...)
	return DecodeEntry(full)
}

func scanHighestLSN(files []string) (uint64, error) {
	entries, err := ReadAll(files)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		if e.LSN > max {
			max = e.LSN
		}
	}
	return max, nil
}
