// Package masterdata implements the Master Data File of spec.md §4.1: a
// flat, offset-addressed file of fixed-size pages, read and written with
// direct positioned I/O rather than the buffered os.File API.
//
// Grounded on the teacher's pkg/storage/kv.go, which opens its database
// file the same way (raw fd, syscall.Pread/Pwrite, directory fsync on
// create) rather than going through a buffered-I/O wrapper.
package masterdata

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// Signature is the 8-byte magic stamped into every master data file's
// header page so Open can reject a file that isn't one of ours.
const Signature = "PGSTMD01"

// HeaderSize is the length of the fixed prefix at the front of page 0:
// signature(8) + pageSize(4) + pageCount(4) + nextPageID(4) + reserved(12).
const HeaderSize = 32

// DefaultPageSize matches the slotted-page size the btree-derived area
// directory (pkg/physfile) is built around.
const DefaultPageSize = 4096

// File is one open Master Data File. PageID 0 is reserved for the
// header page; callers never fix it through pkg/buffer.
type File struct {
	mu sync.Mutex

	path       string
	fd         int
	pageSize   uint32
	pageCount  uint32 // total pages including the header page
	nextPageID uint32
}

// Create makes a new, empty master data file containing only the header
// page, failing if path already exists.
func Create(path string, pageSize uint32) (*File, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	fd, err := syscall.Open(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, perrors.New("masterdata.create", perrors.KindIoError, err)
	}
	if err := fsyncParentDir(path); err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}

	f := &File{
		path:       path,
		fd:         fd,
		pageSize:   pageSize,
		pageCount:  1,
		nextPageID: 1,
	}
	if err := extendFile(fd, int64(pageSize)); err != nil {
		_ = syscall.Close(fd)
		return nil, perrors.New("masterdata.create", perrors.KindIoError, err)
	}
	if err := f.writeHeaderLocked(); err != nil {
		_ = syscall.Close(fd)
		return nil, err
	}
	if err := syscall.Fsync(fd); err != nil {
		_ = syscall.Close(fd)
		return nil, perrors.New("masterdata.create", perrors.KindIoError, err)
	}
	return f, nil
}

// Open opens an existing master data file and validates its header.
func Open(path string) (*File, error) {
	fd, err := syscall.Open(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, perrors.New("masterdata.open", perrors.KindMasterDataFileNotFound, err)
	}

	header := make([]byte, HeaderSize)
	if _, err := syscall.Pread(fd, header, 0); err != nil {
		_ = syscall.Close(fd)
		return nil, perrors.New("masterdata.open", perrors.KindIoError, err)
	}
	if string(header[:8]) != Signature {
		_ = syscall.Close(fd)
		return nil, perrors.New("masterdata.open", perrors.KindMasterDataFileNotFound,
			fmt.Errorf("bad signature %q", header[:8]))
	}

	f := &File{
		path:       path,
		fd:         fd,
		pageSize:   binary.LittleEndian.Uint32(header[8:12]),
		pageCount:  binary.LittleEndian.Uint32(header[12:16]),
		nextPageID: binary.LittleEndian.Uint32(header[16:20]),
	}
	return f, nil
}

// Close releases the file descriptor. It does not sync; call Sync first
// if unflushed pages matter.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := syscall.Close(f.fd); err != nil {
		return perrors.New("masterdata.close", perrors.KindIoError, err)
	}
	return nil
}

// PageSize returns the fixed page size this file was created with.
func (f *File) PageSize() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageSize
}

// PageCount returns the number of pages currently allocated, including
// the header page.
func (f *File) PageCount() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCount
}

// ReadPage reads exactly one page's worth of bytes at id's offset.
func (f *File) ReadPage(id page.ID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkRangeLocked(id); err != nil {
		return nil, err
	}
	buf := make([]byte, f.pageSize)
	n, err := syscall.Pread(f.fd, buf, int64(uint32(id))*int64(f.pageSize))
	if err != nil {
		return nil, perrors.NewForPage("masterdata.readPage", perrors.KindIoError, id, err)
	}
	if uint32(n) != f.pageSize {
		return nil, perrors.NewForPage("masterdata.readPage", perrors.KindIoError, id,
			fmt.Errorf("short read: got %d want %d", n, f.pageSize))
	}
	return buf, nil
}

// WritePage overwrites one page's worth of bytes at id's offset. data
// must be exactly PageSize long.
func (f *File) WritePage(id page.ID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkRangeLocked(id); err != nil {
		return err
	}
	if uint32(len(data)) != f.pageSize {
		return perrors.NewForPage("masterdata.writePage", perrors.KindOutOfRange, id,
			fmt.Errorf("payload length %d != page size %d", len(data), f.pageSize))
	}
	n, err := syscall.Pwrite(f.fd, data, int64(uint32(id))*int64(f.pageSize))
	if err != nil {
		return perrors.NewForPage("masterdata.writePage", perrors.KindIoError, id, err)
	}
	if uint32(n) != f.pageSize {
		return perrors.NewForPage("masterdata.writePage", perrors.KindIoError, id,
			fmt.Errorf("short write: wrote %d want %d", n, f.pageSize))
	}
	return nil
}

// Extend grows the file by n pages, returning the ID of the first new
// page. Extended pages read back as all-zero until written.
func (f *File) Extend(n uint32) (page.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := page.ID(f.pageCount)
	newCount := f.pageCount + n
	size := int64(newCount) * int64(f.pageSize)
	if err := extendFile(f.fd, size); err != nil {
		return page.Undefined, perrors.New("masterdata.extend", perrors.KindIoError, err)
	}
	f.pageCount = newCount
	f.nextPageID = newCount
	if err := f.writeHeaderLocked(); err != nil {
		return page.Undefined, err
	}
	return first, nil
}

// Truncate shrinks the file to pageCount pages, discarding everything
// beyond it. pageCount must include the header page and be at least 1.
func (f *File) Truncate(pageCount uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if pageCount == 0 {
		return perrors.New("masterdata.truncate", perrors.KindOutOfRange,
			fmt.Errorf("pageCount must include the header page"))
	}
	size := int64(pageCount) * int64(f.pageSize)
	if err := syscall.Ftruncate(f.fd, size); err != nil {
		return perrors.New("masterdata.truncate", perrors.KindIoError, err)
	}
	f.pageCount = pageCount
	if uint32(f.nextPageID) > pageCount {
		f.nextPageID = pageCount
	}
	return f.writeHeaderLocked()
}

// Sync fsyncs the file's data and the header page.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := syscall.Fsync(f.fd); err != nil {
		return perrors.New("masterdata.sync", perrors.KindIoError, err)
	}
	return nil
}

func (f *File) checkRangeLocked(id page.ID) error {
	if !id.IsValid() || id == 0 || uint32(id) >= f.pageCount {
		return perrors.NewForPage("masterdata.checkRange", perrors.KindOutOfRange, id, nil)
	}
	return nil
}

func (f *File) writeHeaderLocked() error {
	header := make([]byte, f.pageSize)
	copy(header[:8], Signature)
	binary.LittleEndian.PutUint32(header[8:12], f.pageSize)
	binary.LittleEndian.PutUint32(header[12:16], f.pageCount)
	binary.LittleEndian.PutUint32(header[16:20], f.nextPageID)
	if _, err := syscall.Pwrite(f.fd, header, 0); err != nil {
		return perrors.New("masterdata.writeHeader", perrors.KindIoError, err)
	}
	return nil
}

func extendFile(fd int, size int64) error {
	return syscall.Ftruncate(fd, size)
}

func fsyncParentDir(path string) error {
	dirfd, err := syscall.Open(filepath.Dir(path), os.O_RDONLY, 0)
	if err != nil {
		return perrors.New("masterdata.create", perrors.KindIoError, fmt.Errorf("open directory: %w", err))
	}
	defer syscall.Close(dirfd)
	if err := syscall.Fsync(dirfd); err != nil {
		return perrors.New("masterdata.create", perrors.KindIoError, fmt.Errorf("fsync directory: %w", err))
	}
	return nil
}
