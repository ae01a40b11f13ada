// Package versionlog implements the Version Log, Sync Log, and Version
// Manager of spec.md §4.2: a multi-version page store layered on top of
// a Master Data File, giving every committed write a Timestamp and
// letting reads at an older Timestamp see the page as it was then.
//
// Grounded on the teacher's pkg/wal package: entry.go's LSN-tagged,
// CRC32-checked, length-prefixed binary record is the model for both
// log formats here (the Version Log and the Sync Log are the same
// on-disk shape, parameterized by OpType), and wal.go/reader.go/
// recovery.go/checkpoint.go are the model for log.go, reader.go, and
// manager.go's recovery and Sync fold-back.
package versionlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/nainya/pagestore/pkg/page"
	"github.com/nainya/pagestore/pkg/perrors"
)

// OpType tags what an Entry records.
type OpType byte

const (
	// OpVersion records a new committed version of a page's content.
	OpVersion OpType = 1
	// OpSyncStart begins a fold-back of one page into the master data
	// file; it carries the page's master data content from before the
	// fold, which recovery writes back if no OpSyncComplete follows.
	OpSyncStart OpType = 2
	// OpSyncComplete marks a prior OpSyncStart as durably folded back,
	// so recovery can stop treating it as in-doubt.
	OpSyncComplete OpType = 3
)

func (t OpType) String() string {
	switch t {
	case OpVersion:
		return "Version"
	case OpSyncStart:
		return "SyncStart"
	case OpSyncComplete:
		return "SyncComplete"
	default:
		return "OpType(?)"
	}
}

// EntryHeaderSize is LSN(8) + PageID(4) + Timestamp(8) + OpType(1) +
// Reserved(3) + PrevLSN(8) + DataLen(4), matching spec.md §6's
// "u32 len; u64 timestamp; u32 pageID; u64 prevLSN; u32 crc; bytes[pageSize]"
// version log block layout (LSN takes the place of the block's own
// length prefix here, since Log already length-delimits by record).
const EntryHeaderSize = 36

// Entry is one record of either the Version Log or the Sync Log.
// PrevLSN chains this record to the one before it for the same PageID:
// on a Version Log entry it is the LSN of that page's previous
// committed version (0 for its first ever version), so recovery can
// detect a torn or reordered write (spec.md §7's
// PhysicalLogIDInconsistent/VersionLogIDInconsistent). On a Sync Log
// OpSyncStart/OpSyncComplete entry it instead carries the Version Log
// LSN the fold-back covers up to, so a later Sync call can confirm the
// next fold picks up exactly where the last completed one left off.
type Entry struct {
	LSN       uint64
	PageID    page.ID
	Timestamp page.Timestamp
	Op        OpType
	PrevLSN   uint64
	Data      []byte
}

// Encode serializes e as [Header(36)][Data][CRC32(4)].
func (e *Entry) Encode() []byte {
	total := EntryHeaderSize + len(e.Data) + 4
	buf := make([]byte, total)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.PageID))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(e.Timestamp))
	buf[20] = byte(e.Op)
	binary.LittleEndian.PutUint64(buf[24:32], e.PrevLSN)
	binary.LittleEndian.PutUint32(buf[32:36], uint32(len(e.Data)))

	copy(buf[EntryHeaderSize:], e.Data)

	crc := crc32.ChecksumIEEE(buf[:EntryHeaderSize+len(e.Data)])
	binary.LittleEndian.PutUint32(buf[total-4:], crc)
	return buf
}

// Size returns the encoded size of e.
func (e *Entry) Size() int { return EntryHeaderSize + len(e.Data) + 4 }

// DecodeEntry deserializes and CRC-validates one Entry from data.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, perrors.New("versionlog.decode", perrors.KindIoError, errTruncated)
	}
	n := len(data)
	storedCRC := binary.LittleEndian.Uint32(data[n-4:])
	computedCRC := crc32.ChecksumIEEE(data[:n-4])
	if storedCRC != computedCRC {
		return nil, perrors.New("versionlog.decode", perrors.KindIoError, errCorrupted)
	}

	e := &Entry{
		LSN:       binary.LittleEndian.Uint64(data[0:8]),
		PageID:    page.ID(binary.LittleEndian.Uint32(data[8:12])),
		Timestamp: page.Timestamp(binary.LittleEndian.Uint64(data[12:20])),
		Op:        OpType(data[20]),
		PrevLSN:   binary.LittleEndian.Uint64(data[24:32]),
	}
	dataLen := binary.LittleEndian.Uint32(data[32:36])
	expected := EntryHeaderSize + int(dataLen) + 4
	if len(data) < expected {
		return nil, perrors.New("versionlog.decode", perrors.KindIoError, errTruncated)
	}
	if dataLen > 0 {
		e.Data = make([]byte, dataLen)
		copy(e.Data, data[EntryHeaderSize:EntryHeaderSize+int(dataLen)])
	}
	return e, nil
}

func (e *Entry) String() string {
	return fmt.Sprintf("versionlog.Entry[LSN=%d page=%s ts=%s op=%s len=%d]",
		e.LSN, e.PageID, e.Timestamp, e.Op, len(e.Data))
}
