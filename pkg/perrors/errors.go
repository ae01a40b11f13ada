// Package perrors implements the typed error taxonomy of spec.md §7.
//
// The original C++ source raises these as Sydney exceptions
// (_SYDNEY_THROW); the rewrite carries the same named conditions as a
// result-oriented Go error type so callers can branch on Kind with
// errors.As instead of catching a class hierarchy.
package perrors

import (
	"errors"
	"fmt"

	"github.com/nainya/pagestore/pkg/page"
)

// Kind names exactly which condition of spec.md §7 was raised.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindIoError
	KindTimeout
	KindCancelled
	KindOutOfRange
	KindAllocationBitInconsistent
	KindBlockCountInconsistent
	KindChildCountInconsistent
	KindLatestCountInconsistent
	KindMasterDataFileNotFound
	KindVersionLogFileNotFound
	KindOlderTimestampInconsistent
	KindOldestTimestampInconsistent
	KindPhysicalLogIDInconsistent
	KindVersionLogIDInconsistent
	KindPreservedDifferentPage
	KindSyncLogFileFound
	KindVersionPageCountInconsistent
	KindDiscordPageUseSituation
	KindDiscordAreaUseSituation
	KindDiscordFreeAreaRate
	KindDiscordUnuseAreaRate
	KindDiscordPageArray
	KindDiscordManagePageNum
	KindDiscordUsePageNum
	KindDiscordUnusePageNumInTable
	KindDiscordUsePageNumInTable
	KindDiscordManagePageNumInTable
	KindExistDuplicateArea
	KindExistProtrusiveArea
	KindCanNotFixAreaManageTable
	KindCanNotFixPageTable
	KindCanNotFixHeaderPage
	KindCanNotFixNode
	KindCanNotCorrectAreaUseSituation
	KindCanNotCorrectPageUseSituation
	KindCorrectedAreaUseSituation
	KindCorrectedPageUseSituation
	KindNotManagePage
	KindNoSpace
)

var kindNames = map[Kind]string{
	KindUnknown:                       "Unknown",
	KindIoError:                       "IoError",
	KindTimeout:                       "Timeout",
	KindCancelled:                     "Cancelled",
	KindOutOfRange:                    "OutOfRange",
	KindAllocationBitInconsistent:     "AllocationBitInconsistent",
	KindBlockCountInconsistent:        "BlockCountInconsistent",
	KindChildCountInconsistent:        "ChildCountInconsistent",
	KindLatestCountInconsistent:       "LatestCountInconsistent",
	KindMasterDataFileNotFound:        "MasterDataFileNotFound",
	KindVersionLogFileNotFound:        "VersionLogFileNotFound",
	KindOlderTimestampInconsistent:    "OlderTimestampInconsistent",
	KindOldestTimestampInconsistent:   "OldestTimestampInconsistent",
	KindPhysicalLogIDInconsistent:     "PhysicalLogIDInconsistent",
	KindVersionLogIDInconsistent:      "VersionLogIDInconsistent",
	KindPreservedDifferentPage:        "PreservedDifferentPage",
	KindSyncLogFileFound:              "SyncLogFileFound",
	KindVersionPageCountInconsistent:  "VersionPageCountInconsistent",
	KindDiscordPageUseSituation:       "DiscordPageUseSituation",
	KindDiscordAreaUseSituation:       "DiscordAreaUseSituation",
	KindDiscordFreeAreaRate:           "DiscordFreeAreaRate",
	KindDiscordUnuseAreaRate:          "DiscordUnuseAreaRate",
	KindDiscordPageArray:              "DiscordPageArray",
	KindDiscordManagePageNum:          "DiscordManagePageNum",
	KindDiscordUsePageNum:             "DiscordUsePageNum",
	KindDiscordUnusePageNumInTable:    "DiscordUnusePageNumInTable",
	KindDiscordUsePageNumInTable:      "DiscordUsePageNumInTable",
	KindDiscordManagePageNumInTable:   "DiscordManagePageNumInTable",
	KindExistDuplicateArea:            "ExistDuplicateArea",
	KindExistProtrusiveArea:           "ExistProtrusiveArea",
	KindCanNotFixAreaManageTable:      "CanNotFixAreaManageTable",
	KindCanNotFixPageTable:            "CanNotFixPageTable",
	KindCanNotFixHeaderPage:           "CanNotFixHeaderPage",
	KindCanNotFixNode:                 "CanNotFixNode",
	KindCanNotCorrectAreaUseSituation: "CanNotCorrectAreaUseSituation",
	KindCanNotCorrectPageUseSituation: "CanNotCorrectPageUseSituation",
	KindCorrectedAreaUseSituation:     "CorrectedAreaUseSituation",
	KindCorrectedPageUseSituation:     "CorrectedPageUseSituation",
	KindNotManagePage:                 "NotManagePage",
	KindNoSpace:                       "NoSpace",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(?)"
}

// Error is the concrete error type returned by every package in this
// module. Op names the operation that failed ("buffer.fix",
// "versionlog.fetch", ...); PageID is page.Undefined when not applicable.
type Error struct {
	Kind   Kind
	Op     string
	PageID page.ID
	Cause  error
}

func (e *Error) Error() string {
	if e.PageID.IsValid() {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.PageID, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.PageID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no associated page.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, PageID: page.Undefined, Cause: cause}
}

// NewForPage builds an Error naming the page that was being operated on.
func NewForPage(op string, kind Kind, pid page.ID, cause error) *Error {
	return &Error{Kind: kind, Op: op, PageID: pid, Cause: cause}
}

// KindOf returns the Kind of the *Error err is or wraps, and KindUnknown
// if there is none. Kind itself doesn't implement error, so callers
// compare KindOf(err) against a Kind instead of using errors.Is.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether a Kind represents a structural consistency
// violation that, per spec.md §7's propagation policy, is fatal for the
// current transaction (as opposed to IoError/Timeout/Cancelled, which
// propagate without implying corruption).
func (k Kind) IsFatal() bool {
	switch k {
	case KindIoError, KindTimeout, KindCancelled, KindOutOfRange, KindNoSpace:
		return false
	default:
		return true
	}
}
