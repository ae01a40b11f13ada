package versionlog

import "errors"

var (
	errCorrupted = errors.New("versionlog: entry failed crc32 check")
	errTruncated = errors.New("versionlog: entry shorter than its header claims")
	errLogClosed = errors.New("versionlog: log is closed")
)
