package fault

import "errors"

// Errors returned by store backends.
var (
	ErrKeyNotFound = errors.New("key not found")

	// ErrSortFailed indicates the backend could not produce a sequence for a
	// sort request (unparsable numeric weights, wrong key type, server error).
	ErrSortFailed = errors.New("sort failed")

	// ErrWrongType indicates an operation against a key holding another kind of value.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

	ErrBatchTooLarge      = errors.New("batch too large")
	ErrClosed             = errors.New("store closed")
	ErrUnsupportedBackend = errors.New("unsupported backend")
	ErrBucketCreateFailed = errors.New("bucket create failed")
)
