package fault

import "errors"

var (
	ErrNotFound = errors.New("object not found")

	// ErrQuery is returned by FindAll when the store cannot sort the all-set.
	ErrQuery = errors.New("query error")

	ErrEncode = errors.New("encode failed")
	ErrDecode = errors.New("decode failed")
)
