package store

import "context"

// Writer is the mutating half of the store client capability. Every call is
// an independent command; nothing ties two calls together unless they run
// inside a Batch.
type Writer interface {
	// HashSet writes fields into the hash at key, creating it if needed.
	HashSet(ctx context.Context, key string, fields map[string][]byte) error

	SetAdd(ctx context.Context, key string, members ...string) error

	// SetRemove removes members from the set at key. A set left empty
	// ceases to exist.
	SetRemove(ctx context.Context, key string, members ...string) error

	// Delete removes keys of any kind. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}

// Store is the key/value client capability the repository is built on:
// hashes, sets, and a sort primitive that can resolve external keys.
type Store interface {
	Writer

	// HashGet returns a single field of the hash at key, or
	// fault.ErrKeyNotFound when the key or the field is absent.
	HashGet(ctx context.Context, key, field string) ([]byte, error)

	// Sort sorts the members of the set at key and returns, for each of
	// them, the values selected by opts.Get (or the members themselves).
	// Failures to produce a sequence wrap fault.ErrSortFailed.
	Sort(ctx context.Context, key string, opts SortOptions) ([][]byte, error)

	// Scan lists every key starting with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Batcher is implemented by stores able to apply a group of writes
// atomically. Writes issued on w take effect together when fn returns nil
// and not at all otherwise.
type Batcher interface {
	Batch(ctx context.Context, fn func(w Writer) error) error
}

// SortOptions mirrors the Redis SORT command.
//
// By and Get are patterns where the first '*' is replaced by the member and
// "key->field" addresses a hash field. The Get pattern "#" yields the member
// itself.
type SortOptions struct {
	By    string
	Get   []string
	Limit *Limit
	Alpha bool
}

// Limit selects a window of the sorted result.
type Limit struct {
	Offset int64
	Count  int64
}
