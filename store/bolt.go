package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/guyvdb/kvrepo/fault"

	"go.etcd.io/bbolt"
)

// BoltStore implements the store.Store interface using BoltDB.
var _ Store = (*BoltStore)(nil)
var _ Batcher = (*BoltStore)(nil)

// Each store key becomes a nested bucket under one of these. A hash bucket
// maps field -> value; a set bucket maps member -> empty value.
var (
	hashesBucket = []byte("Hashes")
	setsBucket   = []byte("Sets")
)

type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates and returns a new BoltStore.
// It takes the path to the BoltDB file.
func NewBoltStore(path string) (*BoltStore, error) {

	slog.Debug("NewBoltStore - create bolt store", "path", path)

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{hashesBucket, setsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", string(name), fault.ErrBucketCreateFailed)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	var result []byte

	err := bs.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(setsBucket).Bucket([]byte(key)) != nil {
			return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
		}
		h := tx.Bucket(hashesBucket).Bucket([]byte(key))
		if h == nil {
			return fault.ErrKeyNotFound
		}
		val := h.Get([]byte(field))
		if val == nil {
			return fault.ErrKeyNotFound
		}
		// Value is only valid for the lifetime of the transaction.
		result = slices.Clone(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bs *BoltStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return (&boltWriter{tx: tx}).HashSet(ctx, key, fields)
	})
}

func (bs *BoltStore) SetAdd(ctx context.Context, key string, members ...string) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return (&boltWriter{tx: tx}).SetAdd(ctx, key, members...)
	})
}

func (bs *BoltStore) SetRemove(ctx context.Context, key string, members ...string) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return (&boltWriter{tx: tx}).SetRemove(ctx, key, members...)
	})
}

func (bs *BoltStore) Delete(ctx context.Context, keys ...string) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return (&boltWriter{tx: tx}).Delete(ctx, keys...)
	})
}

func (bs *BoltStore) Sort(ctx context.Context, key string, opts SortOptions) ([][]byte, error) {
	var result [][]byte

	err := bs.db.View(func(tx *bbolt.Tx) error {
		hashes := tx.Bucket(hashesBucket)
		if hashes.Bucket([]byte(key)) != nil {
			return fmt.Errorf("%w: %w: %s", fault.ErrSortFailed, fault.ErrWrongType, key)
		}

		members := make([]string, 0)
		if set := tx.Bucket(setsBucket).Bucket([]byte(key)); set != nil {
			err := set.ForEach(func(k, _ []byte) error {
				members = append(members, string(k))
				return nil
			})
			if err != nil {
				return err
			}
		}

		slog.Debug("BoltStore.Sort() - sort set", "key", key, "members", len(members), "by", opts.By, "alpha", opts.Alpha)

		var err error
		result, err = SortMembers(members, opts, func(k, field string) ([]byte, bool, error) {
			h := hashes.Bucket([]byte(k))
			if h == nil {
				return nil, false, nil
			}
			val := h.Get([]byte(field))
			if val == nil {
				return nil, false, nil
			}
			return slices.Clone(val), true, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bs *BoltStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	p := []byte(prefix)

	err := bs.db.View(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{hashesBucket, setsBucket} {
			cursor := tx.Bucket(name).Cursor()
			for k, _ := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cursor.Next() {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// Batch runs fn inside a single bolt update transaction.
func (bs *BoltStore) Batch(ctx context.Context, fn func(w Writer) error) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltWriter{tx: tx})
	})
}

// Close closes the BoltDB database.
func (bs *BoltStore) Close() error {
	slog.Debug("BoltStore.Close() - close db")
	if bs.db != nil {
		return bs.db.Close()
	}
	return nil
}

// boltWriter issues writes against an open update transaction.
type boltWriter struct {
	tx *bbolt.Tx
}

func (w *boltWriter) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	if w.tx.Bucket(setsBucket).Bucket([]byte(key)) != nil {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}

	h, err := w.tx.Bucket(hashesBucket).CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to create hash bucket %s: %w", key, fault.ErrBucketCreateFailed)
	}
	for field, value := range fields {
		if err := h.Put([]byte(field), value); err != nil {
			return fmt.Errorf("failed to put field %s of %s: %w", field, key, err)
		}
	}

	slog.Debug("BoltStore.HashSet() - set fields", "key", key, "fields", len(fields))
	return nil
}

func (w *boltWriter) SetAdd(ctx context.Context, key string, members ...string) error {
	if w.tx.Bucket(hashesBucket).Bucket([]byte(key)) != nil {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	if len(members) == 0 {
		return nil
	}

	s, err := w.tx.Bucket(setsBucket).CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to create set bucket %s: %w", key, fault.ErrBucketCreateFailed)
	}
	for _, m := range members {
		if err := s.Put([]byte(m), []byte{}); err != nil {
			return fmt.Errorf("failed to add member %s to %s: %w", m, key, err)
		}
	}

	slog.Debug("BoltStore.SetAdd() - add members", "key", key, "members", len(members))
	return nil
}

func (w *boltWriter) SetRemove(ctx context.Context, key string, members ...string) error {
	if w.tx.Bucket(hashesBucket).Bucket([]byte(key)) != nil {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}

	sets := w.tx.Bucket(setsBucket)
	s := sets.Bucket([]byte(key))
	if s == nil {
		return nil
	}
	for _, m := range members {
		// bbolt's Delete doesn't return an error if the key is not found.
		if err := s.Delete([]byte(m)); err != nil {
			return fmt.Errorf("failed to remove member %s from %s: %w", m, key, err)
		}
	}

	if k, _ := s.Cursor().First(); k == nil {
		slog.Debug("BoltStore.SetRemove() - drop empty set", "key", key)
		return sets.DeleteBucket([]byte(key))
	}
	return nil
}

func (w *boltWriter) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		for _, name := range [][]byte{hashesBucket, setsBucket} {
			err := w.tx.Bucket(name).DeleteBucket([]byte(key))
			if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
		}
		slog.Debug("BoltStore.Delete() - delete key", "key", key)
	}
	return nil
}
