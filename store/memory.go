package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/guyvdb/kvrepo/fault"
)

var _ Store = (*MemoryStore)(nil)
var _ Batcher = (*MemoryStore)(nil)

// MemoryStore keeps hashes and sets in process memory. It follows the same
// key-type rules as Redis: a key holds either a hash or a set, and an empty
// set does not exist.
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]map[string][]byte
	sets   map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (ms *MemoryStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, isSet := ms.sets[key]; isSet {
		return nil, fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	v, found := ms.hashes[key][field]
	if !found {
		return nil, fault.ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

func (ms *MemoryStore) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.hashSet(key, fields)
}

func (ms *MemoryStore) SetAdd(ctx context.Context, key string, members ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.setAdd(key, members)
}

func (ms *MemoryStore) SetRemove(ctx context.Context, key string, members ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.setRemove(key, members)
}

func (ms *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.delete(keys)
	return nil
}

func (ms *MemoryStore) Sort(ctx context.Context, key string, opts SortOptions) ([][]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if _, isHash := ms.hashes[key]; isHash {
		return nil, fmt.Errorf("%w: %w: %s", fault.ErrSortFailed, fault.ErrWrongType, key)
	}

	members := slices.Sorted(maps.Keys(ms.sets[key]))
	return SortMembers(members, opts, func(k, field string) ([]byte, bool, error) {
		v, found := ms.hashes[k][field]
		return slices.Clone(v), found, nil
	})
}

func (ms *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	keys := make([]string, 0)
	for k := range ms.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range ms.sets {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Batch stages the writes issued by fn and applies them under one lock. If
// any staged write fails the store is restored to its state before the batch.
func (ms *MemoryStore) Batch(ctx context.Context, fn func(w Writer) error) error {
	staged := &memoryBatch{}
	if err := fn(staged); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	hashes, sets := ms.snapshot()
	for _, op := range staged.ops {
		if err := op(ms); err != nil {
			ms.hashes, ms.sets = hashes, sets
			slog.Debug("MemoryStore.Batch() - batch rolled back", "ops", len(staged.ops), "err", err)
			return err
		}
	}
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}

func (ms *MemoryStore) hashSet(key string, fields map[string][]byte) error {
	if _, isSet := ms.sets[key]; isSet {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	h, found := ms.hashes[key]
	if !found {
		h = make(map[string][]byte, len(fields))
		ms.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = slices.Clone(v)
	}
	return nil
}

func (ms *MemoryStore) setAdd(key string, members []string) error {
	if _, isHash := ms.hashes[key]; isHash {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	if len(members) == 0 {
		return nil
	}
	s, found := ms.sets[key]
	if !found {
		s = make(map[string]struct{}, len(members))
		ms.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (ms *MemoryStore) setRemove(key string, members []string) error {
	if _, isHash := ms.hashes[key]; isHash {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	s, found := ms.sets[key]
	if !found {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	if len(s) == 0 {
		delete(ms.sets, key)
	}
	return nil
}

func (ms *MemoryStore) delete(keys []string) {
	for _, k := range keys {
		delete(ms.hashes, k)
		delete(ms.sets, k)
	}
}

func (ms *MemoryStore) snapshot() (map[string]map[string][]byte, map[string]map[string]struct{}) {
	hashes := make(map[string]map[string][]byte, len(ms.hashes))
	for k, h := range ms.hashes {
		hashes[k] = maps.Clone(h)
	}
	sets := make(map[string]map[string]struct{}, len(ms.sets))
	for k, s := range ms.sets {
		sets[k] = maps.Clone(s)
	}
	return hashes, sets
}

// memoryBatch records writes for MemoryStore.Batch.
type memoryBatch struct {
	ops []func(ms *MemoryStore) error
}

func (b *memoryBatch) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	fields = maps.Clone(fields)
	b.ops = append(b.ops, func(ms *MemoryStore) error { return ms.hashSet(key, fields) })
	return nil
}

func (b *memoryBatch) SetAdd(ctx context.Context, key string, members ...string) error {
	b.ops = append(b.ops, func(ms *MemoryStore) error { return ms.setAdd(key, members) })
	return nil
}

func (b *memoryBatch) SetRemove(ctx context.Context, key string, members ...string) error {
	b.ops = append(b.ops, func(ms *MemoryStore) error { return ms.setRemove(key, members) })
	return nil
}

func (b *memoryBatch) Delete(ctx context.Context, keys ...string) error {
	b.ops = append(b.ops, func(ms *MemoryStore) error {
		ms.delete(keys)
		return nil
	})
	return nil
}
