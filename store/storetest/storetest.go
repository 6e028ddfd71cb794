// Package storetest holds the behaviour every store.Store backend must share.
// Backends call Run from their own tests with a constructor for a ready
// store. Each case works under its own random key namespace, so a shared
// server does not need to be flushed between runs.
package storetest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"
)

// Factory returns a store for one test case. The store is closed by the
// suite.
type Factory func(t *testing.T) store.Store

type suiteCase struct {
	name string
	run  func(t *testing.T, s store.Store, ns string)
}

var cases = []suiteCase{
	{"HashGetSet", testHashGetSet},
	{"HashBinaryValue", testHashBinaryValue},
	{"SetAddRemove", testSetAddRemove},
	{"Delete", testDelete},
	{"WrongType", testWrongType},
	{"Scan", testScan},
	{"SortNatural", testSortNatural},
	{"SortAlpha", testSortAlpha},
	{"SortNumericFailure", testSortNumericFailure},
	{"SortByGet", testSortByGet},
	{"SortMissingGet", testSortMissingGet},
	{"SortLimit", testSortLimit},
	{"SortMissingKey", testSortMissingKey},
	{"Batch", testBatch},
	{"BatchAborted", testBatchAborted},
}

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			c.run(t, s, Namespace())
		})
	}
}

// Namespace returns a fresh key prefix.
func Namespace() string {
	return "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ":"
}

func strs(vals [][]byte) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func testHashGetSet(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "hash"

	_, err := s.HashGet(ctx, key, "a")
	assert.ErrorIs(t, err, fault.ErrKeyNotFound)

	require.NoError(t, s.HashSet(ctx, key, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}))

	val, err := s.HashGet(ctx, key, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(val))

	_, err = s.HashGet(ctx, key, "missing")
	assert.ErrorIs(t, err, fault.ErrKeyNotFound)

	require.NoError(t, s.HashSet(ctx, key, map[string][]byte{"a": []byte("updated")}))
	val, err = s.HashGet(ctx, key, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", string(val))

	val, err = s.HashGet(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", string(val), "untouched fields survive a partial write")
}

func testHashBinaryValue(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "bin"
	payload := []byte{0x00, 0xff, 0x10, '"', '\\', 0x80}

	require.NoError(t, s.HashSet(ctx, key, map[string][]byte{"__object": payload}))

	val, err := s.HashGet(ctx, key, "__object")
	require.NoError(t, err)
	assert.Equal(t, payload, val)
}

func testSetAddRemove(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "set"

	require.NoError(t, s.SetAdd(ctx, key, "b", "a", "b"))
	out, err := s.Sort(ctx, key, store.SortOptions{Alpha: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs(out))

	require.NoError(t, s.SetRemove(ctx, key, "a", "missing"))
	out, err = s.Sort(ctx, key, store.SortOptions{Alpha: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, strs(out))

	require.NoError(t, s.SetRemove(ctx, key, "b"))
	keys, err := s.Scan(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, keys, "an emptied set no longer exists")

	require.NoError(t, s.SetRemove(ctx, ns+"never", "x"))
}

func testDelete(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()

	require.NoError(t, s.HashSet(ctx, ns+"h", map[string][]byte{"f": []byte("v")}))
	require.NoError(t, s.SetAdd(ctx, ns+"s", "m"))

	require.NoError(t, s.Delete(ctx, ns+"h", ns+"s", ns+"missing"))

	_, err := s.HashGet(ctx, ns+"h", "f")
	assert.ErrorIs(t, err, fault.ErrKeyNotFound)

	keys, err := s.Scan(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Delete(ctx))
}

func testWrongType(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	hash, set := ns+"h", ns+"s"

	require.NoError(t, s.HashSet(ctx, hash, map[string][]byte{"f": []byte("v")}))
	require.NoError(t, s.SetAdd(ctx, set, "m"))

	assert.ErrorIs(t, s.SetAdd(ctx, hash, "m"), fault.ErrWrongType)
	assert.ErrorIs(t, s.HashSet(ctx, set, map[string][]byte{"f": []byte("v")}), fault.ErrWrongType)

	_, err := s.HashGet(ctx, set, "f")
	assert.ErrorIs(t, err, fault.ErrWrongType)

	_, err = s.Sort(ctx, hash, store.SortOptions{})
	assert.ErrorIs(t, err, fault.ErrSortFailed)
	assert.ErrorIs(t, err, fault.ErrWrongType)
}

func testScan(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()

	require.NoError(t, s.SetAdd(ctx, ns+"p_b", "1"))
	require.NoError(t, s.HashSet(ctx, ns+"p_a", map[string][]byte{"f": []byte("v")}))
	require.NoError(t, s.SetAdd(ctx, ns+"pxa", "1"))
	require.NoError(t, s.SetAdd(ctx, ns+"P_c", "1"))
	require.NoError(t, s.SetAdd(ctx, ns+"q%", "1"))

	keys, err := s.Scan(ctx, ns+"p_")
	require.NoError(t, err)
	assert.Equal(t, []string{ns + "p_a", ns + "p_b"}, keys)

	keys, err = s.Scan(ctx, ns+"q%")
	require.NoError(t, err)
	assert.Equal(t, []string{ns + "q%"}, keys)

	keys, err = s.Scan(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	keys, err = s.Scan(ctx, ns+"zzz")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testSortNatural(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "nums"

	require.NoError(t, s.SetAdd(ctx, key, "10", "9", "2", "-1", "3.5"))

	out, err := s.Sort(ctx, key, store.SortOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"-1", "2", "3.5", "9", "10"}, strs(out))
}

func testSortAlpha(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "words"

	require.NoError(t, s.SetAdd(ctx, key, "10", "9", "2", "b", "a"))

	out, err := s.Sort(ctx, key, store.SortOptions{Alpha: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "2", "9", "a", "b"}, strs(out))
}

func testSortNumericFailure(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "words"

	require.NoError(t, s.SetAdd(ctx, key, "1", "abc"))

	_, err := s.Sort(ctx, key, store.SortOptions{})
	assert.ErrorIs(t, err, fault.ErrSortFailed)
}

func seedObjects(t *testing.T, s store.Store, ns string) string {
	t.Helper()
	ctx := context.Background()

	objects := map[string]map[string]string{
		"1": {"w": "3", "name": "one"},
		"2": {"w": "1", "name": "two"},
		"3": {"w": "2", "name": "three"},
	}
	for id, fields := range objects {
		hash := make(map[string][]byte, len(fields))
		for f, v := range fields {
			hash[f] = []byte(v)
		}
		require.NoError(t, s.HashSet(ctx, ns+"obj_"+id, hash))
	}
	key := ns + "ids"
	require.NoError(t, s.SetAdd(ctx, key, "1", "2", "3"))
	return key
}

func testSortByGet(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := seedObjects(t, s, ns)

	out, err := s.Sort(ctx, key, store.SortOptions{
		By:  ns + "obj_*->w",
		Get: []string{ns + "obj_*->name"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "one"}, strs(out))

	out, err = s.Sort(ctx, key, store.SortOptions{
		By:    ns + "obj_*->name",
		Get:   []string{"#", ns + "obj_*->w"},
		Alpha: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "3", "2", "2", "1"}, strs(out))
}

func testSortMissingGet(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := seedObjects(t, s, ns)
	require.NoError(t, s.SetAdd(ctx, key, "4"))

	out, err := s.Sort(ctx, key, store.SortOptions{
		Get: []string{ns + "obj_*->name"},
	})
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, []string{"one", "two", "three"}, strs(out[:3]))
	assert.Empty(t, out[3])
}

func testSortLimit(t *testing.T, s store.Store, ns string) {
	ctx := context.Background()
	key := ns + "nums"

	require.NoError(t, s.SetAdd(ctx, key, "5", "4", "3", "2", "1"))

	out, err := s.Sort(ctx, key, store.SortOptions{Limit: &store.Limit{Offset: 1, Count: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, strs(out))

	out, err = s.Sort(ctx, key, store.SortOptions{Limit: &store.Limit{Offset: 4, Count: 10}})
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, strs(out))

	out, err = s.Sort(ctx, key, store.SortOptions{Limit: &store.Limit{Offset: 10, Count: 2}})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func testSortMissingKey(t *testing.T, s store.Store, ns string) {
	out, err := s.Sort(context.Background(), ns+"missing", store.SortOptions{Alpha: true})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func testBatch(t *testing.T, s store.Store, ns string) {
	b, ok := s.(store.Batcher)
	if !ok {
		t.Skip("store does not support batches")
	}
	ctx := context.Background()

	require.NoError(t, s.SetAdd(ctx, ns+"old", "x"))

	err := b.Batch(ctx, func(w store.Writer) error {
		if err := w.SetAdd(ctx, ns+"all", "1"); err != nil {
			return err
		}
		if err := w.HashSet(ctx, ns+"pkey_1", map[string][]byte{"__object": []byte("{}")}); err != nil {
			return err
		}
		if err := w.SetRemove(ctx, ns+"old", "x"); err != nil {
			return err
		}
		return w.Delete(ctx, ns+"missing")
	})
	require.NoError(t, err)

	keys, err := s.Scan(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, []string{ns + "all", ns + "pkey_1"}, keys)
}

func testBatchAborted(t *testing.T, s store.Store, ns string) {
	b, ok := s.(store.Batcher)
	if !ok {
		t.Skip("store does not support batches")
	}
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.Batch(ctx, func(w store.Writer) error {
		if err := w.SetAdd(ctx, ns+"all", "1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	keys, err := s.Scan(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, keys, "an aborted batch writes nothing")
}
