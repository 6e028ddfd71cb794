package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/store/storetest"
)

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		bs, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		return bs
	})
}

func TestBoltStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	bs, err := store.NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, bs.HashSet(ctx, "w_pkey_1", map[string][]byte{"__object": []byte("data")}))
	require.NoError(t, bs.SetAdd(ctx, "w_all", "1"))
	require.NoError(t, bs.Close())

	bs, err = store.NewBoltStore(path)
	require.NoError(t, err)
	defer bs.Close()

	val, err := bs.HashGet(ctx, "w_pkey_1", "__object")
	require.NoError(t, err)
	assert.Equal(t, "data", string(val))

	keys, err := bs.Scan(ctx, "w_")
	require.NoError(t, err)
	assert.Equal(t, []string{"w_all", "w_pkey_1"}, keys)
}
