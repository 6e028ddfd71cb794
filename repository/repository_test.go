package repository_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guyvdb/kvrepo/codec"
	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/repository"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/store/sqlstore"
	"github.com/guyvdb/kvrepo/types"
)

// Widget reports a fixed type name so that its keys are stable across
// package paths.
type Widget struct {
	SKU   string `json:"sku" kvrepo:"sku"`
	Name  string `json:"name"`
	Qty   int64  `json:"qty"`
	Color string `json:"color"`
}

func (*Widget) TypeName() string { return "Widget" }

// Gadget is named by its Go type.
type Gadget struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type MyClass struct {
	Foo string `json:"foo"`
}

func (*MyClass) TypeName() string { return `Oesteve\RedisRepository\Tests\MyClass` }

// Event has attributes of the DateTime and Bool kinds.
type Event struct {
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
	Done bool      `json:"done"`
}

func (*Event) TypeName() string { return "Event" }

const widgetPrefix = "2a6780e5_Widget"

func widgetType(t *testing.T) *types.TypeDescriptor {
	t.Helper()
	td, err := types.NewTypeDescriptor("Widget")
	require.NoError(t, err)
	return td
}

func widgetAttributes() []*types.AttributeDescriptor {
	return []*types.AttributeDescriptor{
		types.Primary("sku", types.KindString),
		types.Indexed("name", types.KindString),
		types.Indexed("qty", types.KindInt64),
	}
}

func newWidgets(t *testing.T, s store.Store) *repository.Repository[*Widget] {
	t.Helper()
	return repository.New[*Widget](s, widgetType(t), widgetAttributes(), repository.DefaultConfig())
}

func newGadgets(t *testing.T, s store.Store) *repository.Repository[*Gadget] {
	t.Helper()
	td, err := types.DescriptorFor[*Gadget]()
	require.NoError(t, err)
	return repository.New[*Gadget](s, td, []*types.AttributeDescriptor{
		types.Primary("id", types.KindInt64),
		types.Indexed("label", types.KindString),
	}, repository.DefaultConfig())
}

// backends returns one empty store of each in-process kind.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()

	bolt, err := store.NewBoltStore(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)

	sqlite, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "repo.sqlite"),
	})
	require.NoError(t, err)

	stores := map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"bolt":   bolt,
		"sqlite": sqlite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestPersistMyClassKeys(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	td, err := types.NewTypeDescriptor(`Oesteve\RedisRepository\Tests\MyClass`)
	require.NoError(t, err)
	repo := repository.New[*MyClass](s, td, []*types.AttributeDescriptor{
		types.Primary("foo", types.KindString),
	}, repository.DefaultConfig())

	require.NoError(t, repo.Persist(ctx, &MyClass{Foo: "foo"}))

	keys, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"59cb0368_MyClass_foo_foo",
		"59cb0368_MyClass_pkey_foo",
		"59cb0368_MyClass_all",
	}, keys)
}

func TestPersistWidgetKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := repository.New[*Widget](s, widgetType(t), []*types.AttributeDescriptor{
				types.Primary("sku", types.KindString),
			}, repository.DefaultConfig())

			require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1"}))

			keys, err := repo.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{
				widgetPrefix + "_all",
				widgetPrefix + "_pkey_A1",
				widgetPrefix + "_sku_A1",
			}, keys)
		})
	}
}

func TestPersistThenFind(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)
			in := &Widget{SKU: "A1", Name: "bolt", Qty: 40, Color: "grey"}

			require.NoError(t, repo.Persist(ctx, in))

			out, err := repo.Find(ctx, "A1")
			require.NoError(t, err)
			assert.Equal(t, in, out)

			val, err := s.HashGet(ctx, widgetPrefix+"_pkey_A1", "qty")
			require.NoError(t, err)
			assert.Equal(t, "40", string(val), "attribute values are kept beside the object")
		})
	}
}

func TestFindNotFound(t *testing.T) {
	repo := newWidgets(t, store.NewMemoryStore())

	_, err := repo.Find(context.Background(), "nope")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestFindEmptyRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := newWidgets(t, s)

	require.NoError(t, s.HashSet(ctx, widgetPrefix+"_pkey_X", map[string][]byte{"__object": {}}))

	_, err := repo.Find(ctx, "X")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestFindForeignRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := newWidgets(t, s)

	data, err := codec.JSON{}.Encode("Gizmo", &Widget{SKU: "A1"})
	require.NoError(t, err)
	require.NoError(t, s.HashSet(ctx, widgetPrefix+"_pkey_A1", map[string][]byte{"__object": data}))

	_, err = repo.Find(ctx, "A1")
	assert.ErrorIs(t, err, fault.ErrDecode)
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)
}

func TestFindAll(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newGadgets(t, s)

			for i := int64(1); i <= 5; i++ {
				require.NoError(t, repo.Persist(ctx, &Gadget{ID: i, Label: fmt.Sprintf("g%d", i)}))
			}

			all, err := repo.FindAll(ctx, 0, 0, "")
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2, 3, 4, 5}, gadgetIDs(all))

			window, err := repo.FindAll(ctx, 1, 2, "")
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 3}, gadgetIDs(window))
		})
	}
}

func TestFindAllZeroStartMeansNoLimit(t *testing.T) {
	ctx := context.Background()
	repo := newGadgets(t, store.NewMemoryStore())

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, repo.Persist(ctx, &Gadget{ID: i}))
	}

	for _, window := range [][2]int64{{0, 2}, {2, 0}, {0, 0}} {
		res, err := repo.FindAll(ctx, window[0], window[1], "")
		require.NoError(t, err)
		assert.Len(t, res, 5, "window %v", window)
	}
}

func TestFindAllSortBy(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A", Name: "pear", Qty: 30}))
			require.NoError(t, repo.Persist(ctx, &Widget{SKU: "B", Name: "apple", Qty: 5}))
			require.NoError(t, repo.Persist(ctx, &Widget{SKU: "C", Name: "fig", Qty: 12}))

			byQty, err := repo.FindAll(ctx, 0, 0, "qty")
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "C", "A"}, widgetSKUs(byQty))

			byName, err := repo.FindAll(ctx, 0, 0, "name")
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "C", "A"}, widgetSKUs(byName))

			bySKU, err := repo.FindAll(ctx, 1, 5, "sku")
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "C"}, widgetSKUs(bySKU))
		})
	}
}

func TestFindAllUnknownSortBy(t *testing.T) {
	repo := newWidgets(t, store.NewMemoryStore())

	_, err := repo.FindAll(context.Background(), 0, 0, "weight")
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.ErrorContains(t, err, "mapping for weight not found for type Widget")
}

func TestFindAllSortFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := repository.New[*Widget](s, widgetType(t), []*types.AttributeDescriptor{
		types.Primary("sku", types.KindString),
		types.Indexed("color", types.KindFloat64),
	}, repository.DefaultConfig())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1", Color: "red"}))

	_, err := repo.FindAll(ctx, 0, 0, "color")
	assert.ErrorIs(t, err, fault.ErrQuery)
}

func TestFindAllSkipsMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := newWidgets(t, s)

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1"}))
	require.NoError(t, s.SetAdd(ctx, widgetPrefix+"_all", "ghost"))

	res, err := repo.FindAll(ctx, 0, 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, widgetSKUs(res))
}

func TestFindBy(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			for i := 0; i < 20; i++ {
				w := &Widget{SKU: fmt.Sprintf("S%02d", i), Name: fmt.Sprintf("name-%d", i), Qty: int64(i)}
				require.NoError(t, repo.Persist(ctx, w))
			}

			res, err := repo.FindBy(ctx, "name", "name-7")
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "S07", res[0].SKU)

			res, err = repo.FindBy(ctx, "name", "missing")
			require.NoError(t, err)
			assert.Empty(t, res)
		})
	}
}

func TestFindBySharedValue(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t, store.NewMemoryStore())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "B", Name: "same"}))
	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A", Name: "same"}))

	res, err := repo.FindBy(ctx, "name", "same")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, widgetSKUs(res))

	first, err := repo.FindOneBy(ctx, "name", "same")
	require.NoError(t, err)
	assert.Equal(t, "A", first.SKU)
}

func TestFindByUnknownAttribute(t *testing.T) {
	repo := newWidgets(t, store.NewMemoryStore())

	_, err := repo.FindBy(context.Background(), "color", "red")
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

// A numeric attribute set holding non-numeric primary keys cannot be sorted
// numerically; the query reports no matches instead of failing.
func TestFindBySortFailureYieldsNothing(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t, store.NewMemoryStore())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1", Qty: 3}))

	res, err := repo.FindBy(ctx, "qty", 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = repo.FindOneBy(ctx, "qty", 3)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestFindByNumericValue(t *testing.T) {
	ctx := context.Background()
	repo := newGadgets(t, store.NewMemoryStore())

	require.NoError(t, repo.Persist(ctx, &Gadget{ID: 42, Label: "x"}))

	g, err := repo.FindOneBy(ctx, "id", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), g.ID)
}

func TestFindOneByNotFound(t *testing.T) {
	repo := newWidgets(t, store.NewMemoryStore())

	_, err := repo.FindOneBy(context.Background(), "name", "nobody")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestStaleIndexAfterUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newWidgets(t, store.NewMemoryStore())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1", Name: "old"}))
	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1", Name: "new"}))

	res, err := repo.FindBy(ctx, "name", "old")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "new", res[0].Name, "the old index entry still points at the current record")

	all, err := repo.FindAll(ctx, 0, 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteRemovesEveryKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			widgets := []*Widget{
				{SKU: "A1", Name: "a", Qty: 1},
				{SKU: "B2", Name: "b", Qty: 2},
				{SKU: "C3", Name: "c", Qty: 3},
			}
			for _, w := range widgets {
				require.NoError(t, repo.Persist(ctx, w))
			}

			require.NoError(t, repo.Delete(ctx, widgets[0]))
			_, err := repo.Find(ctx, "A1")
			assert.ErrorIs(t, err, fault.ErrNotFound)

			all, err := repo.FindAll(ctx, 0, 0, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"B2", "C3"}, widgetSKUs(all))

			for _, w := range widgets[1:] {
				require.NoError(t, repo.Delete(ctx, w))
			}
			keys, err := repo.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

// Index sets are deleted whole, so objects sharing a value with the deleted
// one can no longer be found by that value.
func TestDeleteDropsSharedIndexSets(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			a := &Widget{SKU: "A", Name: "same", Qty: 1}
			b := &Widget{SKU: "B", Name: "same", Qty: 2}
			require.NoError(t, repo.Persist(ctx, a))
			require.NoError(t, repo.Persist(ctx, b))

			require.NoError(t, repo.Delete(ctx, a))

			res, err := repo.FindBy(ctx, "name", "same")
			require.NoError(t, err)
			assert.Empty(t, res)

			_, err = repo.Find(ctx, "B")
			require.NoError(t, err)

			all, err := repo.FindAll(ctx, 0, 0, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"B"}, widgetSKUs(all))

			keys, err := repo.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{
				widgetPrefix + "_all",
				widgetPrefix + "_pkey_B",
				widgetPrefix + "_qty_2",
				widgetPrefix + "_sku_B",
			}, keys)
		})
	}
}

// Delete works from the object's current values; index entries written for
// values it had when it was persisted stay behind.
func TestDeleteKeepsIndexOfChangedValues(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			w := &Widget{SKU: "A1", Name: "old", Qty: 1}
			require.NoError(t, repo.Persist(ctx, w))

			w.Name = "new"
			require.NoError(t, repo.Delete(ctx, w))

			_, err := repo.Find(ctx, "A1")
			assert.ErrorIs(t, err, fault.ErrNotFound)

			keys, err := repo.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{widgetPrefix + "_name_old"}, keys)

			res, err := repo.FindBy(ctx, "name", "old")
			require.NoError(t, err)
			assert.Empty(t, res, "the stale entry points at a record that is gone")
		})
	}
}

func TestDeleteTypeMismatchLeavesStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := repository.New[any](s, widgetType(t), widgetAttributes(), repository.DefaultConfig())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1", Name: "n"}))
	before, err := repo.Keys(ctx)
	require.NoError(t, err)

	err = repo.Delete(ctx, &MyClass{Foo: "A1"})
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)
	assert.ErrorContains(t, err, `unable to delete object of type Oesteve\RedisRepository\Tests\MyClass, Widget allowed`)

	after, err := repo.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEmptyPrimaryKey(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newWidgets(t, s)

			err := repo.Persist(ctx, &Widget{Name: "anonymous"})
			assert.ErrorIs(t, err, fault.ErrConfiguration)
			assert.ErrorContains(t, err, "primary attribute sku is empty")

			assert.ErrorIs(t, repo.Delete(ctx, &Widget{}), fault.ErrConfiguration)

			keys, err := repo.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

// DateTime and Bool attributes sort as text. Times render at a fixed width,
// so text order is chronological; false sorts before true.
func TestSortDateTimeAndBool(t *testing.T) {
	require.True(t, types.KindDateTime.SortsAlpha())
	require.True(t, types.KindBool.SortsAlpha())

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			td, err := types.NewTypeDescriptor("Event")
			require.NoError(t, err)
			repo := repository.New[*Event](s, td, []*types.AttributeDescriptor{
				types.Primary("id", types.KindString),
				types.Indexed("at", types.KindDateTime),
				types.Indexed("done", types.KindBool),
			}, repository.DefaultConfig())

			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			events := []*Event{
				{ID: "E1", At: base.Add(1500 * time.Millisecond), Done: true},
				{ID: "E2", At: base, Done: false},
				{ID: "E3", At: base.Add(500 * time.Millisecond), Done: true},
				{ID: "E4", At: base.Add(-time.Hour).In(time.FixedZone("UTC+5", 5*3600)), Done: false},
			}
			for _, e := range events {
				require.NoError(t, repo.Persist(ctx, e))
			}

			byAt, err := repo.FindAll(ctx, 0, 0, "at")
			require.NoError(t, err)
			assert.Equal(t, []string{"E4", "E2", "E3", "E1"}, eventIDs(byAt))

			byDone, err := repo.FindAll(ctx, 0, 0, "done")
			require.NoError(t, err)
			assert.Equal(t, []string{"E2", "E4", "E1", "E3"}, eventIDs(byDone))

			done, err := repo.FindBy(ctx, "done", true)
			require.NoError(t, err)
			assert.Equal(t, []string{"E1", "E3"}, eventIDs(done))

			at, err := repo.FindOneBy(ctx, "at", base)
			require.NoError(t, err)
			assert.Equal(t, "E2", at.ID)
		})
	}
}

func TestPersistTypeMismatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	td, err := types.NewTypeDescriptor(`Oesteve\RedisRepository\Tests\MyClass`)
	require.NoError(t, err)
	repo := repository.New[any](s, td, []*types.AttributeDescriptor{
		types.Primary("sku", types.KindString),
	}, repository.DefaultConfig())

	err = repo.Persist(ctx, &Widget{SKU: "A1"})
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)
	assert.ErrorContains(t, err, `unable to persist object of type Widget, Oesteve\RedisRepository\Tests\MyClass allowed`)

	err = repo.Delete(ctx, &Widget{SKU: "A1"})
	assert.ErrorIs(t, err, fault.ErrTypeMismatch)

	keys, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMissingPrimary(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := repository.New[*Widget](s, widgetType(t), nil, repository.DefaultConfig())

	err := repo.Persist(ctx, &Widget{SKU: "A1"})
	assert.ErrorIs(t, err, fault.ErrConfiguration)
	assert.ErrorContains(t, err, "primary key not defined for type Widget")

	_, err = repo.Find(ctx, "A1")
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = repo.FindAll(ctx, 0, 0, "")
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	assert.ErrorIs(t, repo.Delete(ctx, &Widget{SKU: "A1"}), fault.ErrConfiguration)

	keys, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPersistUnreadableAttribute(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := repository.New[*Widget](s, widgetType(t), []*types.AttributeDescriptor{
		types.Primary("sku", types.KindString),
		types.Indexed("weight", types.KindFloat64),
	}, repository.DefaultConfig())

	err := repo.Persist(ctx, &Widget{SKU: "A1"})
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	keys, err := s.Scan(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "nothing is written when an attribute cannot be read")
}

func TestAtomicModeWritesSameKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cfg := repository.DefaultConfig()
			cfg.Atomic = true
			atomic := repository.New[*Widget](s, widgetType(t), widgetAttributes(), cfg)

			require.NoError(t, atomic.Persist(ctx, &Widget{SKU: "A1", Name: "n", Qty: 1}))
			keys, err := atomic.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{
				widgetPrefix + "_all",
				widgetPrefix + "_name_n",
				widgetPrefix + "_pkey_A1",
				widgetPrefix + "_qty_1",
				widgetPrefix + "_sku_A1",
			}, keys)

			w, err := atomic.Find(ctx, "A1")
			require.NoError(t, err)
			require.NoError(t, atomic.Delete(ctx, w))

			keys, err = atomic.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestMsgpackCodec(t *testing.T) {
	ctx := context.Background()
	cfg := repository.DefaultConfig()
	cfg.Codec = codec.Msgpack{}
	repo := repository.New[*Widget](store.NewMemoryStore(), widgetType(t), widgetAttributes(), cfg)

	in := &Widget{SKU: "M1", Name: "packed", Qty: 7, Color: "blue"}
	require.NoError(t, repo.Persist(ctx, in))

	out, err := repo.FindOneBy(ctx, "name", "packed")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestValueTypedRepository(t *testing.T) {
	ctx := context.Background()
	td, err := types.DescriptorFor[Gadget]()
	require.NoError(t, err)
	repo := repository.New[Gadget](store.NewMemoryStore(), td, []*types.AttributeDescriptor{
		types.Primary("id", types.KindInt64),
	}, repository.DefaultConfig())

	require.NoError(t, repo.Persist(ctx, Gadget{ID: 9, Label: "value"}))

	g, err := repo.Find(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, Gadget{ID: 9, Label: "value"}, g)
}

func TestInterfaceRepositoryNeedsFactory(t *testing.T) {
	ctx := context.Background()
	repo := repository.New[any](store.NewMemoryStore(), widgetType(t), widgetAttributes(), repository.DefaultConfig())

	require.NoError(t, repo.Persist(ctx, &Widget{SKU: "A1"}))

	_, err := repo.Find(ctx, "A1")
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	repo.SetFactory(func() any { return &Widget{} })
	obj, err := repo.Find(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, &Widget{SKU: "A1"}, obj)
}

func TestAccessors(t *testing.T) {
	repo := newWidgets(t, store.NewMemoryStore())

	assert.Equal(t, "Widget", repo.Type().TypeName())
	assert.Equal(t, widgetPrefix, repo.Type().Prefix())

	attrs := repo.Attributes()
	require.Len(t, attrs, 3)
	assert.True(t, attrs[0].IsPrimary())

	attrs[0] = nil
	assert.NotNil(t, repo.Attributes()[0], "callers get a copy")
}

func gadgetIDs(gs []*Gadget) []int64 {
	out := make([]int64, len(gs))
	for i, g := range gs {
		out[i] = g.ID
	}
	return out
}

func widgetSKUs(ws []*Widget) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.SKU
	}
	return out
}

func eventIDs(es []*Event) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
