package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"

	"github.com/guyvdb/kvrepo/codec"
	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/types"
)

// ObjectField is the hash field holding the encoded object.
const ObjectField = "__object"

// Config holds the optional collaborators of a Repository.
type Config struct {
	// Codec encodes the canonical record.
	// Default: codec.JSON
	Codec codec.Codec

	// Logger receives debug output.
	// Default: slog.Default()
	Logger *slog.Logger

	// Atomic runs the writes of Persist and Delete as one batch when the
	// store implements store.Batcher.
	Atomic bool
}

// DefaultConfig returns a JSON, non-atomic configuration.
func DefaultConfig() Config {
	return Config{
		Codec:  codec.JSON{},
		Logger: slog.Default(),
	}
}

func (c *Config) validate() {
	if c.Codec == nil {
		c.Codec = codec.JSON{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Repository stores objects of type T. T is usually a pointer to a struct;
// interface types need a factory, see SetFactory.
//
// A Repository holds no mutable state after construction and is safe for
// concurrent use when its store is.
type Repository[T any] struct {
	client  store.Store
	mapping *types.Mapping
	config  Config
	factory func() T
	log     *slog.Logger
}

// New creates a repository for objects described by typ and attributes.
// The attributes are not validated here; an identity-dependent operation
// fails with fault.ErrConfiguration if no primary attribute exists.
func New[T any](client store.Store, typ *types.TypeDescriptor, attributes []*types.AttributeDescriptor, cfg Config) *Repository[T] {
	cfg.validate()
	return &Repository[T]{
		client:  client,
		mapping: &types.Mapping{Type: typ, Attributes: slices.Clone(attributes)},
		config:  cfg,
		log:     cfg.Logger.With("type", typ.TypeName()),
	}
}

// NewFromMapping creates a repository for a registered mapping.
func NewFromMapping[T any](client store.Store, mapping *types.Mapping, cfg Config) *Repository[T] {
	return New[T](client, mapping.Type, mapping.Attributes, cfg)
}

// SetFactory supplies fresh decode targets. It must be called before the
// repository is shared.
func (r *Repository[T]) SetFactory(factory func() T) {
	r.factory = factory
}

// Type returns the descriptor of the mapped type.
func (r *Repository[T]) Type() *types.TypeDescriptor {
	return r.mapping.Type
}

func (r *Repository[T]) Attributes() []*types.AttributeDescriptor {
	return slices.Clone(r.mapping.Attributes)
}

// Find returns the object whose primary attribute renders as pk, or
// fault.ErrNotFound.
func (r *Repository[T]) Find(ctx context.Context, pk any) (T, error) {
	var zero T

	if _, err := r.mapping.Primary(); err != nil {
		return zero, err
	}
	id, err := types.FormatValue(pk)
	if err != nil {
		return zero, err
	}

	key := r.key("pkey", id)
	data, err := r.client.HashGet(ctx, key, ObjectField)
	if errors.Is(err, fault.ErrKeyNotFound) {
		return zero, fmt.Errorf("%w: %s %s", fault.ErrNotFound, r.mapping.Type.TypeName(), id)
	}
	if err != nil {
		return zero, err
	}
	if len(data) == 0 {
		return zero, fmt.Errorf("%w: %s %s", fault.ErrNotFound, r.mapping.Type.TypeName(), id)
	}

	r.log.Debug("Repository.Find() - found", "key", key)
	return r.decode(data)
}

// FindAll returns every stored object.
//
// When start and end are both non-zero the result is the window of at most
// end objects beginning at offset start. A zero start or end means no
// window, so a window at offset 0 cannot be requested; stores written by
// other clients of this layout rely on that behaviour.
//
// Results are sorted by the primary key, or by the attribute named sortBy.
// Sorting is lexicographic for non-numeric kinds.
func (r *Repository[T]) FindAll(ctx context.Context, start, end int64, sortBy string) ([]T, error) {
	primary, err := r.mapping.Primary()
	if err != nil {
		return nil, err
	}

	opts := store.SortOptions{
		Get:   []string{r.getPattern()},
		Alpha: primary.Kind().SortsAlpha(),
	}
	if start != 0 && end != 0 {
		opts.Limit = &store.Limit{Offset: start, Count: end}
	}
	if sortBy != "" {
		attr, err := r.mapping.Attribute(sortBy)
		if err != nil {
			return nil, err
		}
		opts.By = r.key("pkey", "*->"+attr.Name())
		opts.Alpha = attr.Kind().SortsAlpha()
	}

	key := r.key("all")
	res, err := r.client.Sort(ctx, key, opts)
	if errors.Is(err, fault.ErrSortFailed) {
		return nil, fmt.Errorf("%w: unexpected sort result for %s: %w", fault.ErrQuery, key, err)
	}
	if err != nil {
		return nil, err
	}

	r.log.Debug("Repository.FindAll() - sorted", "key", key, "by", opts.By, "alpha", opts.Alpha, "results", len(res))
	return r.decodeMany(res)
}

// FindBy returns the objects whose attribute renders as value. A store
// that cannot sort the attribute set yields no objects rather than an error.
func (r *Repository[T]) FindBy(ctx context.Context, attribute string, value any) ([]T, error) {
	attr, err := r.mapping.Attribute(attribute)
	if err != nil {
		return nil, err
	}
	rendered, err := types.FormatValue(value)
	if err != nil {
		return nil, err
	}

	key := r.key(attr.Name(), rendered)
	res, err := r.client.Sort(ctx, key, store.SortOptions{
		Get:   []string{r.getPattern()},
		Alpha: attr.Kind().SortsAlpha(),
	})
	if errors.Is(err, fault.ErrSortFailed) {
		r.log.Debug("Repository.FindBy() - sort failed, no results", "key", key, "err", err)
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}

	return r.decodeMany(res)
}

// FindOneBy returns the first result of FindBy, or fault.ErrNotFound.
func (r *Repository[T]) FindOneBy(ctx context.Context, attribute string, value any) (T, error) {
	var zero T

	res, err := r.FindBy(ctx, attribute, value)
	if err != nil {
		return zero, err
	}
	if len(res) == 0 {
		return zero, fmt.Errorf("%w: %s with %s=%v", fault.ErrNotFound, r.mapping.Type.TypeName(), attribute, value)
	}
	return res[0], nil
}

// Persist creates or replaces obj. Nothing is written unless obj has the
// exact mapped type, a primary attribute is configured and not empty, every
// attribute can be read and the object can be encoded.
//
// Index entries for attribute values obj no longer has are left in place.
func (r *Repository[T]) Persist(ctx context.Context, obj T) error {
	rec, err := r.prepare(obj, "persist")
	if err != nil {
		return err
	}

	data, err := r.config.Codec.Encode(r.mapping.Type.TypeName(), obj)
	if err != nil {
		return err
	}

	fields := make(map[string][]byte, len(rec.values)+1)
	for name, v := range rec.values {
		fields[name] = []byte(v)
	}
	fields[ObjectField] = data

	err = r.write(ctx, func(w store.Writer) error {
		if err := w.SetAdd(ctx, r.key("all"), rec.pk); err != nil {
			return err
		}
		if err := w.HashSet(ctx, r.key("pkey", rec.pk), fields); err != nil {
			return err
		}
		for _, attr := range r.mapping.Attributes {
			if err := w.SetAdd(ctx, r.key(attr.Name(), rec.values[attr.Name()]), rec.pk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug("Repository.Persist() - persisted", "pk", rec.pk, "attributes", len(r.mapping.Attributes))
	return nil
}

// Delete removes obj's canonical record, its membership of the all-set and
// the attribute sets for its current values. Attribute sets are deleted as
// a whole, so other objects sharing one of those values lose that index
// entry too. Index entries for values obj had when it was persisted but no
// longer has are left in place.
//
// Like Persist, Delete only accepts objects of the exact mapped type and
// fails with fault.ErrTypeMismatch otherwise, without touching the store.
func (r *Repository[T]) Delete(ctx context.Context, obj T) error {
	rec, err := r.prepare(obj, "delete")
	if err != nil {
		return err
	}

	err = r.write(ctx, func(w store.Writer) error {
		if err := w.SetRemove(ctx, r.key("all"), rec.pk); err != nil {
			return err
		}
		if err := w.Delete(ctx, r.key("pkey", rec.pk)); err != nil {
			return err
		}
		for _, attr := range r.mapping.Attributes {
			if err := w.Delete(ctx, r.key(attr.Name(), rec.values[attr.Name()])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug("Repository.Delete() - deleted", "pk", rec.pk)
	return nil
}

// Keys lists every store key in the namespace of the mapped type.
func (r *Repository[T]) Keys(ctx context.Context) ([]string, error) {
	return r.client.Scan(ctx, r.mapping.Type.Prefix()+"_")
}

type record struct {
	pk     string
	values map[string]string
}

// prepare runs the preconditions shared by Persist and Delete and reads
// every attribute value of obj.
func (r *Repository[T]) prepare(obj T, op string) (*record, error) {
	want := r.mapping.Type.TypeName()
	if got := types.TypeNameOf(obj); got != want {
		return nil, fmt.Errorf("%w: unable to %s object of type %s, %s allowed", fault.ErrTypeMismatch, op, got, want)
	}

	primary, err := r.mapping.Primary()
	if err != nil {
		return nil, err
	}

	rec := &record{values: make(map[string]string, len(r.mapping.Attributes))}
	for _, attr := range r.mapping.Attributes {
		v, err := types.AttributeValue(obj, attr.Name())
		if err != nil {
			return nil, err
		}
		rec.values[attr.Name()] = v
	}
	rec.pk = rec.values[primary.Name()]
	if rec.pk == "" {
		return nil, fmt.Errorf("%w: unable to %s object of type %s, primary attribute %s is empty", fault.ErrConfiguration, op, want, primary.Name())
	}
	return rec, nil
}

// write runs fn as one batch in atomic mode, otherwise directly on the
// store.
func (r *Repository[T]) write(ctx context.Context, fn func(w store.Writer) error) error {
	if r.config.Atomic {
		if b, ok := r.client.(store.Batcher); ok {
			return b.Batch(ctx, fn)
		}
		r.log.Debug("Repository.write() - store has no batch support, writing directly")
	}
	return fn(r.client)
}

func (r *Repository[T]) key(segments ...string) string {
	return r.mapping.Type.Prefix() + "_" + strings.Join(segments, "_")
}

func (r *Repository[T]) getPattern() string {
	return r.key("pkey", "*->"+ObjectField)
}

func (r *Repository[T]) decodeMany(res [][]byte) ([]T, error) {
	out := make([]T, 0, len(res))
	for i, data := range res {
		// An index member whose canonical record is gone.
		if len(data) == 0 {
			r.log.Debug("Repository.decodeMany() - skip missing record", "position", i)
			continue
		}
		obj, err := r.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// decode restricts decoding to the mapped type name and fills a fresh T.
func (r *Repository[T]) decode(data []byte) (T, error) {
	typeName := r.mapping.Type.TypeName()

	if r.factory != nil {
		obj := r.factory()
		if err := r.config.Codec.Decode(data, typeName, obj); err != nil {
			var zero T
			return zero, err
		}
		return obj, nil
	}

	t := reflect.TypeFor[T]()
	switch t.Kind() {
	case reflect.Pointer:
		ptr := reflect.New(t.Elem())
		if err := r.config.Codec.Decode(data, typeName, ptr.Interface()); err != nil {
			var zero T
			return zero, err
		}
		return ptr.Interface().(T), nil
	case reflect.Interface:
		var zero T
		return zero, fmt.Errorf("%w: repository of interface type %s needs a factory", fault.ErrConfiguration, t)
	}

	var obj T
	if err := r.config.Codec.Decode(data, typeName, &obj); err != nil {
		return obj, err
	}
	return obj, nil
}
