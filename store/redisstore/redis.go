// Package redisstore implements store.Store on Redis. Hashes, sets and SORT
// map one to one onto Redis commands, so keys written here are readable by
// any other Redis client using the same layout.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"

	"github.com/redis/go-redis/v9"
)

var _ store.Store = (*Store)(nil)
var _ store.Batcher = (*Store)(nil)

// Config holds connection settings for Open.
type Config struct {
	// Addr is host:port of the server.
	// Default: "localhost:6379"
	Addr string

	Password string

	// DB selects the logical database.
	// Default: 0
	DB int

	// ScanCount is the COUNT hint passed to SCAN.
	// Default: 100
	ScanCount int64
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		ScanCount: 100,
	}
}

func (c *Config) validate() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DB < 0 {
		c.DB = 0
	}
	if c.ScanCount < 1 {
		c.ScanCount = 100
	}
}

// Store is a store.Store backed by a go-redis client.
type Store struct {
	client    redis.UniversalClient
	scanCount int64
}

// New wraps an existing client. The caller keeps ownership of the client
// unless Close is called.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client, scanCount: DefaultConfig().ScanCount}
}

// Open connects to the server described by cfg and checks it answers.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.validate()

	slog.Debug("redisstore.Open() - connect", "addr", cfg.Addr, "db", cfg.DB)

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Store{client: client, scanCount: cfg.ScanCount}, nil
}

func (s *Store) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	val, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fault.ErrKeyNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return val, nil
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	return writer{s.client}.HashSet(ctx, key, fields)
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	return writer{s.client}.SetAdd(ctx, key, members...)
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	return writer{s.client}.SetRemove(ctx, key, members...)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return writer{s.client}.Delete(ctx, keys...)
}

// Sort runs a native SORT. Nil replies for missing GET targets come back as
// empty entries. Only an error reply from the server wraps
// fault.ErrSortFailed; transport failures are returned as they are.
func (s *Store) Sort(ctx context.Context, key string, opts store.SortOptions) ([][]byte, error) {
	sort := &redis.Sort{
		By:    opts.By,
		Get:   opts.Get,
		Alpha: opts.Alpha,
	}
	if opts.Limit != nil {
		sort.Offset = opts.Limit.Offset
		sort.Count = opts.Limit.Count
	}

	slog.Debug("redisstore.Sort() - sort", "key", key, "by", opts.By, "get", opts.Get, "alpha", opts.Alpha)

	vals, err := s.client.Sort(ctx, key, sort).Result()
	if err != nil {
		return nil, sortError(err)
	}

	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// Scan walks the keyspace with SCAN MATCH. The result is sorted.
func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err)
	}
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// Batch queues the writes issued by fn in a MULTI/EXEC block.
func (s *Store) Batch(ctx context.Context, fn func(w store.Writer) error) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return fn(writer{pipe})
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Close() error {
	slog.Debug("redisstore.Close() - close client")
	return s.client.Close()
}

// writer issues writes on a client or on a transaction pipeline. Inside a
// pipeline the per-command errors are only known once the block executes.
type writer struct {
	c redis.Cmdable
}

func (w writer) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return mapError(w.c.HSet(ctx, key, args...).Err())
}

func (w writer) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return mapError(w.c.SAdd(ctx, key, toAny(members)...).Err())
}

func (w writer) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return mapError(w.c.SRem(ctx, key, toAny(members)...).Err())
}

func (w writer) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return mapError(w.c.Del(ctx, keys...).Err())
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// sortError marks error replies to SORT, such as WRONGTYPE or weights that
// are not numbers, as fault.ErrSortFailed.
func sortError(err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %w", fault.ErrSortFailed, mapError(err))
	}
	return mapError(err)
}

// mapError translates server replies into fault sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %w", fault.ErrWrongType, err)
	}
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %w", fault.ErrClosed, err)
	}
	return err
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
