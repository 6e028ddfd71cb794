// Package sqlstore implements store.Store on a relational database through
// bun. Hashes and sets are kept in two tables keyed by store key:
//
//	kv_hashes(store_key, field, value)
//	kv_sets(store_key, member)
//
// SQLite, PostgreSQL and MySQL are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/store"
)

var _ store.Store = (*Store)(nil)
var _ store.Batcher = (*Store)(nil)

type hashRow struct {
	bun.BaseModel `bun:"table:kv_hashes"`

	StoreKey string `bun:"store_key,pk"`
	Field    string `bun:"field,pk"`
	Value    []byte `bun:"value"`
}

type setRow struct {
	bun.BaseModel `bun:"table:kv_sets"`

	StoreKey string `bun:"store_key,pk"`
	Member   string `bun:"member,pk"`
}

// Config selects the database.
type Config struct {
	// Driver is one of sqlite, postgres or mysql.
	// Default: "sqlite"
	Driver string

	// DSN is passed to the driver unchanged.
	// Default: "kvrepo.db"
	DSN string

	// Debug logs every query through bundebug.
	Debug bool
}

// DefaultConfig returns a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "kvrepo.db",
	}
}

func (c *Config) validate() error {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && isSQLite(c.Driver) {
		c.DSN = "kvrepo.db"
	}
	if c.DSN == "" {
		return fmt.Errorf("sqlstore: a dsn is required for driver %s", c.Driver)
	}
	return nil
}

func isSQLite(driver string) bool {
	return driver == "sqlite" || driver == "sqlite3"
}

// Store is a store.Store over a bun database.
type Store struct {
	db *bun.DB
}

// New wraps an open bun database. The schema must exist; see EnsureSchema.
func New(db *bun.DB) *Store {
	db.RegisterModel((*hashRow)(nil), (*setRow)(nil))
	return &Store{db: db}
}

// Open connects with the driver named in cfg and creates the schema if
// needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var (
		sqlDB *sql.DB
		db    *bun.DB
		err   error
	)
	switch cfg.Driver {
	case "mysql":
		sqlDB, err = sql.Open("mysql", cfg.DSN)
		if err == nil {
			db = bun.NewDB(sqlDB, mysqldialect.New())
		}
	case "postgres", "postgresql":
		sqlDB, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			db = bun.NewDB(sqlDB, pgdialect.New())
		}
	case "sqlite", "sqlite3":
		sqlDB, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err == nil {
			// SQLite allows a single writer.
			sqlDB.SetMaxOpenConns(1)
			db = bun.NewDB(sqlDB, sqlitedialect.New())
		}
	default:
		return nil, fmt.Errorf("%w: sql driver %s", fault.ErrUnsupportedBackend, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection test failed: %w", err)
	}

	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("sqlstore.Open() - database ready", "driver", cfg.Driver)
	return s, nil
}

// EnsureSchema creates the hash and set tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, model := range []any{(*hashRow)(nil), (*setRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying bun database.
func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	val, found, err := hashField(ctx, s.db, key, field)
	if err != nil {
		return nil, err
	}
	if found {
		return val, nil
	}

	isSet, err := hasRows(ctx, s.db, (*setRow)(nil), key)
	if err != nil {
		return nil, err
	}
	if isSet {
		return nil, fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	return nil, fault.ErrKeyNotFound
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	return writer{db: s.db}.HashSet(ctx, key, fields)
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	return writer{db: s.db}.SetAdd(ctx, key, members...)
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	return writer{db: s.db}.SetRemove(ctx, key, members...)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	return writer{db: s.db}.Delete(ctx, keys...)
}

func (s *Store) Sort(ctx context.Context, key string, opts store.SortOptions) ([][]byte, error) {
	isHash, err := hasRows(ctx, s.db, (*hashRow)(nil), key)
	if err != nil {
		return nil, err
	}
	if isHash {
		return nil, fmt.Errorf("%w: %w: %s", fault.ErrSortFailed, fault.ErrWrongType, key)
	}

	members := make([]string, 0)
	err = s.db.NewSelect().
		Model((*setRow)(nil)).
		Column("member").
		Where("store_key = ?", key).
		Scan(ctx, &members)
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}

	slog.Debug("sqlstore.Sort() - sort set", "key", key, "members", len(members), "by", opts.By, "alpha", opts.Alpha)

	return store.SortMembers(members, opts, func(k, field string) ([]byte, bool, error) {
		return hashField(ctx, s.db, k, field)
	})
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeLike(prefix) + "%"

	keys := make([]string, 0)
	for _, model := range []any{(*hashRow)(nil), (*setRow)(nil)} {
		found := make([]string, 0)
		err := s.db.NewSelect().
			Model(model).
			ColumnExpr("DISTINCT store_key").
			Where("store_key LIKE ? ESCAPE '!'", pattern).
			Scan(ctx, &found)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		// LIKE ignores case on SQLite and on MySQL's default collations.
		for _, k := range found {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// Batch runs fn inside a database transaction.
func (s *Store) Batch(ctx context.Context, fn func(w store.Writer) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(writer{db: tx})
	})
}

func (s *Store) Close() error {
	slog.Debug("sqlstore.Close() - close db")
	return s.db.Close()
}

// writer issues writes against a database or a transaction.
type writer struct {
	db bun.IDB
}

func (w writer) HashSet(ctx context.Context, key string, fields map[string][]byte) error {
	if len(fields) == 0 {
		return nil
	}
	if err := w.expectNot(ctx, (*setRow)(nil), key); err != nil {
		return err
	}

	rows := make([]hashRow, 0, len(fields))
	for f, v := range fields {
		if v == nil {
			v = []byte{}
		}
		rows = append(rows, hashRow{StoreKey: key, Field: f, Value: v})
	}

	ins := w.db.NewInsert().Model(&rows)
	switch w.db.Dialect().Name() {
	case dialect.MySQL:
		ins = ins.On("DUPLICATE KEY UPDATE value = VALUES(value)")
	default:
		ins = ins.On("CONFLICT (store_key, field) DO UPDATE").Set("value = EXCLUDED.value")
	}
	if _, err := ins.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write hash %s: %w", key, err)
	}
	return nil
}

func (w writer) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := w.expectNot(ctx, (*hashRow)(nil), key); err != nil {
		return err
	}

	members = slices.Clone(members)
	slices.Sort(members)
	members = slices.Compact(members)

	rows := make([]setRow, len(members))
	for i, m := range members {
		rows[i] = setRow{StoreKey: key, Member: m}
	}

	ins := w.db.NewInsert().Model(&rows)
	switch w.db.Dialect().Name() {
	case dialect.MySQL:
		ins = ins.Ignore()
	default:
		ins = ins.On("CONFLICT DO NOTHING")
	}
	if _, err := ins.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add to set %s: %w", key, err)
	}
	return nil
}

func (w writer) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := w.expectNot(ctx, (*hashRow)(nil), key); err != nil {
		return err
	}
	_, err := w.db.NewDelete().
		Model((*setRow)(nil)).
		Where("store_key = ?", key).
		Where("member IN (?)", bun.In(members)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to remove from set %s: %w", key, err)
	}
	return nil
}

func (w writer) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, model := range []any{(*hashRow)(nil), (*setRow)(nil)} {
		_, err := w.db.NewDelete().
			Model(model).
			Where("store_key IN (?)", bun.In(keys)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// expectNot fails with ErrWrongType when key already holds rows of the
// other kind.
func (w writer) expectNot(ctx context.Context, model any, key string) error {
	clash, err := hasRows(ctx, w.db, model, key)
	if err != nil {
		return err
	}
	if clash {
		return fmt.Errorf("%w: %s", fault.ErrWrongType, key)
	}
	return nil
}

func hashField(ctx context.Context, db bun.IDB, key, field string) ([]byte, bool, error) {
	var row hashRow
	err := db.NewSelect().
		Model(&row).
		Where("store_key = ?", key).
		Where("field = ?", field).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s %s: %w", key, field, err)
	}
	if row.Value == nil {
		row.Value = []byte{}
	}
	return row.Value, true, nil
}

func hasRows(ctx context.Context, db bun.IDB, model any, key string) (bool, error) {
	exists, err := db.NewSelect().
		Model(model).
		Where("store_key = ?", key).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return exists, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}
