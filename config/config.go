// Package config loads the YAML configuration of kvrepo tools: which store
// backend to use, how to encode objects, how to log and which types are
// mapped.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/guyvdb/kvrepo/codec"
	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/repository"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/store/dynamostore"
	"github.com/guyvdb/kvrepo/store/redisstore"
	"github.com/guyvdb/kvrepo/store/sqlstore"
	"github.com/guyvdb/kvrepo/types"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendDynamo = "dynamodb"
	BackendSQL    = "sql"
)

type Config struct {
	Backend string       `yaml:"backend"`
	Codec   string       `yaml:"codec"`
	Atomic  bool         `yaml:"atomic"`
	Log     LogConfig    `yaml:"log"`
	Bolt    BoltConfig   `yaml:"bolt"`
	Redis   RedisConfig  `yaml:"redis"`
	Dynamo  DynamoConfig `yaml:"dynamodb"`
	SQL     SQLConfig    `yaml:"sql"`
	Types   []TypeConfig `yaml:"types"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DynamoConfig struct {
	Table    string `yaml:"table"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	// CreateTable creates the table on Open when it is missing.
	CreateTable bool `yaml:"create_table"`
}

type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

// TypeConfig maps one type name to its attributes.
type TypeConfig struct {
	Name       string            `yaml:"name"`
	Attributes []AttributeConfig `yaml:"attributes"`
}

type AttributeConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Primary bool   `yaml:"primary"`
}

// Default returns a configuration using a local bbolt file.
func Default() *Config {
	return &Config{
		Backend: BackendBolt,
		Codec:   "json",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bolt: BoltConfig{
			Path: "kvrepo.db",
		},
		Redis: RedisConfig{
			Addr: redisstore.DefaultConfig().Addr,
		},
		Dynamo: DynamoConfig{
			Table: dynamostore.DefaultConfig().Table,
		},
		SQL: SQLConfig{
			Driver: sqlstore.DefaultConfig().Driver,
			DSN:    sqlstore.DefaultConfig().DSN,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields the defaults with overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.overrideFromEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.overrideFromEnv()
	return cfg, nil
}

// Parse decodes YAML over the defaults. Environment overrides are not
// applied.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// overrideFromEnv overrides configuration values from KVREPO_* environment
// variables.
func (c *Config) overrideFromEnv() {
	if backend := os.Getenv("KVREPO_BACKEND"); backend != "" {
		c.Backend = backend
	}
	if codecName := os.Getenv("KVREPO_CODEC"); codecName != "" {
		c.Codec = codecName
	}
	if atomic := os.Getenv("KVREPO_ATOMIC"); atomic != "" {
		c.Atomic = atomic == "true"
	}

	if level := os.Getenv("KVREPO_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("KVREPO_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	if path := os.Getenv("KVREPO_BOLT_PATH"); path != "" {
		c.Bolt.Path = path
	}

	if addr := os.Getenv("KVREPO_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("KVREPO_REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if db := os.Getenv("KVREPO_REDIS_DB"); db != "" {
		if val, err := strconv.Atoi(db); err == nil {
			c.Redis.DB = val
		}
	}

	if table := os.Getenv("KVREPO_DYNAMO_TABLE"); table != "" {
		c.Dynamo.Table = table
	}
	if endpoint := os.Getenv("KVREPO_DYNAMO_ENDPOINT"); endpoint != "" {
		c.Dynamo.Endpoint = endpoint
	}
	if region := os.Getenv("KVREPO_DYNAMO_REGION"); region != "" {
		c.Dynamo.Region = region
	}

	if driver := os.Getenv("KVREPO_SQL_DRIVER"); driver != "" {
		c.SQL.Driver = driver
	}
	if dsn := os.Getenv("KVREPO_SQL_DSN"); dsn != "" {
		c.SQL.DSN = dsn
	}
}

// Registry builds a registry holding a mapping for every configured type.
func (c *Config) Registry() (*types.SystemRegistry, error) {
	registry := types.NewSystemRegistry()
	for _, tc := range c.Types {
		attrs := make([]*types.AttributeDescriptor, 0, len(tc.Attributes))
		for _, ac := range tc.Attributes {
			if ac.Name == "" {
				return nil, fmt.Errorf("%w: type %s has an attribute without a name", fault.ErrConfiguration, tc.Name)
			}
			kind, err := types.ParseKind(ac.Kind)
			if err != nil {
				return nil, fmt.Errorf("type %s attribute %s: %w", tc.Name, ac.Name, err)
			}
			attrs = append(attrs, types.NewAttribute(ac.Name, kind, ac.Primary))
		}

		mapping, err := types.NewMapping(tc.Name, attrs...)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(mapping); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// RepositoryConfig returns the repository settings selected by c.
func (c *Config) RepositoryConfig() (repository.Config, error) {
	cfg := repository.DefaultConfig()
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return cfg, err
	}
	cfg.Codec = cd
	cfg.Atomic = c.Atomic
	return cfg, nil
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg *Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return store.NewMemoryStore(), nil
	case BackendBolt, "bbolt":
		var bs *store.BoltStore
		if bs, err = store.NewBoltStore(cfg.Bolt.Path); err == nil {
			s = bs
		}
	case BackendRedis:
		var rs *redisstore.Store
		rs, err = redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err == nil {
			s = rs
		}
	case BackendDynamo, "dynamo":
		var ds *dynamostore.Store
		ds, err = dynamostore.NewFromConfig(ctx, dynamostore.Config{
			Table:    cfg.Dynamo.Table,
			Endpoint: cfg.Dynamo.Endpoint,
			Region:   cfg.Dynamo.Region,
		})
		if err == nil && cfg.Dynamo.CreateTable {
			err = ds.EnsureTable(ctx)
		}
		if err == nil {
			s = ds
		}
	case BackendSQL:
		var ss *sqlstore.Store
		ss, err = sqlstore.Open(ctx, sqlstore.Config{
			Driver: cfg.SQL.Driver,
			DSN:    cfg.SQL.DSN,
			Debug:  cfg.SQL.Debug,
		})
		if err == nil {
			s = ss
		}
	default:
		return nil, fmt.Errorf("%w: %s", fault.ErrUnsupportedBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("config.Open() - store opened", "backend", cfg.Backend)
	return s, nil
}
