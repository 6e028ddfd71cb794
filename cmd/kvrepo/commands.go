package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/guyvdb/kvrepo/config"
	"github.com/guyvdb/kvrepo/dyno"
	"github.com/guyvdb/kvrepo/logging"
	"github.com/guyvdb/kvrepo/repository"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/types"
)

var errUsage = errors.New("usage")

// session holds what every command needs once the configuration is loaded.
type session struct {
	cfg      *config.Config
	client   store.Store
	registry *types.SystemRegistry
	repoCfg  repository.Config
	out      io.Writer
	in       io.Reader
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("kvrepo", flag.ContinueOnError)
	var (
		configFile = fs.String("config", os.Getenv("KVREPO_CONFIG"), "Path to the YAML config file")
	)
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		usage()
		return errUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	logger, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	repoCfg, err := cfg.RepositoryConfig()
	if err != nil {
		return err
	}
	repoCfg.Logger = logger

	s := &session{cfg: cfg, registry: registry, repoCfg: repoCfg, out: out, in: in}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "types" {
		return s.types()
	}

	s.client, err = config.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.client.Close()

	logger.Debug("kvrepo - run command", "command", cmd, "backend", cfg.Backend)

	switch cmd {
	case "put":
		if len(rest) != 2 {
			return usageError("put <type> <json|->")
		}
		return s.put(ctx, rest[0], rest[1])
	case "get":
		if len(rest) != 2 {
			return usageError("get <type> <pk>")
		}
		return s.get(ctx, rest[0], rest[1])
	case "find":
		if len(rest) != 3 {
			return usageError("find <type> <attribute> <value>")
		}
		return s.find(ctx, rest[0], rest[1], rest[2])
	case "list":
		lf := flag.NewFlagSet("list", flag.ContinueOnError)
		var (
			start  = lf.Int64("start", 0, "Offset of the list window")
			end    = lf.Int64("end", 0, "Size of the list window")
			sortBy = lf.String("sort", "", "Attribute to sort by")
		)
		lf.Usage = usage
		args, err := parseInterleaved(lf, rest)
		if err != nil || len(args) != 1 {
			return usageError("list [-start n] [-end n] [-sort attribute] <type>")
		}
		return s.list(ctx, args[0], *start, *end, *sortBy)
	case "delete":
		if len(rest) != 2 {
			return usageError("delete <type> <pk>")
		}
		return s.delete(ctx, rest[0], rest[1])
	case "keys":
		if len(rest) != 1 {
			return usageError("keys <type>")
		}
		return s.keys(ctx, rest[0])
	}
	return fmt.Errorf("%w: unknown command %s", errUsage, cmd)
}

// parseInterleaved parses fs over args, accepting flags before and after the
// positional arguments, and returns the positionals in order.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func usageError(form string) error {
	return fmt.Errorf("%w: kvrepo %s", errUsage, form)
}

func (s *session) repository(typeName string) (*repository.Repository[*dyno.Object], error) {
	mapping, err := s.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return dyno.NewRepository(s.client, mapping, s.repoCfg), nil
}

func (s *session) types() error {
	type entry struct {
		Type       string   `json:"type"`
		Prefix     string   `json:"prefix"`
		Attributes []string `json:"attributes"`
	}
	out := make([]entry, 0)
	for _, m := range s.registry.Mappings() {
		e := entry{Type: m.Type.TypeName(), Prefix: m.Type.Prefix()}
		for _, attr := range m.Attributes {
			name := attr.Name() + ":" + attr.Kind().String()
			if attr.IsPrimary() {
				name += ":primary"
			}
			e.Attributes = append(e.Attributes, name)
		}
		out = append(out, e)
	}
	return s.print(out)
}

func (s *session) put(ctx context.Context, typeName, doc string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}

	data := []byte(doc)
	if doc == "-" {
		if data, err = io.ReadAll(s.in); err != nil {
			return err
		}
	}
	obj, err := dyno.FromJSON(repo.Type().TypeName(), data)
	if err != nil {
		return err
	}
	if err := repo.Persist(ctx, obj); err != nil {
		return err
	}
	return s.print(obj)
}

func (s *session) get(ctx context.Context, typeName, pk string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}
	obj, err := repo.Find(ctx, pk)
	if err != nil {
		return err
	}
	return s.print(obj)
}

func (s *session) find(ctx context.Context, typeName, attribute, value string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}
	objs, err := repo.FindBy(ctx, attribute, value)
	if err != nil {
		return err
	}
	return s.print(objs)
}

func (s *session) list(ctx context.Context, typeName string, start, end int64, sortBy string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}
	objs, err := repo.FindAll(ctx, start, end, sortBy)
	if err != nil {
		return err
	}
	return s.print(objs)
}

func (s *session) delete(ctx context.Context, typeName, pk string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}
	obj, err := repo.Find(ctx, pk)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, obj); err != nil {
		return err
	}
	return s.print(obj)
}

func (s *session) keys(ctx context.Context, typeName string) error {
	repo, err := s.repository(typeName)
	if err != nil {
		return err
	}
	keys, err := repo.Keys(ctx)
	if err != nil {
		return err
	}
	return s.print(keys)
}

func (s *session) print(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
