package types

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/guyvdb/kvrepo/fault"
)

var _ Registry = (*SystemRegistry)(nil)

// SystemRegistry implements the Registry interface.
// Mappings are indexed by type name and by short name; a short name shared by
// two types is remembered as ambiguous and can only be resolved by full name.
type SystemRegistry struct {
	mu             sync.RWMutex
	items          []*Mapping
	typeNameIndex  map[string]*Mapping
	shortNameIndex map[string][]*Mapping
}

// NewSystemRegistry creates and returns a new, empty registry.
func NewSystemRegistry() *SystemRegistry {
	slog.Debug("NewSystemRegistry - create registry")
	return &SystemRegistry{
		items:          make([]*Mapping, 0),
		typeNameIndex:  make(map[string]*Mapping),
		shortNameIndex: make(map[string][]*Mapping),
	}
}

func (r *SystemRegistry) Register(mapping *Mapping) error {
	if mapping == nil || mapping.Type == nil {
		return fmt.Errorf("%w: mapping has no type descriptor", fault.ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	typeName := mapping.Type.TypeName()
	if _, found := r.typeNameIndex[typeName]; found {
		return fmt.Errorf("%w: type %s is already registered", fault.ErrConfiguration, typeName)
	}

	r.items = append(r.items, mapping)
	r.typeNameIndex[typeName] = mapping
	short := mapping.Type.ShortName()
	r.shortNameIndex[short] = append(r.shortNameIndex[short], mapping)

	slog.Debug("SystemRegistry.Register() - register type", "typeName", typeName, "prefix", mapping.Type.Prefix(), "attributes", len(mapping.Attributes))
	return nil
}

func (r *SystemRegistry) Lookup(name string) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, found := r.typeNameIndex[name]; found {
		return m, nil
	}

	candidates := r.shortNameIndex[name]
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: %s", fault.ErrTypeNotFound, name)
	case 1:
		return candidates[0], nil
	}
	return nil, fmt.Errorf("%w: short name %s is shared by %d types, use the full type name", fault.ErrConfiguration, name, len(candidates))
}

func (r *SystemRegistry) Mappings() []*Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Mapping, len(r.items))
	copy(out, r.items)
	return out
}
