package types

import (
	"fmt"

	"github.com/guyvdb/kvrepo/fault"
)

// Mapping binds a type descriptor to the ordered set of attributes persisted
// for it.
type Mapping struct {
	Type       *TypeDescriptor
	Attributes []*AttributeDescriptor
}

// NewMapping builds the mapping for typeName.
func NewMapping(typeName string, attributes ...*AttributeDescriptor) (*Mapping, error) {
	td, err := NewTypeDescriptor(typeName)
	if err != nil {
		return nil, err
	}
	return &Mapping{Type: td, Attributes: attributes}, nil
}

// Primary returns the primary attribute. It is looked up on every call, so a
// mapping without one is only rejected once an identity is needed.
func (m *Mapping) Primary() (*AttributeDescriptor, error) {
	for _, attr := range m.Attributes {
		if attr.IsPrimary() {
			return attr, nil
		}
	}
	return nil, fmt.Errorf("%w: primary key not defined for type %s", fault.ErrConfiguration, m.Type.TypeName())
}

// Attribute returns the attribute called name.
func (m *Mapping) Attribute(name string) (*AttributeDescriptor, error) {
	for _, attr := range m.Attributes {
		if attr.Name() == name {
			return attr, nil
		}
	}
	return nil, fmt.Errorf("%w: mapping for %s not found for type %s", fault.ErrConfiguration, name, m.Type.TypeName())
}

// The registry records the mappings known to a process so that tools can
// resolve a type by name.
type Registry interface {
	// Register a mapping. A type name may only be registered once.
	Register(mapping *Mapping) error

	// Lookup a mapping by full type name or, when unambiguous, short name.
	Lookup(name string) (*Mapping, error)

	// All mappings in registration order.
	Mappings() []*Mapping
}
