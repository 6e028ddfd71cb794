package dyno

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/guyvdb/kvrepo/fault"
	"github.com/guyvdb/kvrepo/repository"
	"github.com/guyvdb/kvrepo/store"
	"github.com/guyvdb/kvrepo/types"
)

var _ types.Named = (*Object)(nil)
var _ types.Attributer = (*Object)(nil)

// Object is a mapped object whose type name is chosen at runtime. Its
// attributes are read from Properties.
type Object struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

func New(typeName string) *Object {
	return &Object{
		Type:       typeName,
		Properties: make(map[string]any),
	}
}

// FromJSON builds an object of typeName from a JSON document. Numbers are
// kept as json.Number so that integers render without loss.
func FromJSON(typeName string, data []byte) (*Object, error) {
	props, err := decodeProperties(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrDecode, typeName, err)
	}
	return &Object{Type: typeName, Properties: props}, nil
}

// TypeName returns the type name of the Object.
func (o *Object) TypeName() string {
	return o.Type
}

func (o *Object) Attribute(name string) (any, bool) {
	v, found := o.Properties[name]
	return v, found && v != nil
}

func (o *Object) Set(name string, value any) {
	if o.Properties == nil {
		o.Properties = make(map[string]any)
	}
	o.Properties[name] = value
}

func (o *Object) Get(name string) any {
	return o.Properties[name]
}

// Names returns the property names in sorted order.
func (o *Object) Names() []string {
	return slices.Sorted(maps.Keys(o.Properties))
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Type = raw.Type
	o.Properties = make(map[string]any)
	if len(raw.Properties) == 0 || string(raw.Properties) == "null" {
		return nil
	}
	props, err := decodeProperties(raw.Properties)
	if err != nil {
		return err
	}
	o.Properties = props
	return nil
}

func decodeProperties(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	props := make(map[string]any)
	if err := dec.Decode(&props); err != nil {
		return nil, err
	}
	return props, nil
}

// NewRepository returns a repository of dynamic objects for a registered
// mapping.
func NewRepository(client store.Store, mapping *types.Mapping, cfg repository.Config) *repository.Repository[*Object] {
	return repository.NewFromMapping[*Object](client, mapping, cfg)
}
