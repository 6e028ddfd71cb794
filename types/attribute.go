package types

import (
	"fmt"
	"strings"

	"github.com/guyvdb/kvrepo/fault"
)

// AttributeKind specifies the underlying data type of a persisted attribute.
// It decides whether store-level sorts compare values lexicographically.
type AttributeKind int

const (
	KindString AttributeKind = iota
	KindInt64
	KindFloat64
	KindBool
	KindDateTime
)

var kindNames = [...]string{"String", "Int64", "Float64", "Bool", "DateTime"}

// String returns the string representation of AttributeKind.
func (k AttributeKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// SortsAlpha reports whether values of this kind must be sorted
// lexicographically. Only numeric kinds sort by value.
func (k AttributeKind) SortsAlpha() bool {
	return k != KindInt64 && k != KindFloat64
}

// ParseKind parses the kind names accepted in schema files.
func ParseKind(s string) (AttributeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "":
		return KindString, nil
	case "int", "int64", "integer":
		return KindInt64, nil
	case "float", "float64", "double", "number":
		return KindFloat64, nil
	case "bool", "boolean":
		return KindBool, nil
	case "datetime", "time", "timestamp":
		return KindDateTime, nil
	}
	return KindString, fmt.Errorf("%w: unknown attribute kind '%s'", fault.ErrConfiguration, s)
}

// AttributeDescriptor describes one persisted attribute of a mapped type.
type AttributeDescriptor struct {
	name    string
	kind    AttributeKind
	primary bool
}

func NewAttribute(name string, kind AttributeKind, primary bool) *AttributeDescriptor {
	return &AttributeDescriptor{
		name:    name,
		kind:    kind,
		primary: primary,
	}
}

// Primary describes the attribute holding the object's identity.
func Primary(name string, kind AttributeKind) *AttributeDescriptor {
	return NewAttribute(name, kind, true)
}

// Indexed describes a secondary attribute usable in equality queries.
func Indexed(name string, kind AttributeKind) *AttributeDescriptor {
	return NewAttribute(name, kind, false)
}

func (ad *AttributeDescriptor) Name() string { return ad.name }

func (ad *AttributeDescriptor) Kind() AttributeKind { return ad.kind }

func (ad *AttributeDescriptor) IsPrimary() bool { return ad.primary }
