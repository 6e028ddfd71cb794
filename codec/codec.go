// Package codec serializes mapped objects for the canonical record of each
// object. Every payload carries the name of the type it was written for, and
// decoding refuses payloads written for any other type.
package codec

import (
	"fmt"
	"strings"

	"github.com/guyvdb/kvrepo/fault"
)

// Codec encodes objects of one type name and decodes them back into a
// caller-supplied target.
type Codec interface {
	Name() string

	Encode(typeName string, v any) ([]byte, error)

	// Decode fills into from data. It fails with fault.ErrDecode, wrapping
	// fault.ErrTypeMismatch, when data was written for another type.
	Decode(data []byte, typeName string, into any) error
}

// ByName returns the codec registered under name ("json" or "msgpack").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "msgpack", "messagepack":
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("%w: unknown codec '%s'", fault.ErrConfiguration, name)
}

func checkType(got, want string) error {
	if got != want {
		return fmt.Errorf("%w: %w: payload holds %s, %s allowed", fault.ErrDecode, fault.ErrTypeMismatch, got, want)
	}
	return nil
}
