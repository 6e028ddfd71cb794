package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"math/bits"
	"reflect"

	"github.com/guyvdb/kvrepo/fault"
)

// TypeDescriptor names a mapped type and owns the key namespace derived from
// that name. Every key written for the type starts with Prefix().
type TypeDescriptor struct {
	typeName  string
	checksum  string
	shortName string
	prefix    string
}

// NewTypeDescriptor builds the descriptor for a fully-qualified type name.
// The prefix is "<checksum>_<short name>", where the short name is the
// trailing run of ASCII letters of typeName.
func NewTypeDescriptor(typeName string) (*TypeDescriptor, error) {
	shortName := alphaSuffix(typeName)
	if shortName == "" {
		return nil, fmt.Errorf("%w: invalid type name '%s', it has no alphabetic suffix", fault.ErrConfiguration, typeName)
	}

	sum := Checksum(typeName)
	return &TypeDescriptor{
		typeName:  typeName,
		checksum:  sum,
		shortName: shortName,
		prefix:    sum + "_" + shortName,
	}, nil
}

// DescriptorFor builds the descriptor for the Go type T. Pointer types are
// dereferenced, so DescriptorFor[*Widget] and DescriptorFor[Widget] agree.
func DescriptorFor[T any]() (*TypeDescriptor, error) {
	return NewTypeDescriptor(QualifiedName(reflect.TypeFor[T]()))
}

func (td *TypeDescriptor) TypeName() string { return td.typeName }

func (td *TypeDescriptor) ShortName() string { return td.shortName }

func (td *TypeDescriptor) Checksum() string { return td.checksum }

// Prefix returns the namespace shared by every key of this type.
func (td *TypeDescriptor) Prefix() string { return td.prefix }

func (td *TypeDescriptor) String() string { return td.typeName }

// Checksum returns the 8 hex digit namespace checksum of a type name.
//
// The digest is CRC-32/BZIP2 (polynomial 0x04C11DB7, no reflection, init and
// final xor 0xFFFFFFFF) with its bytes written little-endian. Existing stores
// were keyed this way, so the exact shape matters. BZIP2 is the IEEE table
// run over bit-reversed input with the result bit-reversed again.
func Checksum(typeName string) string {
	reversed := make([]byte, len(typeName))
	for i := 0; i < len(typeName); i++ {
		reversed[i] = bits.Reverse8(typeName[i])
	}
	sum := bits.Reverse32(crc32.ChecksumIEEE(reversed))

	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], sum)
	return hex.EncodeToString(out[:])
}

func alphaSuffix(s string) string {
	i := len(s)
	for i > 0 && isASCIILetter(s[i-1]) {
		i--
	}
	return s[i:]
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
