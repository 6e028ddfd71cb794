package types

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/guyvdb/kvrepo/fault"
)

// TagName is the struct tag used to bind a field to an attribute name,
// e.g. `kvrepo:"sku"`.
const TagName = "kvrepo"

// Named is implemented by values whose type name is decided at runtime
// rather than by their Go type.
type Named interface {
	TypeName() string
}

// Attributer is implemented by values that expose their attributes directly
// instead of through struct fields.
type Attributer interface {
	Attribute(name string) (any, bool)
}

var timeType = reflect.TypeOf(time.Time{})

// TimeLayout renders DateTime attribute values.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// QualifiedName returns "<package path>.<type name>" for t, following
// pointers. Unnamed types fall back to their Go syntax.
func QualifiedName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// TypeNameOf returns the runtime type name of v used for type checks.
func TypeNameOf(v any) string {
	if n, ok := v.(Named); ok && !isNil(reflect.ValueOf(v)) {
		return n.TypeName()
	}
	return QualifiedName(reflect.TypeOf(v))
}

// AttributeValue reads the named attribute from item and renders it as a
// key segment.
//
// Struct fields are matched by kvrepo tag first, then by exact field name,
// then case-insensitively. The field must be exported.
func AttributeValue(item any, name string) (string, error) {
	typeName := TypeNameOf(item)

	if a, ok := item.(Attributer); ok && !isNil(reflect.ValueOf(item)) {
		raw, found := a.Attribute(name)
		if !found {
			return "", fmt.Errorf("%w: attribute '%s' is not set on %s", fault.ErrConfiguration, name, typeName)
		}
		return FormatValue(raw)
	}

	v := reflect.ValueOf(item)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", fmt.Errorf("%w: cannot read attribute '%s' of a nil %s", fault.ErrConfiguration, name, typeName)
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		slog.Warn("AttributeValue: item is not a struct", "typeName", typeName, "attribute", name)
		return "", fmt.Errorf("%w: %s is not a struct", fault.ErrConfiguration, typeName)
	}

	field, ok := fieldByAttribute(v, name)
	if !ok {
		slog.Warn("AttributeValue: attribute not found in struct", "typeName", typeName, "attribute", name)
		return "", fmt.Errorf("%w: attribute '%s' not found on %s", fault.ErrConfiguration, name, typeName)
	}
	if !field.CanInterface() {
		slog.Warn("AttributeValue: attribute field not exportable", "typeName", typeName, "attribute", name)
		return "", fmt.Errorf("%w: attribute '%s' of %s is not exported", fault.ErrConfiguration, name, typeName)
	}

	return formatReflect(field)
}

// FormatValue renders a scalar as a key segment: strings verbatim, integers
// in base 10, floats in their shortest form, bools as true/false and times
// in UTC with a fixed nine-digit fraction, so that byte order matches
// chronological order.
func FormatValue(raw any) (string, error) {
	return formatReflect(reflect.ValueOf(raw))
}

func formatReflect(v reflect.Value) (string, error) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return "", fmt.Errorf("%w: attribute value is nil", fault.ErrConfiguration)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return "", fmt.Errorf("%w: attribute value is nil", fault.ErrConfiguration)
	}

	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		return t.UTC().Format(TimeLayout), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	}

	if v.CanInterface() {
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String(), nil
		}
	}
	return "", fmt.Errorf("%w: attribute values of kind %s cannot be indexed", fault.ErrConfiguration, v.Kind())
}

func fieldByAttribute(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get(TagName), ",")
		if tag == name {
			return v.Field(i), true
		}
	}

	if field := v.FieldByName(name); field.IsValid() {
		return field, true
	}

	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
