package fault

import "errors"

var (
	// ErrConfiguration covers mapping problems: a type name without an
	// alphabetic suffix, a missing primary attribute, an unknown attribute.
	ErrConfiguration = errors.New("configuration error")

	// ErrTypeMismatch is returned when an object's runtime type is not
	// exactly the type a repository or codec is configured for.
	ErrTypeMismatch = errors.New("type mismatch")

	ErrTypeNotFound = errors.New("type not found")
)
