package schema

import "errors"

// ErrInvalidRegistry indicates the compile-time schema registry failed validation.
var ErrInvalidRegistry = errors.New("invalid schema registry")

// ErrEnumNotFound indicates the enumerated type does not exist in the live catalog.
var ErrEnumNotFound = errors.New("enum type not found in catalog")

// ErrVersionNotFound indicates the migration version marker table is absent or empty.
var ErrVersionNotFound = errors.New("migration version marker not found")
