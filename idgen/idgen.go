// Package idgen provides pluggable ID generation. Constructors across the
// engine accept a Generator, making the ID strategy a startup-time decision
// rather than a compile-time one.
package idgen

import "github.com/google/uuid"

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator producing RFC 9562 UUID v7 strings:
// time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Used for type-scoped identifiers ("sel_", "heal_", "sess_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// New is the default generator: a bare UUIDv7.
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}
