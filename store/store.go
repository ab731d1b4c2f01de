// Package store provides the key/value persistence collaborator: a small
// scoped contract plus a map-backed implementation for tests and a JSON-file
// one for production. Values round-trip through JSON, so callers persist
// plain structs without caring about the on-disk format.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Scope narrows a key to a guild, a user, both, or neither. The zero Scope is
// global.
type Scope struct {
	Guild string
	User  string
}

// Key joins the scope and key into one flat storage key.
func (s Scope) Key(key string) string {
	parts := make([]string, 0, 3)
	if s.Guild != "" {
		parts = append(parts, "g:"+s.Guild)
	}
	if s.User != "" {
		parts = append(parts, "u:"+s.User)
	}
	parts = append(parts, key)
	return strings.Join(parts, "/")
}

// Store is the persistence contract the engine consumes. Get unmarshals the
// stored value into out and reports whether the key existed.
type Store interface {
	Get(scope Scope, key string, out any) (bool, error)
	Set(scope Scope, key string, value any) error
	Delete(scope Scope, key string) error
	Close() error
}

// roundTrip re-marshals a stored value into out. Both implementations keep
// values as arbitrary JSON-shaped data, so reading is always a decode.
func roundTrip(value, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal stored value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal stored value: %w", err)
	}
	return nil
}
