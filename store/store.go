// Package store defines the persistence contract used by the caching core.
// A store is a dumb, namespaced key-value table: it stamps entries with the
// time they were written and hands them back verbatim. Freshness policy is
// owned by the callers, never by the store.
package store

import (
	"context"
	"fmt"
	"time"
)

// Entry is a single cached value together with the moment it was written.
// TimeCached is set exactly once, by Put, and never mutated afterwards.
// Staleness is always computed by the caller as now minus TimeCached.
type Entry struct {
	TimeCached time.Time
	Value      []byte
}

// A Store is one keyed table within a schema.
//
// Get returns nil when the key is not present. It does not inspect
// TimeCached; stale entries are returned as-is and the caller decides
// whether to trust them.
//
// Reads and writes take a context because a store may live out of process.
// Concurrent use against different keys must be safe. No atomicity is
// promised for read-modify-write sequences on the same key; a race between
// two check-miss-fetch-write sequences is accepted (last write wins).
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores value under key, stamping Entry.TimeCached with the
	// current time. An existing entry under the same key is overwritten.
	Put(ctx context.Context, key string, value []byte) error

	// Clear removes every entry in this store.
	Clear(ctx context.Context) error
}

// Schema is a named, versioned grouping of stores. Bumping Version
// invalidates everything previously persisted under the schema; providers
// enforce that by dropping data recorded under any other version.
type Schema struct {
	Name    string
	Version string
	Stores  []string
}

// Validate reports schemas with missing fields or duplicate store names.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema has no name")
	}
	if s.Version == "" {
		return fmt.Errorf("schema %q has no version", s.Name)
	}
	seen := make(map[string]bool, len(s.Stores))
	for _, name := range s.Stores {
		if name == "" {
			return fmt.Errorf("schema %q contains an unnamed store", s.Name)
		}
		if seen[name] {
			return fmt.Errorf("schema %q declares store %q twice", s.Name, name)
		}
		seen[name] = true
	}
	return nil
}

// HasStore reports whether the schema declares a store with the given name.
func (s Schema) HasStore(name string) bool {
	for _, candidate := range s.Stores {
		if candidate == name {
			return true
		}
	}
	return false
}

// UnknownStoreError is returned by Provider.Open when the requested store
// name is not declared by the schema.
type UnknownStoreError struct {
	Schema string
	Store  string
}

func (e *UnknownStoreError) Error() string {
	return fmt.Sprintf("schema %q declares no store %q", e.Schema, e.Store)
}

// A Provider hands out Store instances keyed by (schema, store name).
// Opening the same (schema, store name) pair twice yields stores backed by
// the same data.
type Provider interface {
	// Open returns the store with the given name inside the schema.
	// Opening a schema whose name matches previously persisted data under
	// a different version drops that data.
	Open(schema Schema, storeName string) (Store, error)

	// Close releases any resources held by the provider.
	Close() error
}
