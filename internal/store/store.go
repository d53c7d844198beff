// Package store defines the record-store boundary the SDK talks to: named
// collections of field-map records with typed not-found and conflict errors.
// Two backends implement it, an embedded SQLite database and a remote HTTP
// record store.
package store

import (
	"context"
	"errors"
)

// Collection names.
const (
	CollectionVisitors  = "visitors"
	CollectionSessions  = "sessions"
	CollectionEvents    = "events"
	CollectionErrors    = "error_records"
	CollectionSummaries = "daily_summaries"
	CollectionSites     = "sites"
)

var (
	// ErrNotFound signals a lookup with no matching record. Expected
	// control flow, never logged as an error.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict signals a create that lost a uniqueness race. Resolved by
	// re-reading the now-existing record.
	ErrConflict = errors.New("store: duplicate record")
)

// Record is a stored record's fields keyed by column name. Every persisted
// record carries an "id" field.
type Record map[string]any

// Filter selects records by exact field equality.
type Filter map[string]any

// Store is the narrow interface the ingestion core consumes.
type Store interface {
	// FindOne returns the first record matching the filter or ErrNotFound.
	FindOne(ctx context.Context, collection string, filter Filter) (Record, error)
	// Create inserts a record and returns it with its assigned id, or
	// ErrConflict when a unique constraint was violated by a concurrent
	// creator.
	Create(ctx context.Context, collection string, fields Record) (Record, error)
	// Update applies fields to the record with the given id, returning
	// ErrNotFound when it no longer exists.
	Update(ctx context.Context, collection string, id string, fields Record) (Record, error)
	// Authenticate establishes or refreshes the store credentials.
	Authenticate(ctx context.Context) error
	// Subscribe invokes onChange with the record's current fields whenever it
	// changes. The returned cancel releases the subscription.
	Subscribe(collection string, id string, onChange func(Record)) (func(), error)
	// Close releases the store's resources.
	Close() error
}

// ID returns the record's id field.
func (r Record) ID() string {
	return r.String("id")
}

// String returns a string field, or "" when absent or not a string.
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Int returns a numeric field as int64, tolerating the integer and float
// types different backends produce.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case uint:
		return int64(v)
	case uint64:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns a boolean field, tolerating SQLite's integer booleans.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return false
	}
}
