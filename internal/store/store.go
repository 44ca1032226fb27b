// v2
// internal/store/store.go
// Package store persists readings. Backends share the ordering contract:
// the most recent reading has the greatest timestamp, ties go to the later
// insertion.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"homemon/internal/reading"
)

// Stored is a reading that has been given an identity by a store.
type Stored struct {
	ID string `json:"id"`
	reading.Reading
}

// Store is the reading store used by the dashboard.
type Store interface {
	// Insert persists r. A zero timestamp is replaced with the store's now.
	Insert(ctx context.Context, r reading.Reading) (Stored, error)
	// MostRecent returns ok=false when the store is empty.
	MostRecent(ctx context.Context) (Stored, bool, error)
	// Between returns readings with from <= ts < to, oldest first.
	Between(ctx context.Context, from, to time.Time) ([]Stored, error)
	// PruneBefore deletes readings with ts < cutoff and reports how many.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver          string
	SQL             *gorm.DB
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// Open builds the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "sqlite":
		if opts.SQL == nil {
			return nil, fmt.Errorf("store: sqlite driver needs a database handle")
		}
		return NewSQL(opts.SQL)
	case "mongo", "mongodb":
		return NewMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", reading.ErrStorageUnavailable, op, err)
}

func stamp(r reading.Reading, now func() time.Time) reading.Reading {
	if r.Timestamp.IsZero() {
		r.Timestamp = now()
	}
	return r.UTC()
}
