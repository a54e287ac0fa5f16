// Package store persists whole JSON documents under string keys with a
// monotonically increasing version per key. Writers pass the version they
// read; a mismatch yields ErrConflict so callers can re-read and retry.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("store: document not found")
	// ErrConflict is returned by Put when the expected version is stale.
	ErrConflict = errors.New("store: version conflict")
)

// Document is one stored value.
type Document struct {
	Key       string
	Version   int64
	Data      []byte
	UpdatedAt time.Time
}

// Store is a versioned document store.
type Store interface {
	// Get returns the current document for key or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)
	// Put writes data if the stored version equals expected (0 creates) and
	// returns the new version.
	Put(ctx context.Context, key string, data []byte, expected int64) (int64, error)
	Close() error
}

// Open creates a store of the given kind rooted at dir.
func Open(kind, dir string) (Store, error) {
	switch kind {
	case "", "file":
		return NewFile(dir)
	case "sqlite":
		return NewSQLite(filepath.Join(dir, "localroute.db"))
	default:
		return nil, fmt.Errorf("store: unknown kind %q", kind)
	}
}

// Update performs an optimistic read-modify-write of key. fn receives the
// current data (nil when absent) and returns the replacement. Conflicts are
// retried up to maxRetries times against freshly read state.
func Update(ctx context.Context, s Store, key string, maxRetries int, fn func(current []byte) ([]byte, error)) (int64, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var current []byte
		var version int64

		doc, err := s.Get(ctx, key)
		switch {
		case err == nil:
			current, version = doc.Data, doc.Version
		case errors.Is(err, ErrNotFound):
		default:
			return 0, err
		}

		next, err := fn(current)
		if err != nil {
			return 0, err
		}

		newVersion, err := s.Put(ctx, key, next, version)
		if err == nil {
			return newVersion, nil
		}
		if !errors.Is(err, ErrConflict) {
			return 0, err
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("update %s: %w", key, lastErr)
}
