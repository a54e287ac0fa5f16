package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// File stores each document as a JSON envelope in its own file.
type File struct {
	dir string
	mu  sync.Mutex
}

type envelope struct {
	Key       string          `json:"key"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// NewFile creates a file store rooted at dir.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Get reads the document for key.
func (f *File) Get(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	env, err := f.read(key)
	if err != nil {
		return Document{}, err
	}
	return Document{Key: key, Version: env.Version, Data: []byte(env.Data), UpdatedAt: env.UpdatedAt}, nil
}

// Put writes data when the stored version matches expected.
func (f *File) Put(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !json.Valid(data) {
		return 0, fmt.Errorf("store: %s: data is not valid JSON", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var current int64
	env, err := f.read(key)
	switch {
	case err == nil:
		current = env.Version
	case err == ErrNotFound:
	default:
		return 0, err
	}
	if current != expected {
		return 0, ErrConflict
	}

	next := envelope{Key: key, Version: current + 1, UpdatedAt: time.Now().UTC(), Data: json.RawMessage(data)}
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("store: marshal %s: %w", key, err)
	}

	path := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("store: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("store: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("store: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("store: rename %s: %w", key, err)
	}
	return next.Version, nil
}

// Close is a no-op for the file store.
func (f *File) Close() error { return nil }

func (f *File) read(key string) (*envelope, error) {
	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return &env, nil
}

func (f *File) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(f.dir, safe+".json")
}
