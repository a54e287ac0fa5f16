package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("file", func(t *testing.T) {
		s, err := NewFile(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestGetMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "catalog")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPutVersions(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		v, err := s.Put(ctx, "catalog", []byte(`{"a":1}`), 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		_, err = s.Put(ctx, "catalog", []byte(`{"a":2}`), 0)
		assert.ErrorIs(t, err, ErrConflict, "create over existing must conflict")

		v, err = s.Put(ctx, "catalog", []byte(`{"a":2}`), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		_, err = s.Put(ctx, "catalog", []byte(`{"a":3}`), 1)
		assert.ErrorIs(t, err, ErrConflict, "stale version must conflict")

		doc, err := s.Get(ctx, "catalog")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.JSONEq(t, `{"a":2}`, string(doc.Data))
	})
}

func TestUpdateConcurrentWriters(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const writers = 8

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Update(ctx, s, "counter", 50, func(cur []byte) ([]byte, error) {
					var n int
					if cur != nil {
						if err := json.Unmarshal(cur, &n); err != nil {
							return nil, err
						}
					}
					return json.Marshal(n + 1)
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		var n int
		require.NoError(t, json.Unmarshal(doc.Data, &n))
		assert.Equal(t, writers, n, "no increment may be lost")
	})
}

func TestUpdatePropagatesCallbackError(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("boom")
	_, err = Update(context.Background(), s, "k", 3, func([]byte) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestFileRejectsInvalidJSON(t *testing.T) {
	s, err := NewFile(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "k", []byte("not json"), 0)
	assert.Error(t, err)
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	assert.Error(t, err)
}
