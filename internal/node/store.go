package node

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zde37/ringkv/internal/snapshot"
	"github.com/zde37/ringkv/pkg"
)

// Store is the node-local key/value map. Every successful Put schedules a
// whole-map snapshot when persistence is configured.
type Store struct {
	storage   *pkg.MemoryStorage
	snapshots *snapshot.Writer
}

// NewStore wraps storage. snapshots may be nil to disable persistence.
func NewStore(storage *pkg.MemoryStorage, snapshots *snapshot.Writer) *Store {
	return &Store{
		storage:   storage,
		snapshots: snapshots,
	}
}

// Put overwrites key unconditionally.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.storage.Set(ctx, key, value); err != nil {
		return err
	}
	if s.snapshots != nil {
		s.snapshots.Trigger()
	}
	return nil
}

// Get returns the value for key or pkg.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.storage.Get(ctx, key)
}

// All returns a copy of the whole map.
func (s *Store) All(ctx context.Context) (map[string][]byte, error) {
	return s.storage.GetAll(ctx)
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	return s.storage.Len()
}

// Stats returns hit/miss/set counters of the underlying storage.
func (s *Store) Stats() pkg.Stats {
	return s.storage.GetStats()
}

// Restore loads a snapshot file into the store. A missing file restores
// nothing and is not an error.
func (s *Store) Restore(path string) (int, error) {
	entries, _, err := snapshot.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := s.storage.Load(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Close flushes a pending snapshot and closes the storage.
func (s *Store) Close() error {
	if s.snapshots != nil {
		s.snapshots.Stop()
	}
	return s.storage.Close()
}
