package pkg

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStorage is a map-backed key/value store guarded by a single
// map-wide RWMutex. Values are copied on the way in and on the way out.
type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool

	// Metrics for monitoring
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// NewMemoryStorage creates an empty in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value associated with the given key.
// Returns ErrKeyNotFound if the key doesn't exist.
func (ms *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ErrContextCanceled
	default:
	}

	if ms.closed.Load() {
		return nil, ErrStorageUnavailable
	}

	ms.mu.RLock()
	value, exists := ms.data[key]
	ms.mu.RUnlock()

	if !exists {
		ms.misses.Add(1)
		return nil, ErrKeyNotFound
	}
	ms.hits.Add(1)

	// Return a copy of the value to prevent external modification
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value under key, overwriting any previous value.
func (ms *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	default:
	}

	if ms.closed.Load() {
		return ErrStorageUnavailable
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	ms.mu.Lock()
	ms.data[key] = valueCopy
	ms.mu.Unlock()

	ms.sets.Add(1)
	return nil
}

// GetAll returns a copy of every key-value pair in storage.
func (ms *MemoryStorage) GetAll(ctx context.Context) (map[string][]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ErrContextCanceled
	default:
	}

	if ms.closed.Load() {
		return nil, ErrStorageUnavailable
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make(map[string][]byte, len(ms.data))
	for key, value := range ms.data {
		v := make([]byte, len(value))
		copy(v, value)
		result[key] = v
	}
	return result, nil
}

// Load stores every pair of items, e.g. when restoring from a snapshot.
// Existing keys are overwritten.
func (ms *MemoryStorage) Load(items map[string][]byte) error {
	if ms.closed.Load() {
		return ErrStorageUnavailable
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, value := range items {
		v := make([]byte, len(value))
		copy(v, value)
		ms.data[key] = v
	}
	return nil
}

// Len returns the number of stored keys.
func (ms *MemoryStorage) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.data)
}

// Close releases the storage. Further calls fail with ErrStorageUnavailable.
func (ms *MemoryStorage) Close() error {
	if !ms.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	ms.mu.Lock()
	ms.data = make(map[string][]byte)
	ms.mu.Unlock()
	return nil
}

// Stats returns current storage statistics.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Sets    int64
}

// GetStats returns current storage statistics.
func (ms *MemoryStorage) GetStats() Stats {
	return Stats{
		Entries: ms.Len(),
		Hits:    ms.hits.Load(),
		Misses:  ms.misses.Load(),
		Sets:    ms.sets.Load(),
	}
}
