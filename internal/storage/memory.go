// Package storage contains an in-memory bucket store. It backs the dispatcher
// in tests and records every call so side effects can be asserted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when no object exists at the requested path.
	ErrNotFound = errors.New("object not found")
)

// Call is one recorded storage operation.
type Call struct {
	Op      string
	Bucket  string
	Path    string
	NewPath string
}

// MemoryStore keeps objects per bucket behind an RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
	calls   []Call
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string][]byte),
	}
}

// Put stores a copy of data at bucket/objectPath.
func (m *MemoryStore) Put(bucket, objectPath string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		objects = make(map[string][]byte)
		m.buckets[bucket] = objects
	}
	objects[objectPath] = append([]byte(nil), data...)
}

// FetchBytes returns a copy of the object contents.
func (m *MemoryStore) FetchBytes(_ context.Context, bucket, objectPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "fetch", Bucket: bucket, Path: objectPath})
	data, ok := m.buckets[bucket][objectPath]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Rename moves an object within its bucket.
func (m *MemoryStore) Rename(_ context.Context, bucket, objectPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "rename", Bucket: bucket, Path: objectPath, NewPath: newPath})
	objects := m.buckets[bucket]
	data, ok := objects[objectPath]
	if !ok {
		return fmt.Errorf("%s/%s: %w", bucket, objectPath, ErrNotFound)
	}
	delete(objects, objectPath)
	objects[newPath] = data
	return nil
}

// Exists reports whether an object is present.
func (m *MemoryStore) Exists(bucket, objectPath string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket][objectPath]
	return ok
}

// Keys lists the object paths of a bucket in sorted order.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns the operations performed so far.
func (m *MemoryStore) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
