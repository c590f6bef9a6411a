package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Memory implements Backend entirely in memory. It exists so the
// orchestrator and the categorizer can be tested without touching a real
// filesystem.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Write stores data at the given key.
func (m *Memory) Write(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading data: %w", err)
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

// Read retrieves data at the given key.
func (m *Memory) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes data at the given key.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Exists checks if a key exists.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[key]
	m.mu.RUnlock()
	return ok, nil
}

// Size returns the size of the data at the given key.
func (m *Memory) Size(ctx context.Context, key string) (int64, error) {
	m.mu.RLock()
	data, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(data)), nil
}

// Move relocates data from one key to another.
func (m *Memory) Move(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[from]
	if !ok {
		return ErrNotFound
	}
	m.data[to] = data
	delete(m.data, from)
	return nil
}

// List returns all keys with the given prefix, sorted.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Writer returns a WriteCloser that commits the buffered bytes on Close.
func (m *Memory) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memoryWriter{m: m, key: key}, nil
}

type memoryWriter struct {
	m      *Memory
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.m.mu.Lock()
	w.m.data[w.key] = append([]byte(nil), w.buf.Bytes()...)
	w.m.mu.Unlock()
	return nil
}

// Compile-time interface checks
var (
	_ Backend       = (*Memory)(nil)
	_ WriterBackend = (*Memory)(nil)
)
