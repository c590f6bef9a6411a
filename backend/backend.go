// Package backend provides the storage collaborator for the media fetch
// service. All filesystem side effects in the orchestrator and the
// categorizer go through a Backend so both can be tested against the
// in-memory implementation.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Backend defines the interface for storage backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key.
	// If the key already exists, it is overwritten.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the size in bytes of the data at the given key.
	// Returns ErrNotFound if the key does not exist.
	Size(ctx context.Context, key string) (int64, error)

	// Move relocates data from one key to another, overwriting any
	// existing data at the destination. Returns ErrNotFound if the
	// source does not exist.
	Move(ctx context.Context, from, to string) error

	// List returns all keys with the given prefix.
	// The prefix uses "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// WriterBackend extends Backend with direct writer access for streamed
// transfers. The write is only durable when Close returns nil.
type WriterBackend interface {
	Backend

	// Writer returns a WriteCloser for writing to the given key.
	// If Close returns an error, the write should be considered failed.
	Writer(ctx context.Context, key string) (io.WriteCloser, error)
}
