// Package blobstore defines the object-store boundary used by the upload
// coordinator: immutable block staging, ordered commit into a durable object,
// and whole-object writes for small uploads.
package blobstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("blobstore: object not found")

// ObjectInfo carries metadata about a committed object.
type ObjectInfo struct {
	Name         string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// ReadResult wraps a streamed object body together with its metadata. The
// caller owns Reader and must close it.
type ReadResult struct {
	Reader io.ReadCloser
	Info   ObjectInfo
}

// Store is the object-store boundary. Blocks staged under an object name are
// invisible until CommitBlocks publishes them as one durable object; staged
// blocks that are never committed are reclaimed by the backing store.
type Store interface {
	// StageBlock uploads one immutable block addressed by blockID within the
	// scope of object. Re-staging the same blockID replaces the block and is
	// safe for client retries.
	StageBlock(ctx context.Context, object, blockID string, payload io.Reader, size int64) error

	// CommitBlocks atomically publishes the staged blocks, in the supplied
	// order, as the object's content. Committing an identical list again is a
	// harmless no-op in effect.
	CommitBlocks(ctx context.Context, object string, orderedBlockIDs []string, contentType string) error

	// WriteWhole uploads the object in one shot, replacing any existing
	// content.
	WriteWhole(ctx context.Context, object string, payload io.Reader, size int64, contentType string) error

	// Exists reports whether a committed object is present.
	Exists(ctx context.Context, object string) (bool, error)

	// OpenRead streams a committed object. Returns ErrNotFound when absent.
	OpenRead(ctx context.Context, object string) (ReadResult, error)

	// Delete removes a committed object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, object string) error

	// Close releases any resources held by the store.
	Close() error
}
