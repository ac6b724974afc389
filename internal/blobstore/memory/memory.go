// Package memory provides an in-memory blobstore.Store for tests and mem://
// deployments.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tenxso/feedd/internal/blobstore"
)

type committedObject struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
}

// Store keeps staged blocks and committed objects in process memory.
type Store struct {
	mu        sync.Mutex
	staged    map[string]map[string][]byte // object -> blockID -> payload
	committed map[string]*committedObject
	commits   int
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		staged:    make(map[string]map[string][]byte),
		committed: make(map[string]*committedObject),
	}
}

// StageBlock stores the block payload under the object's staging area.
func (s *Store) StageBlock(ctx context.Context, object, blockID string, payload io.Reader, size int64) error {
	if object == "" {
		return fmt.Errorf("memory: object name required")
	}
	if blockID == "" {
		return fmt.Errorf("memory: block id required")
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return fmt.Errorf("memory: read block payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks, ok := s.staged[object]
	if !ok {
		blocks = make(map[string][]byte)
		s.staged[object] = blocks
	}
	blocks[blockID] = data
	return nil
}

// CommitBlocks concatenates the staged blocks in order and publishes them as
// the object's content. Staged blocks are discarded afterwards.
func (s *Store) CommitBlocks(ctx context.Context, object string, orderedBlockIDs []string, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks := s.staged[object]
	var buf bytes.Buffer
	for _, id := range orderedBlockIDs {
		data, ok := blocks[id]
		if !ok {
			// Re-commit after a successful commit is a no-op.
			if _, committed := s.committed[object]; committed {
				return nil
			}
			return fmt.Errorf("memory: commit %s: block %s not staged", object, id)
		}
		buf.Write(data)
	}
	s.commits++
	s.committed[object] = &committedObject{
		data:         buf.Bytes(),
		contentType:  contentType,
		etag:         fmt.Sprintf("%d-%d", s.commits, buf.Len()),
		lastModified: time.Now().UTC(),
	}
	delete(s.staged, object)
	return nil
}

// WriteWhole publishes the payload as the object's full content.
func (s *Store) WriteWhole(ctx context.Context, object string, payload io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(payload)
	if err != nil {
		return fmt.Errorf("memory: read payload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	s.committed[object] = &committedObject{
		data:         data,
		contentType:  contentType,
		etag:         fmt.Sprintf("%d-%d", s.commits, len(data)),
		lastModified: time.Now().UTC(),
	}
	return nil
}

// Exists reports whether the object has been committed.
func (s *Store) Exists(ctx context.Context, object string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.committed[object]
	return ok, nil
}

// OpenRead streams a committed object.
func (s *Store) OpenRead(ctx context.Context, object string) (blobstore.ReadResult, error) {
	s.mu.Lock()
	obj, ok := s.committed[object]
	s.mu.Unlock()
	if !ok {
		return blobstore.ReadResult{}, blobstore.ErrNotFound
	}
	return blobstore.ReadResult{
		Reader: io.NopCloser(bytes.NewReader(obj.data)),
		Info: blobstore.ObjectInfo{
			Name:         object,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			ETag:         obj.etag,
			LastModified: obj.lastModified,
		},
	}, nil
}

// Delete removes a committed object if present.
func (s *Store) Delete(ctx context.Context, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.committed, object)
	return nil
}

// Close satisfies blobstore.Store.
func (s *Store) Close() error { return nil }

// StagedBlockCount reports how many blocks are staged for the object. Test
// helper.
func (s *Store) StagedBlockCount(object string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged[object])
}
