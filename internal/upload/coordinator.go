// Package upload implements the chunked upload coordinator: staging incoming
// chunks as blocks, tracking arrivals, and finalizing complete sessions into
// a single committed media object plus a feed post record.
package upload

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"time"

	"pkt.systems/pslog"

	"github.com/tenxso/feedd/internal/blobstore"
	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/identity"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/tracker"
)

// Castagnoli table for finalize checksums.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Config tunes coordinator behaviour.
type Config struct {
	// LeaseTTL bounds how long a crashed finalizer blocks a session.
	LeaseTTL time.Duration
	// MediaCDNBase prefixes committed object names to build public media
	// URLs.
	MediaCDNBase string
	// AsyncFinalize queues complete sessions for the background worker
	// instead of finalizing on the ingest path.
	AsyncFinalize bool
}

// Coordinator drives a chunked upload session from first chunk to committed
// object.
type Coordinator struct {
	store   blobstore.Store
	tracker tracker.Tracker
	meta    metadata.Store
	clk     clock.Clock
	logger  pslog.Logger
	cfg     Config
}

// NewCoordinator wires the coordinator. clk and logger may be nil.
func NewCoordinator(store blobstore.Store, trk tracker.Tracker, meta metadata.Store, cfg Config, clk clock.Clock, logger pslog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Hour
	}
	return &Coordinator{
		store:   store,
		tracker: trk,
		meta:    meta,
		clk:     clk,
		logger:  logger.With(pslog.TrustedString("sys"), "upload.coordinator"),
		cfg:     cfg,
	}
}

// Chunk is one slice of an upload session together with the session
// descriptor. Every chunk carries the descriptor, so any chunk of the session
// can be the one that triggers finalization.
type Chunk struct {
	SessionID   string
	Ordinal     int
	Total       int
	Object      string
	ContentType string

	Caption      string
	AuthorID     string
	AuthorName   string
	AuthorPicURL string

	Payload io.Reader
	Size    int64
}

func (c Chunk) validate() error {
	switch {
	case c.SessionID == "":
		return fmt.Errorf("%w: session id required", ErrInvalidInput)
	case c.Object == "":
		return fmt.Errorf("%w: object name required", ErrInvalidInput)
	case c.Total <= 0:
		return fmt.Errorf("%w: total chunks must be positive", ErrInvalidInput)
	case c.Ordinal < 0:
		return fmt.Errorf("%w: chunk index must not be negative", ErrInvalidInput)
	case c.Ordinal >= c.Total:
		return fmt.Errorf("%w: chunk index %d out of range for %d chunks", ErrInvalidInput, c.Ordinal, c.Total)
	case c.Payload == nil:
		return fmt.Errorf("%w: chunk payload required", ErrInvalidInput)
	}
	return nil
}

// IngestResult reports what happened to one chunk.
type IngestResult struct {
	BlockID  string
	Received int64
	Complete bool
	// Queued is set when the session completed and was handed to the
	// background worker.
	Queued bool
	// Post is set when the session was finalized synchronously.
	Post *metadata.Post
}

// Ingest stages one chunk. When the distinct block count reaches the
// session's total, the session is finalized, either inline or via the
// completion queue.
//
// Staging before tracking keeps the arrival set conservative: a block is only
// ever recorded after its bytes are durable, so the completion trigger cannot
// fire with a missing block.
func (c *Coordinator) Ingest(ctx context.Context, chunk Chunk) (IngestResult, error) {
	if err := chunk.validate(); err != nil {
		return IngestResult{}, err
	}
	blockID := BlockID(chunk.Ordinal)
	logger := c.logger.With("session_id", chunk.SessionID, "block_id", blockID)

	if err := c.store.StageBlock(ctx, chunk.Object, blockID, chunk.Payload, chunk.Size); err != nil {
		return IngestResult{}, fmt.Errorf("stage block: %w", err)
	}
	received, err := c.tracker.AddBlock(ctx, chunk.SessionID, blockID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("track block: %w", err)
	}
	if received == 1 {
		// A first block against an already-committed target is a replay of a
		// finished session, not a new upload. Reject it before it can mint a
		// dangling tracking set or a duplicate post.
		exists, err := c.store.Exists(ctx, chunk.Object)
		if err != nil {
			return IngestResult{}, fmt.Errorf("check target object: %w", err)
		}
		if exists {
			if err := c.tracker.DeleteSession(ctx, chunk.SessionID); err != nil {
				logger.Warn("upload.chunk.replay_cleanup_error", "error", err)
			}
			return IngestResult{}, fmt.Errorf("%w: session %s is no longer tracked (target already committed)", ErrInvalidInput, chunk.SessionID)
		}
	}
	logger.Debug("upload.chunk.staged", "received", received, "total", chunk.Total)

	result := IngestResult{BlockID: blockID, Received: received}
	if received < int64(chunk.Total) {
		return result, nil
	}
	result.Complete = true

	completion := tracker.Completion{
		SessionID:      chunk.SessionID,
		Object:         chunk.Object,
		ContentType:    chunk.ContentType,
		ExpectedBlocks: chunk.Total,
		AuthorID:       chunk.AuthorID,
		AuthorName:     chunk.AuthorName,
		AuthorPicURL:   chunk.AuthorPicURL,
		Text:           chunk.Caption,
		EnqueuedAt:     c.clk.Now(),
	}
	if c.cfg.AsyncFinalize {
		if err := c.tracker.EnqueueCompletion(ctx, completion); err != nil {
			return result, fmt.Errorf("enqueue completion: %w", err)
		}
		logger.Info("upload.session.queued", "expected_blocks", chunk.Total)
		result.Queued = true
		return result, nil
	}
	post, err := c.Finalize(ctx, completion)
	if err != nil {
		return result, err
	}
	result.Post = post
	return result, nil
}

// Finalize commits a complete session: acquire the finalize lease, restore
// block order, commit the block list, persist the feed post, and discard
// session state. Returns the persisted post, or nil when the session was
// already finalized.
func (c *Coordinator) Finalize(ctx context.Context, comp tracker.Completion) (*metadata.Post, error) {
	logger := c.logger.With("session_id", comp.SessionID, "object", comp.Object)

	ok, err := c.tracker.TryAcquireLease(ctx, comp.SessionID, c.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire finalize lease: %w", err)
	}
	if !ok {
		return nil, ErrFinalizeInProgress
	}
	defer func() {
		if err := c.tracker.ReleaseLease(context.WithoutCancel(ctx), comp.SessionID); err != nil {
			logger.Warn("upload.finalize.release_lease_error", "error", err)
		}
	}()

	blocks, err := c.tracker.Blocks(ctx, comp.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list session blocks: %w", err)
	}
	if len(blocks) == 0 {
		// Duplicate trigger after cleanup: if the object is already durable
		// this finalization already happened.
		exists, err := c.store.Exists(ctx, comp.Object)
		if err == nil && exists {
			logger.Debug("upload.finalize.already_done")
			return nil, nil
		}
	}
	if len(blocks) != comp.ExpectedBlocks {
		return nil, &IncompleteError{SessionID: comp.SessionID, Expected: comp.ExpectedBlocks, Got: len(blocks)}
	}

	// Block ids are fixed width, so a lexicographic sort restores ordinal
	// order regardless of arrival order.
	sort.Strings(blocks)

	if err := c.store.CommitBlocks(ctx, comp.Object, blocks, comp.ContentType); err != nil {
		return nil, &CommitError{SessionID: comp.SessionID, Err: err}
	}
	logger.Info("upload.finalize.committed", "blocks", len(blocks))

	post := &metadata.Post{
		ID:           identity.NewPostID(),
		AuthorID:     comp.AuthorID,
		AuthorName:   comp.AuthorName,
		AuthorPicURL: comp.AuthorPicURL,
		MediaURL:     c.cfg.MediaCDNBase + comp.Object,
		Caption:      comp.Text,
		Checksum:     c.objectChecksum(ctx, logger, comp.Object),
		CreatedAt:    c.clk.Now(),
	}
	if err := c.meta.UpsertPost(ctx, *post); err != nil {
		// Session state is kept so a retry can re-commit (idempotent) and
		// re-attempt the record write.
		return nil, &MetadataError{SessionID: comp.SessionID, Err: err}
	}

	if err := c.tracker.DeleteSession(ctx, comp.SessionID); err != nil {
		logger.Warn("upload.finalize.cleanup_error", "error", err)
	}
	logger.Info("upload.finalize.done", "post_id", post.ID)
	return post, nil
}

// objectChecksum streams the committed object and returns its CRC32-C as hex.
// A failed read yields an empty checksum rather than failing the finalize.
func (c *Coordinator) objectChecksum(ctx context.Context, logger pslog.Logger, object string) string {
	res, err := c.store.OpenRead(ctx, object)
	if err != nil {
		logger.Debug("upload.finalize.checksum_skipped", "error", err)
		return ""
	}
	defer res.Reader.Close()
	h := crc32.New(crcTable)
	n, err := io.Copy(h, res.Reader)
	if err != nil {
		logger.Debug("upload.finalize.checksum_skipped", "error", err)
		return ""
	}
	sum := fmt.Sprintf("%08x", h.Sum32())
	logger.Debug("upload.finalize.checksum", "crc32c", sum, "bytes", n)
	return sum
}
