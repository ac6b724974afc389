// Package tracker defines the shared-state boundary for chunked uploads:
// which blocks of a session have arrived, which session is being finalized,
// and which completed sessions await background finalization.
package tracker

import (
	"context"
	"time"
)

// Completion describes a fully received upload session queued for
// finalization. It carries everything the worker needs so finalization does
// not depend on the original HTTP request being alive.
type Completion struct {
	SessionID      string    `json:"session_id"`
	Object         string    `json:"object"`
	ContentType    string    `json:"content_type,omitempty"`
	ExpectedBlocks int       `json:"expected_blocks"`
	AuthorID       string    `json:"author_id,omitempty"`
	AuthorName     string    `json:"author_name,omitempty"`
	AuthorPicURL   string    `json:"author_pic_url,omitempty"`
	Text           string    `json:"text,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts,omitempty"`
}

// Tracker records upload progress shared across server instances.
//
// Block arrival is tracked as a set, so duplicate deliveries of the same
// block collapse to one member and retries stay idempotent. The finalize
// lease is a TTL-guarded flag granting one caller the right to finalize a
// session; the TTL bounds how long a crashed finalizer can block progress.
type Tracker interface {
	// AddBlock records a staged block and returns the number of distinct
	// blocks seen for the session so far.
	AddBlock(ctx context.Context, sessionID, blockID string) (int64, error)

	// Blocks returns the distinct block ids recorded for the session, in no
	// particular order.
	Blocks(ctx context.Context, sessionID string) ([]string, error)

	// DeleteSession discards all progress state for the session.
	DeleteSession(ctx context.Context, sessionID string) error

	// TryAcquireLease attempts to claim the finalize lease for the session.
	// Returns false when another holder already has it.
	TryAcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)

	// ReleaseLease releases the finalize lease. Releasing an expired or
	// absent lease is not an error.
	ReleaseLease(ctx context.Context, sessionID string) error

	// EnqueueCompletion appends a completed session to the finalization
	// queue.
	EnqueueCompletion(ctx context.Context, c Completion) error

	// DequeueCompletion pops the oldest queued completion. ok is false when
	// the queue is empty.
	DequeueCompletion(ctx context.Context) (c Completion, ok bool, err error)

	// Close releases any resources held by the tracker.
	Close() error
}
