package upload

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates a malformed chunk request.
var ErrInvalidInput = errors.New("upload: invalid input")

// ErrFinalizeInProgress indicates another caller holds the session's
// finalize lease.
var ErrFinalizeInProgress = errors.New("upload: finalization already in progress")

// IncompleteError indicates finalization was attempted before all blocks of
// the session arrived.
type IncompleteError struct {
	SessionID string
	Expected  int
	Got       int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("upload: session %s incomplete: got %d of %d blocks", e.SessionID, e.Got, e.Expected)
}

// CommitError wraps a failed block-list commit. The staged blocks survive, so
// finalization can be retried.
type CommitError struct {
	SessionID string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("upload: commit session %s: %v", e.SessionID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// MetadataError wraps a metadata upsert failure after the media object was
// already committed. The committed object is kept; only the record write is
// retried.
type MetadataError struct {
	SessionID string
	Err       error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("upload: persist metadata for session %s: %v", e.SessionID, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
