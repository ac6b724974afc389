package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/tracker"
	trackmem "github.com/tenxso/feedd/internal/tracker/memory"
)

type recordingFinalizer struct {
	mu    sync.Mutex
	calls []tracker.Completion
	errs  map[string]error
	done  chan struct{}
}

func newRecordingFinalizer() *recordingFinalizer {
	return &recordingFinalizer{
		errs: make(map[string]error),
		done: make(chan struct{}, 16),
	}
}

func (f *recordingFinalizer) Finalize(ctx context.Context, comp tracker.Completion) (*metadata.Post, error) {
	f.mu.Lock()
	f.calls = append(f.calls, comp)
	err := f.errs[comp.SessionID]
	f.mu.Unlock()
	f.done <- struct{}{}
	if err != nil {
		return nil, err
	}
	return &metadata.Post{ID: "post-" + comp.SessionID}, nil
}

func (f *recordingFinalizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitCalls(t *testing.T, fin *recordingFinalizer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-fin.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for finalize call %d of %d", i+1, n)
		}
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	trk := trackmem.New(clock.Real{})
	fin := newRecordingFinalizer()
	w := NewWorker(trk, fin, time.Minute, clock.NewManual(time.Unix(0, 0)), nil)

	trk.EnqueueCompletion(ctx, tracker.Completion{SessionID: "a"})
	trk.EnqueueCompletion(ctx, tracker.Completion{SessionID: "b"})

	w.Start(ctx)
	defer w.Stop()

	// Queued items are processed back to back without waiting out the poll
	// interval.
	waitCalls(t, fin, 2)
	if got := fin.callCount(); got != 2 {
		t.Fatalf("finalize calls = %d, want 2", got)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestWorkerRetriesFailedFinalize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	trk := trackmem.New(clock.Real{})
	fin := newRecordingFinalizer()
	fin.errs["a"] = &CommitError{SessionID: "a", Err: context.DeadlineExceeded}
	w := NewWorker(trk, fin, time.Minute, clock.NewManual(time.Unix(0, 0)), nil)

	trk.EnqueueCompletion(ctx, tracker.Completion{SessionID: "a"})
	w.Start(ctx)

	// Failed completions are requeued with a bumped attempt counter until
	// the cap, then dropped.
	waitCalls(t, fin, maxFinalizeAttempts)
	w.Stop()

	if got := fin.callCount(); got != maxFinalizeAttempts {
		t.Fatalf("finalize calls = %d, want %d", got, maxFinalizeAttempts)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("exhausted completion still queued")
	}
}

func TestWorkerDropsNonRetriableOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	trk := trackmem.New(clock.Real{})
	fin := newRecordingFinalizer()
	fin.errs["busy"] = ErrFinalizeInProgress
	fin.errs["short"] = &IncompleteError{SessionID: "short", Expected: 3, Got: 1}
	w := NewWorker(trk, fin, time.Minute, clock.NewManual(time.Unix(0, 0)), nil)

	trk.EnqueueCompletion(ctx, tracker.Completion{SessionID: "busy"})
	trk.EnqueueCompletion(ctx, tracker.Completion{SessionID: "short"})
	w.Start(ctx)
	waitCalls(t, fin, 2)
	w.Stop()

	if got := fin.callCount(); got != 2 {
		t.Fatalf("finalize calls = %d, want 2", got)
	}
	if trk.QueueLen() != 0 {
		t.Fatalf("non-retriable completions were requeued")
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	t.Parallel()
	trk := trackmem.New(clock.Real{})
	w := NewWorker(trk, newRecordingFinalizer(), time.Minute, clock.NewManual(time.Unix(0, 0)), nil)
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
