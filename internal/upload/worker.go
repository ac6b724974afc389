package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/tracker"
)

// DefaultPollInterval is how long the worker idles when the completion queue
// is empty.
const DefaultPollInterval = time.Second

// maxFinalizeAttempts bounds retries of a completion that keeps failing.
const maxFinalizeAttempts = 5

// Finalizer finalizes a complete upload session.
type Finalizer interface {
	Finalize(ctx context.Context, comp tracker.Completion) (*metadata.Post, error)
}

// Worker drains the completion queue and finalizes sessions in the
// background.
type Worker struct {
	tracker   tracker.Tracker
	finalizer Finalizer
	clk       clock.Clock
	logger    pslog.Logger
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a Worker. clk and logger may be nil.
func NewWorker(trk tracker.Tracker, fin Finalizer, interval time.Duration, clk clock.Clock, logger pslog.Logger) *Worker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		tracker:   trk,
		finalizer: fin,
		clk:       clk,
		logger:    logger.With(pslog.TrustedString("sys"), "upload.worker"),
		interval:  interval,
	}
}

// Start launches the poll loop. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	w.logger.Info("upload.worker.started", "poll_interval", w.interval)
}

// Stop cancels the poll loop and waits for in-flight finalization to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logger.Info("upload.worker.stopped")
}

func (w *Worker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		comp, ok, err := w.tracker.DequeueCompletion(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("upload.worker.dequeue_error", "error", err)
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if !ok {
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		w.process(ctx, comp)
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.clk.After(w.interval):
		return true
	}
}

func (w *Worker) process(ctx context.Context, comp tracker.Completion) {
	logger := w.logger.With("session_id", comp.SessionID, "object", comp.Object, "attempts", comp.Attempts)

	_, err := w.finalizer.Finalize(ctx, comp)
	if err == nil {
		logger.Debug("upload.worker.finalized")
		return
	}

	var incomplete *IncompleteError
	switch {
	case errors.Is(err, ErrFinalizeInProgress):
		// Someone else holds the lease; their finalization covers this item.
		logger.Debug("upload.worker.finalize_in_progress")
	case errors.As(err, &incomplete):
		logger.Warn("upload.worker.incomplete_session",
			"expected", incomplete.Expected, "got", incomplete.Got)
	default:
		logger.Error("upload.worker.finalize_error", "error", err)
		w.retry(ctx, comp)
	}
}

func (w *Worker) retry(ctx context.Context, comp tracker.Completion) {
	comp.Attempts++
	if comp.Attempts >= maxFinalizeAttempts {
		w.logger.Error("upload.worker.giving_up",
			"session_id", comp.SessionID, "attempts", comp.Attempts)
		return
	}
	if err := w.tracker.EnqueueCompletion(ctx, comp); err != nil {
		w.logger.Error("upload.worker.requeue_error",
			"session_id", comp.SessionID, "error", err)
	}
}
