// Package memory provides an in-process tracker.Tracker for tests and mem://
// deployments. TTLs are enforced lazily against the injected clock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/tracker"
)

// DefaultIdleTTL matches the Redis tracker's idle expiry for chunk sets.
const DefaultIdleTTL = 24 * time.Hour

type session struct {
	blocks    map[string]struct{}
	expiresAt time.Time
}

// Tracker implements tracker.Tracker in process memory.
type Tracker struct {
	mu       sync.Mutex
	clk      clock.Clock
	idleTTL  time.Duration
	sessions map[string]*session
	leases   map[string]time.Time
	queue    []tracker.Completion
}

// New constructs a Tracker using the supplied clock.
func New(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{
		clk:      clk,
		idleTTL:  DefaultIdleTTL,
		sessions: make(map[string]*session),
		leases:   make(map[string]time.Time),
	}
}

// SetIdleTTL overrides the chunk-set idle expiry.
func (t *Tracker) SetIdleTTL(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idleTTL = d
}

func (t *Tracker) liveSession(sessionID string) *session {
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	if !s.expiresAt.After(t.clk.Now()) {
		delete(t.sessions, sessionID)
		return nil
	}
	return s
}

// AddBlock records the block and returns the distinct block count. The
// session's idle expiry is refreshed.
func (t *Tracker) AddBlock(ctx context.Context, sessionID, blockID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.liveSession(sessionID)
	if s == nil {
		s = &session{blocks: make(map[string]struct{})}
		t.sessions[sessionID] = s
	}
	s.blocks[blockID] = struct{}{}
	s.expiresAt = t.clk.Now().Add(t.idleTTL)
	return int64(len(s.blocks)), nil
}

// Blocks returns the session's recorded block ids.
func (t *Tracker) Blocks(ctx context.Context, sessionID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.liveSession(sessionID)
	if s == nil {
		return nil, nil
	}
	ids := make([]string, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteSession discards the session's progress state.
func (t *Tracker) DeleteSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
	return nil
}

// TryAcquireLease claims the finalize lease unless a live holder exists.
func (t *Tracker) TryAcquireLease(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	if until, ok := t.leases[sessionID]; ok && until.After(now) {
		return false, nil
	}
	t.leases[sessionID] = now.Add(ttl)
	return true, nil
}

// ReleaseLease drops the finalize lease.
func (t *Tracker) ReleaseLease(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.leases, sessionID)
	return nil
}

// EnqueueCompletion appends to the in-memory finalization queue.
func (t *Tracker) EnqueueCompletion(ctx context.Context, c tracker.Completion) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, c)
	return nil
}

// DequeueCompletion pops the oldest queued completion.
func (t *Tracker) DequeueCompletion(ctx context.Context) (tracker.Completion, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return tracker.Completion{}, false, nil
	}
	c := t.queue[0]
	t.queue = t.queue[1:]
	return c, true, nil
}

// Close satisfies tracker.Tracker.
func (t *Tracker) Close() error { return nil }

// QueueLen reports the number of pending completions. Test helper.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
