package memory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/tracker"
)

func TestAddBlockCountsDistinct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := New(clock.Real{})

	n, err := tr.AddBlock(ctx, "s1", "block-000000")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	// Duplicate delivery does not inflate the count.
	if n, _ = tr.AddBlock(ctx, "s1", "block-000000"); n != 1 {
		t.Fatalf("count after dup = %d, want 1", n)
	}
	if n, _ = tr.AddBlock(ctx, "s1", "block-000001"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	blocks, err := tr.Blocks(ctx, "s1")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	sort.Strings(blocks)
	if len(blocks) != 2 || blocks[0] != "block-000000" || blocks[1] != "block-000001" {
		t.Fatalf("blocks = %v", blocks)
	}
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := New(clock.Real{})
	tr.AddBlock(ctx, "s1", "b")
	if err := tr.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	blocks, _ := tr.Blocks(ctx, "s1")
	if len(blocks) != 0 {
		t.Fatalf("blocks after delete = %v", blocks)
	}
	// Session restarts from zero.
	if n, _ := tr.AddBlock(ctx, "s1", "b"); n != 1 {
		t.Fatalf("count after restart = %d, want 1", n)
	}
}

func TestLeaseMutualExclusionAndExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	tr := New(clk)

	ok, err := tr.TryAcquireLease(ctx, "s1", time.Hour)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ = tr.TryAcquireLease(ctx, "s1", time.Hour); ok {
		t.Fatalf("second acquire succeeded while lease held")
	}
	// Independent sessions do not contend.
	if ok, _ = tr.TryAcquireLease(ctx, "s2", time.Hour); !ok {
		t.Fatalf("unrelated session blocked")
	}

	clk.Advance(time.Hour + time.Second)
	if ok, _ = tr.TryAcquireLease(ctx, "s1", time.Hour); !ok {
		t.Fatalf("acquire after expiry failed")
	}

	if err := tr.ReleaseLease(ctx, "s1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ = tr.TryAcquireLease(ctx, "s1", time.Hour); !ok {
		t.Fatalf("acquire after release failed")
	}
}

func TestChunkSetIdleExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	tr := New(clk)
	tr.SetIdleTTL(time.Minute)

	tr.AddBlock(ctx, "s1", "b0")
	clk.Advance(30 * time.Second)
	// Activity refreshes the expiry.
	tr.AddBlock(ctx, "s1", "b1")
	clk.Advance(45 * time.Second)
	blocks, _ := tr.Blocks(ctx, "s1")
	if len(blocks) != 2 {
		t.Fatalf("blocks = %v, want 2 after refresh", blocks)
	}

	clk.Advance(time.Minute)
	blocks, _ = tr.Blocks(ctx, "s1")
	if len(blocks) != 0 {
		t.Fatalf("blocks = %v, want expired", blocks)
	}
}

func TestCompletionQueueFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := New(clock.Real{})

	if _, ok, err := tr.DequeueCompletion(ctx); err != nil || ok {
		t.Fatalf("dequeue empty = %v, %v", ok, err)
	}
	tr.EnqueueCompletion(ctx, tracker.Completion{SessionID: "a"})
	tr.EnqueueCompletion(ctx, tracker.Completion{SessionID: "b"})
	c, ok, err := tr.DequeueCompletion(ctx)
	if err != nil || !ok || c.SessionID != "a" {
		t.Fatalf("first dequeue = %+v, %v, %v", c, ok, err)
	}
	c, ok, _ = tr.DequeueCompletion(ctx)
	if !ok || c.SessionID != "b" {
		t.Fatalf("second dequeue = %+v, %v", c, ok)
	}
	if _, ok, _ = tr.DequeueCompletion(ctx); ok {
		t.Fatalf("queue not drained")
	}
}
