package upload

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	blobmem "github.com/tenxso/feedd/internal/blobstore/memory"
	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/metadata"
	metamem "github.com/tenxso/feedd/internal/metadata/memory"
	"github.com/tenxso/feedd/internal/tracker"
	trackmem "github.com/tenxso/feedd/internal/tracker/memory"
)

type coordFixture struct {
	store *blobmem.Store
	trk   *trackmem.Tracker
	meta  *metamem.Store
	clk   *clock.Manual
	coord *Coordinator
}

func newFixture(t *testing.T, cfg Config) *coordFixture {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	f := &coordFixture{
		store: blobmem.New(),
		trk:   trackmem.New(clk),
		meta:  metamem.New(),
		clk:   clk,
	}
	if cfg.MediaCDNBase == "" {
		cfg.MediaCDNBase = "https://cdn.example/media/"
	}
	f.coord = NewCoordinator(f.store, f.trk, f.meta, cfg, clk, nil)
	return f
}

func (f *coordFixture) chunk(ordinal, total int, data string) Chunk {
	return Chunk{
		SessionID:   "sess-1",
		Ordinal:     ordinal,
		Total:       total,
		Object:      "vid.mp4",
		ContentType: "video/mp4",
		Caption:     "first light",
		AuthorID:    "user-1",
		AuthorName:  "Brave_Renard",
		Payload:     strings.NewReader(data),
		Size:        int64(len(data)),
	}
}

func readObject(t *testing.T, store *blobmem.Store, object string) string {
	t.Helper()
	res, err := store.OpenRead(context.Background(), object)
	if err != nil {
		t.Fatalf("open %s: %v", object, err)
	}
	defer res.Reader.Close()
	data, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read %s: %v", object, err)
	}
	return string(data)
}

func TestIngestOutOfOrderFinalizes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	parts := []string{"alpha ", "beta ", "gamma"}
	// Arrival order 2, 0, 1; content order must still be 0, 1, 2.
	for _, i := range []int{2, 0} {
		res, err := f.coord.Ingest(ctx, f.chunk(i, 3, parts[i]))
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if res.Complete {
			t.Fatalf("session complete after %d blocks", res.Received)
		}
	}
	res, err := f.coord.Ingest(ctx, f.chunk(1, 3, parts[1]))
	if err != nil {
		t.Fatalf("ingest final: %v", err)
	}
	if !res.Complete || res.Post == nil {
		t.Fatalf("expected synchronous finalization, got %+v", res)
	}

	if got := readObject(t, f.store, "vid.mp4"); got != "alpha beta gamma" {
		t.Fatalf("object content = %q", got)
	}
	if res.Post.MediaURL != "https://cdn.example/media/vid.mp4" {
		t.Fatalf("media url = %q", res.Post.MediaURL)
	}
	if res.Post.AuthorID != "user-1" || res.Post.Caption != "first light" {
		t.Fatalf("post = %+v", res.Post)
	}
	posts, _ := f.meta.RecentPosts(ctx, 10)
	if len(posts) != 1 || posts[0].ID != res.Post.ID {
		t.Fatalf("persisted posts = %+v", posts)
	}
	wantSum := fmt.Sprintf("%08x", crc32.Checksum([]byte("alpha beta gamma"), crcTable))
	if posts[0].Checksum != wantSum {
		t.Fatalf("checksum = %q, want %q", posts[0].Checksum, wantSum)
	}
	// Session state is gone.
	blocks, _ := f.trk.Blocks(ctx, "sess-1")
	if len(blocks) != 0 {
		t.Fatalf("session blocks survived finalize: %v", blocks)
	}
}

func TestIngestManyChunksRestoresByteOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	// Enough chunks that any ordering scheme weaker than numeric ordinal
	// order would scramble the payload.
	const total = 12
	parts := make([]string, total)
	var want strings.Builder
	for i := range parts {
		parts[i] = fmt.Sprintf("<part-%02d>", i)
		want.WriteString(parts[i])
	}
	order := rand.Perm(total)
	var final *IngestResult
	for _, i := range order {
		res, err := f.coord.Ingest(ctx, f.chunk(i, total, parts[i]))
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if res.Complete {
			final = &res
		}
	}
	if final == nil || final.Post == nil {
		t.Fatalf("session never finalized")
	}
	if got := readObject(t, f.store, "vid.mp4"); got != want.String() {
		t.Fatalf("committed content = %q, want %q", got, want.String())
	}
}

func TestReplayAfterFinalizeIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	res, err := f.coord.Ingest(ctx, f.chunk(0, 1, "solo"))
	if err != nil || res.Post == nil {
		t.Fatalf("ingest = %+v, %v", res, err)
	}

	// A stale client retries the chunk after the session finished. The
	// target is committed, so the retry must not restart the session or
	// publish a second post.
	_, err = f.coord.Ingest(ctx, f.chunk(0, 1, "solo"))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("replay err = %v, want ErrInvalidInput", err)
	}
	posts, _ := f.meta.RecentPosts(ctx, 10)
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	blocks, _ := f.trk.Blocks(ctx, "sess-1")
	if len(blocks) != 0 {
		t.Fatalf("replay left a tracking set: %v", blocks)
	}
}

func TestReplayAfterFinalizeLeavesNoSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 2, "aa")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res, err := f.coord.Ingest(ctx, f.chunk(1, 2, "bb"))
	if err != nil || res.Post == nil {
		t.Fatalf("finalize = %+v, %v", res, err)
	}

	// A mid-session chunk replayed after cleanup finds an empty set; it must
	// not re-seed tracking state for a committed target.
	if _, err := f.coord.Ingest(ctx, f.chunk(1, 2, "bb")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("replay err = %v, want ErrInvalidInput", err)
	}
	blocks, _ := f.trk.Blocks(ctx, "sess-1")
	if len(blocks) != 0 {
		t.Fatalf("replay left a tracking set: %v", blocks)
	}
}

func TestDuplicateChunkDoesNotTriggerEarly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 3, "a")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// Retry of the same chunk collapses into one tracked block.
	res, err := f.coord.Ingest(ctx, f.chunk(0, 3, "a"))
	if err != nil {
		t.Fatalf("ingest dup: %v", err)
	}
	if res.Received != 1 || res.Complete {
		t.Fatalf("dup result = %+v", res)
	}
	if _, err := f.coord.Ingest(ctx, f.chunk(2, 3, "c")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res, err = f.coord.Ingest(ctx, f.chunk(1, 3, "b"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Complete {
		t.Fatalf("expected completion on third distinct block")
	}
	if got := readObject(t, f.store, "vid.mp4"); got != "abc" {
		t.Fatalf("object content = %q", got)
	}
}

func TestIngestValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	bad := []Chunk{
		{Ordinal: 0, Total: 1, Object: "o", Payload: strings.NewReader("x")},                        // no session
		{SessionID: "s", Ordinal: 0, Total: 1, Payload: strings.NewReader("x")},                     // no object
		{SessionID: "s", Object: "o", Ordinal: 0, Total: 0, Payload: strings.NewReader("x")},        // bad total
		{SessionID: "s", Object: "o", Ordinal: -1, Total: 2, Payload: strings.NewReader("x")},       // negative index
		{SessionID: "s", Object: "o", Ordinal: 2, Total: 2, Payload: strings.NewReader("x")},        // index out of range
		{SessionID: "s", Object: "o", Ordinal: 0, Total: 1},                                         // no payload
	}
	for i, chunk := range bad {
		if _, err := f.coord.Ingest(ctx, chunk); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestAsyncFinalizeQueuesCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{AsyncFinalize: true})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 2, "aa")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	res, err := f.coord.Ingest(ctx, f.chunk(1, 2, "bb"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Complete || !res.Queued || res.Post != nil {
		t.Fatalf("result = %+v, want queued completion", res)
	}
	// Nothing committed yet.
	if ok, _ := f.store.Exists(ctx, "vid.mp4"); ok {
		t.Fatalf("object committed before worker ran")
	}

	comp, ok, err := f.trk.DequeueCompletion(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue = %v, %v", ok, err)
	}
	if comp.SessionID != "sess-1" || comp.ExpectedBlocks != 2 || comp.Object != "vid.mp4" {
		t.Fatalf("completion = %+v", comp)
	}
	post, err := f.coord.Finalize(ctx, comp)
	if err != nil || post == nil {
		t.Fatalf("finalize = %+v, %v", post, err)
	}
	if got := readObject(t, f.store, "vid.mp4"); got != "aabb" {
		t.Fatalf("object content = %q", got)
	}
}

func TestFinalizeLeaseContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 2, "a")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// Another holder grabs the lease before the last chunk lands.
	if ok, _ := f.trk.TryAcquireLease(ctx, "sess-1", time.Hour); !ok {
		t.Fatalf("setup lease acquire failed")
	}
	_, err := f.coord.Ingest(ctx, f.chunk(1, 2, "b"))
	if !errors.Is(err, ErrFinalizeInProgress) {
		t.Fatalf("err = %v, want ErrFinalizeInProgress", err)
	}

	// Once the holder releases, finalization goes through.
	f.trk.ReleaseLease(ctx, "sess-1")
	post, err := f.coord.Finalize(ctx, tracker.Completion{
		SessionID:      "sess-1",
		Object:         "vid.mp4",
		ContentType:    "video/mp4",
		ExpectedBlocks: 2,
	})
	if err != nil || post == nil {
		t.Fatalf("finalize after release = %+v, %v", post, err)
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 3, "a")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	_, err := f.coord.Finalize(ctx, tracker.Completion{
		SessionID:      "sess-1",
		Object:         "vid.mp4",
		ExpectedBlocks: 3,
	})
	var incomplete *IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("err = %v, want IncompleteError", err)
	}
	if incomplete.Expected != 3 || incomplete.Got != 1 {
		t.Fatalf("incomplete = %+v", incomplete)
	}
	// The lease was released, so a later complete finalize is possible.
	if ok, _ := f.trk.TryAcquireLease(ctx, "sess-1", time.Hour); !ok {
		t.Fatalf("lease still held after failed finalize")
	}
}

func TestFinalizeDuplicateAfterCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	if _, err := f.coord.Ingest(ctx, f.chunk(0, 1, "solo")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// A stale duplicate trigger arrives after session cleanup.
	post, err := f.coord.Finalize(ctx, tracker.Completion{
		SessionID:      "sess-1",
		Object:         "vid.mp4",
		ExpectedBlocks: 1,
	})
	if err != nil {
		t.Fatalf("duplicate finalize: %v", err)
	}
	if post != nil {
		t.Fatalf("duplicate finalize produced a second post: %+v", post)
	}
	posts, _ := f.meta.RecentPosts(ctx, 10)
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
}

type failingMeta struct {
	*metamem.Store
	fail bool
}

func (m *failingMeta) UpsertPost(ctx context.Context, post metadata.Post) error {
	if m.fail {
		return fmt.Errorf("simulated outage")
	}
	return m.Store.UpsertPost(ctx, post)
}

func TestMetadataFailureIsRetriable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	store := blobmem.New()
	trk := trackmem.New(clk)
	meta := &failingMeta{Store: metamem.New(), fail: true}
	coord := NewCoordinator(store, trk, meta, Config{MediaCDNBase: "https://cdn.example/media/"}, clk, nil)

	chunk := Chunk{
		SessionID: "sess-1", Ordinal: 0, Total: 1,
		Object: "vid.mp4", ContentType: "video/mp4",
		AuthorID: "user-1",
		Payload:  strings.NewReader("data"), Size: 4,
	}
	_, err := coord.Ingest(ctx, chunk)
	var metaErr *MetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("err = %v, want MetadataError", err)
	}
	// Object is committed, session state retained for retry.
	if ok, _ := store.Exists(ctx, "vid.mp4"); !ok {
		t.Fatalf("object missing after commit")
	}
	blocks, _ := trk.Blocks(ctx, "sess-1")
	if len(blocks) != 1 {
		t.Fatalf("session state dropped: %v", blocks)
	}

	meta.fail = false
	post, err := coord.Finalize(ctx, tracker.Completion{
		SessionID:      "sess-1",
		Object:         "vid.mp4",
		ContentType:    "video/mp4",
		ExpectedBlocks: 1,
		AuthorID:       "user-1",
	})
	if err != nil || post == nil {
		t.Fatalf("retry finalize = %+v, %v", post, err)
	}
	blocks, _ = trk.Blocks(ctx, "sess-1")
	if len(blocks) != 0 {
		t.Fatalf("session state survived retry: %v", blocks)
	}
}

func TestObjectInvisibleBeforeLastChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, Config{})

	for _, i := range []int{0, 1} {
		if _, err := f.coord.Ingest(ctx, f.chunk(i, 3, "x")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		if ok, _ := f.store.Exists(ctx, "vid.mp4"); ok {
			t.Fatalf("object visible after %d of 3 chunks", i+1)
		}
	}
	if _, err := f.coord.Ingest(ctx, f.chunk(2, 3, "x")); err != nil {
		t.Fatalf("ingest last: %v", err)
	}
	if ok, _ := f.store.Exists(ctx, "vid.mp4"); !ok {
		t.Fatalf("object missing after completion")
	}
}
