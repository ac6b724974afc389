package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/tenxso/feedd/internal/blobstore"
)

func setupFakeS3(t *testing.T) (*httptest.Server, Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	bucket := "feedd-test"
	if err := backend.CreateBucket(bucket); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	endpoint := strings.TrimPrefix(server.URL, "http://")
	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := Config{
		Endpoint:       endpoint,
		Region:         "us-east-1",
		Bucket:         bucket,
		Insecure:       true,
		ForcePathStyle: true,
	}
	return server, cfg
}

func TestStageCommitRead(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	chunks := []struct {
		id   string
		data string
	}{
		{"block-000000", "part one "},
		{"block-000001", "part two "},
		{"block-000002", "part three"},
	}
	// Stage out of order; commit order is what counts.
	for _, i := range []int{2, 0, 1} {
		c := chunks[i]
		if err := store.StageBlock(ctx, "media/v.mp4", c.id, strings.NewReader(c.data), int64(len(c.data))); err != nil {
			t.Fatalf("stage %s: %v", c.id, err)
		}
	}
	ok, err := store.Exists(ctx, "media/v.mp4")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("object visible before commit")
	}

	ids := []string{chunks[0].id, chunks[1].id, chunks[2].id}
	if err := store.CommitBlocks(ctx, "media/v.mp4", ids, "video/mp4"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	res, err := store.OpenRead(ctx, "media/v.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer res.Reader.Close()
	data := new(bytes.Buffer)
	if _, err := io.Copy(data, res.Reader); err != nil {
		t.Fatalf("read: %v", err)
	}
	if data.String() != "part one part two part three" {
		t.Fatalf("content = %q", data.String())
	}
	if res.Info.Size != int64(data.Len()) {
		t.Fatalf("size = %d, want %d", res.Info.Size, data.Len())
	}

	// Staging objects are gone after commit.
	if ok, err := store.Exists(ctx, "media/v.mp4.staging/"+chunks[0].id); err != nil || ok {
		t.Fatalf("staging object survived commit: ok=%v err=%v", ok, err)
	}
}

func TestCommitMissingBlock(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.StageBlock(ctx, "o", "block-000000", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("stage: %v", err)
	}
	err = store.CommitBlocks(ctx, "o", []string{"block-000000", "block-000001"}, "")
	if err == nil {
		t.Fatalf("expected commit error for unstaged block")
	}
	if !strings.Contains(err.Error(), "not staged") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriteWholeAndDelete(t *testing.T) {
	server, cfg := setupFakeS3(t)
	defer server.Close()

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	body := "profile picture bytes"
	if err := store.WriteWhole(ctx, "pics/p.png", strings.NewReader(body), int64(len(body)), "image/png"); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := store.OpenRead(ctx, "pics/p.png")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res.Reader.Close()
	if res.Info.ContentType != "image/png" {
		t.Fatalf("content type = %q", res.Info.ContentType)
	}
	if err := store.Delete(ctx, "pics/p.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "pics/p.png"); err != nil {
		t.Fatalf("double delete: %v", err)
	}
	if _, err := store.OpenRead(ctx, "pics/p.png"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("open deleted = %v, want ErrNotFound", err)
	}
}
