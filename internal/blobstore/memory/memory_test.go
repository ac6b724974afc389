package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tenxso/feedd/internal/blobstore"
)

func TestStageAndCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()

	if err := s.StageBlock(ctx, "media/a.mp4", "b2", strings.NewReader("world"), 5); err != nil {
		t.Fatalf("stage b2: %v", err)
	}
	if err := s.StageBlock(ctx, "media/a.mp4", "b1", strings.NewReader("hello "), 6); err != nil {
		t.Fatalf("stage b1: %v", err)
	}
	ok, err := s.Exists(ctx, "media/a.mp4")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("staged blocks must not be visible before commit")
	}
	if err := s.CommitBlocks(ctx, "media/a.mp4", []string{"b1", "b2"}, "video/mp4"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := s.StagedBlockCount("media/a.mp4"); got != 0 {
		t.Fatalf("staged blocks after commit = %d, want 0", got)
	}

	res, err := s.OpenRead(ctx, "media/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer res.Reader.Close()
	data, err := io.ReadAll(res.Reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content = %q, want %q", data, "hello world")
	}
	if res.Info.ContentType != "video/mp4" {
		t.Fatalf("content type = %q", res.Info.ContentType)
	}
	if res.Info.Size != int64(len(data)) {
		t.Fatalf("size = %d, want %d", res.Info.Size, len(data))
	}
}

func TestCommitMissingBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	if err := s.StageBlock(ctx, "o", "b1", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.CommitBlocks(ctx, "o", []string{"b1", "b2"}, ""); err == nil {
		t.Fatalf("expected commit error for unstaged block")
	}
}

func TestRestageReplacesBlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	if err := s.StageBlock(ctx, "o", "b1", strings.NewReader("old"), 3); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := s.StageBlock(ctx, "o", "b1", strings.NewReader("new"), 3); err != nil {
		t.Fatalf("restage: %v", err)
	}
	if err := s.CommitBlocks(ctx, "o", []string{"b1"}, ""); err != nil {
		t.Fatalf("commit: %v", err)
	}
	res, err := s.OpenRead(ctx, "o")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer res.Reader.Close()
	data, _ := io.ReadAll(res.Reader)
	if string(data) != "new" {
		t.Fatalf("content = %q, want new", data)
	}
}

func TestWriteWholeAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	if err := s.WriteWhole(ctx, "img", strings.NewReader("png"), 3, "image/png"); err != nil {
		t.Fatalf("write: %v", err)
	}
	ok, _ := s.Exists(ctx, "img")
	if !ok {
		t.Fatalf("object missing after WriteWhole")
	}
	if err := s.Delete(ctx, "img"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "img"); err != nil {
		t.Fatalf("double delete: %v", err)
	}
	if _, err := s.OpenRead(ctx, "img"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("open deleted = %v, want ErrNotFound", err)
	}
}
