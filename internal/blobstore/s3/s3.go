// Package s3 implements blobstore.Store on S3-compatible object storage.
//
// S3 has no native uncommitted-block list, so blocks are staged as individual
// objects under a hidden staging prefix and composed into the final object on
// commit. The staging objects are removed once the composed object is durable.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tenxso/feedd/internal/blobstore"
)

// Config controls the behaviour of the S3 backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	PartSize       int64
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
}

// Store implements blobstore.Store backed by S3-compatible object storage.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	var creds *credentials.Credentials
	if cfg.CustomCreds != nil {
		creds = cfg.CustomCreds
	} else {
		chain := []credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}
		creds = credentials.NewChainCredentials(chain)
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{client: client, cfg: cfg}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConns == 0 {
		clone.MaxIdleConns = 256
	}
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 64
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	if clone.ExpectContinueTimeout == 0 {
		clone.ExpectContinueTimeout = 1 * time.Second
	}
	return clone
}

// Client exposes the underlying MinIO client for diagnostics.
func (s *Store) Client() *minio.Client {
	return s.client
}

func (s *Store) objectKey(object string) string {
	object = strings.TrimPrefix(object, "/")
	if s.cfg.Prefix == "" {
		return object
	}
	return path.Join(s.cfg.Prefix, object)
}

func (s *Store) stagingKey(object, blockID string) string {
	return s.objectKey(object) + ".staging/" + blockID
}

// StageBlock uploads the block as a staging object keyed by blockID.
func (s *Store) StageBlock(ctx context.Context, object, blockID string, payload io.Reader, size int64) error {
	if object == "" {
		return fmt.Errorf("s3: object name required")
	}
	if blockID == "" {
		return fmt.Errorf("s3: block id required")
	}
	opts := minio.PutObjectOptions{}
	if s.cfg.PartSize > 0 {
		opts.PartSize = uint64(s.cfg.PartSize)
	}
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.stagingKey(object, blockID), payload, size, opts)
	if err != nil {
		return fmt.Errorf("s3: stage block: %w", err)
	}
	return nil
}

// CommitBlocks streams the staged blocks in order into the final object, then
// removes the staging objects. The final PutObject is atomic; readers never
// observe a partially composed object.
func (s *Store) CommitBlocks(ctx context.Context, object string, orderedBlockIDs []string, contentType string) error {
	var total int64
	for _, id := range orderedBlockIDs {
		stat, err := s.client.StatObject(ctx, s.cfg.Bucket, s.stagingKey(object, id), minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				// Re-commit after a successful commit is a no-op; the staging
				// objects were already removed.
				if ok, exErr := s.Exists(ctx, object); exErr == nil && ok {
					return nil
				}
				return fmt.Errorf("s3: commit %s: block %s not staged", object, id)
			}
			return fmt.Errorf("s3: stat staged block: %w", err)
		}
		total += stat.Size
	}

	pr, pw := io.Pipe()
	go func() {
		for _, id := range orderedBlockIDs {
			obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.stagingKey(object, id), minio.GetObjectOptions{})
			if err != nil {
				pw.CloseWithError(fmt.Errorf("s3: read staged block: %w", err))
				return
			}
			_, err = io.Copy(pw, obj)
			obj.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("s3: read staged block: %w", err))
				return
			}
		}
		pw.Close()
	}()

	opts := minio.PutObjectOptions{ContentType: contentType}
	if s.cfg.PartSize > 0 {
		opts.PartSize = uint64(s.cfg.PartSize)
	}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(object), pr, total, opts); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("s3: commit object: %w", err)
	}

	for _, id := range orderedBlockIDs {
		// Best effort; orphaned staging objects are harmless and cheap.
		_ = s.client.RemoveObject(ctx, s.cfg.Bucket, s.stagingKey(object, id), minio.RemoveObjectOptions{})
	}
	return nil
}

// WriteWhole uploads the object in one shot.
func (s *Store) WriteWhole(ctx context.Context, object string, payload io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if s.cfg.PartSize > 0 {
		opts.PartSize = uint64(s.cfg.PartSize)
	}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(object), payload, size, opts); err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

// Exists reports whether a committed object is present.
func (s *Store) Exists(ctx context.Context, object string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, s.objectKey(object), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: stat object: %w", err)
	}
	return true, nil
}

// OpenRead streams a committed object.
func (s *Store) OpenRead(ctx context.Context, object string) (blobstore.ReadResult, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(object), minio.GetObjectOptions{})
	if err != nil {
		return blobstore.ReadResult{}, fmt.Errorf("s3: get object: %w", err)
	}
	// GetObject is lazy; Stat forces the request so missing objects surface
	// here instead of on first Read.
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return blobstore.ReadResult{}, blobstore.ErrNotFound
		}
		return blobstore.ReadResult{}, fmt.Errorf("s3: stat object: %w", err)
	}
	return blobstore.ReadResult{
		Reader: obj,
		Info: blobstore.ObjectInfo{
			Name:         object,
			Size:         stat.Size,
			ContentType:  stat.ContentType,
			ETag:         stat.ETag,
			LastModified: stat.LastModified.UTC(),
		},
	}, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, object string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectKey(object), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: remove object: %w", err)
	}
	return nil
}

// Close satisfies blobstore.Store and is a no-op for the S3 client.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	errResp := minio.ErrorResponse{}
	if errors.As(err, &errResp) {
		return errResp.StatusCode == http.StatusNotFound
	}
	return false
}
