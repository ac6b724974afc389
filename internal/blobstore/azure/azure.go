// Package azure implements blobstore.Store on Azure Blob Storage. Chunked
// uploads map directly onto block blobs: StageBlock stages uncommitted blocks
// and CommitBlocks publishes them with a single CommitBlockList call.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/tenxso/feedd/internal/blobstore"
)

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
	Container  string
	Prefix     string
}

// Store implements blobstore.Store backed by Azure Blob Storage.
type Store struct {
	client    *azblob.Client
	endpoint  string
	container string
	prefix    string
}

// New constructs a Store using the provided configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	var (
		client *azblob.Client
		err    error
	)
	clientOpts := defaultClientOptions()
	if cfg.SASToken != "" {
		endpointWithSAS, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(endpointWithSAS, clientOpts)
	} else {
		if cfg.AccountKey == "" {
			return nil, fmt.Errorf("azure: account key or SAS token required")
		}
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = client.CreateContainer(ctx, cfg.Container, nil)
	if err != nil {
		if !isContainerExists(err) {
			return nil, fmt.Errorf("azure: create container: %w", err)
		}
	}

	return &Store{
		client:    client,
		endpoint:  endpoint,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func defaultClientOptions() *azblob.ClientOptions {
	transport := defaultTransporter()
	if transport == nil {
		return nil
	}
	return &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: transport,
		},
	}
}

type transportAdapter struct {
	rt http.RoundTripper
}

func (t transportAdapter) Do(req *http.Request) (*http.Response, error) {
	if t.rt == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.rt.RoundTrip(req)
}

func defaultTransporter() policy.Transporter {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return transportAdapter{rt: http.DefaultTransport}
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
	return transportAdapter{rt: clone}
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

func (s *Store) blobName(object string) string {
	object = strings.TrimPrefix(object, "/")
	if s.prefix == "" {
		return object
	}
	return path.Join(s.prefix, object)
}

func (s *Store) blockBlobClient(object string) *blockblob.Client {
	return s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlockBlobClient(s.blobName(object))
}

// wireBlockID encodes a caller-chosen block id for the service, which
// requires base64 ids of uniform length within a blob. Fixed-width inputs
// keep the encoded ids uniform.
func wireBlockID(blockID string) string {
	return base64.StdEncoding.EncodeToString([]byte(blockID))
}

// StageBlock uploads one block into the blob's uncommitted block list. Staged
// blocks remain invisible until CommitBlocks.
func (s *Store) StageBlock(ctx context.Context, object, blockID string, payload io.Reader, size int64) error {
	if object == "" {
		return fmt.Errorf("azure: object name required")
	}
	// StageBlock needs a seekable body for retries.
	data, err := io.ReadAll(payload)
	if err != nil {
		return fmt.Errorf("azure: read block payload: %w", err)
	}
	body := streaming.NopCloser(bytes.NewReader(data))
	if _, err := s.blockBlobClient(object).StageBlock(ctx, wireBlockID(blockID), body, nil); err != nil {
		return fmt.Errorf("azure: stage block: %w", err)
	}
	return nil
}

// CommitBlocks publishes the staged blocks in the supplied order as the blob's
// content.
func (s *Store) CommitBlocks(ctx context.Context, object string, orderedBlockIDs []string, contentType string) error {
	opts := &blockblob.CommitBlockListOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		}
	}
	wireIDs := make([]string, len(orderedBlockIDs))
	for i, id := range orderedBlockIDs {
		wireIDs[i] = wireBlockID(id)
	}
	if _, err := s.blockBlobClient(object).CommitBlockList(ctx, wireIDs, opts); err != nil {
		return fmt.Errorf("azure: commit block list: %w", err)
	}
	return nil
}

// WriteWhole uploads the object in one request.
func (s *Store) WriteWhole(ctx context.Context, object string, payload io.Reader, size int64, contentType string) error {
	opts := &azblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{
			BlobContentType: to.Ptr(contentType),
		}
	}
	if _, err := s.client.UploadStream(ctx, s.container, s.blobName(object), payload, opts); err != nil {
		return fmt.Errorf("azure: upload object: %w", err)
	}
	return nil
}

// Exists reports whether a committed blob is present.
func (s *Store) Exists(ctx context.Context, object string) (bool, error) {
	blobClient := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(s.blobName(object))
	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("azure: head object: %w", err)
	}
	return true, nil
}

// OpenRead streams a committed blob.
func (s *Store) OpenRead(ctx context.Context, object string) (blobstore.ReadResult, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(object), nil)
	if err != nil {
		if isNotFound(err) {
			return blobstore.ReadResult{}, blobstore.ErrNotFound
		}
		return blobstore.ReadResult{}, fmt.Errorf("azure: download object: %w", err)
	}
	info := blobstore.ObjectInfo{Name: object}
	if resp.ETag != nil {
		info.ETag = string(*resp.ETag)
	}
	if resp.ContentLength != nil {
		info.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		info.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		info.LastModified = resp.LastModified.UTC()
	}
	return blobstore.ReadResult{Reader: resp.Body, Info: info}, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *Store) Delete(ctx context.Context, object string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, s.blobName(object), nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("azure: delete object: %w", err)
	}
	return nil
}

// Close satisfies blobstore.Store (no-op for Azure).
func (s *Store) Close() error { return nil }

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict && strings.EqualFold(respErr.ErrorCode, "ContainerAlreadyExists")
	}
	return false
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
