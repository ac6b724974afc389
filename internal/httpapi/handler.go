// Package httpapi wires the feedd HTTP endpoints to the upload coordinator
// and the backing stores.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"pkt.systems/pslog"

	"github.com/tenxso/feedd/api"
	"github.com/tenxso/feedd/internal/blobstore"
	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/upload"
)

// StatusClientClosedRequest is reported when the client goes away mid
// request (nginx convention).
const StatusClientClosedRequest = 499

const (
	defaultMaxChunkBytes  = 4 << 20   // one chunk per request
	defaultMaxUploadBytes = 512 << 20 // whole-file uploads
	defaultFeedPageSize   = 100
	multipartSpoolMemory  = 4 << 20
)

// Config groups the dependencies required by Handler.
type Config struct {
	Store       blobstore.Store
	Metadata    metadata.Store
	Coordinator *upload.Coordinator
	Logger      pslog.Logger
	Clock       clock.Clock

	// MaxChunkBytes caps one chunk request body; MaxUploadBytes caps a
	// whole-file upload.
	MaxChunkBytes  int64
	MaxUploadBytes int64

	// MediaCDNBase and ProfileCDNBase prefix object names in URLs handed to
	// clients.
	MediaCDNBase   string
	ProfileCDNBase string

	DisableHTTPTracing bool
}

// Handler wires HTTP endpoints to backend operations.
type Handler struct {
	store          blobstore.Store
	meta           metadata.Store
	coord          *upload.Coordinator
	logger         pslog.Logger
	clock          clock.Clock
	maxChunkBytes  int64
	maxUploadBytes int64
	mediaCDNBase   string
	profileCDNBase string
	tracingEnabled bool
}

// New constructs a Handler using the supplied configuration.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	maxChunk := cfg.MaxChunkBytes
	if maxChunk <= 0 {
		maxChunk = defaultMaxChunkBytes
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		store:          cfg.Store,
		meta:           cfg.Metadata,
		coord:          cfg.Coordinator,
		logger:         logger,
		clock:          clk,
		maxChunkBytes:  maxChunk,
		maxUploadBytes: maxUpload,
		mediaCDNBase:   cfg.MediaCDNBase,
		profileCDNBase: cfg.ProfileCDNBase,
		tracingEnabled: !cfg.DisableHTTPTracing,
	}
}

// Register wires the routes under /v1 and health endpoints.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/uploads/{session}/chunks", h.wrap("upload.chunk", h.handleChunkUpload))
	mux.Handle("POST /v1/feeds", h.wrap("feed.upload", h.handleUploadFeed))
	mux.Handle("GET /v1/feeds", h.wrap("feed.list", h.handleListFeeds))
	mux.Handle("GET /v1/media/{object...}", h.wrap("media.stream", h.handleStreamMedia))
	mux.Handle("POST /v1/users", h.wrap("user.create", h.handleCreateUser))
	mux.Handle("GET /v1/users/{user}", h.wrap("user.get", h.handleGetUser))
	mux.Handle("PUT /v1/users/{user}", h.wrap("user.update", h.handleUpdateUser))
	mux.Handle("GET /v1/users/{user}/posts", h.wrap("user.posts", h.handleUserPosts))
	mux.Handle("GET /v1/chats", h.wrap("chat.list", h.handleChats))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReady))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := h.logger.With(
			pslog.TrustedString("sys"), "http."+operation,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := pslog.ContextWithLogger(r.Context(), logger)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)
		if err := fn(w, r); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The client is gone; report 499 for the access log's sake.
				logger.Debug("http.request.canceled", "elapsed", time.Since(start))
				h.writeJSON(w, StatusClientClosedRequest, api.ErrorResponse{
					ErrorCode: "client_closed_request",
					Detail:    "request canceled before completion",
				}, nil)
				return
			}
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(ctx, w, err)
			return
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})
	if !h.tracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, "feedd.http."+operation,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

type httpError struct {
	Status     int
	Code       string
	Detail     string
	Expected   int
	Got        int
	RetryAfter int64
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

// convertUploadError maps coordinator errors onto the HTTP error taxonomy.
func convertUploadError(err error) error {
	var (
		incomplete *upload.IncompleteError
		commitErr  *upload.CommitError
		metaErr    *upload.MetadataError
	)
	switch {
	case errors.Is(err, upload.ErrInvalidInput):
		return httpError{Status: http.StatusBadRequest, Code: "invalid_input", Detail: err.Error()}
	case errors.Is(err, upload.ErrFinalizeInProgress):
		return httpError{
			Status:     http.StatusConflict,
			Code:       "already_in_progress",
			Detail:     "another finalization holds the session lease",
			RetryAfter: 1,
		}
	case errors.As(err, &incomplete):
		return httpError{
			Status:   http.StatusConflict,
			Code:     "incomplete_upload",
			Detail:   "not all chunks have arrived",
			Expected: incomplete.Expected,
			Got:      incomplete.Got,
		}
	case errors.As(err, &commitErr):
		return httpError{Status: http.StatusInternalServerError, Code: "commit_failed", Detail: "committing the media object failed"}
	case errors.As(err, &metaErr):
		return httpError{Status: http.StatusInternalServerError, Code: "metadata_persist_failed", Detail: "persisting the feed post failed"}
	}
	return err
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		resp := api.ErrorResponse{
			ErrorCode:         httpErr.Code,
			Detail:            httpErr.Detail,
			ExpectedChunks:    httpErr.Expected,
			ReceivedChunks:    httpErr.Got,
			RetryAfterSeconds: httpErr.RetryAfter,
		}
		headers := map[string]string{}
		if httpErr.RetryAfter > 0 {
			headers["Retry-After"] = fmt.Sprintf("%d", httpErr.RetryAfter)
		}
		h.writeJSON(w, httpErr.Status, resp, headers)
		return
	}
	logger.Error("http.request.internal_error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}
