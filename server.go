package feedd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/tenxso/feedd/internal/blobstore"
	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/httpapi"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/tracker"
	"github.com/tenxso/feedd/internal/upload"
)

// Server wraps the HTTP API, the upload coordinator, the finalization
// worker, and the backing stores.
type Server struct {
	cfg       Config
	logger    pslog.Logger
	store     blobstore.Store
	trk       tracker.Tracker
	meta      metadata.Store
	worker    *upload.Worker
	httpSrv   *http.Server
	listener  net.Listener
	clock     clock.Clock
	telemetry *telemetryBundle

	mu           sync.Mutex
	shutdown     bool
	lastServeErr error
	readyOnce    sync.Once
	readyCh      chan struct{}

	ownedStore   bool
	ownedTracker bool
	ownedMeta    bool
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Store        blobstore.Store
	Tracker      tracker.Tracker
	Metadata     metadata.Store
	Clock        clock.Clock
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithBlobStore injects a pre-built blob store (useful for tests).
func WithBlobStore(s blobstore.Store) Option {
	return func(o *options) { o.Store = s }
}

// WithTracker injects a pre-built session tracker.
func WithTracker(t tracker.Tracker) Option {
	return func(o *options) { o.Tracker = t }
}

// WithMetadata injects a pre-built metadata store.
func WithMetadata(m metadata.Store) Option {
	return func(o *options) { o.Metadata = m }
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.Clock = c }
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) { o.OTLPEndpoint = endpoint }
}

// NewServer constructs a feedd server according to cfg.
// Example:
//
//	cfg := feedd.Config{Store: "mem://", Listen: ":8480"}
//	srv, err := feedd.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}

	var telemetry *telemetryBundle
	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	if otlpEndpoint != "" || cfg.MetricsListen != "" {
		var err error
		telemetry, err = setupTelemetry(context.Background(), otlpEndpoint, cfg.MetricsListen,
			logger.With(pslog.TrustedString("sys"), "telemetry"))
		if err != nil {
			return nil, err
		}
	}
	closeTelemetry := func() {
		if telemetry == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = telemetry.Shutdown(shutdownCtx)
		cancel()
	}

	store := o.Store
	ownedStore := false
	if store == nil {
		var err error
		store, err = openBlobStore(cfg)
		if err != nil {
			closeTelemetry()
			return nil, err
		}
		ownedStore = true
	}
	trk := o.Tracker
	ownedTracker := false
	if trk == nil {
		var err error
		trk, err = openTracker(cfg, serverClock)
		if err != nil {
			if ownedStore {
				_ = store.Close()
			}
			closeTelemetry()
			return nil, err
		}
		ownedTracker = true
	}
	meta := o.Metadata
	ownedMeta := false
	if meta == nil {
		var err error
		meta, err = openMetadata(context.Background(), cfg)
		if err != nil {
			if ownedTracker {
				_ = trk.Close()
			}
			if ownedStore {
				_ = store.Close()
			}
			closeTelemetry()
			return nil, err
		}
		ownedMeta = true
	}

	coord := upload.NewCoordinator(store, trk, meta, upload.Config{
		LeaseTTL:      cfg.LeaseTTL,
		MediaCDNBase:  cfg.MediaCDNBase,
		AsyncFinalize: cfg.AsyncFinalize,
	}, serverClock, logger)

	// The worker drains the completion queue even in synchronous mode;
	// queued completions can outlive the process that enqueued them.
	worker := upload.NewWorker(trk, coord, cfg.WorkerPollInterval, serverClock, logger)

	handler := httpapi.New(httpapi.Config{
		Store:              store,
		Metadata:           meta,
		Coordinator:        coord,
		Logger:             logger,
		Clock:              serverClock,
		MaxChunkBytes:      cfg.MaxChunkBytes,
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MediaCDNBase:       cfg.MediaCDNBase,
		ProfileCDNBase:     cfg.ProfileCDNBase,
		DisableHTTPTracing: otlpEndpoint == "",
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	return &Server{
		cfg:          cfg,
		logger:       logger.With(pslog.TrustedString("sys"), "server"),
		store:        store,
		trk:          trk,
		meta:         meta,
		worker:       worker,
		httpSrv:      httpSrv,
		clock:        serverClock,
		telemetry:    telemetry,
		readyCh:      make(chan struct{}),
		ownedStore:   ownedStore,
		ownedTracker: ownedTracker,
		ownedMeta:    ownedMeta,
	}, nil
}

// Handler returns the underlying HTTP handler so feedd can be mounted inside
// an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.worker.Start(context.Background())
	s.signalReady()
	s.logger.Info("server.listening", "address", ln.Addr().String(), "store", s.cfg.Store)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error is nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.worker.Stop()
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if s.ownedMeta {
		if err := s.meta.Close(); err != nil {
			return err
		}
	}
	if s.ownedTracker {
		if err := s.trk.Close(); err != nil {
			return err
		}
	}
	if s.ownedStore {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or context
// ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server. Shutdown already reports fatal serve errors to callers.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a feedd server in a background goroutine and waits until
// it is ready to accept connections. It returns the running server alongside
// a stop function that gracefully shuts it down.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
