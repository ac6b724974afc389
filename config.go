package feedd

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8480"
	// DefaultStore points the server at the in-memory blob store when no
	// store is configured.
	DefaultStore = "mem://"
	// DefaultTracker points the server at the in-memory session tracker.
	DefaultTracker = "mem://"
	// DefaultMetadata points the server at the in-memory metadata store.
	DefaultMetadata = "mem://"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus
	// scrape). Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultMaxChunkBytes caps one chunk request body. Clients slice
	// uploads into chunks of this size.
	DefaultMaxChunkBytes = int64(4 << 20)
	// DefaultMaxUploadBytes caps a whole-file upload.
	DefaultMaxUploadBytes = int64(512 << 20)
	// DefaultLeaseTTL bounds how long a crashed finalizer blocks an upload
	// session.
	DefaultLeaseTTL = time.Hour
	// DefaultSessionIdleTTL controls when abandoned upload sessions are
	// forgotten. Refreshed on every chunk arrival.
	DefaultSessionIdleTTL = 24 * time.Hour
	// DefaultWorkerPollInterval controls how often the finalization worker
	// polls the completion queue when it is empty.
	DefaultWorkerPollInterval = time.Second
	// DefaultShutdownTimeout caps graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultDynamoPostsTable holds feed post records.
	DefaultDynamoPostsTable = "feedd-posts"
	// DefaultDynamoUsersTable holds user profiles.
	DefaultDynamoUsersTable = "feedd-users"
	// DefaultDynamoChatsTable holds chat threads.
	DefaultDynamoChatsTable = "feedd-chats"
)

// Config drives server construction. The zero value plus Validate yields a
// fully in-memory server suitable for tests.
type Config struct {
	// Listen is the TCP address the HTTP API binds to.
	Listen string

	// Store selects the blob backend: mem://, s3://host[:port]/bucket[/prefix]
	// or azure://account/container[/prefix].
	Store string
	// Tracker selects the upload session tracker: mem:// or a redis:// URL.
	Tracker string
	// Metadata selects the metadata store: mem:// or
	// dynamo://[endpoint]?region=...
	Metadata string

	// MediaCDNBase and ProfileCDNBase prefix object names in URLs handed to
	// clients. Empty bases hand out bare object names.
	MediaCDNBase   string
	ProfileCDNBase string

	MaxChunkBytes  int64
	MaxUploadBytes int64

	LeaseTTL           time.Duration
	SessionIdleTTL     time.Duration
	WorkerPollInterval time.Duration
	// AsyncFinalize hands complete sessions to the background worker
	// instead of finalizing on the last chunk's request.
	AsyncFinalize bool

	// S3 credentials override the ambient credential chain.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string

	// Azure credentials override what the azure:// URL and environment
	// provide.
	AzureAccount    string
	AzureAccountKey string
	AzureSASToken   string
	AzureEndpoint   string

	// AWSRegion applies to dynamo:// metadata stores.
	AWSRegion        string
	DynamoPostsTable string
	DynamoUsersTable string
	DynamoChatsTable string

	// OTLPEndpoint enables trace export when set (host:port or
	// grpc://host:port).
	OTLPEndpoint string
	// MetricsListen exposes a Prometheus /metrics endpoint when set.
	MetricsListen string

	ShutdownTimeout time.Duration
}

// Validate normalizes the configuration, filling defaults and rejecting
// unusable combinations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.Store) == "" {
		c.Store = DefaultStore
	}
	if strings.TrimSpace(c.Tracker) == "" {
		c.Tracker = DefaultTracker
	}
	if strings.TrimSpace(c.Metadata) == "" {
		c.Metadata = DefaultMetadata
	}
	for _, target := range []struct {
		name  string
		value string
	}{
		{"store", c.Store},
		{"tracker", c.Tracker},
		{"metadata", c.Metadata},
	} {
		if _, err := url.Parse(target.value); err != nil {
			return fmt.Errorf("config: parse %s URL %q: %w", target.name, target.value, err)
		}
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.MaxChunkBytes > c.MaxUploadBytes {
		return fmt.Errorf("config: max chunk size %d exceeds max upload size %d", c.MaxChunkBytes, c.MaxUploadBytes)
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.SessionIdleTTL <= 0 {
		c.SessionIdleTTL = DefaultSessionIdleTTL
	}
	if c.SessionIdleTTL < c.LeaseTTL {
		return fmt.Errorf("config: session idle TTL %s shorter than finalize lease TTL %s", c.SessionIdleTTL, c.LeaseTTL)
	}
	if c.WorkerPollInterval <= 0 {
		c.WorkerPollInterval = DefaultWorkerPollInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MediaCDNBase != "" && !strings.HasSuffix(c.MediaCDNBase, "/") {
		c.MediaCDNBase += "/"
	}
	if c.ProfileCDNBase != "" && !strings.HasSuffix(c.ProfileCDNBase, "/") {
		c.ProfileCDNBase += "/"
	}
	if c.DynamoPostsTable == "" {
		c.DynamoPostsTable = DefaultDynamoPostsTable
	}
	if c.DynamoUsersTable == "" {
		c.DynamoUsersTable = DefaultDynamoUsersTable
	}
	if c.DynamoChatsTable == "" {
		c.DynamoChatsTable = DefaultDynamoChatsTable
	}
	return nil
}
