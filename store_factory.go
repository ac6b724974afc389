package feedd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tenxso/feedd/internal/blobstore"
	azurestore "github.com/tenxso/feedd/internal/blobstore/azure"
	blobmem "github.com/tenxso/feedd/internal/blobstore/memory"
	"github.com/tenxso/feedd/internal/blobstore/s3"
	"github.com/tenxso/feedd/internal/clock"
	"github.com/tenxso/feedd/internal/metadata"
	"github.com/tenxso/feedd/internal/metadata/dynamo"
	metamem "github.com/tenxso/feedd/internal/metadata/memory"
	"github.com/tenxso/feedd/internal/tracker"
	trackmem "github.com/tenxso/feedd/internal/tracker/memory"
	trackredis "github.com/tenxso/feedd/internal/tracker/redis"
)

func openBlobStore(cfg Config) (blobstore.Store, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem", "":
		return blobmem.New(), nil
	case "s3":
		s3cfg, err := buildS3Config(cfg)
		if err != nil {
			return nil, err
		}
		return s3.New(s3cfg)
	case "azure":
		azureCfg, err := buildAzureConfig(cfg)
		if err != nil {
			return nil, err
		}
		return azurestore.New(azureCfg)
	default:
		return nil, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

func openTracker(cfg Config, clk clock.Clock) (tracker.Tracker, error) {
	u, err := url.Parse(cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("parse tracker URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem", "":
		trk := trackmem.New(clk)
		trk.SetIdleTTL(cfg.SessionIdleTTL)
		return trk, nil
	case "redis", "rediss":
		return trackredis.New(trackredis.Config{
			URL:     cfg.Tracker,
			IdleTTL: cfg.SessionIdleTTL,
		})
	default:
		return nil, fmt.Errorf("tracker scheme %q not supported", u.Scheme)
	}
}

func openMetadata(ctx context.Context, cfg Config) (metadata.Store, error) {
	u, err := url.Parse(cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("parse metadata URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem", "":
		return metamem.New(), nil
	case "dynamo", "dynamodb":
		dynamoCfg, err := buildDynamoConfig(cfg)
		if err != nil {
			return nil, err
		}
		return dynamo.New(ctx, dynamoCfg)
	default:
		return nil, fmt.Errorf("metadata scheme %q not supported", u.Scheme)
	}
}

// buildS3Config parses s3:// URLs targeting S3-compatible services
// (s3://host[:port]/bucket[/prefix]).
func buildS3Config(cfg Config) (s3.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return s3.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	if bucket == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket name")
	}
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	insecure := false
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			insecure = ok
		}
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	region := strings.TrimSpace(cfg.AWSRegion)
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	cred, err := resolveS3Credentials(cfg)
	if err != nil {
		return s3.Config{}, err
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         region,
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       insecure,
		ForcePathStyle: forcePath,
		PartSize:       cfg.MaxChunkBytes,
		CustomCreds:    cred,
	}, nil
}

// resolveS3Credentials prefers explicit config, then FEEDD_S3_* env vars,
// then the minio default chain (nil).
func resolveS3Credentials(cfg Config) (*minioCredentials.Credentials, error) {
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := cfg.S3SecretAccessKey
	sessionToken := cfg.S3SessionToken
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		accessKey = strings.TrimSpace(os.Getenv("FEEDD_S3_ACCESS_KEY_ID"))
		secretKey = os.Getenv("FEEDD_S3_SECRET_ACCESS_KEY")
		sessionToken = os.Getenv("FEEDD_S3_SESSION_TOKEN")
	}
	if accessKey == "" && secretKey == "" && sessionToken == "" {
		return nil, nil
	}
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("s3 credentials incomplete (need access key and secret key)")
	}
	return minioCredentials.NewStaticV4(accessKey, secretKey, sessionToken), nil
}

// buildAzureConfig parses azure://account/container[/prefix] URLs.
func buildAzureConfig(cfg Config) (azurestore.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return azurestore.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	account := strings.TrimSpace(u.Host)
	if cfg.AzureAccount != "" {
		account = cfg.AzureAccount
	}
	if account == "" {
		account = firstEnv("AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_ACCOUNT_NAME")
	}
	if account == "" {
		return azurestore.Config{}, fmt.Errorf("azure: account name required (set azure://account/... or AZURE_STORAGE_ACCOUNT)")
	}
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return azurestore.Config{}, fmt.Errorf("azure store missing container (expected azure://account/container[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	container := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}
	query := u.Query()
	endpoint := strings.TrimSpace(cfg.AzureEndpoint)
	if v := strings.TrimSpace(query.Get("endpoint")); v != "" {
		endpoint = v
	}
	accountKey := strings.TrimSpace(cfg.AzureAccountKey)
	if accountKey == "" {
		accountKey = firstEnv("FEEDD_AZURE_ACCOUNT_KEY", "AZURE_STORAGE_ACCOUNT_KEY", "AZURE_STORAGE_KEY")
	}
	sas := strings.TrimSpace(cfg.AzureSASToken)
	if sas == "" {
		sas = firstEnv("FEEDD_AZURE_SAS_TOKEN", "AZURE_STORAGE_SAS_TOKEN")
	}
	return azurestore.Config{
		Account:    account,
		AccountKey: accountKey,
		Endpoint:   endpoint,
		SASToken:   sas,
		Container:  container,
		Prefix:     prefix,
	}, nil
}

// buildDynamoConfig parses dynamo://[endpoint]?region=... URLs. An empty
// host uses the regional AWS endpoint.
func buildDynamoConfig(cfg Config) (dynamo.Config, error) {
	u, err := url.Parse(cfg.Metadata)
	if err != nil {
		return dynamo.Config{}, fmt.Errorf("parse metadata URL: %w", err)
	}
	query := u.Query()
	region := strings.TrimSpace(cfg.AWSRegion)
	if v := strings.TrimSpace(query.Get("region")); v != "" {
		region = v
	}
	if region == "" {
		region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	if region == "" {
		return dynamo.Config{}, fmt.Errorf("dynamo metadata requires a region (set ?region=, AWSRegion, or AWS_REGION)")
	}
	endpoint := ""
	if host := strings.TrimSpace(u.Host); host != "" {
		scheme := "https"
		if v := query.Get("insecure"); v != "" {
			if ok, err := strconv.ParseBool(v); err == nil && ok {
				scheme = "http"
			}
		}
		endpoint = scheme + "://" + host
	}
	return dynamo.Config{
		Region:     region,
		Endpoint:   endpoint,
		PostsTable: cfg.DynamoPostsTable,
		UsersTable: cfg.DynamoUsersTable,
		ChatsTable: cfg.DynamoChatsTable,
	}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := strings.TrimSpace(os.Getenv(name)); val != "" {
			return val
		}
	}
	return ""
}
