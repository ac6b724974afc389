package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	feedd "github.com/tenxso/feedd"
	"github.com/tenxso/feedd/internal/version"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("FEEDD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "feedd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			baseLogger.With(pslog.TrustedString("sys"), "cli.root").Error("command failed", "error", err)
		}
		return 1
	}
	return 0
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg feedd.Config

	cmd := &cobra.Command{
		Use:           "feedd",
		Short:         "feedd serves chunked media uploads, feed posts, user profiles, and chats",
		SilenceErrors: true,
		Example: `
  # MinIO media store, Redis session tracker, DynamoDB metadata
  feedd --store "s3://localhost:9000/feedd-media?insecure=1" \
        --tracker redis://localhost:6379/0 \
        --metadata "dynamo://?region=eu-north-1" \
        --media-cdn-base https://cdn.example.com/media/

  # Azure Blob Storage media store
  FEEDD_AZURE_ACCOUNT_KEY=... feedd --store azure://myaccount/media

  # Fully in-memory (tests/dev only)
  feedd --store mem://
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := logger.With(pslog.TrustedString("sys"), "cli.root")
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = logger.With(pslog.TrustedString("sys"), "cli.root")
			}

			server, err := feedd.NewServer(cfg, feedd.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("listen", feedd.DefaultListen, "listen address")
	flags.String("store", feedd.DefaultStore, "blob store URL (mem://, s3://host[:port]/bucket, azure://account/container)")
	flags.String("tracker", feedd.DefaultTracker, "upload session tracker URL (mem:// or redis://host:port/db)")
	flags.String("metadata", feedd.DefaultMetadata, "metadata store URL (mem:// or dynamo://[endpoint]?region=...)")
	flags.String("media-cdn-base", "", "URL prefix for committed media objects handed to clients")
	flags.String("profile-cdn-base", "", "URL prefix for profile pictures handed to clients")
	flags.String("max-chunk-size", humanizeBytes(feedd.DefaultMaxChunkBytes), "maximum upload chunk size")
	flags.String("max-upload-size", humanizeBytes(feedd.DefaultMaxUploadBytes), "maximum whole-file upload size")
	flags.Duration("lease-ttl", feedd.DefaultLeaseTTL, "finalize lease TTL per upload session")
	flags.Duration("session-idle-ttl", feedd.DefaultSessionIdleTTL, "idle expiry for abandoned upload sessions")
	flags.Duration("worker-poll-interval", feedd.DefaultWorkerPollInterval, "completion queue poll interval for the finalization worker")
	flags.Bool("async-finalize", false, "queue complete sessions for the background worker instead of finalizing inline")
	flags.String("s3-access-key-id", "", "S3 access key (or use FEEDD_S3_ACCESS_KEY_ID)")
	flags.String("s3-secret-access-key", "", "S3 secret key (or use FEEDD_S3_SECRET_ACCESS_KEY)")
	flags.String("azure-key", "", "Azure Storage account key (or use FEEDD_AZURE_ACCOUNT_KEY)")
	flags.String("azure-sas-token", "", "Azure SAS token (optional alternative to account key)")
	flags.String("azure-endpoint", "", "Azure Blob service endpoint (defaults to https://<account>.blob.core.windows.net)")
	flags.String("aws-region", "", "AWS region for dynamo:// metadata stores")
	flags.String("dynamo-posts-table", feedd.DefaultDynamoPostsTable, "DynamoDB table for feed posts")
	flags.String("dynamo-users-table", feedd.DefaultDynamoUsersTable, "DynamoDB table for user profiles")
	flags.String("dynamo-chats-table", feedd.DefaultDynamoChatsTable, "DynamoDB table for chat threads")
	flags.Duration("shutdown-timeout", feedd.DefaultShutdownTimeout, "overall shutdown timeout")
	flags.String("metrics-listen", feedd.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("FEEDD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"listen", "store", "tracker", "metadata",
		"media-cdn-base", "profile-cdn-base",
		"max-chunk-size", "max-upload-size",
		"lease-ttl", "session-idle-ttl", "worker-poll-interval", "async-finalize",
		"s3-access-key-id", "s3-secret-access-key",
		"azure-key", "azure-sas-token", "azure-endpoint",
		"aws-region", "dynamo-posts-table", "dynamo-users-table", "dynamo-chats-table",
		"shutdown-timeout", "metrics-listen", "otlp-endpoint", "log-level",
	}
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func bindConfig(cfg *feedd.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.Store = viper.GetString("store")
	cfg.Tracker = viper.GetString("tracker")
	cfg.Metadata = viper.GetString("metadata")
	cfg.MediaCDNBase = viper.GetString("media-cdn-base")
	cfg.ProfileCDNBase = viper.GetString("profile-cdn-base")
	if v := viper.GetString("max-chunk-size"); v != "" {
		size, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse max-chunk-size: %w", err)
		}
		cfg.MaxChunkBytes = int64(size)
	}
	if v := viper.GetString("max-upload-size"); v != "" {
		size, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse max-upload-size: %w", err)
		}
		cfg.MaxUploadBytes = int64(size)
	}
	cfg.LeaseTTL = viper.GetDuration("lease-ttl")
	cfg.SessionIdleTTL = viper.GetDuration("session-idle-ttl")
	cfg.WorkerPollInterval = viper.GetDuration("worker-poll-interval")
	cfg.AsyncFinalize = viper.GetBool("async-finalize")
	cfg.S3AccessKeyID = viper.GetString("s3-access-key-id")
	cfg.S3SecretAccessKey = viper.GetString("s3-secret-access-key")
	cfg.AzureAccountKey = viper.GetString("azure-key")
	cfg.AzureSASToken = viper.GetString("azure-sas-token")
	cfg.AzureEndpoint = viper.GetString("azure-endpoint")
	cfg.AWSRegion = viper.GetString("aws-region")
	cfg.DynamoPostsTable = viper.GetString("dynamo-posts-table")
	cfg.DynamoUsersTable = viper.GetString("dynamo-users-table")
	cfg.DynamoChatsTable = viper.GetString("dynamo-chats-table")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the feedd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
