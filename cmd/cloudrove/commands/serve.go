package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/antivirus"
	"github.com/cloudrove/cloudrove/pkg/api"
	"github.com/cloudrove/cloudrove/pkg/api/auth"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/config"
	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/metrics"
	"github.com/cloudrove/cloudrove/pkg/object"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/service"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/upload"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cloudrove server",
	Long: `Start the cloudrove server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/cloudrove/config.yaml.

Examples:
  # Start with default config location
  cloudrove serve

  # Start with custom config file
  cloudrove serve --config /etc/cloudrove/config.yaml

  # Start with environment variable overrides
  CLOUDROVE_LOGGING_LEVEL=DEBUG cloudrove serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics first, so the collectors the services receive are live.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled")
	} else {
		logger.Info("metrics collection disabled")
	}

	// Object store gateway.
	s3Client, err := gateway.NewClientFromConfig(ctx,
		cfg.Storage.Endpoint,
		cfg.Storage.Region,
		cfg.Storage.AccessKeyID,
		cfg.Storage.SecretAccessKey,
		cfg.Storage.ForcePathStyle,
	)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	gw, err := gateway.New(s3Client, s3.NewPresignClient(s3Client), cfg.GatewayConfig())
	if err != nil {
		return fmt.Errorf("failed to create storage gateway: %w", err)
	}
	logger.Info("storage gateway ready",
		"bucket", cfg.Storage.Bucket, "endpoint", cfg.Storage.Endpoint)

	// Durable KV store.
	var store kv.Store
	switch cfg.KV.Backend {
	case "memory":
		store = kv.NewMemoryStore()
	default:
		store, err = kv.NewBadgerStore(cfg.BadgerConfig())
		if err != nil {
			return fmt.Errorf("failed to open KV store: %w", err)
		}
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("KV store close error", logger.KeyError, err)
		}
	}()
	logger.Info("KV store ready", "backend", cfg.KV.Backend, "dir", cfg.KV.Dir)

	// Core services.
	usageSvc := usage.NewService(gw, store, usage.StaticSubscriptions{Plan: cfg.Subscription()})
	dirs := directory.NewService(gw, store, usageSvc, cfg.DirectoryConfig())
	listings := listing.NewService(gw, store, dirs, cfg.ListingConfig(metrics.NewCacheMetrics()))
	objects := object.NewService(gw, usageSvc)
	images := objmeta.NewImageProcessor(gw)

	// Antivirus pipeline (optional).
	var scanSvc *antivirus.Service
	var scanQueue upload.ScanQueue
	if cfg.Antivirus.Enabled {
		scanner := antivirus.NewScanner(cfg.Antivirus.Host, cfg.Antivirus.Port, cfg.Antivirus.SocketTimeout)
		scanSvc = antivirus.NewService(gw, store, scanner, cfg.AntivirusConfig(metrics.NewScanMetrics()))
		scanSvc.Start()
		defer scanSvc.Stop()
		scanQueue = scanSvc
		logger.Info("antivirus enabled", "clamd", fmt.Sprintf("%s:%d", cfg.Antivirus.Host, cfg.Antivirus.Port))
	} else {
		logger.Info("antivirus disabled")
	}

	uploads := upload.NewService(gw, usageSvc, images, scanQueue, listings)

	// Archive pipeline (optional).
	var archives *jobs.Service
	if cfg.Archive.IsEnabled() {
		archives = jobs.NewService(gw, store, usageSvc, images, listings,
			cfg.ArchiveRegistry(), cfg.JobsConfig(metrics.NewJobMetrics()))
		archives.Start()
		defer archives.Stop()
	} else {
		logger.Info("archive pipeline disabled")
	}

	svc := service.New(dirs, listings, objects, uploads, archives, scanSvc, usageSvc, store, cfg.ServiceConfig())

	if !cfg.API.IsEnabled() {
		logger.Info("API server disabled, running pipelines only")
		return waitForSignal(cancel, nil)
	}

	jwtSvc, err := auth.NewJWTService(cfg.JWTConfig())
	if err != nil {
		return fmt.Errorf("failed to create JWT service: %w", err)
	}

	router := api.NewRouter(api.RouterDeps{
		Service:     svc,
		JWT:         jwtSvc,
		Gateway:     gw,
		KV:          store,
		HTTPMetrics: metrics.NewHTTPMetrics(),
	})
	server := api.NewServer(cfg.API, router)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	return waitForSignal(cancel, serverDone)
}

// waitForSignal blocks until SIGINT/SIGTERM or a server error, then
// cancels the context so the deferred Stop/Close calls drain cleanly.
func waitForSignal(cancel context.CancelFunc, serverDone <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("server is running, press Ctrl+C to stop")

	if serverDone == nil {
		<-sigChan
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		return nil
	}

	select {
	case <-sigChan:
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return err
		}
		logger.Info("server stopped gracefully")
		return nil
	case err := <-serverDone:
		cancel()
		return err
	}
}
