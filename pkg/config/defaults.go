package config

import (
	"strings"
	"time"

	"github.com/cloudrove/cloudrove/internal/bytesize"
	"github.com/cloudrove/cloudrove/pkg/antivirus"
	"github.com/cloudrove/cloudrove/pkg/api"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/listing"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyAuthDefaults(&cfg.Auth)
	applyStorageDefaults(&cfg.Storage)
	applyKVDefaults(&cfg.KV)
	applyDirectoryDefaults(&cfg.Directory)
	applyListingDefaults(&cfg.Listing)
	applyArchiveDefaults(&cfg.Archive)
	applyAntivirusDefaults(&cfg.Antivirus)
	applyUsageDefaults(&cfg.Usage)
	applyIdempotencyDefaults(&cfg.Idempotency)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyAPIDefaults sets API server defaults.
func applyAPIDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

// applyAuthDefaults sets JWT defaults. The secret has no default.
func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Issuer == "" {
		cfg.Issuer = "cloudrove"
	}
	if cfg.AccessTokenDuration == 0 {
		cfg.AccessTokenDuration = 15 * time.Minute
	}
	if cfg.RefreshTokenDuration == 0 {
		cfg.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// applyStorageDefaults sets object store defaults.
// Bucket has no default - it's required and must be configured by user.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.PresignMaxTTL == 0 {
		cfg.PresignMaxTTL = time.Hour
	}
}

// applyKVDefaults sets key-value store defaults.
func applyKVDefaults(cfg *KVConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "badger"
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 10 * time.Minute
	}
	// Dir has no default; empty runs badger in memory
}

// applyDirectoryDefaults sets folder session defaults.
func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
}

// applyListingDefaults sets listing engine defaults, mirroring the
// listing package's own fallbacks so a saved config shows real values.
func applyListingDefaults(cfg *ListingConfig) {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = listing.DefaultCacheTTL
	}
	if cfg.ThumbnailCacheTTL == 0 {
		cfg.ThumbnailCacheTTL = listing.DefaultThumbnailCacheTTL
	}
	if cfg.MetadataMax == 0 {
		cfg.MetadataMax = listing.DefaultMetadataMax
	}
	if cfg.MetadataConcurrency == 0 {
		cfg.MetadataConcurrency = listing.DefaultMetadataConcurrency
	}
	if cfg.SearchScanMax == 0 {
		cfg.SearchScanMax = listing.DefaultSearchScanMax
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = listing.DefaultPageSize
	}
}

// applyArchiveDefaults sets archive pipeline defaults.
func applyArchiveDefaults(cfg *ArchiveConfig) {
	if cfg.ExtractConcurrency == 0 {
		cfg.ExtractConcurrency = jobs.DefaultExtractConcurrency
	}
	if cfg.CreateConcurrency == 0 {
		cfg.CreateConcurrency = jobs.DefaultCreateConcurrency
	}
	if cfg.EntryConcurrency == 0 {
		cfg.EntryConcurrency = jobs.DefaultEntryConcurrency
	}
	if cfg.ProgressEntriesStep == 0 {
		cfg.ProgressEntriesStep = jobs.DefaultProgressEntriesStep
	}
	if cfg.ProgressBytesStep == 0 {
		cfg.ProgressBytesStep = bytesize.ByteSize(jobs.DefaultProgressBytesStep)
	}
	if cfg.CreateMaxFiles == 0 {
		cfg.CreateMaxFiles = jobs.DefaultCreateMaxFiles
	}
	if cfg.CreateMaxTotalBytes == 0 {
		cfg.CreateMaxTotalBytes = bytesize.ByteSize(jobs.DefaultCreateMaxTotalBytes)
	}
	if cfg.PreviewMaxBytes == 0 {
		cfg.PreviewMaxBytes = bytesize.ByteSize(jobs.DefaultPreviewMaxBytes)
	}
	// Extraction bounds default to the archive package's limits;
	// zero here means "use DefaultLimits" downstream.
}

// applyAntivirusDefaults sets clamd defaults.
func applyAntivirusDefaults(cfg *AntivirusConfig) {
	// Enabled defaults to false (opt-in; requires a reachable clamd)
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3310
	}
	if cfg.MaxScanBytes == 0 {
		cfg.MaxScanBytes = bytesize.ByteSize(antivirus.DefaultMaxScanBytes)
	}
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = 60 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = antivirus.DefaultConcurrency
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = antivirus.DefaultQueueSize
	}
}

// applyUsageDefaults sets subscription defaults.
func applyUsageDefaults(cfg *UsageConfig) {
	if cfg.PlanSlug == "" {
		cfg.PlanSlug = "free"
	}
	if cfg.MaxStorageBytes == 0 {
		cfg.MaxStorageBytes = 10 * bytesize.ByteSize(bytesize.GiB)
	}
	// MaxUploadSizeBytes has no default; zero means unlimited
}

// applyIdempotencyDefaults sets replay-envelope defaults.
func applyIdempotencyDefaults(cfg *IdempotencyConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 24 * time.Hour
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Bucket: "cloudrove",
		},
		KV: KVConfig{
			Dir: "/tmp/cloudrove-kv",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
