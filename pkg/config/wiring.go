package config

import (
	"github.com/cloudrove/cloudrove/pkg/antivirus"
	"github.com/cloudrove/cloudrove/pkg/api/auth"
	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/metrics"
	"github.com/cloudrove/cloudrove/pkg/service"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// This file converts config sections into the Config structs the service
// packages consume, so cmd/cloudrove stays a thin wiring layer.

// GatewayConfig builds the S3 gateway configuration.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		Bucket:        c.Storage.Bucket,
		PublicHost:    c.Storage.PublicHost,
		SignURLs:      c.Storage.SignURLs,
		PresignTTL:    c.Storage.PresignTTL,
		PresignMaxTTL: c.Storage.PresignMaxTTL,
	}
}

// BadgerConfig builds the badger store configuration.
func (c *Config) BadgerConfig() kv.BadgerConfig {
	return kv.BadgerConfig{
		Dir:        c.KV.Dir,
		GCInterval: c.KV.GCInterval,
	}
}

// JWTConfig builds the token service configuration.
func (c *Config) JWTConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:               c.Auth.Secret,
		Issuer:               c.Auth.Issuer,
		AccessTokenDuration:  c.Auth.AccessTokenDuration,
		RefreshTokenDuration: c.Auth.RefreshTokenDuration,
	}
}

// DirectoryConfig builds the directory service configuration.
func (c *Config) DirectoryConfig() directory.Config {
	return directory.Config{
		SessionTTL: c.Directory.SessionTTL,
	}
}

// ListingConfig builds the listing engine configuration. m may be nil
// when metrics are disabled.
func (c *Config) ListingConfig(m *metrics.CacheMetrics) listing.Config {
	return listing.Config{
		CacheTTL:            c.Listing.CacheTTL,
		ThumbnailCacheTTL:   c.Listing.ThumbnailCacheTTL,
		MetadataMax:         c.Listing.MetadataMax,
		MetadataConcurrency: c.Listing.MetadataConcurrency,
		SearchScanMax:       c.Listing.SearchScanMax,
		PageSize:            c.Listing.PageSize,
		Metrics:             m,
	}
}

// ArchiveLimits builds the extraction safety bounds, falling back to the
// archive package's defaults for anything left unset.
func (c *Config) ArchiveLimits() archive.Limits {
	limits := archive.DefaultLimits()
	if c.Archive.MaxEntries > 0 {
		limits.MaxEntries = c.Archive.MaxEntries
	}
	if c.Archive.MaxEntryBytes > 0 {
		limits.MaxEntryBytes = int64(c.Archive.MaxEntryBytes)
	}
	if c.Archive.MaxTotalBytes > 0 {
		limits.MaxTotalBytes = int64(c.Archive.MaxTotalBytes)
	}
	if c.Archive.MaxRatio > 0 {
		limits.MaxCompressionRatio = c.Archive.MaxRatio
	}
	return limits
}

// ArchiveRegistry builds the format handler registry.
func (c *Config) ArchiveRegistry() *archive.Registry {
	return archive.NewRegistry(int64(c.Archive.RarMaxBufferBytes))
}

// JobsConfig builds the archive pipeline configuration. m may be nil
// when metrics are disabled.
func (c *Config) JobsConfig(m *metrics.JobMetrics) jobs.Config {
	return jobs.Config{
		ExtractConcurrency:  c.Archive.ExtractConcurrency,
		CreateConcurrency:   c.Archive.CreateConcurrency,
		EntryConcurrency:    c.Archive.EntryConcurrency,
		ProgressEntriesStep: c.Archive.ProgressEntriesStep,
		ProgressBytesStep:   int64(c.Archive.ProgressBytesStep),
		Limits:              c.ArchiveLimits(),
		CreateMaxFiles:      c.Archive.CreateMaxFiles,
		CreateMaxTotalBytes: int64(c.Archive.CreateMaxTotalBytes),
		PreviewMaxBytes:     int64(c.Archive.PreviewMaxBytes),
		Metrics:             m,
	}
}

// AntivirusConfig builds the scan pipeline configuration. m may be nil
// when metrics are disabled.
func (c *Config) AntivirusConfig(m *metrics.ScanMetrics) antivirus.Config {
	return antivirus.Config{
		MaxScanBytes: int64(c.Antivirus.MaxScanBytes),
		Concurrency:  c.Antivirus.Concurrency,
		QueueSize:    c.Antivirus.QueueSize,
		Metrics:      m,
	}
}

// Subscription builds the static plan every owner resolves to.
func (c *Config) Subscription() usage.Subscription {
	return usage.Subscription{
		PlanSlug:           c.Usage.PlanSlug,
		MaxStorageBytes:    int64(c.Usage.MaxStorageBytes),
		MaxUploadSizeBytes: int64(c.Usage.MaxUploadSizeBytes),
	}
}

// ServiceConfig builds the facade configuration.
func (c *Config) ServiceConfig() service.Config {
	return service.Config{
		IdempotencyTTL: c.Idempotency.TTL,
	}
}
