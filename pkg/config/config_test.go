package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-testing-minimum-32-chars"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_MinimalConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "INFO"

storage:
  bucket: "test-bucket"

auth:
  secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Storage.Bucket != "test-bucket" {
		t.Errorf("Expected bucket 'test-bucket', got %q", cfg.Storage.Bucket)
	}
	// Unset sections get defaults
	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.Storage.Region != "us-east-1" {
		t.Errorf("Expected default region, got %q", cfg.Storage.Region)
	}
	if cfg.KV.Backend != "badger" {
		t.Errorf("Expected default KV backend 'badger', got %q", cfg.KV.Backend)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "debug"
  format: "json"

shutdown_timeout: 45s

api:
  port: 9000
  read_timeout: 20s

auth:
  secret: "`+testSecret+`"
  access_token_duration: 30m

storage:
  endpoint: "http://localhost:9000"
  bucket: "cloud"
  public_host: "cdn.example.com"
  force_path_style: true
  presign_ttl: 2h

kv:
  backend: badger
  dir: "/var/lib/cloudrove/kv"

listing:
  cache_ttl: 10m
  metadata_max: 500
  page_size: 250

archive:
  extract_concurrency: 4
  preview_max_bytes: 64Mi
  max_total_bytes: 2Gi

antivirus:
  enabled: true
  host: "clam.internal"
  port: 3310
  max_scan_bytes: 50Mi

usage:
  plan_slug: "pro"
  max_storage_bytes: 100Gi

idempotency:
  ttl: 12h

metrics:
  enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected shutdown timeout 45s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("Expected API port 9000, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 20*time.Second {
		t.Errorf("Expected read timeout 20s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.Auth.AccessTokenDuration != 30*time.Minute {
		t.Errorf("Expected access token duration 30m, got %v", cfg.Auth.AccessTokenDuration)
	}
	if !cfg.Storage.ForcePathStyle {
		t.Error("Expected force_path_style true")
	}
	if cfg.Storage.PresignTTL != 2*time.Hour {
		t.Errorf("Expected presign TTL 2h, got %v", cfg.Storage.PresignTTL)
	}
	if cfg.Listing.CacheTTL != 10*time.Minute {
		t.Errorf("Expected cache TTL 10m, got %v", cfg.Listing.CacheTTL)
	}
	if cfg.Listing.PageSize != 250 {
		t.Errorf("Expected page size 250, got %d", cfg.Listing.PageSize)
	}
	if cfg.Archive.ExtractConcurrency != 4 {
		t.Errorf("Expected extract concurrency 4, got %d", cfg.Archive.ExtractConcurrency)
	}
	if got := int64(cfg.Archive.PreviewMaxBytes); got != 64<<20 {
		t.Errorf("Expected preview max 64Mi, got %d", got)
	}
	if got := int64(cfg.Archive.MaxTotalBytes); got != 2<<30 {
		t.Errorf("Expected extract max total 2Gi, got %d", got)
	}
	if !cfg.Antivirus.Enabled || cfg.Antivirus.Host != "clam.internal" {
		t.Errorf("Expected antivirus enabled against clam.internal, got %+v", cfg.Antivirus)
	}
	if cfg.Usage.PlanSlug != "pro" {
		t.Errorf("Expected plan 'pro', got %q", cfg.Usage.PlanSlug)
	}
	if cfg.Idempotency.TTL != 12*time.Hour {
		t.Errorf("Expected idempotency TTL 12h, got %v", cfg.Idempotency.TTL)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics enabled")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "does-not-exist.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected defaults when config file is missing, got error: %v", err)
	}
	if cfg.Storage.Bucket == "" {
		t.Error("Expected default bucket to be set")
	}
}

func TestLoad_LegacyEnvOverrides(t *testing.T) {
	t.Setenv("CLOUD_LIST_CACHE_TTL_SECONDS", "120")
	t.Setenv("CLOUD_LIST_METADATA_MAX", "42")
	t.Setenv("CLOUD_SEARCH_SCAN_MAX", "777")
	t.Setenv("ARCHIVE_EXTRACT_JOB_CONCURRENCY", "3")
	t.Setenv("ARCHIVE_PREVIEW_MAX_BYTES", "1048576")
	t.Setenv("RAR_MAX_BUFFER_BYTES", "32Mi")
	t.Setenv("CLOUD_AV_ENABLED", "true")
	t.Setenv("CLOUD_AV_SOCKET_TIMEOUT_MS", "2500")
	t.Setenv("CLOUD_IDEMPOTENCY_TTL_SECONDS", "3600")

	configPath := writeConfig(t, `
storage:
  bucket: "test-bucket"

auth:
  secret: "`+testSecret+`"

listing:
  cache_ttl: 5m
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Env wins over the file value
	if cfg.Listing.CacheTTL != 2*time.Minute {
		t.Errorf("Expected cache TTL 2m from env, got %v", cfg.Listing.CacheTTL)
	}
	if cfg.Listing.MetadataMax != 42 {
		t.Errorf("Expected metadata max 42, got %d", cfg.Listing.MetadataMax)
	}
	if cfg.Listing.SearchScanMax != 777 {
		t.Errorf("Expected search scan max 777, got %d", cfg.Listing.SearchScanMax)
	}
	if cfg.Archive.ExtractConcurrency != 3 {
		t.Errorf("Expected extract concurrency 3, got %d", cfg.Archive.ExtractConcurrency)
	}
	if got := int64(cfg.Archive.PreviewMaxBytes); got != 1048576 {
		t.Errorf("Expected preview max 1048576, got %d", got)
	}
	if got := int64(cfg.Archive.RarMaxBufferBytes); got != 32<<20 {
		t.Errorf("Expected rar buffer 32Mi, got %d", got)
	}
	if !cfg.Antivirus.Enabled {
		t.Error("Expected antivirus enabled from env")
	}
	if cfg.Antivirus.SocketTimeout != 2500*time.Millisecond {
		t.Errorf("Expected socket timeout 2.5s, got %v", cfg.Antivirus.SocketTimeout)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Errorf("Expected idempotency TTL 1h, got %v", cfg.Idempotency.TTL)
	}
}

func TestLoad_BadLegacyEnvValue(t *testing.T) {
	t.Setenv("CLOUD_LIST_METADATA_MAX", "not-a-number")

	configPath := writeConfig(t, `
storage:
  bucket: "test-bucket"

auth:
  secret: "`+testSecret+`"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for unparseable env override")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging: [unclosed")

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Bucket = "round-trip"
	cfg.Auth.Secret = testSecret

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Storage.Bucket != "round-trip" {
		t.Errorf("Expected bucket 'round-trip' after round trip, got %q", loaded.Storage.Bucket)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}
