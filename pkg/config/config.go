// Package config loads, defaults, and validates the cloudrove server
// configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cloudrove/cloudrove/internal/bytesize"
	"github.com/cloudrove/cloudrove/pkg/api"
)

// Config is the cloudrove server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CLOUDROVE_*, plus the legacy CLOUD_*,
//     ARCHIVE_* and RAR_* names, see applyEnvOverrides)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// API contains the HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Auth contains JWT bearer-token settings for the API
	Auth AuthConfig `mapstructure:"auth" yaml:"auth"`

	// Storage configures the S3-compatible object store backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// KV configures the durable key-value store (queues, caches, sessions)
	KV KVConfig `mapstructure:"kv" yaml:"kv"`

	// Directory tunes unlock/reveal session lifetime
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Listing tunes the listing engine and its caches
	Listing ListingConfig `mapstructure:"listing" yaml:"listing"`

	// Archive tunes the async archive pipeline
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`

	// Antivirus configures the clamd scan pipeline
	Antivirus AntivirusConfig `mapstructure:"antivirus" yaml:"antivirus"`

	// Usage configures the static subscription plan for quota checks
	Usage UsageConfig `mapstructure:"usage" yaml:"usage"`

	// Idempotency controls the replay-envelope retention window
	Idempotency IdempotencyConfig `mapstructure:"idempotency" yaml:"idempotency"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// AuthConfig contains JWT settings for the API.
type AuthConfig struct {
	// Secret is the HMAC signing key for bearer tokens.
	// Must be at least 32 characters when the API is enabled.
	Secret string `mapstructure:"secret" validate:"omitempty,min=32" yaml:"secret,omitempty"`

	// Issuer is the token issuer claim.
	// Default: "cloudrove"
	Issuer string `mapstructure:"issuer" yaml:"issuer,omitempty"`

	// AccessTokenDuration is the lifetime of access tokens.
	// Default: 15m
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration,omitempty"`

	// RefreshTokenDuration is the lifetime of refresh tokens.
	// Default: 168h (7 days)
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration,omitempty"`
}

// StorageConfig configures the S3-compatible backend holding all objects.
type StorageConfig struct {
	// Endpoint overrides the S3 endpoint URL. Empty uses AWS S3 proper;
	// set it for MinIO, R2, or other compatible stores.
	// Example: http://localhost:9000
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Region is the bucket region.
	// Default: us-east-1
	Region string `mapstructure:"region" yaml:"region"`

	// Bucket is the single bucket all owner prefixes live under (required)
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// AccessKeyID and SecretAccessKey are static credentials. Leave both
	// empty to use the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle selects path-style bucket addressing, required by
	// most non-AWS S3 implementations.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// PublicHost rewrites presigned-URL hosts and serves as the CDN host
	// for unsigned public URLs. Example: cdn.example.com
	PublicHost string `mapstructure:"public_host" yaml:"public_host,omitempty"`

	// SignURLs selects presigned URLs over public CDN URLs.
	SignURLs bool `mapstructure:"sign_urls" yaml:"sign_urls,omitempty"`

	// PresignTTL is the default presigned-URL validity.
	// Default: 1h
	PresignTTL time.Duration `mapstructure:"presign_ttl" yaml:"presign_ttl,omitempty"`

	// PresignMaxTTL caps caller-supplied presign TTLs.
	// Default: 1h
	PresignMaxTTL time.Duration `mapstructure:"presign_max_ttl" yaml:"presign_max_ttl,omitempty"`
}

// KVConfig configures the durable key-value store.
type KVConfig struct {
	// Backend selects the store implementation.
	// Valid values: badger, memory
	// Default: badger
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=badger memory" yaml:"backend"`

	// Dir is the on-disk location for the badger backend. Empty runs
	// badger purely in memory, which does not survive restarts.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	// GCInterval controls badger value-log garbage collection.
	// Default: 10m
	GCInterval time.Duration `mapstructure:"gc_interval" yaml:"gc_interval,omitempty"`
}

// DirectoryConfig tunes encrypted/hidden folder sessions.
type DirectoryConfig struct {
	// SessionTTL is the unlock/reveal session lifetime.
	// Default: 15m
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl,omitempty"`
}

// ListingConfig tunes the listing engine and its caches.
type ListingConfig struct {
	// CacheTTL is the listing cache lifetime.
	// Override: CLOUD_LIST_CACHE_TTL_SECONDS (seconds)
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl,omitempty"`

	// ThumbnailCacheTTL is the directory-thumbnail cache lifetime.
	// Override: CLOUD_LIST_THUMBNAIL_CACHE_TTL_SECONDS (seconds)
	ThumbnailCacheTTL time.Duration `mapstructure:"thumbnail_cache_ttl" yaml:"thumbnail_cache_ttl,omitempty"`

	// MetadataMax caps per-listing HeadObject metadata fetches.
	// Override: CLOUD_LIST_METADATA_MAX
	MetadataMax int `mapstructure:"metadata_max" validate:"omitempty,gte=0" yaml:"metadata_max,omitempty"`

	// MetadataConcurrency bounds parallel metadata fetches.
	// Override: CLOUD_LIST_METADATA_CONCURRENCY
	MetadataConcurrency int `mapstructure:"metadata_concurrency" validate:"omitempty,gte=0" yaml:"metadata_concurrency,omitempty"`

	// SearchScanMax caps the number of keys a search walks.
	// Override: CLOUD_SEARCH_SCAN_MAX
	SearchScanMax int `mapstructure:"search_scan_max" validate:"omitempty,gte=0" yaml:"search_scan_max,omitempty"`

	// PageSize is the S3 listing page size.
	PageSize int32 `mapstructure:"page_size" validate:"omitempty,gte=0,lte=1000" yaml:"page_size,omitempty"`
}

// ArchiveConfig tunes the async archive pipeline.
type ArchiveConfig struct {
	// Enabled controls whether the archive workers run.
	// Default: true
	// Use a pointer to distinguish "not set" from "explicitly false"
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// ExtractConcurrency is the extract worker count.
	// Override: ARCHIVE_EXTRACT_JOB_CONCURRENCY
	ExtractConcurrency int `mapstructure:"extract_concurrency" validate:"omitempty,gte=0" yaml:"extract_concurrency,omitempty"`

	// CreateConcurrency is the create worker count.
	CreateConcurrency int `mapstructure:"create_concurrency" validate:"omitempty,gte=0" yaml:"create_concurrency,omitempty"`

	// EntryConcurrency bounds parallel entry uploads within one job.
	// Override: ARCHIVE_EXTRACT_ENTRY_CONCURRENCY
	EntryConcurrency int `mapstructure:"entry_concurrency" validate:"omitempty,gte=0" yaml:"entry_concurrency,omitempty"`

	// ProgressEntriesStep and ProgressBytesStep throttle progress writes.
	// Overrides: ARCHIVE_EXTRACT_PROGRESS_ENTRIES, ARCHIVE_EXTRACT_PROGRESS_BYTES
	ProgressEntriesStep int               `mapstructure:"progress_entries_step" validate:"omitempty,gte=0" yaml:"progress_entries_step,omitempty"`
	ProgressBytesStep   bytesize.ByteSize `mapstructure:"progress_bytes_step" yaml:"progress_bytes_step,omitempty"`

	// Extraction safety bounds.
	// Overrides: ARCHIVE_EXTRACT_MAX_ENTRIES, ARCHIVE_EXTRACT_MAX_ENTRY_BYTES,
	// ARCHIVE_EXTRACT_MAX_TOTAL_BYTES, ARCHIVE_EXTRACT_MAX_RATIO
	MaxEntries    int               `mapstructure:"max_entries" validate:"omitempty,gte=0" yaml:"max_entries,omitempty"`
	MaxEntryBytes bytesize.ByteSize `mapstructure:"max_entry_bytes" yaml:"max_entry_bytes,omitempty"`
	MaxTotalBytes bytesize.ByteSize `mapstructure:"max_total_bytes" yaml:"max_total_bytes,omitempty"`
	MaxRatio      float64           `mapstructure:"max_ratio" validate:"omitempty,gte=0" yaml:"max_ratio,omitempty"`

	// Creation bounds.
	// Overrides: ARCHIVE_CREATE_MAX_FILES, ARCHIVE_CREATE_MAX_TOTAL_BYTES
	CreateMaxFiles      int               `mapstructure:"create_max_files" validate:"omitempty,gte=0" yaml:"create_max_files,omitempty"`
	CreateMaxTotalBytes bytesize.ByteSize `mapstructure:"create_max_total_bytes" yaml:"create_max_total_bytes,omitempty"`

	// PreviewMaxBytes caps the archive size for synchronous previews.
	// Override: ARCHIVE_PREVIEW_MAX_BYTES
	PreviewMaxBytes bytesize.ByteSize `mapstructure:"preview_max_bytes" yaml:"preview_max_bytes,omitempty"`

	// RarMaxBufferBytes caps the in-memory buffer rar extraction may use,
	// since rar archives cannot be streamed.
	// Override: RAR_MAX_BUFFER_BYTES
	RarMaxBufferBytes bytesize.ByteSize `mapstructure:"rar_max_buffer_bytes" yaml:"rar_max_buffer_bytes,omitempty"`
}

// IsEnabled returns whether the archive pipeline is enabled.
// Defaults to true if not explicitly set.
func (c *ArchiveConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// AntivirusConfig configures the clamd scan pipeline.
type AntivirusConfig struct {
	// Enabled controls whether uploads are queued for scanning.
	// Default: false (opt-in; requires a reachable clamd)
	// Override: CLOUD_AV_ENABLED
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Host and Port locate the clamd daemon.
	// Defaults: localhost:3310
	// Overrides: CLOUD_AV_HOST, CLOUD_AV_PORT
	Host string `mapstructure:"host" yaml:"host,omitempty"`
	Port int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`

	// MaxScanBytes skips objects larger than this.
	// Override: CLOUD_AV_MAX_BYTES
	MaxScanBytes bytesize.ByteSize `mapstructure:"max_scan_bytes" yaml:"max_scan_bytes,omitempty"`

	// SocketTimeout is the per-read/write clamd socket inactivity bound.
	// Override: CLOUD_AV_SOCKET_TIMEOUT_MS (milliseconds)
	SocketTimeout time.Duration `mapstructure:"socket_timeout" yaml:"socket_timeout,omitempty"`

	// Concurrency is the scan worker count.
	// Override: CLOUD_AV_CONCURRENCY
	Concurrency int `mapstructure:"concurrency" validate:"omitempty,gte=0" yaml:"concurrency,omitempty"`

	// QueueSize bounds the in-memory scan queue.
	QueueSize int `mapstructure:"queue_size" validate:"omitempty,gte=0" yaml:"queue_size,omitempty"`
}

// UsageConfig configures the static subscription plan applied to every
// owner. Multi-plan deployments replace this with their own resolver.
type UsageConfig struct {
	// PlanSlug names the plan; it keys the download-speed table.
	// Default: "free"
	PlanSlug string `mapstructure:"plan_slug" yaml:"plan_slug,omitempty"`

	// MaxStorageBytes is the per-owner storage quota.
	// Default: 10Gi
	MaxStorageBytes bytesize.ByteSize `mapstructure:"max_storage_bytes" yaml:"max_storage_bytes,omitempty"`

	// MaxUploadSizeBytes caps a single upload. Zero means unlimited.
	MaxUploadSizeBytes bytesize.ByteSize `mapstructure:"max_upload_size_bytes" yaml:"max_upload_size_bytes,omitempty"`
}

// IdempotencyConfig controls mutation replay envelopes.
type IdempotencyConfig struct {
	// TTL is how long a recorded response replays for the same key.
	// Default: 24h
	// Override: CLOUD_IDEMPOTENCY_TTL_SECONDS (seconds)
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no collectors are registered (zero overhead)
// and /metrics returns 404.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CLOUDROVE_* and legacy names)
//  2. Configuration file
//  3. Default values
//
// configPath may be empty to use the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if !configFileFound {
		cfg = GetDefaultConfig()
	} else {
		cfg = &Config{}
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	}

	// Legacy environment names override whatever the file said.
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cloudrove init\n\n"+
				"Or specify a custom config file:\n"+
				"  cloudrove <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  cloudrove init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600 because the file carries the JWT secret and S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the CLOUDROVE_ prefix and underscores.
	// Example: CLOUDROVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CLOUDROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/cloudrove/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file
// was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also os.PathError when an explicit config file doesn't exist.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can use human-readable sizes like "1Gi", "500Mi",
// "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files
// can use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cloudrove")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "cloudrove")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
