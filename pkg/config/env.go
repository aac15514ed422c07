package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cloudrove/cloudrove/internal/bytesize"
)

// applyEnvOverrides applies the legacy flat environment names that
// predate the CLOUDROVE_-prefixed viper keys. Deployments already set
// these, so they keep working and win over the config file.
//
// The names carry their unit in the suffix (_SECONDS, _MS, _BYTES) and
// are parsed accordingly.
func applyEnvOverrides(cfg *Config) error {
	ov := &envOverrides{}

	ov.seconds("CLOUD_LIST_CACHE_TTL_SECONDS", &cfg.Listing.CacheTTL)
	ov.seconds("CLOUD_LIST_THUMBNAIL_CACHE_TTL_SECONDS", &cfg.Listing.ThumbnailCacheTTL)
	ov.integer("CLOUD_LIST_METADATA_MAX", &cfg.Listing.MetadataMax)
	ov.integer("CLOUD_LIST_METADATA_CONCURRENCY", &cfg.Listing.MetadataConcurrency)
	ov.integer("CLOUD_SEARCH_SCAN_MAX", &cfg.Listing.SearchScanMax)

	ov.integer("ARCHIVE_EXTRACT_JOB_CONCURRENCY", &cfg.Archive.ExtractConcurrency)
	ov.integer("ARCHIVE_EXTRACT_ENTRY_CONCURRENCY", &cfg.Archive.EntryConcurrency)
	ov.integer("ARCHIVE_EXTRACT_PROGRESS_ENTRIES", &cfg.Archive.ProgressEntriesStep)
	ov.bytes("ARCHIVE_EXTRACT_PROGRESS_BYTES", &cfg.Archive.ProgressBytesStep)
	ov.integer("ARCHIVE_EXTRACT_MAX_ENTRIES", &cfg.Archive.MaxEntries)
	ov.bytes("ARCHIVE_EXTRACT_MAX_ENTRY_BYTES", &cfg.Archive.MaxEntryBytes)
	ov.bytes("ARCHIVE_EXTRACT_MAX_TOTAL_BYTES", &cfg.Archive.MaxTotalBytes)
	ov.float("ARCHIVE_EXTRACT_MAX_RATIO", &cfg.Archive.MaxRatio)
	ov.integer("ARCHIVE_CREATE_MAX_FILES", &cfg.Archive.CreateMaxFiles)
	ov.bytes("ARCHIVE_CREATE_MAX_TOTAL_BYTES", &cfg.Archive.CreateMaxTotalBytes)
	ov.bytes("ARCHIVE_PREVIEW_MAX_BYTES", &cfg.Archive.PreviewMaxBytes)
	ov.bytes("RAR_MAX_BUFFER_BYTES", &cfg.Archive.RarMaxBufferBytes)

	ov.boolean("CLOUD_AV_ENABLED", &cfg.Antivirus.Enabled)
	ov.str("CLOUD_AV_HOST", &cfg.Antivirus.Host)
	ov.integer("CLOUD_AV_PORT", &cfg.Antivirus.Port)
	ov.bytes("CLOUD_AV_MAX_BYTES", &cfg.Antivirus.MaxScanBytes)
	ov.millis("CLOUD_AV_SOCKET_TIMEOUT_MS", &cfg.Antivirus.SocketTimeout)
	ov.integer("CLOUD_AV_CONCURRENCY", &cfg.Antivirus.Concurrency)

	ov.seconds("CLOUD_IDEMPOTENCY_TTL_SECONDS", &cfg.Idempotency.TTL)

	return ov.err
}

// envOverrides collects parse errors so callers get the first bad
// variable by name instead of a silent fallback.
type envOverrides struct {
	err error
}

func (o *envOverrides) lookup(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, o.err == nil
}

func (o *envOverrides) fail(name, raw string, err error) {
	if o.err == nil {
		o.err = fmt.Errorf("invalid value %q for %s: %w", raw, name, err)
	}
}

func (o *envOverrides) str(name string, dst *string) {
	if raw, ok := o.lookup(name); ok {
		*dst = raw
	}
}

func (o *envOverrides) integer(name string, dst *int) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = n
}

func (o *envOverrides) float(name string, dst *float64) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = f
}

func (o *envOverrides) boolean(name string, dst *bool) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = b
}

func (o *envOverrides) seconds(name string, dst *time.Duration) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = time.Duration(n) * time.Second
}

func (o *envOverrides) millis(name string, dst *time.Duration) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}

func (o *envOverrides) bytes(name string, dst *bytesize.ByteSize) {
	raw, ok := o.lookup(name)
	if !ok {
		return
	}
	// Accepts both plain byte counts and human-readable sizes ("256Mi").
	size, err := bytesize.ParseByteSize(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = size
}
