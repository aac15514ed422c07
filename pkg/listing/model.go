// Package listing turns flat ListObjectsV2 results into the file-system
// view callers see: directory records with lock state and thumbnails,
// object records with URLs and decoded metadata, breadcrumbs, paginated
// object/directory listings, and name search. Results are cached in the
// KV store and invalidated by the mutation paths.
package listing

import (
	"time"

	"github.com/cloudrove/cloudrove/pkg/metrics"
)

// Defaults for the listing engine knobs.
const (
	DefaultCacheTTL            = time.Hour
	DefaultThumbnailCacheTTL   = time.Hour
	DefaultMetadataMax         = 1000
	DefaultMetadataConcurrency = 5
	DefaultSearchScanMax       = 10000
	DefaultPageSize            = 1000

	maxThumbnails         = 4
	maxThumbnailGroups    = 4
	maxThumbnailsPerGroup = 4
)

// Config tunes the listing engine. Zero values take the defaults above.
type Config struct {
	CacheTTL            time.Duration
	ThumbnailCacheTTL   time.Duration
	MetadataMax         int
	MetadataConcurrency int
	SearchScanMax       int
	PageSize            int32

	// Metrics may be nil; all recording is then skipped.
	Metrics *metrics.CacheMetrics
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.ThumbnailCacheTTL <= 0 {
		c.ThumbnailCacheTTL = DefaultThumbnailCacheTTL
	}
	if c.MetadataMax <= 0 {
		c.MetadataMax = DefaultMetadataMax
	}
	if c.MetadataConcurrency <= 0 {
		c.MetadataConcurrency = DefaultMetadataConcurrency
	}
	if c.SearchScanMax <= 0 {
		c.SearchScanMax = DefaultSearchScanMax
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

// Object is one file entry as callers see it. Key is relative to the
// owner prefix.
type Object struct {
	Name         string            `json:"name"`
	Extension    string            `json:"extension"`
	MimeType     string            `json:"mimeType"`
	Host         string            `json:"host,omitempty"`
	Key          string            `json:"key"`
	Url          string            `json:"url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag,omitempty"`
	LastModified time.Time         `json:"lastModified"`
}

// Directory is one folder entry. Prefix is relative to the owner.
type Directory struct {
	Name        string   `json:"name"`
	Prefix      string   `json:"prefix"`
	IsEncrypted bool     `json:"isEncrypted"`
	IsLocked    bool     `json:"isLocked"`
	IsHidden    bool     `json:"isHidden"`
	IsConcealed bool     `json:"isConcealed"`
	Thumbnails  []Object `json:"thumbnails"`
}

// Breadcrumb is one step of the path trail back to the root.
type Breadcrumb struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Result is the full listing of one directory.
type Result struct {
	Path        string       `json:"path"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Directories []Directory  `json:"directories"`
	Objects     []Object     `json:"objects"`
}

// ObjectsPage is a paginated object listing.
type ObjectsPage struct {
	Objects    []Object `json:"objects"`
	TotalCount int      `json:"totalCount"`
}

// DirectoriesPage is a paginated directory listing.
type DirectoriesPage struct {
	Directories []Directory `json:"directories"`
	TotalCount  int         `json:"totalCount"`
}

// SearchResult carries file matches and independent directory-name
// matches; a matching directory is never expanded into its files.
type SearchResult struct {
	Objects             []Object    `json:"objects"`
	Directories         []Directory `json:"directories"`
	TotalCount          int         `json:"totalCount"`
	TotalDirectoryCount int         `json:"totalDirectoryCount"`
}
