// Package archive provides streaming archive handlers (ZIP, TAR, TAR.GZ,
// RAR) behind one interface, with safety limits against archive bombs:
// entry count, per-entry size, total size, and compression ratio.
package archive

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// Format identifies an archive format.
type Format string

// Supported formats.
const (
	FormatZip   Format = "zip"
	FormatTar   Format = "tar"
	FormatTarGz Format = "tar.gz"
	FormatRar   Format = "rar"
)

// EntryType distinguishes files from directory entries.
type EntryType string

// Entry types.
const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// ErrCancelled aborts an extract or create when the cancel signal fires.
// Workers map it to the cancelled job state.
var ErrCancelled = errors.New("archive operation cancelled")

// Entry describes one archive member without its content.
type Entry struct {
	Path string    `json:"path"`
	Type EntryType `json:"type"`
	Size int64     `json:"size"`
}

// ExtractedEntry is one member during extraction. Stream is empty for
// directories and must be fully consumed before the next callback.
type ExtractedEntry struct {
	Path   string
	Type   EntryType
	Size   int64
	Stream io.Reader
}

// OnEntry receives extracted entries in source order. Returning an error
// aborts the extract.
type OnEntry func(e ExtractedEntry) error

// Limits bound every list and extract. Zero fields mean unlimited.
type Limits struct {
	MaxEntries          int
	MaxEntryBytes       int64
	MaxTotalBytes       int64
	MaxCompressionRatio float64
}

// DefaultLimits are the extraction bounds applied when nothing is
// configured.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:          10000,
		MaxEntryBytes:       1 << 30, // 1 GiB
		MaxTotalBytes:       5 << 30, // 5 GiB
		MaxCompressionRatio: 100,
	}
}

// ExtractOptions tune one extraction run.
type ExtractOptions struct {
	// Selected limits extraction to these entry paths; empty extracts all.
	Selected map[string]bool
	// ShouldCancel is polled per entry.
	ShouldCancel func() bool
	// OnProgress receives cumulative counts after each entry.
	OnProgress func(entries int, bytesRead int64)
}

// Summary reports what an extract produced.
type Summary struct {
	Entries int
	Bytes   int64 // uncompressed bytes delivered
}

// CreateEntry names one member of an archive to create: the storage key
// to read and the path inside the archive.
type CreateEntry struct {
	Key  string
	Path string
	Size int64
}

// GetStream lazily opens one entry's content during creation.
type GetStream func(ctx context.Context, key string) (io.ReadCloser, error)

// CreateOptions tune one creation run.
type CreateOptions struct {
	ShouldCancel func() bool
	OnProgress   func(entries int, bytesWritten int64)
}

// Handler implements one archive format.
type Handler interface {
	Format() Format
	Extensions() []string
	SupportsCreation() bool
	ListEntries(ctx context.Context, r io.Reader, totalBytes int64, limits Limits) ([]Entry, error)
	Extract(ctx context.Context, r io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error)
	Create(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error
}

// Registry resolves handlers by format or file extension.
type Registry struct {
	handlers []Handler
}

// NewRegistry builds the default handler set. maxRarBuffer bounds the
// in-memory buffering the RAR handler needs (zero uses its default).
func NewRegistry(maxRarBuffer int64) *Registry {
	return &Registry{handlers: []Handler{
		&zipHandler{},
		&tarHandler{},
		&tarGzHandler{},
		newRarHandler(maxRarBuffer),
	}}
}

// ByFormat resolves a handler by format name.
func (r *Registry) ByFormat(f Format) (Handler, error) {
	for _, h := range r.handlers {
		if h.Format() == f {
			return h, nil
		}
	}
	return nil, fault.BadRequestf("unsupported archive format %q", f)
}

// ForKey resolves a handler from the key's file extension.
func (r *Registry) ForKey(key string) (Handler, error) {
	lower := strings.ToLower(key)
	// Longest matching extension wins so ".tar.gz" beats ".gz".
	var best Handler
	bestLen := 0
	for _, h := range r.handlers {
		for _, ext := range h.Extensions() {
			if strings.HasSuffix(lower, "."+ext) && len(ext) > bestLen {
				best, bestLen = h, len(ext)
			}
		}
	}
	if best == nil {
		return nil, fault.BadRequestf("unsupported archive format for %q", pathutil.BaseName(key))
	}
	return best, nil
}

// ExtractPrefix places the extracted tree alongside the archive, named
// after the archive minus its format extension.
func ExtractPrefix(key string, h Handler) string {
	base := pathutil.BaseName(key)
	lower := strings.ToLower(base)
	for _, ext := range h.Extensions() {
		if strings.HasSuffix(lower, "."+ext) {
			base = base[:len(base)-len(ext)-1]
			break
		}
	}
	return pathutil.JoinKey(pathutil.ParentDir(key), base)
}

// limitTracker enforces Limits incrementally during list/extract.
type limitTracker struct {
	limits       Limits
	entries      int
	uncompressed int64
}

func (t *limitTracker) addEntry(size int64) error {
	t.entries++
	if t.limits.MaxEntries > 0 && t.entries > t.limits.MaxEntries {
		return fault.BadRequestf("archive exceeds the maximum of %d entries", t.limits.MaxEntries)
	}
	if t.limits.MaxEntryBytes > 0 && size > t.limits.MaxEntryBytes {
		return fault.BadRequestf("archive entry exceeds the maximum entry size")
	}
	t.uncompressed += size
	if t.limits.MaxTotalBytes > 0 && t.uncompressed > t.limits.MaxTotalBytes {
		return fault.BadRequestf("archive exceeds the maximum total size")
	}
	return nil
}

func (t *limitTracker) checkRatio(compressed int64) error {
	if t.limits.MaxCompressionRatio <= 0 || compressed <= 0 {
		return nil
	}
	if float64(t.uncompressed)/float64(compressed) > t.limits.MaxCompressionRatio {
		return fault.BadRequestf("archive compression ratio exceeds the safety limit")
	}
	return nil
}

// countingReader tracks compressed bytes consumed from the source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func cancelled(opts ExtractOptions) bool {
	return opts.ShouldCancel != nil && opts.ShouldCancel()
}

func progress(opts ExtractOptions, entries int, bytes int64) {
	if opts.OnProgress != nil {
		opts.OnProgress(entries, bytes)
	}
}

func wanted(opts ExtractOptions, path string) bool {
	return len(opts.Selected) == 0 || opts.Selected[path]
}
