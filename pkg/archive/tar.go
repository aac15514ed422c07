package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"

	"github.com/cloudrove/cloudrove/pkg/bufpool"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// tarHandler streams TAR archives: header + body per entry, no buffering.
type tarHandler struct{}

func (h *tarHandler) Format() Format         { return FormatTar }
func (h *tarHandler) Extensions() []string   { return []string{"tar"} }
func (h *tarHandler) SupportsCreation() bool { return true }

func (h *tarHandler) ListEntries(ctx context.Context, r io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	return tarList(ctx, r, limits)
}

func (h *tarHandler) Extract(ctx context.Context, r io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error) {
	counter := &countingReader{r: r}
	return tarExtract(ctx, counter, counter, limits, onEntry, opts)
}

func (h *tarHandler) Create(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error {
	return tarCreate(ctx, entries, get, w, opts)
}

// tarGzHandler is the TAR handler behind a gzip stream. The compression
// ratio is measured against gzip input bytes, which is where a bomb
// actually compresses.
type tarGzHandler struct{}

func (h *tarGzHandler) Format() Format         { return FormatTarGz }
func (h *tarGzHandler) Extensions() []string   { return []string{"tar.gz", "tgz"} }
func (h *tarGzHandler) SupportsCreation() bool { return true }

func (h *tarGzHandler) ListEntries(ctx context.Context, r io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fault.BadRequestf("malformed gzip stream: %v", err)
	}
	defer func() { _ = gz.Close() }()
	return tarList(ctx, gz, limits)
}

func (h *tarGzHandler) Extract(ctx context.Context, r io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error) {
	counter := &countingReader{r: r}
	gz, err := gzip.NewReader(counter)
	if err != nil {
		return Summary{}, fault.BadRequestf("malformed gzip stream: %v", err)
	}
	defer func() { _ = gz.Close() }()
	return tarExtract(ctx, gz, counter, limits, onEntry, opts)
}

func (h *tarGzHandler) Create(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error {
	gz := gzip.NewWriter(w)
	if err := tarCreate(ctx, entries, get, gz, opts); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}

func tarList(ctx context.Context, r io.Reader, limits Limits) ([]Entry, error) {
	tr := tar.NewReader(r)
	tracker := limitTracker{limits: limits}
	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fault.BadRequestf("malformed tar archive: %v", err)
		}

		path, ok := pathutil.NormalizeArchiveEntryPath(hdr.Name)
		if !ok {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := tracker.addEntry(0); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Path: path, Type: EntryDirectory})
		case tar.TypeReg:
			if err := tracker.addEntry(hdr.Size); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Path: path, Type: EntryFile, Size: hdr.Size})
		}
	}
}

// tarExtract walks the stream; compressed is the reader whose byte count
// reflects source consumption (the raw stream for tar, the gzip input for
// tar.gz).
func tarExtract(ctx context.Context, r io.Reader, compressed *countingReader, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error) {
	tr := tar.NewReader(r)
	tracker := limitTracker{limits: limits}
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if cancelled(opts) {
			return sum, ErrCancelled
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fault.BadRequestf("malformed tar archive: %v", err)
		}

		path, ok := pathutil.NormalizeArchiveEntryPath(hdr.Name)
		if !ok || !wanted(opts, path) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := tracker.addEntry(0); err != nil {
				return sum, err
			}
			if err := onEntry(ExtractedEntry{Path: path, Type: EntryDirectory, Stream: bytes.NewReader(nil)}); err != nil {
				return sum, err
			}
		case tar.TypeReg:
			if err := tracker.addEntry(hdr.Size); err != nil {
				return sum, err
			}
			if err := tracker.checkRatio(compressed.n); err != nil {
				return sum, err
			}
			if err := onEntry(ExtractedEntry{Path: path, Type: EntryFile, Size: hdr.Size, Stream: tr}); err != nil {
				return sum, err
			}
			sum.Bytes += hdr.Size
		default:
			continue
		}
		sum.Entries++
		progress(opts, sum.Entries, compressed.n)
	}
}

func tarCreate(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error {
	tw := tar.NewWriter(w)
	var written int64
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.ShouldCancel != nil && opts.ShouldCancel() {
			return ErrCancelled
		}

		if err := tw.WriteHeader(&tar.Header{
			Name:     e.Path,
			Size:     e.Size,
			Mode:     0o644,
			Typeflag: tar.TypeReg,
		}); err != nil {
			return fault.Internalf(err, "tar header %q", e.Path)
		}
		rc, err := get(ctx, e.Key)
		if err != nil {
			return err
		}
		n, err := bufpool.Copy(tw, rc)
		_ = rc.Close()
		if err != nil {
			return fault.Internalf(err, "tar entry %q", e.Path)
		}
		written += n
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, written)
		}
	}
	if err := tw.Close(); err != nil {
		return fault.Internalf(err, "finalize tar")
	}
	return nil
}
