package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/cloudrove/cloudrove/pkg/bufpool"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// zipHandler reads and writes ZIP archives. The central directory lives
// at the end of the file, so reading needs random access: sources that
// are already an io.ReaderAt are used in place, anything else is spooled
// to a temp file. Entries then stream one at a time; writing is fully
// streaming.
type zipHandler struct{}

func (h *zipHandler) Format() Format         { return FormatZip }
func (h *zipHandler) Extensions() []string   { return []string{"zip"} }
func (h *zipHandler) SupportsCreation() bool { return true }

func (h *zipHandler) open(r io.Reader, totalBytes int64, limits Limits) (*zip.Reader, func(), error) {
	if limits.MaxTotalBytes > 0 && totalBytes > limits.MaxTotalBytes {
		return nil, nil, fault.BadRequestf("archive exceeds the maximum total size")
	}
	ra, size, cleanup, err := zipReaderAt(r, totalBytes)
	if err != nil {
		return nil, nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		cleanup()
		return nil, nil, fault.BadRequestf("malformed zip archive: %v", err)
	}
	return zr, cleanup, nil
}

// zipReaderAt exposes the archive through io.ReaderAt without holding it
// in memory: a source that already supports random access (a bytes.Reader,
// an open file) is used directly, a remote stream is spooled to a temp
// file.
func zipReaderAt(r io.Reader, totalBytes int64) (io.ReaderAt, int64, func(), error) {
	if ra, ok := r.(io.ReaderAt); ok && totalBytes > 0 {
		return ra, totalBytes, func() {}, nil
	}

	f, err := os.CreateTemp("", "cloudrove-zip-*")
	if err != nil {
		return nil, 0, nil, fault.Internalf(err, "spool zip archive")
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	size, err := bufpool.Copy(f, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, fault.Internalf(err, "spool zip archive")
	}
	return f, size, cleanup, nil
}

func (h *zipHandler) ListEntries(ctx context.Context, r io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	zr, cleanup, err := h.open(r, totalBytes, limits)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	tracker := limitTracker{limits: limits}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		path, ok := pathutil.NormalizeArchiveEntryPath(f.Name)
		if !ok {
			continue
		}
		typ := EntryFile
		size := int64(f.UncompressedSize64)
		if strings.HasSuffix(f.Name, "/") {
			typ, size = EntryDirectory, 0
		}
		if err := tracker.addEntry(size); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: path, Type: typ, Size: size})
	}
	return entries, nil
}

func (h *zipHandler) Extract(ctx context.Context, r io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error) {
	zr, cleanup, err := h.open(r, totalBytes, limits)
	if err != nil {
		return Summary{}, err
	}
	defer cleanup()

	tracker := limitTracker{limits: limits}
	var sum Summary
	var compressedRead int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if cancelled(opts) {
			return sum, ErrCancelled
		}

		path, ok := pathutil.NormalizeArchiveEntryPath(f.Name)
		if !ok || !wanted(opts, path) {
			continue
		}

		isDir := strings.HasSuffix(f.Name, "/")
		size := int64(f.UncompressedSize64)
		if isDir {
			size = 0
		}
		if err := tracker.addEntry(size); err != nil {
			return sum, err
		}
		compressedRead += int64(f.CompressedSize64)
		if err := tracker.checkRatio(compressedRead); err != nil {
			return sum, err
		}

		entry := ExtractedEntry{Path: path, Type: EntryFile, Size: size}
		if isDir {
			entry.Type = EntryDirectory
			entry.Stream = bytes.NewReader(nil)
			if err := onEntry(entry); err != nil {
				return sum, err
			}
		} else {
			rc, err := f.Open()
			if err != nil {
				return sum, fault.BadRequestf("malformed zip entry %q: %v", path, err)
			}
			entry.Stream = io.LimitReader(rc, size)
			cbErr := onEntry(entry)
			_ = rc.Close()
			if cbErr != nil {
				return sum, cbErr
			}
			sum.Bytes += size
		}
		sum.Entries++
		progress(opts, sum.Entries, compressedRead)
	}
	return sum, nil
}

func (h *zipHandler) Create(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error {
	zw := zip.NewWriter(w)
	var written int64
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.ShouldCancel != nil && opts.ShouldCancel() {
			return ErrCancelled
		}

		hdr := &zip.FileHeader{Name: e.Path, Method: zip.Deflate}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fault.Internalf(err, "zip header %q", e.Path)
		}
		rc, err := get(ctx, e.Key)
		if err != nil {
			return err
		}
		n, err := bufpool.Copy(fw, rc)
		_ = rc.Close()
		if err != nil {
			return fault.Internalf(err, "zip entry %q", e.Path)
		}
		written += n
		if opts.OnProgress != nil {
			opts.OnProgress(i+1, written)
		}
	}
	if err := zw.Close(); err != nil {
		return fault.Internalf(err, "finalize zip")
	}
	return nil
}
