package archive

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/nwaples/rardecode/v2"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// DefaultRarBufferBytes bounds in-memory RAR buffering when nothing is
// configured.
const DefaultRarBufferBytes = 256 << 20 // 256 MiB

// rarHandler reads RAR archives. The decoder needs the whole archive, so
// it is buffered in memory up to maxBuffer; creation is not supported.
type rarHandler struct {
	maxBuffer int64
}

func newRarHandler(maxBuffer int64) *rarHandler {
	if maxBuffer <= 0 {
		maxBuffer = DefaultRarBufferBytes
	}
	return &rarHandler{maxBuffer: maxBuffer}
}

func (h *rarHandler) Format() Format         { return FormatRar }
func (h *rarHandler) Extensions() []string   { return []string{"rar"} }
func (h *rarHandler) SupportsCreation() bool { return false }

func (h *rarHandler) buffer(r io.Reader, totalBytes int64) ([]byte, error) {
	if totalBytes > h.maxBuffer {
		return nil, fault.BadRequestf("rar archive exceeds the %d byte buffer limit", h.maxBuffer)
	}
	buf, err := io.ReadAll(io.LimitReader(r, h.maxBuffer+1))
	if err != nil {
		return nil, fault.Internalf(err, "read rar archive")
	}
	if int64(len(buf)) > h.maxBuffer {
		return nil, fault.BadRequestf("rar archive exceeds the %d byte buffer limit", h.maxBuffer)
	}
	return buf, nil
}

func (h *rarHandler) ListEntries(ctx context.Context, r io.Reader, totalBytes int64, limits Limits) ([]Entry, error) {
	buf, err := h.buffer(r, totalBytes)
	if err != nil {
		return nil, err
	}
	rr, err := rardecode.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fault.BadRequestf("malformed rar archive: %v", err)
	}

	tracker := limitTracker{limits: limits}
	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fault.BadRequestf("malformed rar archive: %v", err)
		}

		path, ok := pathutil.NormalizeArchiveEntryPath(hdr.Name)
		if !ok {
			continue
		}
		if hdr.IsDir {
			if err := tracker.addEntry(0); err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Path: path, Type: EntryDirectory})
			continue
		}
		if err := tracker.addEntry(hdr.UnPackedSize); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Path: path, Type: EntryFile, Size: hdr.UnPackedSize})
	}
}

func (h *rarHandler) Extract(ctx context.Context, r io.Reader, totalBytes int64, limits Limits, onEntry OnEntry, opts ExtractOptions) (Summary, error) {
	buf, err := h.buffer(r, totalBytes)
	if err != nil {
		return Summary{}, err
	}
	rr, err := rardecode.NewReader(bytes.NewReader(buf))
	if err != nil {
		return Summary{}, fault.BadRequestf("malformed rar archive: %v", err)
	}

	tracker := limitTracker{limits: limits}
	compressed := int64(len(buf))
	var sum Summary
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if cancelled(opts) {
			return sum, ErrCancelled
		}

		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fault.BadRequestf("malformed rar archive: %v", err)
		}

		path, ok := pathutil.NormalizeArchiveEntryPath(hdr.Name)
		if !ok || !wanted(opts, path) {
			continue
		}

		if hdr.IsDir {
			if err := tracker.addEntry(0); err != nil {
				return sum, err
			}
			if err := onEntry(ExtractedEntry{Path: path, Type: EntryDirectory, Stream: bytes.NewReader(nil)}); err != nil {
				return sum, err
			}
		} else {
			if err := tracker.addEntry(hdr.UnPackedSize); err != nil {
				return sum, err
			}
			if err := tracker.checkRatio(compressed); err != nil {
				return sum, err
			}
			if err := onEntry(ExtractedEntry{Path: path, Type: EntryFile, Size: hdr.UnPackedSize, Stream: rr}); err != nil {
				return sum, err
			}
			sum.Bytes += hdr.UnPackedSize
		}
		sum.Entries++
		// The whole archive is already in memory; report its size as read.
		progress(opts, sum.Entries, compressed)
	}
}

func (h *rarHandler) Create(ctx context.Context, entries []CreateEntry, get GetStream, w io.Writer, opts CreateOptions) error {
	return fault.BadRequestf("rar creation is not supported")
}
