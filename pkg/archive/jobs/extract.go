package jobs

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/fault"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// runExtract executes one extract job: stream the archive, upload each
// entry with a bounded pool, probe images, and account the uncompressed
// bytes. Re-runs are harmless since entry uploads are plain overwrites.
func (s *Service) runExtract(ctx context.Context, job Job) {
	err := s.extract(ctx, &job)
	s.finish(ctx, s.extractQ, job, err)
}

func (s *Service) extract(ctx context.Context, job *Job) error {
	handler, err := s.registry.ByFormat(job.Format)
	if err != nil {
		return err
	}

	fullKey := pathutil.KeyBuilder(job.OwnerID, job.Key)
	obj, err := s.gw.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return fault.NotFoundf("archive %q not found", job.Key)
		}
		return fault.Internalf(err, "read archive %q", job.Key)
	}
	defer func() { _ = obj.Body.Close() }()

	totalBytes := aws.ToInt64(obj.ContentLength)
	prefix := archive.ExtractPrefix(job.Key, handler)
	stripTop := pathutil.BaseName(prefix)

	job.Progress = Progress{Phase: "extracting", TotalBytes: totalBytes}
	_ = s.extractQ.Save(ctx, *job)

	selected := map[string]bool{}
	for _, p := range job.Selected {
		selected[p] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EntryConcurrency)

	onEntry := func(e archive.ExtractedEntry) error {
		rel := e.Path
		// An archive whose single top-level folder repeats the archive
		// name would otherwise extract to "name/name/...".
		if first, rest, ok := splitFirst(rel); ok && first == stripTop {
			rel = rest
		}
		if rel == "" {
			return nil
		}
		target := pathutil.KeyBuilder(job.OwnerID, prefix, rel)

		if e.Type == archive.EntryDirectory {
			g.Go(func() error {
				return s.putEntry(gctx, pathutil.JoinKey(target, pathutil.PlaceholderName), nil)
			})
			return nil
		}

		// The stream is only valid inside this callback; buffer before
		// handing the upload to the pool.
		body, err := io.ReadAll(e.Stream)
		if err != nil {
			return fault.BadRequestf("corrupt archive entry %q: %v", e.Path, err)
		}
		g.Go(func() error {
			if err := s.putEntry(gctx, target, body); err != nil {
				return err
			}
			if s.images != nil && objmeta.CanProbe(target) {
				s.images.Process(gctx, target)
			}
			return nil
		})
		return nil
	}

	reporter := s.progressReporter(ctx, s.extractQ, job)
	sum, err := handler.Extract(gctx, obj.Body, totalBytes, s.cfg.Limits, onEntry, archive.ExtractOptions{
		Selected:     selected,
		ShouldCancel: s.shouldCancel(ctx, kvkeys.ExtractCancel(job.ID)),
		OnProgress:   reporter,
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	if err := s.usage.Increment(ctx, job.OwnerID, sum.Bytes); err != nil {
		logger.Warn("usage increment failed after extract",
			logger.KeyOwner, job.OwnerID, logger.KeyError, err)
	}
	if s.listings != nil {
		s.listings.InvalidateDirectoryThumbnailCache(ctx, job.OwnerID, prefix)
		s.listings.InvalidateListCache(ctx, job.OwnerID)
	}

	job.Progress.EntriesProcessed = sum.Entries
	job.Progress.BytesRead = totalBytes
	job.Result = &Result{
		ExtractedEntries: sum.Entries,
		ExtractedBytes:   sum.Bytes,
		ExtractPrefix:    prefix,
	}
	logger.Info("extract job finished",
		logger.KeyJobID, job.ID, logger.KeyOwner, job.OwnerID,
		logger.KeyEntries, sum.Entries, logger.KeySize, sum.Bytes)
	return nil
}

func (s *Service) putEntry(ctx context.Context, key string, body []byte) error {
	_, err := s.gw.Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      s.gw.BucketPtr(),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(objmeta.MimeTypeFor(key, "")),
	})
	if err != nil {
		return fault.Internalf(err, "upload extracted entry %q", key)
	}
	return nil
}

// progressReporter persists progress only when the entry or byte delta
// crosses the configured step, keeping KV write volume bounded. The byte
// counter goes to BytesRead for extracts and BytesWritten for creates.
func (s *Service) progressReporter(ctx context.Context, q *queue, job *Job) func(entries int, byteCount int64) {
	lastEntries, lastBytes := 0, int64(0)
	return func(entries int, byteCount int64) {
		if entries-lastEntries < s.cfg.ProgressEntriesStep && byteCount-lastBytes < s.cfg.ProgressBytesStep {
			return
		}
		lastEntries, lastBytes = entries, byteCount
		job.Progress.EntriesProcessed = entries
		if job.Kind == KindCreate {
			job.Progress.BytesWritten = byteCount
		} else {
			job.Progress.BytesRead = byteCount
		}
		_ = q.Save(ctx, *job)
	}
}

func splitFirst(p string) (first, rest string, ok bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return p, "", p != ""
}
