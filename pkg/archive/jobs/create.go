package jobs

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/fault"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// createPartBytes is the multipart chunk size for streamed archives.
const createPartBytes = 8 << 20

// runCreate executes one create job: resolve the source keys (expanding
// directories), stream the archive through a pipe into a multipart
// upload, and mirror the result for polling after queue eviction.
func (s *Service) runCreate(ctx context.Context, job Job) {
	err := s.create(ctx, &job)
	s.finish(ctx, s.createQ, job, err)
}

func (s *Service) create(ctx context.Context, job *Job) error {
	handler, err := s.registry.ByFormat(job.OutputFormat)
	if err != nil {
		return err
	}

	entries, totalBytes, err := s.resolveEntries(ctx, job.OwnerID, job.Keys)
	if err != nil {
		return err
	}

	outputKey := job.OutputKey
	if outputKey == "" {
		outputKey = pathutil.JoinKey("archives", job.ID+"."+handler.Extensions()[0])
	}
	fullOut := pathutil.KeyBuilder(job.OwnerID, outputKey)

	job.Progress = Progress{Phase: "creating", TotalEntries: len(entries), TotalBytes: totalBytes}
	_ = s.createQ.Save(ctx, *job)

	get := func(ctx context.Context, key string) (io.ReadCloser, error) {
		obj, err := s.gw.Client().GetObject(ctx, &s3.GetObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fault.Internalf(err, "read %q", key)
		}
		return obj.Body, nil
	}

	pr, pw := io.Pipe()
	go func() {
		err := handler.Create(ctx, entries, get, pw, archive.CreateOptions{
			ShouldCancel: s.shouldCancel(ctx, kvkeys.CreateCancel(job.ID)),
			OnProgress:   s.progressReporter(ctx, s.createQ, job),
		})
		pw.CloseWithError(err)
	}()

	if err := s.uploadStream(ctx, fullOut, pr); err != nil {
		_ = pr.CloseWithError(err)
		return err
	}

	head, err := s.gw.Client().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(fullOut),
	})
	if err != nil {
		return fault.Internalf(err, "stat created archive %q", outputKey)
	}
	size := aws.ToInt64(head.ContentLength)

	if err := s.usage.Increment(ctx, job.OwnerID, size); err != nil {
		logger.Warn("usage increment failed after archive creation",
			logger.KeyOwner, job.OwnerID, logger.KeyError, err)
	}
	if s.listings != nil {
		s.listings.InvalidateListCache(ctx, job.OwnerID)
	}

	job.Progress.EntriesProcessed = len(entries)
	job.Result = &Result{OwnerID: job.OwnerID, ArchiveKey: outputKey, ArchiveSize: size}
	// Mirror the result so Status still answers after the job record's
	// retention window.
	if err := s.kv.Set(ctx, kvkeys.CreateResult(job.ID), *job.Result, resultTTL); err != nil {
		logger.Warn("failed to mirror create result", logger.KeyJobID, job.ID, logger.KeyError, err)
	}

	logger.Info("create job finished",
		logger.KeyJobID, job.ID, logger.KeyOwner, job.OwnerID,
		logger.KeyKey, outputKey, logger.KeySize, size, logger.KeyEntries, len(entries))
	return nil
}

// resolveEntries expands the requested keys into archive members. A key
// that heads as an object becomes one entry named after its base name; a
// key that does not resolves as a directory prefix whose objects are
// archived under "{base}/...". Placeholders never make it into archives.
func (s *Service) resolveEntries(ctx context.Context, owner string, keys []string) ([]archive.CreateEntry, int64, error) {
	var entries []archive.CreateEntry
	var total int64

	add := func(key, path string, size int64) error {
		entries = append(entries, archive.CreateEntry{Key: key, Path: path, Size: size})
		if len(entries) > s.cfg.CreateMaxFiles {
			return fault.BadRequestf("archive would exceed the maximum of %d files", s.cfg.CreateMaxFiles)
		}
		total += size
		if total > s.cfg.CreateMaxTotalBytes {
			return fault.BadRequestf("archive would exceed the maximum total size")
		}
		return nil
	}

	for _, k := range keys {
		full := pathutil.KeyBuilder(owner, k)
		head, err := s.gw.Client().HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(full),
		})
		if err == nil {
			if err := add(full, pathutil.BaseName(k), aws.ToInt64(head.ContentLength)); err != nil {
				return nil, 0, err
			}
			continue
		}
		if !gateway.IsNotFound(err) {
			return nil, 0, fault.Internalf(err, "stat %q", k)
		}

		dirPrefix := full + "/"
		base := pathutil.BaseName(k)
		found := false
		paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
			Bucket: s.gw.BucketPtr(),
			Prefix: aws.String(dirPrefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, 0, fault.Internalf(err, "list %q", k)
			}
			for _, obj := range page.Contents {
				objKey := aws.ToString(obj.Key)
				if pathutil.BaseName(objKey) == pathutil.PlaceholderName {
					continue
				}
				found = true
				rel := strings.TrimPrefix(objKey, dirPrefix)
				if err := add(objKey, pathutil.JoinKey(base, rel), aws.ToInt64(obj.Size)); err != nil {
					return nil, 0, err
				}
			}
		}
		if !found {
			return nil, 0, fault.NotFoundf("source %q not found", k)
		}
	}
	if len(entries) == 0 {
		return nil, 0, fault.BadRequestf("no files to archive")
	}
	return entries, total, nil
}

// uploadStream drives a multipart upload from a reader of unknown length.
// The upload is aborted on any failure so no orphan parts accumulate.
func (s *Service) uploadStream(ctx context.Context, key string, r io.Reader) error {
	mp, err := s.gw.Client().CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      s.gw.BucketPtr(),
		Key:         aws.String(key),
		ContentType: aws.String(objmeta.MimeTypeFor(key, "")),
	})
	if err != nil {
		return fault.Internalf(err, "start upload of %q", key)
	}
	uploadID := mp.UploadId

	abort := func() {
		_, _ = s.gw.Client().AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   s.gw.BucketPtr(),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
	}

	var completed []s3types.CompletedPart
	buf := make([]byte, createPartBytes)
	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			part, err := s.gw.Client().UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     s.gw.BucketPtr(),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				abort()
				return fault.Internalf(err, "upload part %d of %q", partNumber, key)
			}
			completed = append(completed, s3types.CompletedPart{
				ETag:       part.ETag,
				PartNumber: aws.Int32(partNumber),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			abort()
			// The pipe surfaces the archive writer's error, including
			// cancellation.
			return readErr
		}
	}

	_, err = s.gw.Client().CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   s.gw.BucketPtr(),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		abort()
		return fault.Internalf(err, "complete upload of %q", key)
	}
	return nil
}
