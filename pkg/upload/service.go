// Package upload implements the multipart upload flow: quota pre-checks,
// part URL signing, server-side MD5 verification, and the post-complete
// bookkeeping (usage accounting, limit enforcement with compensating
// delete, image probing, AV scan enqueue, cache invalidation).
package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// DefaultPartURLTTL is the signed part-URL lifetime.
const DefaultPartURLTTL = time.Hour

// ScanQueue receives keys to scan after upload. Implementations must not
// block.
type ScanQueue interface {
	Enqueue(ctx context.Context, owner, key string)
}

// CacheInvalidator drops listing and thumbnail caches after a mutation.
type CacheInvalidator interface {
	InvalidateListCache(ctx context.Context, owner string)
	InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string)
}

// Service implements the upload flow.
type Service struct {
	gw     *gateway.Gateway
	usage  *usage.Service
	images *objmeta.ImageProcessor
	scans  ScanQueue
	caches CacheInvalidator
}

// NewService wires the upload service. scans and caches may be nil when
// the deployment runs without AV or caching.
func NewService(gw *gateway.Gateway, usageSvc *usage.Service, images *objmeta.ImageProcessor, scans ScanQueue, caches CacheInvalidator) *Service {
	return &Service{gw: gw, usage: usageSvc, images: images, scans: scans, caches: caches}
}

// CreateParams starts one multipart upload.
type CreateParams struct {
	Key         string
	ContentType string
	Metadata    map[string]string
	// Size is the declared total size; zero means unknown and skips the
	// size pre-checks (the post-complete re-check still applies).
	Size int64
}

// Created identifies a started multipart upload.
type Created struct {
	UploadId string `json:"uploadId"`
	Key      string `json:"key"`
}

// CreateMultipart pre-checks quota and starts the upload.
func (s *Service) CreateMultipart(ctx context.Context, owner string, p CreateParams) (Created, error) {
	key := pathutil.NormalizeDir(p.Key)
	if key == "" || pathutil.IsSecure(key) {
		return Created{}, fault.BadRequestf("invalid upload key %q", p.Key)
	}

	limits, err := s.usage.UserStorageUsage(ctx, owner)
	if err != nil {
		return Created{}, err
	}
	if limits.IsLimitExceeded {
		return Created{}, fault.BadRequestf("storage limit exceeded")
	}
	if p.Size > 0 {
		if limits.MaxUploadSizeBytes > 0 && p.Size > limits.MaxUploadSizeBytes {
			return Created{}, fault.BadRequestf("file exceeds the maximum upload size")
		}
		if limits.MaxBytes > 0 && limits.UsedBytes+p.Size > limits.MaxBytes {
			return Created{}, fault.BadRequestf("upload would exceed the storage limit")
		}
	}

	full := pathutil.KeyBuilder(owner, key)
	in := &s3.CreateMultipartUploadInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(full),
	}
	if ct := objmeta.MimeTypeFor(full, p.ContentType); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if len(p.Metadata) > 0 {
		in.Metadata = objmeta.SanitizeForStore(p.Metadata)
	}

	out, err := s.gw.Client().CreateMultipartUpload(ctx, in)
	if err != nil {
		return Created{}, fault.Internalf(err, "create multipart %q", key)
	}
	logger.Info("multipart upload started",
		logger.KeyOwner, owner, logger.KeyKey, key, "uploadId", aws.ToString(out.UploadId))
	return Created{UploadId: aws.ToString(out.UploadId), Key: key}, nil
}

// GetPartUrl signs an UploadPart URL for direct client puts.
func (s *Service) GetPartUrl(ctx context.Context, owner, key, uploadId string, partNumber int32) (string, error) {
	full := pathutil.KeyBuilder(owner, key)
	url, err := s.gw.PartURL(ctx, full, uploadId, partNumber, DefaultPartURLTTL)
	if err != nil {
		return "", fault.Internalf(err, "sign part %d of %q", partNumber, key)
	}
	return url, nil
}

// UploadPart uploads one part through the server, verifying the declared
// Content-MD5 against the buffer before touching the store.
func (s *Service) UploadPart(ctx context.Context, owner, key, uploadId string, partNumber int32, body []byte, contentMd5 string) (string, error) {
	if contentMd5 != "" {
		sum := md5.Sum(body)
		if base64.StdEncoding.EncodeToString(sum[:]) != contentMd5 {
			return "", fault.BadRequestf("content-md5 mismatch on part %d", partNumber)
		}
	}

	in := &s3.UploadPartInput{
		Bucket:     s.gw.BucketPtr(),
		Key:        aws.String(pathutil.KeyBuilder(owner, key)),
		UploadId:   aws.String(uploadId),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(body),
	}
	if contentMd5 != "" {
		in.ContentMD5 = aws.String(contentMd5)
	}
	out, err := s.gw.Client().UploadPart(ctx, in)
	if err != nil {
		if gateway.IsNotFound(err) {
			return "", fault.NotFoundf("upload %q not found", uploadId)
		}
		return "", fault.Internalf(err, "upload part %d of %q", partNumber, key)
	}
	return aws.ToString(out.ETag), nil
}

// Part is one completed part reference.
type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// Completed describes the assembled object.
type Completed struct {
	Location string `json:"location"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	ETag     string `json:"etag"`
}

// Complete finishes the upload and runs the post-upload pipeline. When
// the completed object pushes the owner past their storage limit, it is
// deleted again and the usage reverted.
func (s *Service) Complete(ctx context.Context, owner, key, uploadId string, parts []Part) (Completed, error) {
	full := pathutil.KeyBuilder(owner, key)

	sorted := append([]Part(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	completed := make([]types.CompletedPart, len(sorted))
	for i, p := range sorted {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := s.gw.Client().CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          s.gw.BucketPtr(),
		Key:             aws.String(full),
		UploadId:        aws.String(uploadId),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return Completed{}, fault.NotFoundf("upload %q not found", uploadId)
		}
		return Completed{}, fault.Internalf(err, "complete multipart %q", key)
	}
	result := Completed{
		Location: aws.ToString(out.Location),
		Bucket:   s.gw.Bucket(),
		Key:      key,
		ETag:     aws.ToString(out.ETag),
	}

	head, err := s.gw.Client().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(full),
	})
	if err != nil {
		return Completed{}, fault.Internalf(err, "head after complete %q", key)
	}
	size := aws.ToInt64(head.ContentLength)

	if err := s.usage.Increment(ctx, owner, size); err != nil {
		logger.Warn("usage increment failed after upload",
			logger.KeyOwner, owner, logger.KeyError, err)
	}

	limits, err := s.usage.UserStorageUsage(ctx, owner)
	if err == nil && limits.IsLimitExceeded {
		if _, derr := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(full),
		}); derr != nil {
			logger.Error("failed to remove over-quota upload",
				logger.KeyOwner, owner, logger.KeyKey, key, logger.KeyError, derr)
		}
		if derr := s.usage.Decrement(ctx, owner, size); derr != nil {
			logger.Warn("usage revert failed", logger.KeyOwner, owner, logger.KeyError, derr)
		}
		return Completed{}, fault.BadRequestf("storage limit exceeded")
	}

	if s.images != nil && objmeta.CanProbe(full) {
		s.images.Process(ctx, full)
	}
	if s.scans != nil {
		s.scans.Enqueue(ctx, owner, key)
	}
	if s.caches != nil {
		s.caches.InvalidateThumbnailCacheForObjectKey(ctx, owner, key)
		s.caches.InvalidateListCache(ctx, owner)
	}

	logger.Info("upload completed",
		logger.KeyOwner, owner, logger.KeyKey, key, logger.KeySize, size)
	return result, nil
}

// Abort cancels the upload and discards its parts.
func (s *Service) Abort(ctx context.Context, owner, key, uploadId string) error {
	_, err := s.gw.Client().AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   s.gw.BucketPtr(),
		Key:      aws.String(pathutil.KeyBuilder(owner, key)),
		UploadId: aws.String(uploadId),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return fault.NotFoundf("upload %q not found", uploadId)
		}
		return fault.Internalf(err, "abort multipart %q", key)
	}
	return nil
}
