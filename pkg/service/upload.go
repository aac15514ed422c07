package service

import (
	"context"

	"github.com/cloudrove/cloudrove/pkg/upload"
)

// CreateUploadRequest starts a multipart upload.
type CreateUploadRequest struct {
	Key         string `validate:"required"`
	ContentType string
	Metadata    map[string]string
	Size        int64 `validate:"gte=0"`
}

// CreateUpload starts a multipart upload after quota pre-checks.
func (s *Service) CreateUpload(ctx context.Context, c Caller, req CreateUploadRequest) (upload.Created, error) {
	if err := s.check(c, req); err != nil {
		return upload.Created{}, err
	}
	if err := s.accessCheck(ctx, c, req.Key); err != nil {
		return upload.Created{}, err
	}
	return s.uploads.CreateMultipart(ctx, c.Owner(), upload.CreateParams{
		Key:         req.Key,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
		Size:        req.Size,
	})
}

// UploadPartUrl signs a direct-put URL for one part.
func (s *Service) UploadPartUrl(ctx context.Context, c Caller, key, uploadId string, partNumber int32) (string, error) {
	if err := s.check(c, nil); err != nil {
		return "", err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return "", err
	}
	return s.uploads.GetPartUrl(ctx, c.Owner(), key, uploadId, partNumber)
}

// UploadPart uploads one part through the server, verifying the given
// Content-MD5 when present.
func (s *Service) UploadPart(ctx context.Context, c Caller, key, uploadId string, partNumber int32, body []byte, contentMd5 string) (string, error) {
	if err := s.check(c, nil); err != nil {
		return "", err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return "", err
	}
	return s.uploads.UploadPart(ctx, c.Owner(), key, uploadId, partNumber, body, contentMd5)
}

// CompleteUploadRequest finishes a multipart upload.
type CompleteUploadRequest struct {
	Key      string        `validate:"required"`
	UploadId string        `validate:"required"`
	Parts    []upload.Part `validate:"required,min=1"`
}

// CompleteUpload assembles the parts and runs the post-complete
// bookkeeping. With an idempotency key, a replayed call returns the
// recorded completion without touching the store again.
func (s *Service) CompleteUpload(ctx context.Context, c Caller, req CompleteUploadRequest) (upload.Completed, error) {
	if err := s.check(c, req); err != nil {
		return upload.Completed{}, err
	}
	if err := s.accessCheck(ctx, c, req.Key); err != nil {
		return upload.Completed{}, err
	}

	owner := c.Owner()
	done, err := idempotent(ctx, s, c, "upload-complete", func() (upload.Completed, error) {
		return s.uploads.Complete(ctx, owner, req.Key, req.UploadId, req.Parts)
	})
	if err != nil {
		return upload.Completed{}, err
	}
	s.invalidateFor(ctx, owner, []string{req.Key}, nil)
	return done, nil
}

// AbortUpload abandons a multipart upload and frees its parts.
func (s *Service) AbortUpload(ctx context.Context, c Caller, key, uploadId string) error {
	if err := s.check(c, nil); err != nil {
		return err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return err
	}
	return s.uploads.Abort(ctx, c.Owner(), key, uploadId)
}
