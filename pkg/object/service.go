// Package object implements single-object operations: lookup, presigned
// URLs, move, delete, metadata update with provider-quirk fallbacks, and
// throttled download streaming.
package object

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// Service implements object-level operations.
type Service struct {
	gw    *gateway.Gateway
	usage *usage.Service
}

// NewService wires the object service.
func NewService(gw *gateway.Gateway, usageSvc *usage.Service) *Service {
	return &Service{gw: gw, usage: usageSvc}
}

// Find heads the object and builds its record with decoded metadata.
func (s *Service) Find(ctx context.Context, owner, key string) (listing.Object, error) {
	full := pathutil.KeyBuilder(owner, key)
	head, err := s.head(ctx, owner, full)
	if err != nil {
		return listing.Object{}, err
	}
	return s.buildRecord(ctx, owner, full, head), nil
}

// PresignedUrl verifies the object exists and returns a signed URL with
// the TTL clamped to the configured maximum.
func (s *Service) PresignedUrl(ctx context.Context, owner, key string, ttl time.Duration) (string, error) {
	full := pathutil.KeyBuilder(owner, key)
	if _, err := s.head(ctx, owner, full); err != nil {
		return "", err
	}
	url, err := s.gw.URL(ctx, full, s.gw.ClampTTL(ttl))
	if err != nil {
		return "", fault.Internalf(err, "presign %q", key)
	}
	return url, nil
}

// Move copies each source object under the destination directory, keeping
// the base name, and deletes the source.
func (s *Service) Move(ctx context.Context, owner string, sourceKeys []string, destDir string) error {
	destDir = pathutil.NormalizeDir(destDir)
	for _, src := range sourceKeys {
		srcFull := pathutil.KeyBuilder(owner, src)
		dstFull := pathutil.KeyBuilder(owner, destDir, pathutil.BaseName(src))
		if srcFull == dstFull {
			continue
		}

		if _, err := s.gw.Client().CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     s.gw.BucketPtr(),
			Key:        aws.String(dstFull),
			CopySource: aws.String(gateway.CopySource(s.gw.Bucket(), srcFull)),
		}); err != nil {
			if gateway.IsNotFound(err) {
				return fault.NotFoundf("file %q not found", src)
			}
			return fault.Internalf(err, "move copy %q", src)
		}
		if _, err := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(srcFull),
		}); err != nil {
			return fault.Internalf(err, "move delete %q", src)
		}
	}
	return nil
}

// Delete removes each object and decrements the usage counter by the
// freed bytes. Missing objects are skipped, not errors: a re-sent delete
// must succeed.
func (s *Service) Delete(ctx context.Context, owner string, keys []string) (int64, error) {
	var freed int64
	for _, key := range keys {
		full := pathutil.KeyBuilder(owner, key)
		head, err := s.gw.Client().HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(full),
		})
		if err != nil {
			if gateway.IsNotFound(err) {
				continue
			}
			return freed, fault.Internalf(err, "delete head %q", key)
		}

		if _, err := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(full),
		}); err != nil {
			return freed, fault.Internalf(err, "delete %q", key)
		}
		freed += aws.ToInt64(head.ContentLength)
	}

	if freed > 0 {
		if err := s.usage.Decrement(ctx, owner, freed); err != nil {
			logger.Warn("usage decrement failed after delete",
				logger.KeyOwner, owner, logger.KeyError, err)
		}
	}
	return freed, nil
}

// UpdateParams carries an object update: optional rename, optional
// metadata patch (merged over existing, provided keys win).
type UpdateParams struct {
	Key      string
	NewName  string
	Metadata map[string]string
}

// Update renames and/or patches metadata. Metadata-bearing copies use
// MetadataDirective REPLACE and are verified with a Head afterwards; when
// the provider dropped the metadata, the object is rewritten through a
// full Get+Put.
func (s *Service) Update(ctx context.Context, owner string, p UpdateParams) (listing.Object, error) {
	srcFull := pathutil.KeyBuilder(owner, p.Key)
	head, err := s.head(ctx, owner, srcFull)
	if err != nil {
		return listing.Object{}, err
	}

	merged := map[string]string{}
	for k, v := range head.Metadata {
		merged[k] = v
	}
	metadataChanged := false
	var provided map[string]string
	if len(p.Metadata) > 0 {
		provided = objmeta.SanitizeForStore(p.Metadata)
		for k, v := range provided {
			merged[k] = v
		}
		metadataChanged = true
	}

	dstFull := srcFull
	if p.NewName != "" && p.NewName != pathutil.BaseName(p.Key) {
		if !pathutil.ValidName(p.NewName) {
			return listing.Object{}, fault.BadRequestf("invalid name %q", p.NewName)
		}
		dstFull = pathutil.KeyBuilder(owner, pathutil.ParentDir(p.Key), p.NewName)
	}
	if dstFull == srcFull && !metadataChanged {
		return s.buildRecord(ctx, owner, srcFull, head), nil
	}

	copyIn := &s3.CopyObjectInput{
		Bucket:            s.gw.BucketPtr(),
		Key:               aws.String(dstFull),
		CopySource:        aws.String(gateway.CopySource(s.gw.Bucket(), srcFull)),
		MetadataDirective: types.MetadataDirectiveCopy,
	}
	if metadataChanged {
		copyIn.MetadataDirective = types.MetadataDirectiveReplace
		copyIn.Metadata = merged
		copyIn.ContentType = head.ContentType
	}
	if _, err := s.gw.Client().CopyObject(ctx, copyIn); err != nil {
		return listing.Object{}, fault.Internalf(err, "update copy %q", p.Key)
	}

	target, err := s.head(ctx, owner, dstFull)
	if err != nil {
		return listing.Object{}, err
	}
	if metadataChanged && missingAny(target.Metadata, provided) {
		if err := s.rewriteWithMetadata(ctx, dstFull, merged, head.ContentType); err != nil {
			return listing.Object{}, err
		}
		target, err = s.head(ctx, owner, dstFull)
		if err != nil {
			return listing.Object{}, err
		}
	}

	if dstFull != srcFull {
		if _, err := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: s.gw.BucketPtr(),
			Key:    aws.String(srcFull),
		}); err != nil {
			return listing.Object{}, fault.Internalf(err, "update delete %q", p.Key)
		}
	}
	return s.buildRecord(ctx, owner, dstFull, target), nil
}

// rewriteWithMetadata re-uploads the object body with explicit metadata.
// Some providers silently drop metadata on in-place copies; this is the
// heavyweight fallback.
func (s *Service) rewriteWithMetadata(ctx context.Context, full string, metadata map[string]string, contentType *string) error {
	obj, err := s.gw.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(full),
	})
	if err != nil {
		return fault.Internalf(err, "metadata rewrite read %q", full)
	}
	defer func() { _ = obj.Body.Close() }()

	body, err := io.ReadAll(obj.Body)
	if err != nil {
		return fault.Internalf(err, "metadata rewrite body %q", full)
	}
	if _, err := s.gw.Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      s.gw.BucketPtr(),
		Key:         aws.String(full),
		Body:        bytes.NewReader(body),
		Metadata:    metadata,
		ContentType: contentType,
	}); err != nil {
		return fault.Internalf(err, "metadata rewrite write %q", full)
	}
	logger.Info("metadata rewrite applied", logger.KeyKey, full)
	return nil
}

func (s *Service) head(ctx context.Context, owner, full string) (*s3.HeadObjectOutput, error) {
	head, err := s.gw.Client().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(full),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, fault.NotFoundf("file %q not found", pathutil.StripOwner(full, owner))
		}
		return nil, fault.Internalf(err, "head %q", full)
	}
	return head, nil
}

func (s *Service) buildRecord(ctx context.Context, owner, full string, head *s3.HeadObjectOutput) listing.Object {
	o := listing.Object{
		Name:         pathutil.BaseName(full),
		Extension:    pathutil.Extension(full),
		MimeType:     objmeta.MimeTypeFor(full, aws.ToString(head.ContentType)),
		Host:         s.gw.PublicHost(),
		Key:          pathutil.StripOwner(full, owner),
		Metadata:     objmeta.DecodeFromStore(head.Metadata),
		Size:         aws.ToInt64(head.ContentLength),
		ETag:         strings.Trim(aws.ToString(head.ETag), `"`),
		LastModified: aws.ToTime(head.LastModified),
	}
	if url, err := s.gw.URL(ctx, full, 0); err == nil {
		o.Url = url
	}
	return o
}

// missingAny reports whether any provided metadata key is absent from the
// stored metadata, case-insensitively (providers may canonicalize case).
func missingAny(stored, provided map[string]string) bool {
	lower := make(map[string]bool, len(stored))
	for k := range stored {
		lower[strings.ToLower(k)] = true
	}
	for k := range provided {
		if !lower[strings.ToLower(k)] {
			return true
		}
	}
	return false
}
