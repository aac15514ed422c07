package objmeta

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"strconv"

	// Register the decoders DecodeConfig needs.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// imageExtensions are the file extensions the dimension probe understands.
var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"webp": true, "bmp": true, "svg": true, "avif": true, "heic": true,
}

// decodableExtensions are the subset the stdlib can actually measure.
var decodableExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
}

// IsImage reports whether the key looks like an image by extension.
// Listing thumbnails use this broader set.
func IsImage(key string) bool {
	return imageExtensions[pathutil.Extension(key)]
}

// CanProbe reports whether ProcessImage can extract dimensions for the key.
func CanProbe(key string) bool {
	return decodableExtensions[pathutil.Extension(key)]
}

// ImageProcessor writes width/height metadata back onto image objects after
// upload or archive extraction.
type ImageProcessor struct {
	gw *gateway.Gateway
}

// NewImageProcessor creates a processor over the gateway.
func NewImageProcessor(gw *gateway.Gateway) *ImageProcessor {
	return &ImageProcessor{gw: gw}
}

// Process reads the object, decodes its pixel dimensions, and writes them
// back merged into the existing metadata. Both a full PutObject and a
// CopyObject REPLACE are issued: some providers silently drop metadata on
// in-place copy, others reset timestamps on rewrite, and issuing both
// covers the union. Failures are logged and swallowed; dimensions are
// best-effort decoration.
func (p *ImageProcessor) Process(ctx context.Context, key string) {
	if !CanProbe(key) {
		return
	}
	if err := p.process(ctx, key); err != nil {
		logger.Warn("image metadata probe failed", logger.KeyKey, key, logger.KeyError, err)
	}
}

func (p *ImageProcessor) process(ctx context.Context, key string) error {
	client := p.gw.Client()

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: p.gw.BucketPtr(),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	defer func() { _ = obj.Body.Close() }()

	body, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	meta := map[string]string{}
	for k, v := range obj.Metadata {
		meta[k] = v
	}
	meta["width"] = strconv.Itoa(cfg.Width)
	meta["height"] = strconv.Itoa(cfg.Height)

	contentType := aws.ToString(obj.ContentType)

	if _, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      p.gw.BucketPtr(),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	}); err != nil {
		return fmt.Errorf("put: %w", err)
	}

	if _, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            p.gw.BucketPtr(),
		Key:               aws.String(key),
		CopySource:        aws.String(gateway.CopySource(p.gw.Bucket(), key)),
		MetadataDirective: types.MetadataDirectiveReplace,
		ContentType:       aws.String(contentType),
		Metadata:          meta,
	}); err != nil {
		return fmt.Errorf("copy replace: %w", err)
	}

	return nil
}
