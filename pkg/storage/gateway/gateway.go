// Package gateway is the thin wrapper over the S3 API that every cloudrove
// component talks to. It owns the bucket name, owner-prefixed key
// construction, URL composition (presigned or public CDN), and NotFound
// detection. No higher-level semantics live here.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// Client is the subset of the S3 API the core consumes. *s3.Client
// satisfies it; tests use the map-backed fake in pkg/storage/storagetest.
type Client interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner is the subset of the S3 presign API the gateway consumes.
// *s3.PresignClient satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config configures the gateway.
type Config struct {
	// Bucket is the single bucket all owner prefixes live under.
	Bucket string

	// PublicHost rewrites the host of presigned URLs, and serves as the
	// CDN host for unsigned public URLs. Example: "cdn.example.com".
	PublicHost string

	// SignURLs selects presigned URLs over public CDN URLs.
	SignURLs bool

	// PresignTTL is the default presigned-URL validity (default 1h).
	PresignTTL time.Duration

	// PresignMaxTTL caps caller-supplied TTLs (default 1h).
	PresignMaxTTL time.Duration
}

// Gateway wraps the S3 client for one bucket.
type Gateway struct {
	client    Client
	presigner Presigner
	cfg       Config
}

// New creates a gateway over an existing client and presigner.
func New(client Client, presigner Presigner, cfg Config) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if cfg.PresignMaxTTL <= 0 {
		cfg.PresignMaxTTL = time.Hour
	}
	return &Gateway{client: client, presigner: presigner, cfg: cfg}, nil
}

// NewClientFromConfig creates an S3 client from configuration parameters.
// Endpoint is optional and selects S3-compatible providers (MinIO, R2, ...).
func NewClientFromConfig(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// Client exposes the raw S3 client for operations the gateway does not
// wrap (streaming bodies, paginators).
func (g *Gateway) Client() Client { return g.client }

// Bucket returns the configured bucket name.
func (g *Gateway) Bucket() string { return g.cfg.Bucket }

// BucketPtr returns the bucket as an *string for SDK inputs.
func (g *Gateway) BucketPtr() *string { return aws.String(g.cfg.Bucket) }

// Key builds the owner-prefixed storage key for the given path parts.
func (g *Gateway) Key(owner string, parts ...string) string {
	return pathutil.KeyBuilder(owner, parts...)
}

// PublicHost returns the configured public hostname.
func (g *Gateway) PublicHost() string { return g.cfg.PublicHost }

// Signing reports whether object URLs are presigned.
func (g *Gateway) Signing() bool { return g.cfg.SignURLs && g.presigner != nil }

// PresignTTL returns the default presigned-URL validity.
func (g *Gateway) PresignTTL() time.Duration { return g.cfg.PresignTTL }

// ClampTTL bounds a caller-supplied TTL to the configured maximum; zero or
// negative selects the default.
func (g *Gateway) ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return g.cfg.PresignTTL
	}
	if ttl > g.cfg.PresignMaxTTL {
		return g.cfg.PresignMaxTTL
	}
	return ttl
}

// URL composes the caller-facing URL for an object key: a presigned URL
// with the public host rewritten when signing is enabled, otherwise a
// public CDN URL.
func (g *Gateway) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if !g.Signing() {
		return g.publicURL(key), nil
	}

	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: g.BucketPtr(),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(g.ClampTTL(ttl)))
	if err != nil {
		return "", fmt.Errorf("failed to presign %q: %w", key, err)
	}

	return g.rewriteHost(req.URL), nil
}

// PartURL presigns an UploadPart request for client-side multipart uploads.
func (g *Gateway) PartURL(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (string, error) {
	if g.presigner == nil {
		return "", fmt.Errorf("presigner not configured")
	}

	req, err := g.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     g.BucketPtr(),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	}, s3.WithPresignExpires(g.ClampTTL(ttl)))
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d of %q: %w", partNumber, key, err)
	}

	return req.URL, nil
}

func (g *Gateway) publicURL(key string) string {
	host := g.cfg.PublicHost
	if host == "" {
		host = g.cfg.Bucket + ".s3.amazonaws.com"
	}
	// url.URL escapes Path per segment when rendering, keeping "/".
	u := url.URL{Scheme: "https", Host: host, Path: "/" + key}
	return u.String()
}

func (g *Gateway) rewriteHost(raw string) string {
	if g.cfg.PublicHost == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = g.cfg.PublicHost
	// Path-style URLs carry the bucket as the first path segment; drop it
	// when rewriting to the public host.
	u.Path = strings.TrimPrefix(u.Path, "/"+g.cfg.Bucket)
	return u.String()
}

// CopySource builds the URL-encoded "{bucket}/{key}" value CopyObject
// expects.
func CopySource(bucket, key string) string {
	return url.PathEscape(bucket + "/" + key)
}

// IsNotFound reports whether the error is an S3 missing-key error. The
// canonical codes differ between GetObject (NoSuchKey) and HeadObject
// (NotFound), so both are matched.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchUpload":
			return true
		}
	}
	return false
}
