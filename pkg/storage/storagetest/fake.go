// Package storagetest provides a map-backed fake of the S3 API subset the
// gateway consumes. It implements enough of ListObjectsV2 (prefix,
// delimiter, pagination, StartAfter), object CRUD, copy directives, and
// multipart uploads to run every service test without a real endpoint.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Object is a stored fake object.
type Object struct {
	Body         []byte
	Metadata     map[string]string
	ContentType  string
	ETag         string
	LastModified time.Time
}

type multipartSession struct {
	key         string
	contentType string
	metadata    map[string]string
	parts       map[int32][]byte
	partETags   map[int32]string
}

// FakeClient implements the gateway.Client and gateway.Presigner interfaces
// over an in-memory map.
type FakeClient struct {
	mu       sync.Mutex
	objects  map[string]*Object
	uploads  map[string]*multipartSession
	calls    map[string]int
	uploadID int

	// DropMetadataOnCopy simulates providers that silently discard
	// user metadata during in-place CopyObject REPLACE.
	DropMetadataOnCopy bool

	// FailPut, when set, makes PutObject return this error once.
	FailPut error

	now func() time.Time
}

// NewFakeClient creates an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		objects: make(map[string]*Object),
		uploads: make(map[string]*multipartSession),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

func notFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *FakeClient) record(op string) {
	f.calls[op]++
}

// CallCount returns how many times the named operation ran.
func (f *FakeClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Seed stores an object directly, bypassing the API surface.
func (f *FakeClient) Seed(key string, body []byte, metadata map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = &Object{
		Body:         append([]byte(nil), body...),
		Metadata:     cloneMeta(metadata),
		ETag:         etagFor(body),
		LastModified: f.now(),
	}
}

// Keys returns all stored keys in sorted order.
func (f *FakeClient) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns a copy of the stored object, if present.
func (f *FakeClient) Lookup(key string) (*Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[key]
	if !ok {
		return nil, false
	}
	cp := *o
	cp.Body = append([]byte(nil), o.Body...)
	cp.Metadata = cloneMeta(o.Metadata)
	return &cp, true
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// ListObjectsV2 supports Prefix, Delimiter, MaxKeys, ContinuationToken and
// StartAfter over the sorted keyspace.
func (f *FakeClient) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListObjectsV2")

	prefix := aws.ToString(in.Prefix)
	delimiter := aws.ToString(in.Delimiter)
	startAfter := aws.ToString(in.StartAfter)
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		startAfter = tok // token is the last key of the previous page
	}

	maxKeys := int32(1000)
	if in.MaxKeys != nil && *in.MaxKeys > 0 && *in.MaxKeys < maxKeys {
		maxKeys = *in.MaxKeys
	}

	all := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seenPrefixes := make(map[string]bool)
	var emitted int32
	var lastKey string

	for _, k := range all {
		if emitted >= maxKeys {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(lastKey)
			break
		}

		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
					emitted++
					lastKey = k
				}
				continue
			}
		}

		o := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.Body))),
			ETag:         aws.String(o.ETag),
			LastModified: aws.Time(o.LastModified),
		})
		emitted++
		lastKey = k
	}

	out.KeyCount = aws.Int32(emitted)
	return out, nil
}

// HeadObject returns object metadata or a NotFound error.
func (f *FakeClient) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HeadObject")

	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound("NotFound")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
		ETag:          aws.String(o.ETag),
		LastModified:  aws.Time(o.LastModified),
		Metadata:      cloneMeta(o.Metadata),
	}, nil
}

// GetObject returns the object body or a NoSuchKey error.
func (f *FakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetObject")

	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(append([]byte(nil), o.Body...))),
		ContentLength: aws.Int64(int64(len(o.Body))),
		ContentType:   aws.String(o.ContentType),
		ETag:          aws.String(o.ETag),
		LastModified:  aws.Time(o.LastModified),
		Metadata:      cloneMeta(o.Metadata),
	}, nil
}

// PutObject stores the body and metadata.
func (f *FakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body []byte
	if in.Body != nil {
		var err error
		body, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PutObject")

	if f.FailPut != nil {
		err := f.FailPut
		f.FailPut = nil
		return nil, err
	}

	if in.ContentMD5 != nil {
		sum := md5.Sum(body)
		if base64.StdEncoding.EncodeToString(sum[:]) != aws.ToString(in.ContentMD5) {
			return nil, &smithy.GenericAPIError{Code: "BadDigest", Message: "Content-MD5 mismatch"}
		}
	}

	o := &Object{
		Body:         body,
		Metadata:     cloneMeta(in.Metadata),
		ContentType:  aws.ToString(in.ContentType),
		ETag:         etagFor(body),
		LastModified: f.now(),
	}
	f.objects[aws.ToString(in.Key)] = o
	return &s3.PutObjectOutput{ETag: aws.String(o.ETag)}, nil
}

// CopyObject copies within the fake bucket, honoring MetadataDirective.
func (f *FakeClient) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CopyObject")

	src, err := url.QueryUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	// CopySource is "bucket/key".
	if i := strings.Index(src, "/"); i >= 0 {
		src = src[i+1:]
	}

	o, ok := f.objects[src]
	if !ok {
		return nil, notFound("NoSuchKey")
	}

	cp := &Object{
		Body:         append([]byte(nil), o.Body...),
		ContentType:  o.ContentType,
		ETag:         o.ETag,
		LastModified: f.now(),
	}
	if in.MetadataDirective == types.MetadataDirectiveReplace {
		if f.DropMetadataOnCopy {
			cp.Metadata = nil
		} else {
			cp.Metadata = cloneMeta(in.Metadata)
		}
		if in.ContentType != nil {
			cp.ContentType = aws.ToString(in.ContentType)
		}
	} else {
		cp.Metadata = cloneMeta(o.Metadata)
	}

	f.objects[aws.ToString(in.Key)] = cp
	return &s3.CopyObjectOutput{
		CopyObjectResult: &types.CopyObjectResult{ETag: aws.String(cp.ETag)},
	}, nil
}

// DeleteObject removes the key; S3 deletes are idempotent.
func (f *FakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteObject")

	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// CreateMultipartUpload opens a session and returns its upload id.
func (f *FakeClient) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateMultipartUpload")

	f.uploadID++
	id := fmt.Sprintf("upload-%d", f.uploadID)
	f.uploads[id] = &multipartSession{
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		metadata:    cloneMeta(in.Metadata),
		parts:       make(map[int32][]byte),
		partETags:   make(map[int32]string),
	}
	return &s3.CreateMultipartUploadOutput{
		UploadId: aws.String(id),
		Key:      in.Key,
		Bucket:   in.Bucket,
	}, nil
}

// UploadPart stores one part of an open session.
func (f *FakeClient) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var body []byte
	if in.Body != nil {
		var err error
		body, err = io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UploadPart")

	sess, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, notFound("NoSuchUpload")
	}

	n := aws.ToInt32(in.PartNumber)
	sess.parts[n] = body
	sess.partETags[n] = etagFor(body)
	return &s3.UploadPartOutput{ETag: aws.String(sess.partETags[n])}, nil
}

// CompleteMultipartUpload concatenates the named parts in order and stores
// the assembled object.
func (f *FakeClient) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CompleteMultipartUpload")

	id := aws.ToString(in.UploadId)
	sess, ok := f.uploads[id]
	if !ok {
		return nil, notFound("NoSuchUpload")
	}

	var body []byte
	var last int32
	if in.MultipartUpload != nil {
		for _, p := range in.MultipartUpload.Parts {
			n := aws.ToInt32(p.PartNumber)
			if n <= last {
				return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Message: "parts not ascending"}
			}
			data, ok := sess.parts[n]
			if !ok {
				return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: fmt.Sprintf("part %d missing", n)}
			}
			body = append(body, data...)
			last = n
		}
	}

	o := &Object{
		Body:         body,
		Metadata:     cloneMeta(sess.metadata),
		ContentType:  sess.contentType,
		ETag:         etagFor(body),
		LastModified: f.now(),
	}
	f.objects[sess.key] = o
	delete(f.uploads, id)

	return &s3.CompleteMultipartUploadOutput{
		Key:      aws.String(sess.key),
		Bucket:   in.Bucket,
		ETag:     aws.String(o.ETag),
		Location: aws.String("https://" + aws.ToString(in.Bucket) + "/" + sess.key),
	}, nil
}

// AbortMultipartUpload discards the session.
func (f *FakeClient) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AbortMultipartUpload")

	id := aws.ToString(in.UploadId)
	if _, ok := f.uploads[id]; !ok {
		return nil, notFound("NoSuchUpload")
	}
	delete(f.uploads, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

// PresignGetObject fabricates a stable presigned-looking URL.
func (f *FakeClient) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := s3.PresignOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	u := fmt.Sprintf("https://%s.s3.test/%s?X-Amz-Expires=%d&X-Amz-Signature=fake",
		aws.ToString(in.Bucket), aws.ToString(in.Key), int(o.Expires.Seconds()))
	return &v4.PresignedHTTPRequest{URL: u, Method: "GET"}, nil
}

// PresignUploadPart fabricates a stable presigned-looking URL.
func (f *FakeClient) PresignUploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := s3.PresignOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	u := fmt.Sprintf("https://%s.s3.test/%s?partNumber=%d&uploadId=%s&X-Amz-Expires=%d&X-Amz-Signature=fake",
		aws.ToString(in.Bucket), aws.ToString(in.Key), aws.ToInt32(in.PartNumber),
		aws.ToString(in.UploadId), int(o.Expires.Seconds()))
	return &v4.PresignedHTTPRequest{URL: u, Method: "PUT"}, nil
}
