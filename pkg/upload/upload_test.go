package upload

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/storage/storagetest"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

type scanSpy struct{ keys []string }

func (s *scanSpy) Enqueue(_ context.Context, _, key string) { s.keys = append(s.keys, key) }

type invalidateSpy struct {
	listCalls  int
	thumbCalls int
}

func (s *invalidateSpy) InvalidateListCache(_ context.Context, _ string) { s.listCalls++ }
func (s *invalidateSpy) InvalidateThumbnailCacheForObjectKey(_ context.Context, _, _ string) {
	s.thumbCalls++
}

func newTestService(t *testing.T, plan usage.Subscription) (*Service, *storagetest.FakeClient, *scanSpy, *invalidateSpy) {
	t.Helper()
	fake := storagetest.NewFakeClient()
	gw, err := gateway.New(fake, fake, gateway.Config{Bucket: "b", SignURLs: true})
	require.NoError(t, err)
	usageSvc := usage.NewService(gw, kv.NewMemoryStore(), usage.StaticSubscriptions{Plan: plan})
	scans := &scanSpy{}
	caches := &invalidateSpy{}
	return NewService(gw, usageSvc, nil, scans, caches), fake, scans, caches
}

func uploadFlow(t *testing.T, svc *Service, owner, key string, body []byte) {
	t.Helper()
	ctx := context.Background()
	created, err := svc.CreateMultipart(ctx, owner, CreateParams{Key: key})
	require.NoError(t, err)
	etag, err := svc.UploadPart(ctx, owner, key, created.UploadId, 1, body, "")
	require.NoError(t, err)
	done, err := svc.Complete(ctx, owner, key, created.UploadId, []Part{{PartNumber: 1, ETag: etag}})
	require.NoError(t, err)
	require.Equal(t, key, done.Key)
}

func TestUploadRoundTrip(t *testing.T) {
	svc, fake, scans, caches := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})

	uploadFlow(t, svc, "u1", "docs/new.txt", []byte("hello world"))

	obj, ok := fake.Lookup("u1/docs/new.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), obj.Body)
	assert.Equal(t, []string{"docs/new.txt"}, scans.keys)
	assert.Equal(t, 1, caches.listCalls)
	assert.Equal(t, 1, caches.thumbCalls)
}

func TestCreateRejectsOverQuota(t *testing.T) {
	svc, fake, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 100})
	fake.Seed("u1/existing.bin", make([]byte, 150), nil)

	_, err := svc.CreateMultipart(context.Background(), "u1", CreateParams{Key: "more.bin"})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestCreateRejectsDeclaredSizeOverLimits(t *testing.T) {
	svc, _, _, _ := newTestService(t, usage.Subscription{
		MaxStorageBytes:    1000,
		MaxUploadSizeBytes: 100,
	})
	ctx := context.Background()

	_, err := svc.CreateMultipart(ctx, "u1", CreateParams{Key: "big.bin", Size: 200})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest), "over max upload size")

	_, err = svc.CreateMultipart(ctx, "u1", CreateParams{Key: "big.bin", Size: 100})
	assert.NoError(t, err)
}

func TestCreateRejectsSecureKeys(t *testing.T) {
	svc, _, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})
	_, err := svc.CreateMultipart(context.Background(), "u1", CreateParams{Key: ".secure/evil.json"})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestUploadPartVerifiesMd5(t *testing.T) {
	svc, _, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})
	ctx := context.Background()

	created, err := svc.CreateMultipart(ctx, "u1", CreateParams{Key: "a.bin"})
	require.NoError(t, err)

	body := []byte("payload")
	sum := md5.Sum(body)
	good := base64.StdEncoding.EncodeToString(sum[:])

	_, err = svc.UploadPart(ctx, "u1", "a.bin", created.UploadId, 1, body, "bm90LXRoZS1tZDU=")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	etag, err := svc.UploadPart(ctx, "u1", "a.bin", created.UploadId, 1, body, good)
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
}

func TestCompleteIncrementsUsageAndOrdersParts(t *testing.T) {
	svc, fake, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})
	ctx := context.Background()

	created, err := svc.CreateMultipart(ctx, "u1", CreateParams{Key: "two-parts.bin"})
	require.NoError(t, err)
	etag1, err := svc.UploadPart(ctx, "u1", "two-parts.bin", created.UploadId, 1, []byte("first-"), "")
	require.NoError(t, err)
	etag2, err := svc.UploadPart(ctx, "u1", "two-parts.bin", created.UploadId, 2, []byte("second"), "")
	require.NoError(t, err)

	// Parts handed over out of order; Complete sorts them.
	done, err := svc.Complete(ctx, "u1", "two-parts.bin", created.UploadId, []Part{
		{PartNumber: 2, ETag: etag2},
		{PartNumber: 1, ETag: etag1},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", done.Bucket)
	assert.NotEmpty(t, done.ETag)

	obj, ok := fake.Lookup("u1/two-parts.bin")
	require.True(t, ok)
	assert.Equal(t, []byte("first-second"), obj.Body)
}

func TestCompleteRevertsWhenOverLimit(t *testing.T) {
	svc, fake, scans, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 100})
	ctx := context.Background()

	fake.Seed("u1/existing.bin", make([]byte, 90), nil)

	created, err := svc.CreateMultipart(ctx, "u1", CreateParams{Key: "straw.bin"})
	require.NoError(t, err)
	etag, err := svc.UploadPart(ctx, "u1", "straw.bin", created.UploadId, 1, make([]byte, 50), "")
	require.NoError(t, err)

	_, err = svc.Complete(ctx, "u1", "straw.bin", created.UploadId, []Part{{PartNumber: 1, ETag: etag}})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	_, exists := fake.Lookup("u1/straw.bin")
	assert.False(t, exists, "over-quota object removed again")
	assert.Empty(t, scans.keys, "no scan for a reverted upload")
}

func TestAbortUnknownUpload(t *testing.T) {
	svc, _, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})
	err := svc.Abort(context.Background(), "u1", "a.bin", "no-such-upload")
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestGetPartUrl(t *testing.T) {
	svc, _, _, _ := newTestService(t, usage.Subscription{MaxStorageBytes: 1 << 20})
	ctx := context.Background()

	created, err := svc.CreateMultipart(ctx, "u1", CreateParams{Key: "a.bin"})
	require.NoError(t, err)

	url, err := svc.GetPartUrl(ctx, "u1", "a.bin", created.UploadId, 3)
	require.NoError(t, err)
	assert.Contains(t, url, "partNumber=3")
}