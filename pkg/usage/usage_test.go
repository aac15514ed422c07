package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/storage/storagetest"
)

func newTestService(t *testing.T, plan Subscription) (*Service, *storagetest.FakeClient) {
	t.Helper()
	fake := storagetest.NewFakeClient()
	gw, err := gateway.New(fake, fake, gateway.Config{Bucket: "b"})
	require.NoError(t, err)
	return NewService(gw, kv.NewMemoryStore(), StaticSubscriptions{Plan: plan}), fake
}

func TestUsedBytesSeedsFromScan(t *testing.T) {
	svc, fake := newTestService(t, Subscription{MaxStorageBytes: 100})
	fake.Seed("u1/a.txt", make([]byte, 10), nil)
	fake.Seed("u1/docs/b.txt", make([]byte, 30), nil)
	fake.Seed("u2/other.txt", make([]byte, 999), nil)

	used, err := svc.UsedBytes(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), used, "only u1's objects count")

	// Second read hits the cache, not the store.
	before := fake.CallCount("ListObjectsV2")
	_, err = svc.UsedBytes(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, before, fake.CallCount("ListObjectsV2"))
}

func TestIncrementDecrementClamp(t *testing.T) {
	svc, fake := newTestService(t, Subscription{MaxStorageBytes: 100})
	fake.Seed("u1/a.txt", make([]byte, 10), nil)
	ctx := context.Background()

	_, err := svc.UsedBytes(ctx, "u1") // seed
	require.NoError(t, err)

	require.NoError(t, svc.Increment(ctx, "u1", 25))
	used, err := svc.UsedBytes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(35), used)

	require.NoError(t, svc.Decrement(ctx, "u1", 1000))
	used, err = svc.UsedBytes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used, "counter clamps at zero")
}

func TestUsageConservationAfterRecompute(t *testing.T) {
	svc, fake := newTestService(t, Subscription{MaxStorageBytes: 1000})
	ctx := context.Background()

	fake.Seed("u1/a", make([]byte, 100), nil)
	_, err := svc.UsedBytes(ctx, "u1")
	require.NoError(t, err)

	// Drift the counter, then recompute: the scan is authoritative.
	require.NoError(t, svc.Increment(ctx, "u1", 77))
	total, err := svc.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)
}

func TestUserStorageUsageLimits(t *testing.T) {
	svc, fake := newTestService(t, Subscription{
		MaxStorageBytes:    200,
		MaxUploadSizeBytes: 50,
	})
	fake.Seed("u1/a", make([]byte, 150), nil)

	b, err := svc.UserStorageUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), b.UsedBytes)
	assert.Equal(t, int64(200), b.MaxBytes)
	assert.False(t, b.IsLimitExceeded)
	assert.InDelta(t, 75.0, b.UsagePercentage, 0.01)
	assert.Equal(t, int64(50), b.MaxUploadSizeBytes)

	fake.Seed("u1/b", make([]byte, 50), nil)
	_, err = svc.Recompute(context.Background(), "u1")
	require.NoError(t, err)

	b, err = svc.UserStorageUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, b.IsLimitExceeded)
}

func TestDownloadSpeedLookup(t *testing.T) {
	ctx := context.Background()

	svc, _ := newTestService(t, Subscription{
		PlanSlug: "pro",
		Features: map[string]string{"downloadSpeedBytesPerSec": "123456"},
	})
	assert.Equal(t, int64(123456), svc.DownloadSpeedBytesPerSec(ctx, "u1"))

	svc, _ = newTestService(t, Subscription{PlanSlug: "pro"})
	assert.Equal(t, int64(10*1024*1024), svc.DownloadSpeedBytesPerSec(ctx, "u1"))

	svc, _ = newTestService(t, Subscription{PlanSlug: "unknown-plan"})
	assert.Equal(t, DefaultDownloadSpeed, svc.DownloadSpeedBytesPerSec(ctx, "u1"))
}
