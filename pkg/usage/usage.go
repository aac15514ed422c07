// Package usage maintains the cached per-owner storage counter and exposes
// subscription-derived limits. The counter lives in the KV store with no
// TTL and is rebuilt by a full ListObjectsV2 scan on miss. Increments and
// decrements are read-modify-write and deliberately not atomic across
// workers: divergence is bounded and corrected by the next rescan.
package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// DefaultDownloadSpeed is the floor applied when neither the subscription
// features nor the plan table yields a limit: 50 KB/s.
const DefaultDownloadSpeed int64 = 50 * 1024

// Subscription is the read-only view of an owner's plan that the core
// consumes. How it is persisted is outside the core; callers provide an
// implementation of Subscriptions.
type Subscription struct {
	PlanSlug           string
	MaxStorageBytes    int64
	MaxUploadSizeBytes int64
	Features           map[string]string
}

// Subscriptions resolves the subscription for an owner.
type Subscriptions interface {
	Lookup(ctx context.Context, owner string) (Subscription, error)
}

// StaticSubscriptions is a fixed-plan implementation used by tests and
// single-tenant deployments.
type StaticSubscriptions struct {
	Plan Subscription
}

// Lookup returns the static plan for every owner.
func (s StaticSubscriptions) Lookup(context.Context, string) (Subscription, error) {
	return s.Plan, nil
}

// planDownloadSpeeds is the static fallback table keyed by plan slug.
var planDownloadSpeeds = map[string]int64{
	"free":     50 * 1024,
	"basic":    512 * 1024,
	"plus":     2 * 1024 * 1024,
	"pro":      10 * 1024 * 1024,
	"team":     10 * 1024 * 1024,
	"business": 25 * 1024 * 1024,
}

// Breakdown is the answer to a storage-usage query.
type Breakdown struct {
	UsedBytes          int64   `json:"usedBytes"`
	MaxBytes           int64   `json:"maxBytes"`
	IsLimitExceeded    bool    `json:"isLimitExceeded"`
	UsagePercentage    float64 `json:"usagePercentage"`
	MaxUploadSizeBytes int64   `json:"maxUploadSizeBytes"`
}

// Service implements the cached counter over the gateway and KV store.
type Service struct {
	gw   *gateway.Gateway
	kv   kv.Store
	subs Subscriptions
}

// NewService creates a usage service.
func NewService(gw *gateway.Gateway, store kv.Store, subs Subscriptions) *Service {
	return &Service{gw: gw, kv: store, subs: subs}
}

// counter is the stored shape of the per-owner byte total.
type counter struct {
	Bytes int64 `json:"bytes"`
}

// UserStorageUsage returns the owner's usage against subscription limits,
// seeding the cached counter from a full prefix scan when absent.
func (s *Service) UserStorageUsage(ctx context.Context, owner string) (Breakdown, error) {
	used, err := s.UsedBytes(ctx, owner)
	if err != nil {
		return Breakdown{}, err
	}

	sub, err := s.subs.Lookup(ctx, owner)
	if err != nil {
		return Breakdown{}, fmt.Errorf("subscription lookup for %q: %w", owner, err)
	}

	b := Breakdown{
		UsedBytes:          used,
		MaxBytes:           sub.MaxStorageBytes,
		MaxUploadSizeBytes: sub.MaxUploadSizeBytes,
	}
	if sub.MaxStorageBytes > 0 {
		b.IsLimitExceeded = used >= sub.MaxStorageBytes
		b.UsagePercentage = float64(used) / float64(sub.MaxStorageBytes) * 100
	}
	return b, nil
}

// UsedBytes returns the cached counter, computing it on miss.
func (s *Service) UsedBytes(ctx context.Context, owner string) (int64, error) {
	var c counter
	found, err := s.kv.Get(ctx, keys.Usage(owner), &c)
	if err != nil {
		return 0, err
	}
	if found {
		return c.Bytes, nil
	}

	total, err := s.Recompute(ctx, owner)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Recompute rescans the owner prefix, stores the total, and returns it.
func (s *Service) Recompute(ctx context.Context, owner string) (int64, error) {
	start := time.Now()

	var total int64
	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket: s.gw.BucketPtr(),
		Prefix: aws.String(owner + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("usage scan for %q: %w", owner, err)
		}
		for _, obj := range page.Contents {
			total += aws.ToInt64(obj.Size)
		}
	}

	if err := s.kv.Set(ctx, keys.Usage(owner), counter{Bytes: total}, 0); err != nil {
		return 0, err
	}

	logger.Debug("usage counter recomputed",
		logger.KeyOwner, owner,
		logger.KeySize, total,
		logger.KeyDuration, time.Since(start).Milliseconds(),
	)
	return total, nil
}

// Increment adds delta to the cached counter. A missing counter is seeded
// by rescan first so the increment is not lost.
func (s *Service) Increment(ctx context.Context, owner string, delta int64) error {
	if delta == 0 {
		return nil
	}

	var c counter
	found, err := s.kv.Get(ctx, keys.Usage(owner), &c)
	if err != nil {
		return err
	}
	if !found {
		// The rescan already observes the new objects; nothing to add.
		_, err = s.Recompute(ctx, owner)
		return err
	}

	c.Bytes += delta
	if c.Bytes < 0 {
		c.Bytes = 0
	}
	return s.kv.Set(ctx, keys.Usage(owner), c, 0)
}

// Decrement subtracts delta from the cached counter, clamping at zero.
func (s *Service) Decrement(ctx context.Context, owner string, delta int64) error {
	return s.Increment(ctx, owner, -delta)
}

// DownloadSpeedBytesPerSec returns the owner's streaming throttle: the
// subscription feature wins, then the plan table, then the 50 KB/s floor.
func (s *Service) DownloadSpeedBytesPerSec(ctx context.Context, owner string) int64 {
	sub, err := s.subs.Lookup(ctx, owner)
	if err != nil {
		logger.Warn("subscription lookup failed, using default download speed",
			logger.KeyOwner, owner, logger.KeyError, err)
		return DefaultDownloadSpeed
	}

	if raw, ok := sub.Features["downloadSpeedBytesPerSec"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	if v, ok := planDownloadSpeeds[sub.PlanSlug]; ok {
		return v
	}
	return DefaultDownloadSpeed
}
