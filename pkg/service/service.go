// Package service is the facade the transport layer talks to. It
// resolves the caller to an owner scope, enforces encrypted-folder
// access before operations that name a protected path, validates request
// records, wraps mutations in an idempotency envelope, and fans out
// cache invalidation after every mutation.
package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cloudrove/cloudrove/pkg/antivirus"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/object"
	"github.com/cloudrove/cloudrove/pkg/upload"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// DefaultIdempotencyTTL bounds how long a mutation result is replayed.
const DefaultIdempotencyTTL = 5 * time.Minute

// Caller identifies who is asking and what access material they carry.
// A non-empty TeamID switches the owner scope to the team.
type Caller struct {
	UserID string `validate:"required"`
	TeamID string

	FolderSession    string // unlock-session token for encrypted folders
	FolderPassphrase string // inline passphrase, consumed by explicit ops
	HiddenSession    string // reveal-session token for hidden folders
	IdempotencyKey   string
}

// Owner returns the storage owner scope for this caller.
func (c Caller) Owner() string {
	if c.TeamID != "" {
		return "team/" + c.TeamID
	}
	return c.UserID
}

// Config tunes the facade.
type Config struct {
	IdempotencyTTL time.Duration
}

// Service composes the core services.
type Service struct {
	dirs     *directory.Service
	listings *listing.Service
	objects  *object.Service
	uploads  *upload.Service
	archives *jobs.Service
	scans    *antivirus.Service
	usage    *usage.Service
	kv       kv.Store
	validate *validator.Validate
	idemTTL  time.Duration
}

// New wires the facade. archives and scans may be nil when those
// pipelines are disabled; their operations then fail with unavailable.
func New(
	dirs *directory.Service,
	listings *listing.Service,
	objects *object.Service,
	uploads *upload.Service,
	archives *jobs.Service,
	scans *antivirus.Service,
	usageSvc *usage.Service,
	store kv.Store,
	cfg Config,
) *Service {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	return &Service{
		dirs:     dirs,
		listings: listings,
		objects:  objects,
		uploads:  uploads,
		archives: archives,
		scans:    scans,
		usage:    usageSvc,
		kv:       store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		idemTTL:  cfg.IdempotencyTTL,
	}
}

// check validates the caller and a request record.
func (s *Service) check(c Caller, req any) error {
	if err := s.validate.Struct(c); err != nil {
		return fault.BadRequestf("invalid caller: %v", err)
	}
	if req != nil {
		if err := s.validate.Struct(req); err != nil {
			return fault.BadRequestf("invalid request: %v", err)
		}
	}
	return nil
}

// accessCheck denies operations that name a path inside a locked
// encrypted folder without a covering session.
func (s *Service) accessCheck(ctx context.Context, c Caller, path string) error {
	return s.dirs.AccessCheck(ctx, c.Owner(), path, c.FolderSession)
}

// idempotent wraps a mutation in the replay envelope. With no key the
// mutation just runs; with a key, a cached prior result is returned
// without re-executing, and a fresh success is cached for the TTL.
func idempotent[T any](ctx context.Context, s *Service, c Caller, action string, fn func() (T, error)) (T, error) {
	if c.IdempotencyKey == "" {
		return fn()
	}
	cacheKey := kvkeys.Idempotency(c.Owner(), action, c.IdempotencyKey)
	var prior T
	if found, err := s.kv.Get(ctx, cacheKey, &prior); err == nil && found {
		return prior, nil
	}
	res, err := fn()
	if err != nil {
		return res, err
	}
	if serr := s.kv.Set(ctx, cacheKey, res, s.idemTTL); serr != nil {
		// Replay is best effort; the mutation itself succeeded.
		return res, nil
	}
	return res, nil
}

// invalidateFor drops the listing cache and the thumbnail caches that
// cover the given object keys or directory prefixes.
func (s *Service) invalidateFor(ctx context.Context, owner string, objectKeys []string, dirs []string) {
	s.listings.InvalidateListCache(ctx, owner)
	for _, key := range objectKeys {
		s.listings.InvalidateThumbnailCacheForObjectKey(ctx, owner, key)
	}
	for _, dir := range dirs {
		s.listings.InvalidateDirectoryThumbnailCache(ctx, owner, dir)
	}
}
