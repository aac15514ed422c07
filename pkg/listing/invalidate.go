package listing

import (
	"context"

	"github.com/cloudrove/cloudrove/internal/logger"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// InvalidateListCache drops every cached listing of the owner. Called
// after any mutation; failures are logged, never propagated, since stale
// cache entries expire on their own.
func (s *Service) InvalidateListCache(ctx context.Context, owner string) {
	s.cfg.Metrics.RecordInvalidation()
	if _, err := s.kv.DeleteByPattern(ctx, kvkeys.ListPattern(owner)); err != nil {
		logger.Warn("listing cache invalidation failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
}

// InvalidateDirectoryThumbnailCache drops the thumbnail cache for dir and
// every ancestor, since a change deep in the tree can alter any parent's
// preview.
func (s *Service) InvalidateDirectoryThumbnailCache(ctx context.Context, owner, dir string) {
	for _, p := range append(pathutil.SelfAndAncestors(dir), "") {
		if _, err := s.kv.DeleteByPattern(ctx, kvkeys.DirThumbnailsPattern(owner, p)); err != nil {
			logger.Warn("thumbnail cache invalidation failed",
				logger.KeyOwner, owner, logger.KeyPrefix, p, logger.KeyError, err)
		}
	}
}

// InvalidateThumbnailCacheForObjectKey drops the thumbnail cache along
// the parent chain of one object key (relative to the owner).
func (s *Service) InvalidateThumbnailCacheForObjectKey(ctx context.Context, owner, key string) {
	s.InvalidateDirectoryThumbnailCache(ctx, owner, pathutil.ParentDir(key))
}
