package listing

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// DirectoryThumbnails samples up to four image objects under the prefix,
// spreading the picks across at most four sub-folders so one busy folder
// does not monopolize the preview. Cached per signing mode.
func (s *Service) DirectoryThumbnails(ctx context.Context, owner, prefix string) ([]Object, error) {
	prefix = pathutil.NormalizeDir(prefix)
	cacheKey := kvkeys.DirThumbnails(owner, prefix, s.gw.Signing())

	var cached []Object
	if found, err := s.kv.Get(ctx, cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	groups, err := s.collectThumbnailGroups(ctx, owner, prefix)
	if err != nil {
		return nil, err
	}

	// Round-robin across groups: one image from each in turn.
	thumbs := []Object{}
	for round := 0; len(thumbs) < maxThumbnails; round++ {
		picked := false
		for _, g := range groups {
			if round < len(g) && len(thumbs) < maxThumbnails {
				thumbs = append(thumbs, g[round])
				picked = true
			}
		}
		if !picked {
			break
		}
	}

	if err := s.kv.Set(ctx, cacheKey, thumbs, s.thumbnailTTL()); err != nil {
		logger.Warn("thumbnail cache write failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return thumbs, nil
}

// collectThumbnailGroups scans the prefix and buckets image objects by
// their first path segment under the prefix (root objects form their own
// bucket). At most four buckets, four images each.
func (s *Service) collectThumbnailGroups(ctx context.Context, owner, prefix string) ([][]Object, error) {
	var order []string
	buckets := map[string][]Object{}

	scanPrefix := s.prefix(owner, prefix)
	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket:  s.gw.BucketPtr(),
		Prefix:  aws.String(scanPrefix),
		MaxKeys: aws.Int32(s.cfg.PageSize),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fault.Internalf(err, "thumbnail scan %q", prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !objmeta.IsImage(key) || pathutil.IsSecure(pathutil.StripOwner(key, owner)) {
				continue
			}

			group := "."
			if rest := key[len(scanPrefix):]; strings.Contains(rest, "/") {
				group = rest[:strings.Index(rest, "/")]
			}
			if _, ok := buckets[group]; !ok {
				if len(order) >= maxThumbnailGroups {
					continue
				}
				order = append(order, group)
			}
			if len(buckets[group]) >= maxThumbnailsPerGroup {
				continue
			}
			buckets[group] = append(buckets[group], s.thumbnailObject(ctx, owner, key, obj.Size, obj.LastModified))
		}
	}

	groups := make([][]Object, 0, len(order))
	for _, g := range order {
		groups = append(groups, buckets[g])
	}
	return groups, nil
}

func (s *Service) thumbnailObject(ctx context.Context, owner, key string, size *int64, lastModified *time.Time) Object {
	o := Object{
		Name:         pathutil.BaseName(key),
		Extension:    pathutil.Extension(key),
		MimeType:     objmeta.MimeTypeFor(key, ""),
		Host:         s.gw.PublicHost(),
		Key:          pathutil.StripOwner(key, owner),
		Size:         aws.ToInt64(size),
		LastModified: aws.ToTime(lastModified),
	}
	if url, err := s.gw.URL(ctx, key, 0); err == nil {
		o.Url = url
	}
	return o
}

// thumbnailsQuiet is the listing-path variant: failures degrade to an
// empty preview instead of failing the listing.
func (s *Service) thumbnailsQuiet(ctx context.Context, owner, prefix string) []Object {
	thumbs, err := s.DirectoryThumbnails(ctx, owner, prefix)
	if err != nil {
		logger.Warn("thumbnail aggregation failed",
			logger.KeyOwner, owner, logger.KeyPrefix, prefix, logger.KeyError, err)
		return []Object{}
	}
	return thumbs
}

// thumbnailTTL keeps cached signed URLs from outliving their signature.
func (s *Service) thumbnailTTL() time.Duration {
	ttl := s.cfg.ThumbnailCacheTTL
	if s.gw.Signing() {
		if signTTL := s.gw.PresignTTL() - time.Minute; signTTL > 0 && signTTL < ttl {
			ttl = signTTL
		}
	}
	return ttl
}
