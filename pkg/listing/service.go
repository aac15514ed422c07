package listing

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// Service is the listing engine.
type Service struct {
	gw   *gateway.Gateway
	kv   kv.Store
	dirs *directory.Service
	cfg  Config
}

// NewService wires the listing engine over the gateway, KV cache, and
// directory service (for lock/conceal classification).
func NewService(gw *gateway.Gateway, store kv.Store, dirs *directory.Service, cfg Config) *Service {
	return &Service{gw: gw, kv: store, dirs: dirs, cfg: cfg.withDefaults()}
}

// Params selects what List returns.
type Params struct {
	Path               string
	Delimited          bool
	WithMetadata       bool
	SessionToken       string
	HiddenSessionToken string
}

// List returns the directory view at p.Path: breadcrumbs, classified
// sub-directories (hidden ones omitted unless revealed), and objects.
// Results are cached per owner/path/option-set.
func (s *Service) List(ctx context.Context, owner string, p Params) (Result, error) {
	path := pathutil.NormalizeDir(p.Path)
	delim := ""
	if p.Delimited {
		delim = "/"
	}

	cacheKey := kvkeys.List(owner, path, delim, p.WithMetadata,
		p.SessionToken != "", p.HiddenSessionToken != "")
	var cached Result
	if found, err := s.kv.Get(ctx, cacheKey, &cached); err == nil && found {
		s.cfg.Metrics.RecordLookup(true)
		return cached, nil
	}
	s.cfg.Metrics.RecordLookup(false)

	out, err := s.gw.Client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:    s.gw.BucketPtr(),
		Prefix:    aws.String(s.prefix(owner, path)),
		Delimiter: delimPtr(delim),
		MaxKeys:   aws.Int32(s.cfg.PageSize),
	})
	if err != nil {
		return Result{}, fault.Internalf(err, "list %q", path)
	}

	encSet, err := s.dirs.EncryptedSet(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	hidSet, err := s.dirs.HiddenSet(ctx, owner)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Path:        path,
		Breadcrumbs: Breadcrumbs(path),
		Directories: []Directory{},
	}
	for _, cp := range out.CommonPrefixes {
		rel := pathutil.StripOwner(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"), owner)
		if pathutil.IsSecure(rel) {
			continue
		}
		dir, visible := s.classify(ctx, owner, rel, encSet, hidSet, p.SessionToken, p.HiddenSessionToken)
		if !visible {
			continue
		}
		if !dir.IsLocked {
			dir.Thumbnails = s.thumbnailsQuiet(ctx, owner, rel)
		}
		res.Directories = append(res.Directories, dir)
	}
	res.Objects = s.buildObjects(ctx, owner, visibleObjects(out.Contents, owner), p.WithMetadata)

	if err := s.kv.Set(ctx, cacheKey, res, s.cfg.CacheTTL); err != nil {
		logger.Warn("listing cache write failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return res, nil
}

// ObjectsParams selects a paginated object listing.
type ObjectsParams struct {
	Path         string
	Delimited    bool
	WithMetadata bool
	Skip         int
	Take         int
	Search       string // passed as StartAfter to seek
}

// ListObjects pages through objects under the path. Total count reflects
// every object under the prefix, not just the returned window.
func (s *Service) ListObjects(ctx context.Context, owner string, p ObjectsParams) (ObjectsPage, error) {
	path := pathutil.NormalizeDir(p.Path)
	take := p.Take
	if take <= 0 || take > int(s.cfg.PageSize) {
		take = int(s.cfg.PageSize)
	}
	delim := ""
	if p.Delimited {
		delim = "/"
	}

	cacheKey := kvkeys.ListObjects(owner, path, delim, p.WithMetadata, p.Skip, take, p.Search)
	var cached ObjectsPage
	if found, err := s.kv.Get(ctx, cacheKey, &cached); err == nil && found {
		s.cfg.Metrics.RecordLookup(true)
		return cached, nil
	}
	s.cfg.Metrics.RecordLookup(false)

	in := &s3.ListObjectsV2Input{
		Bucket:    s.gw.BucketPtr(),
		Prefix:    aws.String(s.prefix(owner, path)),
		Delimiter: delimPtr(delim),
		MaxKeys:   aws.Int32(s.cfg.PageSize),
	}
	if p.Search != "" {
		in.StartAfter = aws.String(s.prefix(owner, path) + p.Search)
	}

	var window []types.Object
	total := 0
	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return ObjectsPage{}, fault.Internalf(err, "list objects %q", path)
		}
		for _, obj := range visibleObjects(page.Contents, owner) {
			if total >= p.Skip && len(window) < take {
				window = append(window, obj)
			}
			total++
		}
	}

	res := ObjectsPage{
		Objects:    s.buildObjects(ctx, owner, window, p.WithMetadata),
		TotalCount: total,
	}
	if err := s.kv.Set(ctx, cacheKey, res, s.cfg.CacheTTL); err != nil {
		logger.Warn("listing cache write failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return res, nil
}

// DirectoriesParams selects a paginated directory listing.
type DirectoriesParams struct {
	Path               string
	Skip               int
	Take               int
	Search             string // case-insensitive substring on the directory name
	SessionToken       string
	HiddenSessionToken string
}

// ListDirectories pages through the immediate sub-directories of the
// path. Concealed directories are excluded from both the window and the
// total.
func (s *Service) ListDirectories(ctx context.Context, owner string, p DirectoriesParams) (DirectoriesPage, error) {
	path := pathutil.NormalizeDir(p.Path)
	take := p.Take
	if take <= 0 || take > int(s.cfg.PageSize) {
		take = int(s.cfg.PageSize)
	}

	cacheKey := kvkeys.ListDirectories(owner, path, p.Skip, take,
		p.SessionToken != "", p.HiddenSessionToken != "", p.Search)
	var cached DirectoriesPage
	if found, err := s.kv.Get(ctx, cacheKey, &cached); err == nil && found {
		s.cfg.Metrics.RecordLookup(true)
		return cached, nil
	}
	s.cfg.Metrics.RecordLookup(false)

	encSet, err := s.dirs.EncryptedSet(ctx, owner)
	if err != nil {
		return DirectoriesPage{}, err
	}
	hidSet, err := s.dirs.HiddenSet(ctx, owner)
	if err != nil {
		return DirectoriesPage{}, err
	}

	res := DirectoriesPage{Directories: []Directory{}}
	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket:    s.gw.BucketPtr(),
		Prefix:    aws.String(s.prefix(owner, path)),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(s.cfg.PageSize),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return DirectoriesPage{}, fault.Internalf(err, "list directories %q", path)
		}
		for _, cp := range page.CommonPrefixes {
			rel := pathutil.StripOwner(strings.TrimSuffix(aws.ToString(cp.Prefix), "/"), owner)
			if pathutil.IsSecure(rel) {
				continue
			}
			if p.Search != "" && !strings.Contains(strings.ToLower(pathutil.BaseName(rel)), strings.ToLower(p.Search)) {
				continue
			}
			dir, visible := s.classify(ctx, owner, rel, encSet, hidSet, p.SessionToken, p.HiddenSessionToken)
			if !visible {
				continue
			}
			if res.TotalCount >= p.Skip && len(res.Directories) < take {
				if !dir.IsLocked {
					dir.Thumbnails = s.thumbnailsQuiet(ctx, owner, rel)
				}
				res.Directories = append(res.Directories, dir)
			}
			res.TotalCount++
		}
	}

	if err := s.kv.Set(ctx, cacheKey, res, s.cfg.CacheTTL); err != nil {
		logger.Warn("listing cache write failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return res, nil
}

// Breadcrumbs builds the trail from the root to path, one crumb per
// segment, root included.
func Breadcrumbs(path string) []Breadcrumb {
	crumbs := []Breadcrumb{{Name: "", Prefix: ""}}
	path = pathutil.NormalizeDir(path)
	if path == "" {
		return crumbs
	}
	acc := ""
	for _, seg := range strings.Split(path, "/") {
		acc = pathutil.JoinKey(acc, seg)
		crumbs = append(crumbs, Breadcrumb{Name: seg, Prefix: acc})
	}
	return crumbs
}

// classify builds the directory record for rel and reports whether it is
// visible. A hidden directory without a valid reveal session is not.
func (s *Service) classify(ctx context.Context, owner, rel string, encSet, hidSet map[string]bool, token, hiddenToken string) (Directory, bool) {
	dir := Directory{
		Name:       pathutil.BaseName(rel),
		Prefix:     rel,
		Thumbnails: []Object{},
	}

	for _, p := range pathutil.SelfAndAncestors(rel) {
		if encSet[p] {
			dir.IsEncrypted = true
			break
		}
	}
	if dir.IsEncrypted {
		dir.IsLocked = s.dirs.ValidateSession(ctx, owner, rel, token) == nil
	}

	for _, p := range pathutil.SelfAndAncestors(rel) {
		if hidSet[p] {
			dir.IsHidden = true
			break
		}
	}
	if dir.IsHidden {
		dir.IsConcealed = s.dirs.ValidateHiddenSession(ctx, owner, rel, hiddenToken) == nil
	}
	return dir, !dir.IsConcealed
}

// buildObjects converts raw listing entries into object records, issuing
// bounded-concurrency HeadObject calls when metadata is wanted. Only the
// first MetadataMax objects get a Head.
func (s *Service) buildObjects(ctx context.Context, owner string, raw []types.Object, withMeta bool) []Object {
	objects := make([]Object, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MetadataConcurrency)

	for i, obj := range raw {
		key := aws.ToString(obj.Key)
		rel := pathutil.StripOwner(key, owner)
		objects[i] = Object{
			Name:         pathutil.BaseName(key),
			Extension:    pathutil.Extension(key),
			MimeType:     objmeta.MimeTypeFor(key, ""),
			Host:         s.gw.PublicHost(),
			Key:          rel,
			Size:         aws.ToInt64(obj.Size),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			LastModified: aws.ToTime(obj.LastModified),
		}

		i, key := i, key
		g.Go(func() error {
			if url, err := s.gw.URL(gctx, key, 0); err == nil {
				objects[i].Url = url
			}
			if withMeta && i < s.cfg.MetadataMax {
				head, err := s.gw.Client().HeadObject(gctx, &s3.HeadObjectInput{
					Bucket: s.gw.BucketPtr(),
					Key:    aws.String(key),
				})
				if err != nil {
					logger.Warn("metadata head failed",
						logger.KeyOwner, owner, logger.KeyKey, key, logger.KeyError, err)
					return nil
				}
				objects[i].Metadata = objmeta.DecodeFromStore(head.Metadata)
				objects[i].MimeType = objmeta.MimeTypeFor(key, aws.ToString(head.ContentType))
			}
			return nil
		})
	}
	_ = g.Wait()
	return objects
}

func (s *Service) prefix(owner, path string) string {
	return pathutil.KeyBuilder(owner, path) + "/"
}

// visibleObjects drops placeholders and the .secure/ control tree, sorted
// by key for stable output.
func visibleObjects(contents []types.Object, owner string) []types.Object {
	out := make([]types.Object, 0, len(contents))
	for _, obj := range contents {
		key := aws.ToString(obj.Key)
		rel := pathutil.StripOwner(key, owner)
		if pathutil.IsPlaceholder(key) || pathutil.IsSecure(rel) {
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		return aws.ToString(out[i].Key) < aws.ToString(out[j].Key)
	})
	return out
}

func delimPtr(delim string) *string {
	if delim == "" {
		return nil
	}
	return aws.String(delim)
}
