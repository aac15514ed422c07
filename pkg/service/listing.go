package service

import (
	"context"
	"time"

	"github.com/cloudrove/cloudrove/pkg/antivirus"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/object"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// ListRequest selects a directory view.
type ListRequest struct {
	Path         string
	Delimited    bool
	WithMetadata bool
}

// ListResult is the directory view plus a record describing the listed
// directory itself, so callers can tell a locked folder apart from an
// open one without a second call.
type ListResult struct {
	listing.Result
	Directory *listing.Directory `json:"directory,omitempty"`
}

// List returns the view at the requested path. Listing a locked
// encrypted folder does not fail: it returns only the folder's own
// record flagged locked, with no contents and no thumbnails.
func (s *Service) List(ctx context.Context, c Caller, req ListRequest) (ListResult, error) {
	if err := s.check(c, nil); err != nil {
		return ListResult{}, err
	}
	owner := c.Owner()
	path := pathutil.NormalizeDir(req.Path)

	self, err := s.describeDir(ctx, c, path)
	if err != nil {
		return ListResult{}, err
	}
	if self != nil && self.IsLocked {
		return ListResult{
			Result: listing.Result{
				Path:        path,
				Breadcrumbs: listing.Breadcrumbs(path),
				Directories: []listing.Directory{},
				Objects:     []listing.Object{},
			},
			Directory: self,
		}, nil
	}

	res, err := s.listings.List(ctx, owner, listing.Params{
		Path:               path,
		Delimited:          req.Delimited,
		WithMetadata:       req.WithMetadata,
		SessionToken:       c.FolderSession,
		HiddenSessionToken: c.HiddenSession,
	})
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Result: res, Directory: self}, nil
}

// describeDir builds the record for the listed path itself; nil at root.
func (s *Service) describeDir(ctx context.Context, c Caller, path string) (*listing.Directory, error) {
	if path == "" {
		return nil, nil
	}
	owner := c.Owner()
	encSet, err := s.dirs.EncryptedSet(ctx, owner)
	if err != nil {
		return nil, err
	}
	hidSet, err := s.dirs.HiddenSet(ctx, owner)
	if err != nil {
		return nil, err
	}

	dir := listing.Directory{
		Name:       pathutil.BaseName(path),
		Prefix:     path,
		Thumbnails: []listing.Object{},
	}
	for _, p := range pathutil.SelfAndAncestors(path) {
		if encSet[p] {
			dir.IsEncrypted = true
		}
		if hidSet[p] {
			dir.IsHidden = true
		}
	}
	if dir.IsEncrypted {
		dir.IsLocked = s.dirs.ValidateSession(ctx, owner, path, c.FolderSession) == nil
	}
	if dir.IsHidden {
		dir.IsConcealed = s.dirs.ValidateHiddenSession(ctx, owner, path, c.HiddenSession) == nil
	}
	return &dir, nil
}

// ListObjectsRequest pages through objects under a path.
type ListObjectsRequest struct {
	Path         string
	Delimited    bool
	WithMetadata bool
	Skip         int `validate:"gte=0"`
	Take         int `validate:"gte=0"`
	Search       string
}

// ListObjects returns one page of objects under the path.
func (s *Service) ListObjects(ctx context.Context, c Caller, req ListObjectsRequest) (listing.ObjectsPage, error) {
	if err := s.check(c, req); err != nil {
		return listing.ObjectsPage{}, err
	}
	if err := s.accessCheck(ctx, c, req.Path); err != nil {
		return listing.ObjectsPage{}, err
	}
	return s.listings.ListObjects(ctx, c.Owner(), listing.ObjectsParams{
		Path:         req.Path,
		Delimited:    req.Delimited,
		WithMetadata: req.WithMetadata,
		Skip:         req.Skip,
		Take:         req.Take,
		Search:       req.Search,
	})
}

// ListDirectoriesRequest pages through sub-directories of a path.
type ListDirectoriesRequest struct {
	Path   string
	Skip   int `validate:"gte=0"`
	Take   int `validate:"gte=0"`
	Search string
}

// ListDirectories returns one page of sub-directories.
func (s *Service) ListDirectories(ctx context.Context, c Caller, req ListDirectoriesRequest) (listing.DirectoriesPage, error) {
	if err := s.check(c, req); err != nil {
		return listing.DirectoriesPage{}, err
	}
	if err := s.accessCheck(ctx, c, req.Path); err != nil {
		return listing.DirectoriesPage{}, err
	}
	return s.listings.ListDirectories(ctx, c.Owner(), listing.DirectoriesParams{
		Path:               req.Path,
		Skip:               req.Skip,
		Take:               req.Take,
		Search:             req.Search,
		SessionToken:       c.FolderSession,
		HiddenSessionToken: c.HiddenSession,
	})
}

// Breadcrumbs returns the crumb trail for a path.
func (s *Service) Breadcrumbs(path string) []listing.Breadcrumb {
	return listing.Breadcrumbs(pathutil.NormalizeDir(path))
}

// SearchRequest is a file/directory name search.
type SearchRequest struct {
	Query     string `validate:"required,min=2"`
	Path      string
	Extension string
	Skip      int `validate:"gte=0"`
	Take      int `validate:"gte=0"`
}

// Search scans the owner's tree for name matches, skipping locked and
// concealed folders the caller cannot see.
func (s *Service) Search(ctx context.Context, c Caller, req SearchRequest) (listing.SearchResult, error) {
	if err := s.check(c, req); err != nil {
		return listing.SearchResult{}, err
	}
	if err := s.accessCheck(ctx, c, req.Path); err != nil {
		return listing.SearchResult{}, err
	}
	return s.listings.Search(ctx, c.Owner(), listing.SearchParams{
		Query:              req.Query,
		Path:               req.Path,
		Extension:          req.Extension,
		Skip:               req.Skip,
		Take:               req.Take,
		SessionToken:       c.FolderSession,
		HiddenSessionToken: c.HiddenSession,
	})
}

// Find returns the record of one object.
func (s *Service) Find(ctx context.Context, c Caller, key string) (listing.Object, error) {
	if err := s.check(c, nil); err != nil {
		return listing.Object{}, err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return listing.Object{}, err
	}
	return s.objects.Find(ctx, c.Owner(), key)
}

// PresignedUrl returns a time-limited download URL for one object.
func (s *Service) PresignedUrl(ctx context.Context, c Caller, key string, ttl time.Duration) (string, error) {
	if err := s.check(c, nil); err != nil {
		return "", err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return "", err
	}
	return s.objects.PresignedUrl(ctx, c.Owner(), key, ttl)
}

// Download streams one object, throttled to the owner's plan speed.
func (s *Service) Download(ctx context.Context, c Caller, key, byteRange string) (*object.Download, error) {
	if err := s.check(c, nil); err != nil {
		return nil, err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return nil, err
	}
	return s.objects.Download(ctx, c.Owner(), key, byteRange)
}

// ScanStatus returns the antivirus verdict for one object.
func (s *Service) ScanStatus(ctx context.Context, c Caller, key string) (antivirus.Result, error) {
	if err := s.check(c, nil); err != nil {
		return antivirus.Result{}, err
	}
	if s.scans == nil {
		return antivirus.Result{}, fault.Unavailablef("antivirus scanning is not configured")
	}
	return s.scans.Status(ctx, c.Owner(), key)
}

// StorageUsage returns the caller's storage breakdown.
func (s *Service) StorageUsage(ctx context.Context, c Caller) (usage.Breakdown, error) {
	if err := s.check(c, nil); err != nil {
		return usage.Breakdown{}, err
	}
	return s.usage.UserStorageUsage(ctx, c.Owner())
}
