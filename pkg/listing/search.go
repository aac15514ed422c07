package listing

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// SearchParams describes a name search under one path.
type SearchParams struct {
	Query     string
	Path      string
	Extension string
	Skip      int
	Take      int

	SessionToken       string
	HiddenSessionToken string
}

// MinQueryLen is the shortest accepted search query.
const MinQueryLen = 2

// Search scans object names under the path for a case-insensitive
// substring match. File matches and directory-name matches accumulate
// independently; objects inside locked or concealed folders are skipped.
// The scan is bounded by SearchScanMax entries.
func (s *Service) Search(ctx context.Context, owner string, p SearchParams) (SearchResult, error) {
	query := strings.ToLower(strings.TrimSpace(p.Query))
	if len(query) < MinQueryLen {
		return SearchResult{}, fault.BadRequestf("search query must be at least %d characters", MinQueryLen)
	}
	ext := strings.ToLower(strings.TrimPrefix(p.Extension, "."))
	take := p.Take
	if take <= 0 || take > int(s.cfg.PageSize) {
		take = int(s.cfg.PageSize)
	}

	encSet, err := s.dirs.EncryptedSet(ctx, owner)
	if err != nil {
		return SearchResult{}, err
	}
	hidSet, err := s.dirs.HiddenSet(ctx, owner)
	if err != nil {
		return SearchResult{}, err
	}
	// Session checks are cached per protecting folder so a big scan does
	// not hammer the KV store.
	access := map[string]bool{}
	accessible := func(rel string) bool {
		for _, anc := range pathutil.SelfAndAncestors(pathutil.ParentDir(rel)) {
			if encSet[anc] {
				ok, seen := access["e:"+anc]
				if !seen {
					ok = s.dirs.ValidateSession(ctx, owner, anc, p.SessionToken) != nil
					access["e:"+anc] = ok
				}
				if !ok {
					return false
				}
			}
			if hidSet[anc] {
				ok, seen := access["h:"+anc]
				if !seen {
					ok = s.dirs.ValidateHiddenSession(ctx, owner, anc, p.HiddenSessionToken) != nil
					access["h:"+anc] = ok
				}
				if !ok {
					return false
				}
			}
		}
		return true
	}

	base := pathutil.NormalizeDir(p.Path)
	var res SearchResult
	res.Directories = []Directory{}
	dirSeen := map[string]bool{}
	var window []types.Object
	scanned := 0

	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket:  s.gw.BucketPtr(),
		Prefix:  aws.String(s.prefix(owner, base)),
		MaxKeys: aws.Int32(s.cfg.PageSize),
	})
scan:
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return SearchResult{}, fault.Internalf(err, "search scan %q", base)
		}
		for _, obj := range page.Contents {
			if scanned >= s.cfg.SearchScanMax {
				break scan
			}
			scanned++

			key := aws.ToString(obj.Key)
			rel := pathutil.StripOwner(key, owner)
			if pathutil.IsSecure(rel) || pathutil.IsPlaceholder(key) {
				continue
			}
			if !accessible(rel) {
				continue
			}

			// Directory-name matches: every enclosing directory of the key,
			// each counted once.
			for dir := pathutil.ParentDir(rel); dir != "" && dir != base; dir = pathutil.ParentDir(dir) {
				if dirSeen[dir] {
					continue
				}
				if strings.Contains(strings.ToLower(pathutil.BaseName(dir)), query) {
					dirSeen[dir] = true
					res.TotalDirectoryCount++
					d, _ := s.classify(ctx, owner, dir, encSet, hidSet, p.SessionToken, p.HiddenSessionToken)
					res.Directories = append(res.Directories, d)
				}
			}

			name := strings.ToLower(pathutil.BaseName(key))
			if !strings.Contains(name, query) {
				continue
			}
			if ext != "" && pathutil.Extension(key) != ext {
				continue
			}
			if res.TotalCount >= p.Skip && len(window) < take {
				window = append(window, obj)
			}
			res.TotalCount++
		}
	}

	res.Objects = s.buildObjects(ctx, owner, window, false)
	return res, nil
}
