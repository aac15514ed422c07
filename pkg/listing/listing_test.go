package listing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/storage/storagetest"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

func newTestService(t *testing.T) (*Service, *directory.Service, *storagetest.FakeClient) {
	t.Helper()
	fake := storagetest.NewFakeClient()
	gw, err := gateway.New(fake, fake, gateway.Config{Bucket: "b", PublicHost: "cdn.example.com"})
	require.NoError(t, err)
	store := kv.NewMemoryStore()
	usageSvc := usage.NewService(gw, store, usage.StaticSubscriptions{
		Plan: usage.Subscription{MaxStorageBytes: 1 << 30},
	})
	dirs := directory.NewService(gw, store, usageSvc, directory.Config{})
	return NewService(gw, store, dirs, Config{}), dirs, fake
}

func TestListSplitsDirectoriesAndObjects(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/docs/report.pdf", []byte("r"), nil)
	fake.Seed("u1/docs/notes/todo.txt", []byte("t"), nil)
	fake.Seed("u1/docs/empty/.emptyFolderPlaceholder", nil, nil)
	fake.Seed("u1/.secure/encrypted-folders.json", []byte("{}"), nil)
	fake.Seed("u2/docs/other.txt", []byte("o"), nil)

	res, err := svc.List(ctx, "u1", Params{Path: "docs", Delimited: true})
	require.NoError(t, err)

	require.Len(t, res.Objects, 1)
	assert.Equal(t, "report.pdf", res.Objects[0].Name)
	assert.Equal(t, "pdf", res.Objects[0].Extension)
	assert.Equal(t, "docs/report.pdf", res.Objects[0].Key)
	assert.Equal(t, "application/pdf", res.Objects[0].MimeType)

	var names []string
	for _, d := range res.Directories {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{"notes", "empty"}, names, "placeholder dir still listed, placeholder object not")

	assert.Equal(t, []Breadcrumb{{Name: "", Prefix: ""}, {Name: "docs", Prefix: "docs"}}, res.Breadcrumbs)
}

func TestListRootHidesSecureTree(t *testing.T) {
	svc, _, fake := newTestService(t)

	fake.Seed("u1/file.txt", []byte("x"), nil)
	fake.Seed("u1/.secure/encrypted-folders.json", []byte("{}"), nil)

	res, err := svc.List(context.Background(), "u1", Params{Delimited: false})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "file.txt", res.Objects[0].Name)
}

func TestListCachesResult(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()
	fake.Seed("u1/docs/a.txt", []byte("a"), nil)

	_, err := svc.List(ctx, "u1", Params{Path: "docs"})
	require.NoError(t, err)
	before := fake.CallCount("ListObjectsV2")

	_, err = svc.List(ctx, "u1", Params{Path: "docs"})
	require.NoError(t, err)
	assert.Equal(t, before, fake.CallCount("ListObjectsV2"), "second list served from cache")

	svc.InvalidateListCache(ctx, "u1")
	_, err = svc.List(ctx, "u1", Params{Path: "docs"})
	require.NoError(t, err)
	assert.Greater(t, fake.CallCount("ListObjectsV2"), before, "invalidation forces a re-scan")
}

func TestListEncryptedLockState(t *testing.T) {
	svc, dirs, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/secret/pic.png", []byte("p"), nil)
	require.NoError(t, dirs.Encrypt(ctx, "u1", "secret", "pass1234"))

	res, err := svc.List(ctx, "u1", Params{Delimited: true})
	require.NoError(t, err)
	require.Len(t, res.Directories, 1)
	assert.True(t, res.Directories[0].IsEncrypted)
	assert.True(t, res.Directories[0].IsLocked)
	assert.Empty(t, res.Directories[0].Thumbnails, "locked folders expose no previews")

	sess, err := dirs.Unlock(ctx, "u1", "secret", "pass1234")
	require.NoError(t, err)

	res, err = svc.List(ctx, "u1", Params{Delimited: true, SessionToken: sess.Token})
	require.NoError(t, err)
	require.Len(t, res.Directories, 1)
	assert.False(t, res.Directories[0].IsLocked)

	_, err = dirs.Unlock(ctx, "u1", "secret", "wrong999")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestListOmitsConcealedDirectories(t *testing.T) {
	svc, dirs, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/private/doc.txt", []byte("d"), nil)
	fake.Seed("u1/public/doc.txt", []byte("d"), nil)
	require.NoError(t, dirs.Hide(ctx, "u1", "private", "hush hush now"))

	res, err := svc.List(ctx, "u1", Params{Delimited: true})
	require.NoError(t, err)
	require.Len(t, res.Directories, 1)
	assert.Equal(t, "public", res.Directories[0].Name)

	sess, err := dirs.Reveal(ctx, "u1", "private", "hush hush now")
	require.NoError(t, err)

	res, err = svc.List(ctx, "u1", Params{Delimited: true, HiddenSessionToken: sess.Token})
	require.NoError(t, err)
	require.Len(t, res.Directories, 2)
}

func TestListObjectsPagination(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		fake.Seed(fmt.Sprintf("u1/docs/file-%02d.txt", i), []byte("x"), nil)
	}

	page, err := svc.ListObjects(ctx, "u1", ObjectsParams{Path: "docs", Skip: 4, Take: 3})
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)
	require.Len(t, page.Objects, 3)
	assert.Equal(t, "file-04.txt", page.Objects[0].Name)
	assert.Equal(t, "file-06.txt", page.Objects[2].Name)

	page, err = svc.ListObjects(ctx, "u1", ObjectsParams{Path: "docs", Skip: 8, Take: 5})
	require.NoError(t, err)
	assert.Equal(t, 10, page.TotalCount)
	assert.Len(t, page.Objects, 2, "window truncates at the end")
}

func TestListObjectsWithMetadata(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/docs/a.txt", []byte("a"), map[string]string{"author": "b64:" + "YWxpY2U="})

	page, err := svc.ListObjects(ctx, "u1", ObjectsParams{Path: "docs", WithMetadata: true})
	require.NoError(t, err)
	require.Len(t, page.Objects, 1)
	assert.Equal(t, "alice", page.Objects[0].Metadata["Author"])
	assert.Greater(t, fake.CallCount("HeadObject"), 0)
}

func TestListDirectoriesPagination(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	for _, d := range []string{"alpha", "beta", "gamma", "delta"} {
		fake.Seed("u1/"+d+"/f.txt", []byte("x"), nil)
	}

	page, err := svc.ListDirectories(ctx, "u1", DirectoriesParams{Skip: 1, Take: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.TotalCount)
	require.Len(t, page.Directories, 2)
	// CommonPrefixes come back in key order.
	assert.Equal(t, "beta", page.Directories[0].Name)
	assert.Equal(t, "delta", page.Directories[1].Name)
}

func TestDirectoryThumbnailsRoundRobin(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	// Two groups with plenty of images each: the sample alternates.
	for i := 0; i < 6; i++ {
		fake.Seed(fmt.Sprintf("u1/pics/summer/s%d.jpg", i), []byte("img"), nil)
		fake.Seed(fmt.Sprintf("u1/pics/winter/w%d.png", i), []byte("img"), nil)
	}
	fake.Seed("u1/pics/readme.txt", []byte("not an image"), nil)

	thumbs, err := svc.DirectoryThumbnails(ctx, "u1", "pics")
	require.NoError(t, err)
	require.Len(t, thumbs, 4)

	groups := map[string]int{}
	for _, th := range thumbs {
		groups[th.Name[:1]]++
	}
	assert.Equal(t, 2, groups["s"], "two from summer")
	assert.Equal(t, 2, groups["w"], "two from winter")
}

func TestDirectoryThumbnailsCached(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/pics/a.jpg", []byte("img"), nil)
	_, err := svc.DirectoryThumbnails(ctx, "u1", "pics")
	require.NoError(t, err)
	before := fake.CallCount("ListObjectsV2")

	_, err = svc.DirectoryThumbnails(ctx, "u1", "pics")
	require.NoError(t, err)
	assert.Equal(t, before, fake.CallCount("ListObjectsV2"))

	svc.InvalidateThumbnailCacheForObjectKey(ctx, "u1", "pics/a.jpg")
	_, err = svc.DirectoryThumbnails(ctx, "u1", "pics")
	require.NoError(t, err)
	assert.Greater(t, fake.CallCount("ListObjectsV2"), before)
}

func TestSearchPagination(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		fake.Seed(fmt.Sprintf("u1/stuff/item-%02d.txt", i), []byte("x"), nil)
	}
	fake.Seed("u1/stuff/unrelated.txt", []byte("x"), nil)

	res, err := svc.Search(ctx, "u1", SearchParams{Query: "item", Skip: 5, Take: 3})
	require.NoError(t, err)
	assert.Equal(t, 20, res.TotalCount)
	require.Len(t, res.Objects, 3)
	assert.Equal(t, "item-05.txt", res.Objects[0].Name)
	assert.Equal(t, "item-07.txt", res.Objects[2].Name)
}

func TestSearchDirectoryMatchesCountOnce(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/projects/a.txt", []byte("x"), nil)
	fake.Seed("u1/projects/b.txt", []byte("x"), nil)
	fake.Seed("u1/projects/sub/c.txt", []byte("x"), nil)

	res, err := svc.Search(ctx, "u1", SearchParams{Query: "proj"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalCount, "no file names match")
	assert.Equal(t, 1, res.TotalDirectoryCount, "directory counted once despite three children")
	require.Len(t, res.Directories, 1)
	assert.Equal(t, "projects", res.Directories[0].Prefix)
}

func TestSearchExtensionFilter(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/report.pdf", []byte("x"), nil)
	fake.Seed("u1/report.txt", []byte("x"), nil)

	res, err := svc.Search(ctx, "u1", SearchParams{Query: "report", Extension: "pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "report.pdf", res.Objects[0].Name)
}

func TestSearchSkipsLockedFolders(t *testing.T) {
	svc, dirs, fake := newTestService(t)
	ctx := context.Background()

	fake.Seed("u1/vault/secret-item.txt", []byte("x"), nil)
	fake.Seed("u1/open/plain-item.txt", []byte("x"), nil)
	require.NoError(t, dirs.Encrypt(ctx, "u1", "vault", "pass1234"))

	res, err := svc.Search(ctx, "u1", SearchParams{Query: "item"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "plain-item.txt", res.Objects[0].Name)

	sess, err := dirs.Unlock(ctx, "u1", "vault", "pass1234")
	require.NoError(t, err)
	res, err = svc.Search(ctx, "u1", SearchParams{Query: "item", SessionToken: sess.Token})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
}

func TestSearchRejectsShortQuery(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Search(context.Background(), "u1", SearchParams{Query: "a"})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}
