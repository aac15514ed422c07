package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/object"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/storage/storagetest"
	"github.com/cloudrove/cloudrove/pkg/upload"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

func newTestStack(t *testing.T) (*Service, *storagetest.FakeClient, kv.Store) {
	t.Helper()
	fake := storagetest.NewFakeClient()
	gw, err := gateway.New(fake, fake, gateway.Config{Bucket: "b", PublicHost: "cdn.example.com"})
	require.NoError(t, err)
	store := kv.NewMemoryStore()
	usageSvc := usage.NewService(gw, store, usage.StaticSubscriptions{
		Plan: usage.Subscription{MaxStorageBytes: 1 << 30},
	})
	dirs := directory.NewService(gw, store, usageSvc, directory.Config{})
	listings := listing.NewService(gw, store, dirs, listing.Config{})
	objects := object.NewService(gw, usageSvc)
	uploads := upload.NewService(gw, usageSvc, nil, nil, listings)
	archives := jobs.NewService(gw, store, usageSvc, nil, listings, archive.NewRegistry(0), jobs.Config{})
	svc := New(dirs, listings, objects, uploads, archives, nil, usageSvc, store, Config{})
	return svc, fake, store
}

func TestRenameDirectoryMovesSubtreeAndDropsListCache(t *testing.T) {
	svc, fake, store := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/a/b/c/file.txt", []byte("payload"), nil)
	fake.Seed("u1/a/b/note.md", []byte("n"), nil)

	// Prime the listing cache.
	_, err := svc.List(ctx, c, ListRequest{Path: "a", Delimited: true})
	require.NoError(t, err)
	cached, err := store.FindKeys(ctx, "cloud:list:u1:*")
	require.NoError(t, err)
	require.NotEmpty(t, cached)

	dst, err := svc.RenameDirectory(ctx, c, RenameDirectoryRequest{Key: "a/b", Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "a/renamed", dst)

	_, ok := fake.Lookup("u1/a/renamed/c/file.txt")
	assert.True(t, ok)
	_, ok = fake.Lookup("u1/a/renamed/note.md")
	assert.True(t, ok)
	_, ok = fake.Lookup("u1/a/b/note.md")
	assert.False(t, ok)

	cached, err = store.FindKeys(ctx, "cloud:list:u1:*")
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestEncryptedFolderUnlockFlow(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/vault/secret.txt", []byte("s3cret"), nil)

	require.NoError(t, svc.Encrypt(ctx, c, ProtectRequest{Path: "vault", Passphrase: "pass1234"}))

	// Listing a locked folder succeeds but shows nothing inside.
	res, err := svc.List(ctx, c, ListRequest{Path: "vault", Delimited: true})
	require.NoError(t, err)
	require.NotNil(t, res.Directory)
	assert.True(t, res.Directory.IsEncrypted)
	assert.True(t, res.Directory.IsLocked)
	assert.Empty(t, res.Objects)
	assert.Empty(t, res.Directory.Thumbnails)

	// Operations inside the locked folder are denied without a session.
	_, err = svc.Find(ctx, c, "vault/secret.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	// A wrong passphrase is indistinguishable from a wrong path.
	_, err = svc.Unlock(ctx, c, UnlockRequest{Path: "vault", Passphrase: "wrong999"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
	assert.Contains(t, err.Error(), "invalid path or passphrase")
	errMissing := func() error {
		_, err := svc.Unlock(ctx, c, UnlockRequest{Path: "no-such-dir", Passphrase: "wrong999"})
		return err
	}()
	require.Error(t, errMissing)
	assert.Equal(t, err.Error(), errMissing.Error())

	sess, err := svc.Unlock(ctx, c, UnlockRequest{Path: "vault", Passphrase: "pass1234"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	unlocked := c
	unlocked.FolderSession = sess.Token
	res, err = svc.List(ctx, unlocked, ListRequest{Path: "vault", Delimited: true})
	require.NoError(t, err)
	require.NotNil(t, res.Directory)
	assert.False(t, res.Directory.IsLocked)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "secret.txt", res.Objects[0].Name)

	rec, err := svc.Find(ctx, unlocked, "vault/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Size)

	// Locking again revokes access.
	require.NoError(t, svc.Lock(ctx, unlocked, "vault"))
	_, err = svc.Find(ctx, unlocked, "vault/secret.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))
}

func TestDeleteDirectoryInsideLockedFolderIsDenied(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/vault/sub/doc.txt", []byte("tenchars!!"), nil)
	require.NoError(t, svc.Encrypt(ctx, c, ProtectRequest{Path: "vault", Passphrase: "pass1234"}))

	// No session, no passphrase: the subtree stays.
	_, err := svc.DeleteDirectory(ctx, c, "vault/sub")
	assert.True(t, fault.IsKind(err, fault.KindForbidden))
	_, ok := fake.Lookup("u1/vault/sub/doc.txt")
	assert.True(t, ok)

	// A wrong passphrase is rejected by the directory service.
	_, err = svc.DeleteDirectory(ctx, Caller{UserID: "u1", FolderPassphrase: "not it either"}, "vault/sub")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	// An unlock session covers the delete.
	sess, err := svc.Unlock(ctx, c, UnlockRequest{Path: "vault", Passphrase: "pass1234"})
	require.NoError(t, err)
	res, err := svc.DeleteDirectory(ctx, Caller{UserID: "u1", FolderSession: sess.Token}, "vault/sub")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ObjectsDeleted)
}

func TestCompleteUploadReplaysWithIdempotencyKey(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1", IdempotencyKey: "K1"}

	created, err := svc.CreateUpload(ctx, c, CreateUploadRequest{Key: "docs/new.bin", Size: 4})
	require.NoError(t, err)
	etag, err := svc.UploadPart(ctx, c, created.Key, created.UploadId, 1, []byte("data"), "")
	require.NoError(t, err)

	req := CompleteUploadRequest{
		Key:      created.Key,
		UploadId: created.UploadId,
		Parts:    []upload.Part{{PartNumber: 1, ETag: etag}},
	}
	first, err := svc.CompleteUpload(ctx, c, req)
	require.NoError(t, err)
	assert.Equal(t, "docs/new.bin", first.Key)
	assert.Equal(t, "b", first.Bucket)
	require.Equal(t, 1, fake.CallCount("CompleteMultipartUpload"))

	// The replay returns the recorded completion without touching the
	// store again; a second real completion would fail on the consumed
	// upload id.
	second, err := svc.CompleteUpload(ctx, c, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.CallCount("CompleteMultipartUpload"))
}

func TestHiddenDirectoryCreateAndReveal(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/readme.txt", []byte("r"), nil)

	dir, err := svc.CreateDirectory(ctx, c, CreateDirectoryRequest{
		Name: "private", Hidden: true, Passphrase: "pass1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "private", dir)

	res, err := svc.List(ctx, c, ListRequest{Path: "", Delimited: true})
	require.NoError(t, err)
	for _, d := range res.Directories {
		assert.NotEqual(t, "private", d.Name)
	}

	_, err = svc.Reveal(ctx, c, UnlockRequest{Path: "private", Passphrase: "nope-1234"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	sess, err := svc.Reveal(ctx, c, UnlockRequest{Path: "private", Passphrase: "pass1234"})
	require.NoError(t, err)

	revealed := c
	revealed.HiddenSession = sess.Token
	res, err = svc.List(ctx, revealed, ListRequest{Path: "", Delimited: true})
	require.NoError(t, err)
	var found bool
	for _, d := range res.Directories {
		if d.Name == "private" {
			found = true
			assert.True(t, d.IsHidden)
			assert.False(t, d.IsConcealed)
		}
	}
	assert.True(t, found)

	// Concealing drops the session again.
	require.NoError(t, svc.Conceal(ctx, revealed, "private"))
	res, err = svc.List(ctx, revealed, ListRequest{Path: "", Delimited: true})
	require.NoError(t, err)
	for _, d := range res.Directories {
		assert.NotEqual(t, "private", d.Name)
	}
}

func TestDeleteObjectsReportsFreedBytes(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/tmp/a.bin", []byte("aaaa"), nil)
	fake.Seed("u1/tmp/b.bin", []byte("bb"), nil)

	freed, err := svc.DeleteObjects(ctx, c, []string{"tmp/a.bin", "tmp/b.bin"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), freed)
	_, ok := fake.Lookup("u1/tmp/a.bin")
	assert.False(t, ok)
}

func TestTeamCallersShareAnOwnerScope(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()

	fake.Seed("team/t1/shared/plan.txt", []byte("p"), nil)

	alice := Caller{UserID: "alice", TeamID: "t1"}
	bob := Caller{UserID: "bob", TeamID: "t1"}

	recA, err := svc.Find(ctx, alice, "shared/plan.txt")
	require.NoError(t, err)
	recB, err := svc.Find(ctx, bob, "shared/plan.txt")
	require.NoError(t, err)
	assert.Equal(t, recA.Key, recB.Key)

	// The same path does not resolve in a personal scope.
	_, err = svc.Find(ctx, Caller{UserID: "alice"}, "shared/plan.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestRequestValidation(t *testing.T) {
	svc, _, _ := newTestStack(t)
	ctx := context.Background()

	_, err := svc.Find(ctx, Caller{}, "a.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	c := Caller{UserID: "u1"}
	err = svc.Move(ctx, c, MoveRequest{SourceKeys: nil, DestDir: "x"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	_, err = svc.Search(ctx, c, SearchRequest{Query: "a"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	_, err = svc.CreateDirectory(ctx, c, CreateDirectoryRequest{Name: ""})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestScanStatusUnavailableWithoutScanner(t *testing.T) {
	svc, _, _ := newTestStack(t)
	ctx := context.Background()

	_, err := svc.ScanStatus(ctx, Caller{UserID: "u1"}, "a.txt")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnavailable))
}

func TestArchiveOpsUnavailableWhenDisabled(t *testing.T) {
	svc, _, _ := newTestStack(t)
	svc.archives = nil
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	_, err := svc.ExtractStart(ctx, c, ExtractRequest{Key: "a.zip"})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnavailable))

	_, err = svc.PreviewArchive(ctx, c, "a.zip", "")
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnavailable))
}

func TestExtractStartQueuesAndReportsStatus(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1"}

	fake.Seed("u1/in/photos.zip", []byte("not really a zip"), nil)

	id, err := svc.ExtractStart(ctx, c, ExtractRequest{Key: "in/photos.zip"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := svc.ExtractStatus(ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateWaiting, job.State)

	// Another owner cannot see the job.
	_, err = svc.ExtractStatus(ctx, Caller{UserID: "u2"}, id)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	require.NoError(t, svc.ExtractCancel(ctx, c, id))
	job, err = svc.ExtractStatus(ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCancelled, job.State)
}

func TestMutationsReplayUnderTheSameIdempotencyKey(t *testing.T) {
	svc, fake, _ := newTestStack(t)
	ctx := context.Background()
	c := Caller{UserID: "u1", IdempotencyKey: "del-1"}

	fake.Seed("u1/tmp/a.bin", []byte("aaaa"), nil)

	freed, err := svc.DeleteObjects(ctx, c, []string{"tmp/a.bin"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), freed)

	// The retry reports the same outcome instead of not-found.
	freed, err = svc.DeleteObjects(ctx, c, []string{"tmp/a.bin"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), freed)
}
