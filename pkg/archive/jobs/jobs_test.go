package jobs

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/storage/storagetest"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

func newTestService(t *testing.T, cfg Config) (*Service, *storagetest.FakeClient, kv.Store, *usage.Service) {
	t.Helper()
	fake := storagetest.NewFakeClient()
	gw, err := gateway.New(fake, fake, gateway.Config{Bucket: "b"})
	require.NoError(t, err)
	store := kv.NewMemoryStore()
	usageSvc := usage.NewService(gw, store, usage.StaticSubscriptions{
		Plan: usage.Subscription{MaxStorageBytes: 1 << 30},
	})
	svc := NewService(gw, store, usageSvc, nil, nil, archive.NewRegistry(0), cfg)
	return svc, fake, store, usageSvc
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(body)
	}
	return out
}

// runNext claims the oldest waiting job and runs it synchronously.
func runNext(t *testing.T, svc *Service, q *queue) Job {
	t.Helper()
	ctx := context.Background()
	job, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok, "expected a waiting job")
	if job.Kind == KindCreate {
		svc.runCreate(ctx, job)
	} else {
		svc.runExtract(ctx, job)
	}
	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestExtractJobRoundTrip(t *testing.T) {
	svc, fake, _, usageSvc := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/in/photos.zip", zipBytes(t, map[string]string{
		"photos/a.txt":     "alpha",
		"photos/sub/b.txt": "beta",
		"notes.txt":        "n",
	}), nil)
	before, err := usageSvc.UsedBytes(ctx, "u1")
	require.NoError(t, err)

	id, err := svc.EnqueueExtract(ctx, "u1", "in/photos.zip", "", nil)
	require.NoError(t, err)

	job := runNext(t, svc, svc.extractQ)
	require.Equal(t, StateCompleted, job.State)
	require.NotNil(t, job.Result)
	assert.Equal(t, "in/photos", job.Result.ExtractPrefix)
	assert.Equal(t, 3, job.Result.ExtractedEntries)
	assert.Equal(t, int64(10), job.Result.ExtractedBytes)

	// The archive's own top-level folder is flattened away; foreign roots
	// are kept.
	a, ok := fake.Lookup("u1/in/photos/a.txt")
	require.True(t, ok)
	assert.Equal(t, "alpha", string(a.Body))
	_, ok = fake.Lookup("u1/in/photos/sub/b.txt")
	assert.True(t, ok)
	_, ok = fake.Lookup("u1/in/photos/notes.txt")
	assert.True(t, ok)

	after, err := usageSvc.UsedBytes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before+10, after)

	got, err := svc.Status(ctx, "u1", KindExtract, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
}

func TestExtractSelectedEntriesOnly(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/bundle.zip", zipBytes(t, map[string]string{
		"keep.txt": "yes",
		"skip.txt": "no",
	}), nil)

	_, err := svc.EnqueueExtract(ctx, "u1", "bundle.zip", archive.FormatZip, []string{"keep.txt"})
	require.NoError(t, err)

	job := runNext(t, svc, svc.extractQ)
	require.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 1, job.Result.ExtractedEntries)

	_, ok := fake.Lookup("u1/bundle/keep.txt")
	assert.True(t, ok)
	_, ok = fake.Lookup("u1/bundle/skip.txt")
	assert.False(t, ok)
}

func TestExtractCancelFlagStopsJob(t *testing.T) {
	svc, fake, store, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/big.zip", zipBytes(t, map[string]string{"a.txt": "a", "b.txt": "b"}), nil)

	id, err := svc.EnqueueExtract(ctx, "u1", "big.zip", "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, kvkeys.ExtractCancel(id), true, time.Minute))

	job := runNext(t, svc, svc.extractQ)
	assert.Equal(t, StateCancelled, job.State)
	assert.Empty(t, job.FailedReason)
}

func TestCancelWaitingJobSkipsExecution(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/a.zip", zipBytes(t, map[string]string{"x": "x"}), nil)
	id, err := svc.EnqueueExtract(ctx, "u1", "a.zip", "", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, "u1", KindExtract, id))

	got, err := svc.Status(ctx, "u1", KindExtract, id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, got.State)

	_, ok, err := svc.extractQ.Claim(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job must not be claimable")
}

func TestJobsBelongToTheirOwner(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/a.zip", zipBytes(t, map[string]string{"x": "x"}), nil)
	id, err := svc.EnqueueExtract(ctx, "u1", "a.zip", "", nil)
	require.NoError(t, err)

	_, err = svc.Status(ctx, "u2", KindExtract, id)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))

	err = svc.Cancel(ctx, "u2", KindExtract, id)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))
}

func TestEnqueueRejectsUnsupportedInputs(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.EnqueueExtract(ctx, "u1", "report.pdf", "", nil)
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))

	_, err = svc.EnqueueCreate(ctx, "u1", []string{"docs"}, archive.FormatRar, "")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest), "rar creation")

	_, err = svc.EnqueueCreate(ctx, "u1", nil, archive.FormatZip, "")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest), "empty key set")
}

func TestCreateJobArchivesDirectory(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/docs/a.txt", []byte("aaa"), nil)
	fake.Seed("u1/docs/sub/b.txt", []byte("bb"), nil)
	fake.Seed("u1/docs/empty/.emptyFolderPlaceholder", nil, nil)

	id, err := svc.EnqueueCreate(ctx, "u1", []string{"docs"}, archive.FormatZip, "")
	require.NoError(t, err)

	job := runNext(t, svc, svc.createQ)
	require.Equal(t, StateCompleted, job.State)
	require.NotNil(t, job.Result)
	assert.Equal(t, "archives/"+id+".zip", job.Result.ArchiveKey)
	assert.Equal(t, 2, job.Progress.TotalEntries)

	obj, ok := fake.Lookup("u1/" + job.Result.ArchiveKey)
	require.True(t, ok)
	assert.Equal(t, int64(len(obj.Body)), job.Result.ArchiveSize)
	assert.Equal(t, map[string]string{
		"docs/a.txt":     "aaa",
		"docs/sub/b.txt": "bb",
	}, unzip(t, obj.Body))
}

func TestCreateJobSingleFileWithExplicitOutput(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/docs/a.txt", []byte("aaa"), nil)

	_, err := svc.EnqueueCreate(ctx, "u1", []string{"docs/a.txt"}, archive.FormatZip, "bundles/one.zip")
	require.NoError(t, err)

	job := runNext(t, svc, svc.createQ)
	require.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "bundles/one.zip", job.Result.ArchiveKey)

	obj, ok := fake.Lookup("u1/bundles/one.zip")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"a.txt": "aaa"}, unzip(t, obj.Body))
}

func TestCreateJobMissingSourceFails(t *testing.T) {
	svc, _, _, _ := newTestService(t, Config{})

	_, err := svc.EnqueueCreate(context.Background(), "u1", []string{"nope"}, archive.FormatZip, "")
	require.NoError(t, err)

	job := runNext(t, svc, svc.createQ)
	assert.Equal(t, StateFailed, job.State)
	assert.Contains(t, job.FailedReason, "not found")
}

func TestCreateJobEnforcesFileLimit(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{CreateMaxFiles: 1})
	ctx := context.Background()

	fake.Seed("u1/docs/a.txt", []byte("a"), nil)
	fake.Seed("u1/docs/b.txt", []byte("b"), nil)

	_, err := svc.EnqueueCreate(ctx, "u1", []string{"docs"}, archive.FormatZip, "")
	require.NoError(t, err)

	job := runNext(t, svc, svc.createQ)
	assert.Equal(t, StateFailed, job.State)
	assert.Contains(t, job.FailedReason, "maximum")
}

func TestCreateResultSurvivesQueueEviction(t *testing.T) {
	svc, fake, store, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/docs/a.txt", []byte("a"), nil)
	id, err := svc.EnqueueCreate(ctx, "u1", []string{"docs"}, archive.FormatZip, "")
	require.NoError(t, err)
	runNext(t, svc, svc.createQ)

	// Simulate retention eviction of the job record.
	require.NoError(t, store.Delete(ctx, kvkeys.CreateJobPrefix+id))

	got, err := svc.Status(ctx, "u1", KindCreate, id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, "u1", got.OwnerID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "archives/"+id+".zip", got.Result.ArchiveKey)

	// The mirror is owner-checked just like the live job record.
	_, err = svc.Status(ctx, "u2", KindCreate, id)
	assert.True(t, fault.IsKind(err, fault.KindForbidden))
}

func TestPreviewListsEntriesWithoutExtracting(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{})
	ctx := context.Background()

	fake.Seed("u1/in.zip", zipBytes(t, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "beta",
	}), nil)

	entries, err := svc.Preview(ctx, "u1", "in.zip", "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	paths := []string{entries[0].Path, entries[1].Path}
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, paths)

	// Nothing extracted.
	assert.Equal(t, []string{"u1/in.zip"}, fake.Keys())

	_, err = svc.Preview(ctx, "u1", "missing.zip", archive.FormatZip)
	assert.True(t, fault.IsKind(err, fault.KindNotFound))
}

func TestPreviewRefusesOversizedArchives(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{PreviewMaxBytes: 16})
	ctx := context.Background()

	fake.Seed("u1/big.zip", zipBytes(t, map[string]string{"a.txt": "alpha"}), nil)

	_, err := svc.Preview(ctx, "u1", "big.zip", "")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestWorkersPickUpQueuedJobs(t *testing.T) {
	svc, fake, _, _ := newTestService(t, Config{PollInterval: 10 * time.Millisecond})
	ctx := context.Background()

	fake.Seed("u1/in.zip", zipBytes(t, map[string]string{"f.txt": "f"}), nil)
	id, err := svc.EnqueueExtract(ctx, "u1", "in.zip", "", nil)
	require.NoError(t, err)

	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		job, err := svc.Status(ctx, "u1", KindExtract, id)
		return err == nil && job.State == StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := fake.Lookup("u1/in/f.txt")
	assert.True(t, ok)
}
