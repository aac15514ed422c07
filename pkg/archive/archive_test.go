package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrove/cloudrove/pkg/fault"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Size: int64(len(content)), Mode: 0o644, Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipped(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func collectExtract(t *testing.T, h Handler, raw []byte, limits Limits, opts ExtractOptions) (map[string]string, Summary, error) {
	t.Helper()
	got := map[string]string{}
	sum, err := h.Extract(context.Background(), bytes.NewReader(raw), int64(len(raw)), limits, func(e ExtractedEntry) error {
		if e.Type == EntryDirectory {
			got[e.Path+"/"] = ""
			return nil
		}
		body, rerr := io.ReadAll(e.Stream)
		if rerr != nil {
			return rerr
		}
		got[e.Path] = string(body)
		return nil
	}, opts)
	return got, sum, err
}

func TestRegistryResolvesByExtension(t *testing.T) {
	reg := NewRegistry(0)

	cases := map[string]Format{
		"a.zip":        FormatZip,
		"b.TAR":        FormatTar,
		"c.tar.gz":     FormatTarGz,
		"d.tgz":        FormatTarGz,
		"photos.RAR":   FormatRar,
		"dir/deep.zip": FormatZip,
	}
	for key, want := range cases {
		h, err := reg.ForKey(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, h.Format(), key)
	}

	_, err := reg.ForKey("document.pdf")
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestExtractPrefix(t *testing.T) {
	reg := NewRegistry(0)

	zipH, _ := reg.ByFormat(FormatZip)
	assert.Equal(t, "docs/bundle", ExtractPrefix("docs/bundle.zip", zipH))

	tgzH, _ := reg.ByFormat(FormatTarGz)
	assert.Equal(t, "bundle", ExtractPrefix("bundle.tar.gz", tgzH))
	assert.Equal(t, "a/b/x", ExtractPrefix("a/b/x.tgz", tgzH))
}

func TestZipRoundTrip(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	raw := zipBytes(t, map[string]string{
		"readme.txt":    "hello",
		"sub/notes.txt": "nested",
	})

	entries, err := h.ListEntries(context.Background(), bytes.NewReader(raw), int64(len(raw)), DefaultLimits())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	got, sum, err := collectExtract(t, h, raw, DefaultLimits(), ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"readme.txt": "hello", "sub/notes.txt": "nested"}, got)
	assert.Equal(t, 2, sum.Entries)
	assert.Equal(t, int64(len("hello")+len("nested")), sum.Bytes)
}

func TestZipFromPlainStreamSpoolsToDisk(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	raw := zipBytes(t, map[string]string{
		"readme.txt":    "hello",
		"sub/notes.txt": "nested",
	})

	// An io.Reader without random access, like an object body off the
	// network. The handler must not slurp it into memory.
	stream := io.MultiReader(bytes.NewReader(raw))

	entries, err := h.ListEntries(context.Background(), stream, int64(len(raw)), DefaultLimits())
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	got := map[string]string{}
	_, err = h.Extract(context.Background(), io.MultiReader(bytes.NewReader(raw)), int64(len(raw)), DefaultLimits(),
		func(e ExtractedEntry) error {
			if e.Type == EntryFile {
				data, err := io.ReadAll(e.Stream)
				if err != nil {
					return err
				}
				got[e.Path] = string(data)
			}
			return nil
		}, ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"readme.txt": "hello", "sub/notes.txt": "nested"}, got)
}

func TestTarAndTarGzRoundTrip(t *testing.T) {
	reg := NewRegistry(0)
	files := map[string]string{"a.txt": "aaa", "dir/b.txt": "bbb"}
	rawTar := tarBytes(t, files)

	for _, tc := range []struct {
		format Format
		raw    []byte
	}{
		{FormatTar, rawTar},
		{FormatTarGz, gzipped(t, rawTar)},
	} {
		h, err := reg.ByFormat(tc.format)
		require.NoError(t, err)
		got, sum, err := collectExtract(t, h, tc.raw, DefaultLimits(), ExtractOptions{})
		require.NoError(t, err, tc.format)
		assert.Equal(t, files, got, tc.format)
		assert.Equal(t, 2, sum.Entries)
	}
}

func TestExtractSkipsEscapingPaths(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatTar)

	raw := tarBytes(t, map[string]string{
		"../../../etc/passwd": "evil",
		"/abs/path.txt":       "evil",
		"ok.txt":              "fine",
	})

	got, _, err := collectExtract(t, h, raw, DefaultLimits(), ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ok.txt": "fine"}, got, "traversal entries skipped, extract continues")
}

func TestExtractEnforcesEntryLimit(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	files := map[string]string{}
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("f%d.txt", i)] = "x"
	}
	raw := zipBytes(t, files)

	limits := DefaultLimits()
	limits.MaxEntries = 5
	_, _, err := collectExtract(t, h, raw, limits, ExtractOptions{})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestExtractEnforcesTotalBytes(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatTar)

	raw := tarBytes(t, map[string]string{"big.bin": string(make([]byte, 1000))})
	limits := DefaultLimits()
	limits.MaxTotalBytes = 100
	_, _, err := collectExtract(t, h, raw, limits, ExtractOptions{})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}

func TestExtractEnforcesCompressionRatio(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatTarGz)

	// A megabyte of zeros gzips to almost nothing.
	raw := gzipped(t, tarBytes(t, map[string]string{"zeros.bin": string(make([]byte, 1<<20))}))
	limits := DefaultLimits()
	limits.MaxCompressionRatio = 10
	_, _, err := collectExtract(t, h, raw, limits, ExtractOptions{})
	assert.True(t, fault.IsKind(err, fault.KindBadRequest), "bomb-like ratio rejected")
}

func TestExtractSelectedEntries(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	raw := zipBytes(t, map[string]string{"keep.txt": "k", "skip.txt": "s"})
	got, _, err := collectExtract(t, h, raw, DefaultLimits(), ExtractOptions{
		Selected: map[string]bool{"keep.txt": true},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keep.txt": "k"}, got)
}

func TestExtractCancellation(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	raw := zipBytes(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})
	calls := 0
	_, _, err := collectExtract(t, h, raw, DefaultLimits(), ExtractOptions{
		ShouldCancel: func() bool {
			calls++
			return calls > 1
		},
	})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestCreateZipFromEntries(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatZip)

	sources := map[string]string{"k1": "one", "k2": "two"}
	get := func(_ context.Context, key string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(sources[key]))), nil
	}

	var out bytes.Buffer
	err := h.Create(context.Background(), []CreateEntry{
		{Key: "k1", Path: "one.txt", Size: 3},
		{Key: "k2", Path: "dir/two.txt", Size: 3},
	}, get, &out, CreateOptions{})
	require.NoError(t, err)

	got, _, err := collectExtract(t, h, out.Bytes(), DefaultLimits(), ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"one.txt": "one", "dir/two.txt": "two"}, got)
}

func TestCreateTarGzRoundTrip(t *testing.T) {
	reg := NewRegistry(0)
	h, _ := reg.ByFormat(FormatTarGz)

	get := func(_ context.Context, _ string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("payload"))), nil
	}

	var out bytes.Buffer
	err := h.Create(context.Background(), []CreateEntry{{Key: "k", Path: "p.txt", Size: 7}}, get, &out, CreateOptions{})
	require.NoError(t, err)

	got, _, err := collectExtract(t, h, out.Bytes(), DefaultLimits(), ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p.txt": "payload"}, got)
}

func TestRarCreationUnsupported(t *testing.T) {
	reg := NewRegistry(0)
	h, err := reg.ByFormat(FormatRar)
	require.NoError(t, err)
	assert.False(t, h.SupportsCreation())

	cerr := h.Create(context.Background(), nil, nil, io.Discard, CreateOptions{})
	assert.True(t, fault.IsKind(cerr, fault.KindBadRequest))
}

func TestRarBufferLimit(t *testing.T) {
	h := newRarHandler(64)
	_, err := h.ListEntries(context.Background(), bytes.NewReader(make([]byte, 200)), 200, DefaultLimits())
	assert.True(t, fault.IsKind(err, fault.KindBadRequest))
}
