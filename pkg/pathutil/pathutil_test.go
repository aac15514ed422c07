package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"a/b", "a/b"},
		{"/a/b/", "a/b"},
		{"///docs///", "docs"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDir(tt.in), "input %q", tt.in)
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b/c", JoinKey("a", "b", "c"))
	assert.Equal(t, "a/b", JoinKey("/a/", "", "/b/"))
	assert.Equal(t, "", JoinKey("", "/"))
}

func TestKeyBuilder(t *testing.T) {
	assert.Equal(t, "u1/docs/report.pdf", KeyBuilder("u1", "docs", "report.pdf"))
	assert.Equal(t, "team/t9/x", KeyBuilder("team/t9", "x"))
}

func TestStripOwner(t *testing.T) {
	assert.Equal(t, "docs/a.txt", StripOwner("u1/docs/a.txt", "u1"))
	assert.Equal(t, "", StripOwner("u1", "u1"))
	assert.Equal(t, "u2/x", StripOwner("u2/x", "u1"))
}

func TestBaseNameAndParent(t *testing.T) {
	assert.Equal(t, "c.txt", BaseName("a/b/c.txt"))
	assert.Equal(t, "a/b", ParentDir("a/b/c.txt"))
	assert.Equal(t, "", ParentDir("top.txt"))
	assert.Equal(t, "top.txt", BaseName("top.txt"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("a/report.PDF"))
	assert.Equal(t, "gz", Extension("backup.tar.gz"))
	assert.Equal(t, "", Extension("README"))
	assert.Equal(t, "", Extension(".hidden"))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("photos"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("a/b"))
}

func TestNormalizeArchiveEntryPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"docs/a.txt", "docs/a.txt", true},
		{"docs/sub/", "docs/sub", true},
		{"win\\style\\path.txt", "win/style/path.txt", true},
		{"../evil.txt", "", false},
		{"a/../../b", "", false},
		{"/abs/path", "", false},
		{"", "", false},
		{"a//b", "", false},
		{"./a", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeArchiveEntryPath(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "input %q", tt.in)
		}
	}
}

func TestIsPlaceholderAndSecure(t *testing.T) {
	assert.True(t, IsPlaceholder("u1/docs/.emptyFolderPlaceholder"))
	assert.False(t, IsPlaceholder("u1/docs/file.txt"))
	assert.True(t, IsSecure(".secure/encrypted-folders.json"))
	assert.True(t, IsSecure(".secure"))
	assert.False(t, IsSecure("docs/.securely-named"))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("a/b/c", "a/b"))
	assert.True(t, IsWithin("a/b", "a/b"))
	assert.True(t, IsWithin("anything", ""))
	assert.False(t, IsWithin("a/bc", "a/b"))
}

func TestRebasePath(t *testing.T) {
	assert.Equal(t, "a2/b/x", RebasePath("a/b/x", "a", "a2"))
	assert.Equal(t, "a2", RebasePath("a", "a", "a2"))
}

func TestAncestors(t *testing.T) {
	assert.Equal(t, []string{"a/b", "a"}, Ancestors("a/b/c"))
	assert.Nil(t, Ancestors("top"))
	assert.Equal(t, []string{"a/b/c", "a/b", "a"}, SelfAndAncestors("a/b/c"))
	assert.Nil(t, SelfAndAncestors(""))
}
