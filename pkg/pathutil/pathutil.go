// Package pathutil provides path normalization and storage-key construction
// for owner-scoped object keys. Directories are slash-separated segments
// under the owner prefix; all user input passes through here before it
// touches the object store.
package pathutil

import (
	"strings"
)

// PlaceholderName is the zero-byte object that materializes an empty
// directory. It is never surfaced to callers.
const PlaceholderName = ".emptyFolderPlaceholder"

// SecurePrefix is the per-owner directory holding manifests. Objects under
// it are hidden from every user-facing listing.
const SecurePrefix = ".secure"

// NormalizeDir trims leading and trailing slashes from a user-supplied
// directory path. The empty string denotes the owner root.
func NormalizeDir(p string) string {
	return strings.Trim(p, "/")
}

// JoinKey normalizes each part and joins the non-empty ones with "/".
func JoinKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = NormalizeDir(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// KeyBuilder returns the full storage key for the given owner and path
// parts: "{owner}/{part}/{part}...".
func KeyBuilder(owner string, parts ...string) string {
	return JoinKey(append([]string{owner}, parts...)...)
}

// StripOwner removes the "{owner}/" prefix from a storage key. Keys outside
// the owner prefix are returned unchanged.
func StripOwner(key, owner string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, owner+"/"), owner)
}

// BaseName returns the last slash-separated segment of a key.
func BaseName(key string) string {
	key = NormalizeDir(key)
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// ParentDir returns the directory containing the key, "" at the root.
func ParentDir(key string) string {
	key = NormalizeDir(key)
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return ""
}

// Extension returns the lowercase suffix after the last "." of the base
// name, without the dot. Names with no dot (or a single leading dot) have
// no extension.
func Extension(key string) string {
	base := BaseName(key)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i+1:])
}

// ValidName reports whether a user-supplied leaf name is acceptable for
// rename and create operations: non-empty and without path separators.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsRune(name, '/')
}

// NormalizeArchiveEntryPath validates and normalizes an archive entry path.
// Absolute paths, empty paths, and paths containing "." or ".." segments
// are rejected; the second return is false and the entry must be skipped.
// Backslashes are treated as separators so Windows-built archives extract
// sensibly.
func NormalizeArchiveEntryPath(p string) (string, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}

	segs := strings.Split(strings.TrimSuffix(p, "/"), "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return "", false
		}
	}
	return strings.Join(segs, "/"), true
}

// IsPlaceholder reports whether the key names a directory placeholder.
func IsPlaceholder(key string) bool {
	return BaseName(key) == PlaceholderName
}

// IsSecure reports whether the owner-relative path lives under the
// manifest prefix.
func IsSecure(relPath string) bool {
	relPath = NormalizeDir(relPath)
	return relPath == SecurePrefix || strings.HasPrefix(relPath, SecurePrefix+"/")
}

// IsWithin reports whether path equals dir or is nested under it. Both are
// owner-relative normalized paths; dir "" means the root and contains
// everything.
func IsWithin(path, dir string) bool {
	path = NormalizeDir(path)
	dir = NormalizeDir(dir)
	if dir == "" {
		return true
	}
	return path == dir || strings.HasPrefix(path, dir+"/")
}

// RebasePath translates path from the source directory to the destination
// directory: RebasePath("a/b/x", "a", "a2") = "a2/b/x". The path must be
// within src.
func RebasePath(path, src, dst string) string {
	path = NormalizeDir(path)
	src = NormalizeDir(src)
	dst = NormalizeDir(dst)
	if path == src {
		return dst
	}
	return dst + "/" + strings.TrimPrefix(path, src+"/")
}

// Ancestors returns every proper ancestor of the normalized path, nearest
// first: Ancestors("a/b/c") = ["a/b", "a"]. The root is not included.
func Ancestors(path string) []string {
	path = NormalizeDir(path)
	var out []string
	for {
		i := strings.LastIndexByte(path, '/')
		if i < 0 {
			return out
		}
		path = path[:i]
		out = append(out, path)
	}
}

// SelfAndAncestors returns the normalized path followed by its ancestors,
// nearest first.
func SelfAndAncestors(path string) []string {
	path = NormalizeDir(path)
	if path == "" {
		return nil
	}
	return append([]string{path}, Ancestors(path)...)
}
