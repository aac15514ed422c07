// Package keys builds the canonical cache-key names used across cloudrove.
// Every KV consumer goes through these helpers so that owner namespacing
// and pattern invalidation stay consistent: all keys embed the owner id,
// and pattern deletes never cross owners.
package keys

import (
	"fmt"
	"net/url"
)

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func orRoot(path string) string {
	if path == "" {
		return "root"
	}
	return path
}

// List is the cache key for a full List result.
func List(owner, path, delimiter string, withMeta, auth, hiddenAuth bool) string {
	return fmt.Sprintf("cloud:list:%s:%s:full:%s:%s:%s:%s",
		owner, orRoot(path), delimiter, boolFlag(withMeta), boolFlag(auth), boolFlag(hiddenAuth))
}

// ListObjects is the cache key for a paginated ListObjects result.
func ListObjects(owner, path, delimiter string, withMeta bool, skip, take int, search string) string {
	k := fmt.Sprintf("cloud:list:%s:%s:objects:%s:%s:%d:%d",
		owner, orRoot(path), delimiter, boolFlag(withMeta), skip, take)
	if search != "" {
		k += ":" + search
	}
	return k
}

// ListDirectories is the cache key for a paginated ListDirectories result.
func ListDirectories(owner, path string, skip, take int, auth, hiddenAuth bool, search string) string {
	k := fmt.Sprintf("cloud:list:%s:%s:dirs:%d:%d:%s:%s",
		owner, orRoot(path), skip, take, boolFlag(auth), boolFlag(hiddenAuth))
	if search != "" {
		k += ":" + search
	}
	return k
}

// ListPattern matches every listing cache entry of the owner.
func ListPattern(owner string) string {
	return fmt.Sprintf("cloud:list:%s:*", owner)
}

// DirThumbnails is the cache key for a directory thumbnail set.
func DirThumbnails(owner, prefix string, signed bool) string {
	mode := "public"
	if signed {
		mode = "signed"
	}
	return fmt.Sprintf("cloud:dir-thumbnails:%s:%s:%s", mode, owner, orRoot(prefix))
}

// DirThumbnailsPattern matches both signed and public thumbnail entries for
// one directory of the owner.
func DirThumbnailsPattern(owner, prefix string) string {
	return fmt.Sprintf("cloud:dir-thumbnails:*:%s:%s", owner, orRoot(prefix))
}

// Usage is the per-owner byte counter key.
func Usage(owner string) string {
	return fmt.Sprintf("cloud:usage:%s", owner)
}

// EncryptedManifest caches the decoded encrypted-folder manifest.
func EncryptedManifest(owner string) string {
	return fmt.Sprintf("cloud:encrypted-manifest:%s", owner)
}

// HiddenManifest caches the decoded hidden-folder manifest.
func HiddenManifest(owner string) string {
	return fmt.Sprintf("cloud:hidden-manifest:%s", owner)
}

// EncryptedSession is the unlock-session key for one folder path.
func EncryptedSession(owner, path string) string {
	return fmt.Sprintf("cloud:encrypted-folder:session:%s:%s", owner, path)
}

// EncryptedSessionPattern matches the sessions stored under path's
// descendants. The "/" before the wildcard keeps a sibling that shares
// the textual prefix ("ab" next to "a") out of the sweep; the exact path
// key is deleted separately.
func EncryptedSessionPattern(owner, path string) string {
	return fmt.Sprintf("cloud:encrypted-folder:session:%s:%s/*", owner, path)
}

// HiddenSession is the reveal-session key for one folder path.
func HiddenSession(owner, path string) string {
	return fmt.Sprintf("cloud:hidden-folder:session:%s:%s", owner, path)
}

// HiddenSessionPattern matches the sessions stored under path's
// descendants; see EncryptedSessionPattern for the sibling-prefix rule.
func HiddenSessionPattern(owner, path string) string {
	return fmt.Sprintf("cloud:hidden-folder:session:%s:%s/*", owner, path)
}

// Durable job-record prefixes for the archive queues.
const (
	ExtractJobPrefix = "cloud:archive-extract:job:"
	CreateJobPrefix  = "cloud:archive-create:job:"
)

// ExtractCancel is the cancel flag for an extract job.
func ExtractCancel(jobID string) string {
	return fmt.Sprintf("cloud:archive-extract:cancel:%s", jobID)
}

// CreateCancel is the cancel flag for a create job.
func CreateCancel(jobID string) string {
	return fmt.Sprintf("cloud:archive-create:cancel:%s", jobID)
}

// CreateResult mirrors a finished create job's result for polling.
func CreateResult(jobID string) string {
	return fmt.Sprintf("cloud:archive-create:result:%s", jobID)
}

// Scan holds the antivirus verdict for one object.
func Scan(owner, key string) string {
	return fmt.Sprintf("cloud:scan:%s:%s", owner, url.QueryEscape(key))
}

// Idempotency stores the replayed result of a mutating operation.
func Idempotency(owner, action, key string) string {
	return fmt.Sprintf("cloud:idempotency:%s:%s:%s", owner, action, key)
}
