package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// Manifest object names under {owner}/.secure/.
const (
	encryptedManifestName = "encrypted-folders.json"
	hiddenManifestName    = "hidden-folders.json"

	manifestCacheTTL = 10 * time.Minute
)

// Manifest is the per-owner JSON document mapping normalized folder paths
// to wrapped-key records.
type Manifest struct {
	Folders map[string]Record `json:"folders"`
}

// manifestStore loads and saves one manifest kind (encrypted or hidden)
// with a KV read-through cache. A malformed document is treated as empty:
// losing a manifest must never brick an owner's listing.
type manifestStore struct {
	gw       *gateway.Gateway
	kv       kv.Store
	name     string // object base name under .secure/
	cacheKey func(owner string) string
}

func newEncryptedManifestStore(gw *gateway.Gateway, store kv.Store) *manifestStore {
	return &manifestStore{gw: gw, kv: store, name: encryptedManifestName, cacheKey: kvkeys.EncryptedManifest}
}

func newHiddenManifestStore(gw *gateway.Gateway, store kv.Store) *manifestStore {
	return &manifestStore{gw: gw, kv: store, name: hiddenManifestName, cacheKey: kvkeys.HiddenManifest}
}

func (m *manifestStore) objectKey(owner string) string {
	return pathutil.KeyBuilder(owner, pathutil.SecurePrefix, m.name)
}

// Load returns the manifest, from cache when possible. Paths are
// normalized and incomplete records dropped on every load.
func (m *manifestStore) Load(ctx context.Context, owner string) (Manifest, error) {
	var cached Manifest
	found, err := m.kv.Get(ctx, m.cacheKey(owner), &cached)
	if err == nil && found {
		return cached, nil
	}

	manifest := m.loadFromStore(ctx, owner)

	if err := m.kv.Set(ctx, m.cacheKey(owner), manifest, manifestCacheTTL); err != nil {
		logger.Warn("manifest cache write failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return manifest, nil
}

func (m *manifestStore) loadFromStore(ctx context.Context, owner string) Manifest {
	empty := Manifest{Folders: map[string]Record{}}

	obj, err := m.gw.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: m.gw.BucketPtr(),
		Key:    aws.String(m.objectKey(owner)),
	})
	if err != nil {
		if !gateway.IsNotFound(err) {
			logger.Warn("manifest read failed", logger.KeyOwner, owner, logger.KeyError, err)
		}
		return empty
	}
	defer func() { _ = obj.Body.Close() }()

	raw, err := io.ReadAll(obj.Body)
	if err != nil {
		logger.Warn("manifest body read failed", logger.KeyOwner, owner, logger.KeyError, err)
		return empty
	}

	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		logger.Warn("manifest is malformed, treating as empty",
			logger.KeyOwner, owner, logger.KeyError, err)
		return empty
	}

	folders := make(map[string]Record, len(manifest.Folders))
	for p, rec := range manifest.Folders {
		if !rec.complete() {
			continue
		}
		folders[pathutil.NormalizeDir(p)] = rec
	}
	return Manifest{Folders: folders}
}

// Save writes the manifest object and drops the cache entry.
func (m *manifestStore) Save(ctx context.Context, owner string, manifest Manifest) error {
	raw, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("manifest encode: %w", err)
	}

	_, err = m.gw.Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      m.gw.BucketPtr(),
		Key:         aws.String(m.objectKey(owner)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("manifest write: %w", err)
	}

	if err := m.kv.Delete(ctx, m.cacheKey(owner)); err != nil {
		logger.Warn("manifest cache invalidation failed", logger.KeyOwner, owner, logger.KeyError, err)
	}
	return nil
}

// rewritePrefix rewrites every manifest path equal to or under src so it
// lives under dst, bumping UpdatedAt. Returns true when anything changed.
func (m Manifest) rewritePrefix(src, dst string) bool {
	changed := false
	now := time.Now().Unix()
	for p, rec := range m.Folders {
		if !pathutil.IsWithin(p, src) {
			continue
		}
		delete(m.Folders, p)
		rec.UpdatedAt = now
		m.Folders[pathutil.RebasePath(p, src, dst)] = rec
		changed = true
	}
	return changed
}

// nearest returns the closest manifest entry covering path: the path
// itself, else the nearest ancestor, walking outward.
func (m Manifest) nearest(path string) (string, Record, bool) {
	for _, p := range pathutil.SelfAndAncestors(path) {
		if rec, ok := m.Folders[p]; ok {
			return p, rec, true
		}
	}
	return "", Record{}, false
}

// descendants returns manifest paths strictly inside path (or all paths
// when path is the root), in no particular order.
func (m Manifest) descendants(path string) []string {
	var out []string
	for p := range m.Folders {
		if p != pathutil.NormalizeDir(path) && pathutil.IsWithin(p, path) {
			out = append(out, p)
		}
	}
	return out
}
