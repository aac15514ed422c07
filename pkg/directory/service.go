// Package directory implements synthetic directories over the flat object
// keyspace: placeholder-backed creation, recursive rename and delete by
// prefix scan, and the encrypted- and hidden-folder overlays with their
// passphrase-wrapped key manifests and unlock sessions.
package directory

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// Service implements directory operations for one deployment. All methods
// take the owner explicitly; nothing is cached per owner inside the
// service beyond the KV-backed manifests and sessions.
type Service struct {
	gw    *gateway.Gateway
	kv    kv.Store
	usage *usage.Service

	encManifest *manifestStore
	hidManifest *manifestStore
	encSessions *sessionStore
	hidSessions *sessionStore
}

// Config tunes the directory service.
type Config struct {
	// SessionTTL is the unlock/reveal session lifetime (default 15m).
	SessionTTL time.Duration
}

// NewService wires a directory service over the gateway, KV store, and
// usage accountant.
func NewService(gw *gateway.Gateway, store kv.Store, usageSvc *usage.Service, cfg Config) *Service {
	return &Service{
		gw:          gw,
		kv:          store,
		usage:       usageSvc,
		encManifest: newEncryptedManifestStore(gw, store),
		hidManifest: newHiddenManifestStore(gw, store),
		encSessions: newEncryptedSessionStore(store, cfg.SessionTTL),
		hidSessions: newHiddenSessionStore(store, cfg.SessionTTL),
	}
}

// CreateOptions selects encrypted or hidden creation.
type CreateOptions struct {
	Encrypted  bool
	Hidden     bool
	Passphrase string
}

// Create materializes a directory by writing its zero-byte placeholder.
// Encrypted directories additionally get a manifest entry wrapping a fresh
// folder key under the passphrase.
func (s *Service) Create(ctx context.Context, owner, parent, name string, opts CreateOptions) (string, error) {
	if !pathutil.ValidName(name) {
		return "", fault.BadRequestf("invalid directory name %q", name)
	}
	dir := pathutil.JoinKey(parent, name)
	if pathutil.IsSecure(dir) {
		return "", fault.BadRequestf("reserved path %q", dir)
	}

	if opts.Encrypted || opts.Hidden {
		if len(opts.Passphrase) < MinPassphraseLen {
			return "", fault.BadRequestf("passphrase must be at least %d characters", MinPassphraseLen)
		}
	}
	if opts.Encrypted {
		manifest, err := s.encManifest.Load(ctx, owner)
		if err != nil {
			return "", err
		}
		if _, exists := manifest.Folders[dir]; exists {
			return "", fault.Conflictf("encrypted folder %q already exists", dir)
		}
	}
	if opts.Hidden {
		manifest, err := s.hidManifest.Load(ctx, owner)
		if err != nil {
			return "", err
		}
		if _, exists := manifest.Folders[dir]; exists {
			return "", fault.Conflictf("hidden folder %q already exists", dir)
		}
	}

	placeholder := pathutil.KeyBuilder(owner, dir, pathutil.PlaceholderName)
	_, err := s.gw.Client().PutObject(ctx, &s3.PutObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(placeholder),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fault.Internalf(err, "failed to create directory %q", dir)
	}

	if opts.Encrypted {
		if err := s.addManifestEntry(ctx, s.encManifest, owner, dir, opts.Passphrase); err != nil {
			return "", err
		}
	}
	if opts.Hidden {
		if err := s.addManifestEntry(ctx, s.hidManifest, owner, dir, opts.Passphrase); err != nil {
			return "", err
		}
	}

	logger.Info("directory created", logger.KeyOwner, owner, logger.KeyPrefix, dir)
	return dir, nil
}

// Rename moves every object under the source prefix to the target prefix
// via copy+delete, then rewrites both manifests. Encrypted sources are
// rejected unless allowEncrypted is set (the dedicated encrypted-rename
// surface passes true after its own access check).
func (s *Service) Rename(ctx context.Context, owner, src, newName string, allowEncrypted bool) (string, error) {
	src = pathutil.NormalizeDir(src)
	if src == "" {
		return "", fault.BadRequestf("cannot rename the root directory")
	}
	if !pathutil.ValidName(newName) {
		return "", fault.BadRequestf("invalid directory name %q", newName)
	}
	dst := pathutil.JoinKey(pathutil.ParentDir(src), newName)
	if dst == src {
		return src, nil
	}

	encManifest, err := s.encManifest.Load(ctx, owner)
	if err != nil {
		return "", err
	}
	if _, _, covered := encManifest.nearest(src); covered && !allowEncrypted {
		return "", fault.Forbiddenf("directory %q is encrypted", src)
	}

	srcPrefix := pathutil.KeyBuilder(owner, src) + "/"
	dstPrefix := pathutil.KeyBuilder(owner, dst) + "/"

	// Preflight: refuse to merge into an existing directory.
	probe, err := s.gw.Client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  s.gw.BucketPtr(),
		Prefix:  aws.String(dstPrefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", fault.Internalf(err, "rename preflight for %q", dst)
	}
	if len(probe.Contents) > 0 {
		return "", fault.Conflictf("directory %q already exists", dst)
	}

	moved := 0
	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket: s.gw.BucketPtr(),
		Prefix: aws.String(srcPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fault.Internalf(err, "rename scan for %q", src)
		}
		for _, obj := range page.Contents {
			srcKey := aws.ToString(obj.Key)
			dstKey := dstPrefix + srcKey[len(srcPrefix):]

			if _, err := s.gw.Client().CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     s.gw.BucketPtr(),
				Key:        aws.String(dstKey),
				CopySource: aws.String(gateway.CopySource(s.gw.Bucket(), srcKey)),
			}); err != nil {
				return "", fault.Internalf(err, "rename copy %q", srcKey)
			}
			if _, err := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: s.gw.BucketPtr(),
				Key:    aws.String(srcKey),
			}); err != nil {
				return "", fault.Internalf(err, "rename delete %q", srcKey)
			}
			moved++
		}
	}
	if moved == 0 {
		return "", fault.NotFoundf("directory %q not found", src)
	}

	if err := s.rewriteManifests(ctx, owner, src, dst); err != nil {
		return "", err
	}

	logger.Info("directory renamed",
		logger.KeyOwner, owner, logger.KeyPrefix, src, "target", dst, "objects", moved)
	return dst, nil
}

func (s *Service) rewriteManifests(ctx context.Context, owner, src, dst string) error {
	for _, ms := range []*manifestStore{s.encManifest, s.hidManifest} {
		manifest, err := ms.Load(ctx, owner)
		if err != nil {
			return err
		}
		if manifest.rewritePrefix(src, dst) {
			if err := ms.Save(ctx, owner, manifest); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteResult reports what a recursive delete removed.
type DeleteResult struct {
	ObjectsDeleted int
	BytesFreed     int64
}

// Delete removes every object under the directory prefix and decrements
// the usage counter by the freed bytes. When an encrypted folder covers
// the directory (the directory itself or an encrypting ancestor), the
// caller must present that folder's passphrase or a covering unlock
// session. Manifest entries inside the deleted tree are removed after.
func (s *Service) Delete(ctx context.Context, owner, dir, passphrase, token string) (DeleteResult, error) {
	dir = pathutil.NormalizeDir(dir)
	if dir == "" {
		return DeleteResult{}, fault.BadRequestf("cannot delete the root directory")
	}

	encManifest, err := s.encManifest.Load(ctx, owner)
	if err != nil {
		return DeleteResult{}, err
	}
	matched, rec, covered := encManifest.nearest(dir)
	if covered {
		switch {
		case passphrase != "":
			if _, err := UnwrapFolderKey(passphrase, rec); err != nil {
				return DeleteResult{}, fault.BadRequestf("invalid passphrase")
			}
		case s.encSessions.ValidateCovering(ctx, owner, dir, token) != nil:
			// Unlocked: the session covers dir.
		default:
			return DeleteResult{}, fault.Forbiddenf("folder %q is locked", matched)
		}
	}

	prefix := pathutil.KeyBuilder(owner, dir) + "/"
	var res DeleteResult

	paginator := s3.NewListObjectsV2Paginator(s.gw.Client(), &s3.ListObjectsV2Input{
		Bucket: s.gw.BucketPtr(),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return res, fault.Internalf(err, "delete scan for %q", dir)
		}
		for _, obj := range page.Contents {
			if _, err := s.gw.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: s.gw.BucketPtr(),
				Key:    obj.Key,
			}); err != nil {
				return res, fault.Internalf(err, "delete %q", aws.ToString(obj.Key))
			}
			res.ObjectsDeleted++
			res.BytesFreed += aws.ToInt64(obj.Size)
		}
	}
	if res.ObjectsDeleted == 0 {
		return res, fault.NotFoundf("directory %q not found", dir)
	}

	if err := s.usage.Decrement(ctx, owner, res.BytesFreed); err != nil {
		logger.Warn("usage decrement failed after directory delete",
			logger.KeyOwner, owner, logger.KeyError, err)
	}

	encChanged := false
	for p := range encManifest.Folders {
		if pathutil.IsWithin(p, dir) {
			delete(encManifest.Folders, p)
			encChanged = true
		}
	}
	if encChanged {
		if err := s.encManifest.Save(ctx, owner, encManifest); err != nil {
			return res, err
		}
		_ = s.encSessions.Drop(ctx, owner, dir)
	}

	// Hidden entries under the deleted tree are stale; drop them too.
	hidManifest, err := s.hidManifest.Load(ctx, owner)
	if err == nil {
		changed := false
		for p := range hidManifest.Folders {
			if pathutil.IsWithin(p, dir) {
				delete(hidManifest.Folders, p)
				changed = true
			}
		}
		if changed {
			if err := s.hidManifest.Save(ctx, owner, hidManifest); err != nil {
				logger.Warn("hidden manifest cleanup failed", logger.KeyOwner, owner, logger.KeyError, err)
			}
		}
	}

	logger.Info("directory deleted",
		logger.KeyOwner, owner, logger.KeyPrefix, dir,
		"objects", res.ObjectsDeleted, logger.KeySize, res.BytesFreed)
	return res, nil
}

// hasObjects reports whether any object exists under the directory prefix.
func (s *Service) hasObjects(ctx context.Context, owner, dir string) (bool, error) {
	out, err := s.gw.Client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  s.gw.BucketPtr(),
		Prefix:  aws.String(pathutil.KeyBuilder(owner, dir) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("directory probe for %q: %w", dir, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *Service) addManifestEntry(ctx context.Context, ms *manifestStore, owner, dir, passphrase string) error {
	folderKey, err := NewFolderKey()
	if err != nil {
		return fault.Internalf(err, "folder key generation")
	}
	rec, err := WrapFolderKey(passphrase, folderKey)
	if err != nil {
		return fault.Internalf(err, "folder key wrap")
	}

	manifest, err := ms.Load(ctx, owner)
	if err != nil {
		return err
	}
	manifest.Folders[pathutil.NormalizeDir(dir)] = rec
	return ms.Save(ctx, owner, manifest)
}
