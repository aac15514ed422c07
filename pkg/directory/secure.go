package directory

import (
	"context"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// errAccessDenied is the single response for a bad passphrase or a folder
// that is not protected. Keeping the two cases indistinguishable stops
// probing for which folders are encrypted.
func errAccessDenied() error {
	return fault.BadRequestf("invalid path or passphrase")
}

// Unlock verifies the passphrase against the encrypted folder covering
// path (the folder itself or its nearest encrypted ancestor) and mints a
// session stored under both the matched folder and the requested path.
func (s *Service) Unlock(ctx context.Context, owner, path, passphrase string) (Session, error) {
	return s.openSession(ctx, owner, path, passphrase, s.encManifest, s.encSessions)
}

// Lock drops the unlock session for path and all its aliases.
func (s *Service) Lock(ctx context.Context, owner, path string) error {
	return s.encSessions.Drop(ctx, owner, path)
}

// Encrypt converts an existing directory into an encrypted one. The
// directory must contain at least one object; an already-encrypted path
// conflicts.
func (s *Service) Encrypt(ctx context.Context, owner, dir, passphrase string) error {
	return s.protect(ctx, owner, dir, passphrase, s.encManifest, "encrypted")
}

// Decrypt removes the encrypted marker from dir after verifying the
// passphrase, and drops any live sessions.
func (s *Service) Decrypt(ctx context.Context, owner, dir, passphrase string) error {
	if err := s.unprotect(ctx, owner, dir, passphrase, s.encManifest); err != nil {
		return err
	}
	return s.encSessions.Drop(ctx, owner, dir)
}

// Hide marks dir as hidden: it disappears from listings until revealed.
func (s *Service) Hide(ctx context.Context, owner, dir, passphrase string) error {
	return s.protect(ctx, owner, dir, passphrase, s.hidManifest, "hidden")
}

// Unhide removes the hidden marker after verifying the passphrase.
func (s *Service) Unhide(ctx context.Context, owner, dir, passphrase string) error {
	if err := s.unprotect(ctx, owner, dir, passphrase, s.hidManifest); err != nil {
		return err
	}
	return s.hidSessions.Drop(ctx, owner, dir)
}

// Reveal unlocks hidden folders at or under path. When path itself is not
// hidden, every hidden descendant is tried against the passphrase and one
// session is stored under each descendant the passphrase opens, so a
// single reveal at a parent surfaces the whole unlocked subtree.
func (s *Service) Reveal(ctx context.Context, owner, path, passphrase string) (Session, error) {
	path = pathutil.NormalizeDir(path)
	manifest, err := s.hidManifest.Load(ctx, owner)
	if err != nil {
		return Session{}, err
	}

	if matched, rec, ok := manifest.nearest(path); ok {
		key, err := UnwrapFolderKey(passphrase, rec)
		if err != nil {
			return Session{}, errAccessDenied()
		}
		return s.hidSessions.Create(ctx, owner, matched, key, path)
	}

	var opened []string
	var key string
	for _, p := range manifest.descendants(path) {
		k, err := UnwrapFolderKey(passphrase, manifest.Folders[p])
		if err != nil {
			continue
		}
		opened = append(opened, p)
		key = k
	}
	if len(opened) == 0 {
		return Session{}, errAccessDenied()
	}

	aliases := append(opened, path)
	sess, err := s.hidSessions.Create(ctx, owner, opened[0], key, aliases...)
	if err != nil {
		return Session{}, err
	}
	logger.Info("hidden folders revealed",
		logger.KeyOwner, owner, logger.KeyPrefix, path, logger.KeyEntries, len(opened))
	return sess, nil
}

// Conceal drops the reveal session for path and all its aliases.
func (s *Service) Conceal(ctx context.Context, owner, path string) error {
	return s.hidSessions.Drop(ctx, owner, path)
}

// AccessCheck enforces encrypted-folder access for path: when an encrypted
// folder covers path, the token must resolve to a valid session for that
// folder or one of its ancestors.
func (s *Service) AccessCheck(ctx context.Context, owner, path, token string) error {
	manifest, err := s.encManifest.Load(ctx, owner)
	if err != nil {
		return err
	}
	matched, _, ok := manifest.nearest(path)
	if !ok {
		return nil
	}
	if sess := s.encSessions.ValidateCovering(ctx, owner, path, token); sess != nil {
		return nil
	}
	return fault.Forbiddenf("folder %q is locked", matched)
}

// RevealCheck reports whether path is visible given the hidden-session
// token: true when no hidden folder covers path, or a valid reveal
// session does.
func (s *Service) RevealCheck(ctx context.Context, owner, path, token string) (bool, error) {
	manifest, err := s.hidManifest.Load(ctx, owner)
	if err != nil {
		return false, err
	}
	if _, _, ok := manifest.nearest(path); !ok {
		return true, nil
	}
	return s.hidSessions.ValidateCovering(ctx, owner, path, token) != nil, nil
}

// ValidateSession resolves the unlock session for path, walking ancestors.
func (s *Service) ValidateSession(ctx context.Context, owner, path, token string) *Session {
	return s.encSessions.ValidateCovering(ctx, owner, path, token)
}

// ValidateHiddenSession resolves the reveal session for path, walking
// ancestors.
func (s *Service) ValidateHiddenSession(ctx context.Context, owner, path, token string) *Session {
	return s.hidSessions.ValidateCovering(ctx, owner, path, token)
}

// EncryptedSet returns the owner's encrypted folder paths as a set, for
// listing classification.
func (s *Service) EncryptedSet(ctx context.Context, owner string) (map[string]bool, error) {
	return s.manifestSet(ctx, owner, s.encManifest)
}

// HiddenSet returns the owner's hidden folder paths as a set.
func (s *Service) HiddenSet(ctx context.Context, owner string) (map[string]bool, error) {
	return s.manifestSet(ctx, owner, s.hidManifest)
}

func (s *Service) manifestSet(ctx context.Context, owner string, ms *manifestStore) (map[string]bool, error) {
	manifest, err := ms.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(manifest.Folders))
	for p := range manifest.Folders {
		set[p] = true
	}
	return set, nil
}

// openSession is the shared unlock path: resolve the covering manifest
// entry, unwrap the key, mint a session aliased under the requested path.
func (s *Service) openSession(ctx context.Context, owner, path, passphrase string, ms *manifestStore, ss *sessionStore) (Session, error) {
	path = pathutil.NormalizeDir(path)
	manifest, err := ms.Load(ctx, owner)
	if err != nil {
		return Session{}, err
	}
	matched, rec, ok := manifest.nearest(path)
	if !ok {
		return Session{}, errAccessDenied()
	}
	key, err := UnwrapFolderKey(passphrase, rec)
	if err != nil {
		return Session{}, errAccessDenied()
	}
	return ss.Create(ctx, owner, matched, key, path)
}

// protect adds a manifest entry for dir. The directory must already hold
// at least one object so the marker never points at nothing.
func (s *Service) protect(ctx context.Context, owner, dir, passphrase string, ms *manifestStore, kind string) error {
	dir = pathutil.NormalizeDir(dir)
	if dir == "" {
		return fault.BadRequestf("cannot protect the root directory")
	}
	if len(passphrase) < MinPassphraseLen {
		return fault.BadRequestf("passphrase must be at least %d characters", MinPassphraseLen)
	}

	manifest, err := ms.Load(ctx, owner)
	if err != nil {
		return err
	}
	if _, exists := manifest.Folders[dir]; exists {
		return fault.Conflictf("folder %q is already %s", dir, kind)
	}

	ok, err := s.hasObjects(ctx, owner, dir)
	if err != nil {
		return fault.Internalf(err, "directory probe")
	}
	if !ok {
		return fault.NotFoundf("directory %q not found", dir)
	}

	if err := s.addManifestEntry(ctx, ms, owner, dir, passphrase); err != nil {
		return err
	}
	logger.Info("directory protected", logger.KeyOwner, owner, logger.KeyPrefix, dir, "kind", kind)
	return nil
}

// unprotect verifies the passphrase and removes the manifest entry.
func (s *Service) unprotect(ctx context.Context, owner, dir, passphrase string, ms *manifestStore) error {
	dir = pathutil.NormalizeDir(dir)
	manifest, err := ms.Load(ctx, owner)
	if err != nil {
		return err
	}
	rec, ok := manifest.Folders[dir]
	if !ok {
		return errAccessDenied()
	}
	if _, err := UnwrapFolderKey(passphrase, rec); err != nil {
		return errAccessDenied()
	}
	delete(manifest.Folders, dir)
	return ms.Save(ctx, owner, manifest)
}
