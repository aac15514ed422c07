package service

import (
	"context"

	"github.com/cloudrove/cloudrove/pkg/directory"
)

// UnlockRequest opens an unlock session on an encrypted folder.
type UnlockRequest struct {
	Path       string `validate:"required"`
	Passphrase string `validate:"required"`
}

// Unlock verifies the passphrase and mints an unlock session covering the
// path. A wrong passphrase and a non-encrypted path fail identically.
func (s *Service) Unlock(ctx context.Context, c Caller, req UnlockRequest) (directory.Session, error) {
	if err := s.check(c, req); err != nil {
		return directory.Session{}, err
	}
	return s.dirs.Unlock(ctx, c.Owner(), req.Path, req.Passphrase)
}

// Lock drops the caller's unlock session for the path.
func (s *Service) Lock(ctx context.Context, c Caller, path string) error {
	if err := s.check(c, nil); err != nil {
		return err
	}
	return s.dirs.Lock(ctx, c.Owner(), path)
}

// ProtectRequest marks an existing directory encrypted or hidden.
type ProtectRequest struct {
	Path       string `validate:"required"`
	Passphrase string `validate:"required"`
}

// Encrypt converts an existing directory into an encrypted one.
func (s *Service) Encrypt(ctx context.Context, c Caller, req ProtectRequest) error {
	if err := s.check(c, req); err != nil {
		return err
	}
	owner := c.Owner()
	if err := s.dirs.Encrypt(ctx, owner, req.Path, req.Passphrase); err != nil {
		return err
	}
	s.invalidateFor(ctx, owner, nil, []string{req.Path})
	return nil
}

// Decrypt removes the encrypted marker after verifying the passphrase.
func (s *Service) Decrypt(ctx context.Context, c Caller, req ProtectRequest) error {
	if err := s.check(c, req); err != nil {
		return err
	}
	owner := c.Owner()
	if err := s.dirs.Decrypt(ctx, owner, req.Path, req.Passphrase); err != nil {
		return err
	}
	s.invalidateFor(ctx, owner, nil, []string{req.Path})
	return nil
}

// Hide marks a directory hidden; it disappears from listings until
// revealed with the passphrase.
func (s *Service) Hide(ctx context.Context, c Caller, req ProtectRequest) error {
	if err := s.check(c, req); err != nil {
		return err
	}
	owner := c.Owner()
	if err := s.dirs.Hide(ctx, owner, req.Path, req.Passphrase); err != nil {
		return err
	}
	s.invalidateFor(ctx, owner, nil, []string{req.Path})
	return nil
}

// Unhide removes the hidden marker after verifying the passphrase.
func (s *Service) Unhide(ctx context.Context, c Caller, req ProtectRequest) error {
	if err := s.check(c, req); err != nil {
		return err
	}
	owner := c.Owner()
	if err := s.dirs.Unhide(ctx, owner, req.Path, req.Passphrase); err != nil {
		return err
	}
	s.invalidateFor(ctx, owner, nil, []string{req.Path})
	return nil
}

// Reveal opens a reveal session for hidden folders at or under the path.
func (s *Service) Reveal(ctx context.Context, c Caller, req UnlockRequest) (directory.Session, error) {
	if err := s.check(c, req); err != nil {
		return directory.Session{}, err
	}
	owner := c.Owner()
	sess, err := s.dirs.Reveal(ctx, owner, req.Path, req.Passphrase)
	if err != nil {
		return directory.Session{}, err
	}
	// Cached listings were built without the revealed folders.
	s.listings.InvalidateListCache(ctx, owner)
	return sess, nil
}

// Conceal drops the caller's reveal session for the path.
func (s *Service) Conceal(ctx context.Context, c Caller, path string) error {
	if err := s.check(c, nil); err != nil {
		return err
	}
	owner := c.Owner()
	if err := s.dirs.Conceal(ctx, owner, path); err != nil {
		return err
	}
	s.listings.InvalidateListCache(ctx, owner)
	return nil
}
