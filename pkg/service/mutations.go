package service

import (
	"context"

	"github.com/cloudrove/cloudrove/pkg/directory"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/object"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
)

// MoveRequest relocates objects into another directory.
type MoveRequest struct {
	SourceKeys []string `validate:"required,min=1,dive,required"`
	DestDir    string
}

// Move relocates the named objects into the destination directory.
func (s *Service) Move(ctx context.Context, c Caller, req MoveRequest) error {
	if err := s.check(c, req); err != nil {
		return err
	}
	for _, key := range req.SourceKeys {
		if err := s.accessCheck(ctx, c, key); err != nil {
			return err
		}
	}
	if err := s.accessCheck(ctx, c, req.DestDir); err != nil {
		return err
	}

	owner := c.Owner()
	_, err := idempotent(ctx, s, c, "move", func() (struct{}, error) {
		return struct{}{}, s.objects.Move(ctx, owner, req.SourceKeys, req.DestDir)
	})
	if err != nil {
		return err
	}
	s.invalidateFor(ctx, owner, req.SourceKeys, []string{req.DestDir})
	return nil
}

// DeleteObjects removes the named objects and returns the bytes freed.
func (s *Service) DeleteObjects(ctx context.Context, c Caller, keys []string) (int64, error) {
	if err := s.check(c, nil); err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.accessCheck(ctx, c, key); err != nil {
			return 0, err
		}
	}

	owner := c.Owner()
	freed, err := idempotent(ctx, s, c, "delete", func() (int64, error) {
		return s.objects.Delete(ctx, owner, keys)
	})
	if err != nil {
		return 0, err
	}
	s.invalidateFor(ctx, owner, keys, nil)
	return freed, nil
}

// UpdateRequest renames an object and/or replaces its metadata.
type UpdateRequest struct {
	Key      string `validate:"required"`
	NewName  string
	Metadata map[string]string
}

// Update renames an object and/or replaces its user metadata.
func (s *Service) Update(ctx context.Context, c Caller, req UpdateRequest) (listing.Object, error) {
	if err := s.check(c, req); err != nil {
		return listing.Object{}, err
	}
	if err := s.accessCheck(ctx, c, req.Key); err != nil {
		return listing.Object{}, err
	}

	owner := c.Owner()
	rec, err := idempotent(ctx, s, c, "update", func() (listing.Object, error) {
		return s.objects.Update(ctx, owner, object.UpdateParams{
			Key:      req.Key,
			NewName:  req.NewName,
			Metadata: req.Metadata,
		})
	})
	if err != nil {
		return listing.Object{}, err
	}
	s.invalidateFor(ctx, owner, []string{req.Key}, nil)
	return rec, nil
}

// CreateDirectoryRequest creates a directory, optionally encrypted or
// hidden from the start.
type CreateDirectoryRequest struct {
	Parent     string
	Name       string `validate:"required"`
	Encrypted  bool
	Hidden     bool
	Passphrase string
}

// CreateDirectory creates an empty directory via its placeholder.
func (s *Service) CreateDirectory(ctx context.Context, c Caller, req CreateDirectoryRequest) (string, error) {
	if err := s.check(c, req); err != nil {
		return "", err
	}
	if err := s.accessCheck(ctx, c, req.Parent); err != nil {
		return "", err
	}

	owner := c.Owner()
	dir, err := idempotent(ctx, s, c, "mkdir", func() (string, error) {
		return s.dirs.Create(ctx, owner, req.Parent, req.Name, directory.CreateOptions{
			Encrypted:  req.Encrypted,
			Hidden:     req.Hidden,
			Passphrase: req.Passphrase,
		})
	})
	if err != nil {
		return "", err
	}
	s.invalidateFor(ctx, owner, nil, []string{req.Parent})
	return dir, nil
}

// RenameDirectoryRequest renames a directory in place.
type RenameDirectoryRequest struct {
	Key  string `validate:"required"`
	Name string `validate:"required"`
}

// RenameDirectory moves the whole subtree under a new name. Renaming an
// encrypted directory requires a valid unlock session.
func (s *Service) RenameDirectory(ctx context.Context, c Caller, req RenameDirectoryRequest) (string, error) {
	if err := s.check(c, req); err != nil {
		return "", err
	}
	allowEncrypted := s.accessCheck(ctx, c, req.Key) == nil

	owner := c.Owner()
	dst, err := idempotent(ctx, s, c, "rename-dir", func() (string, error) {
		return s.dirs.Rename(ctx, owner, req.Key, req.Name, allowEncrypted)
	})
	if err != nil {
		return "", err
	}
	s.invalidateFor(ctx, owner, nil, []string{pathutil.ParentDir(req.Key), req.Key, dst})
	return dst, nil
}

// DeleteDirectory removes a directory recursively. Directories covered by
// an encrypted folder require that folder's passphrase or a covering
// unlock session.
func (s *Service) DeleteDirectory(ctx context.Context, c Caller, dir string) (directory.DeleteResult, error) {
	if err := s.check(c, nil); err != nil {
		return directory.DeleteResult{}, err
	}
	if c.FolderPassphrase == "" {
		// Delete verifies a supplied passphrase against the covering
		// encrypted folder itself; without one the session must cover.
		if err := s.accessCheck(ctx, c, dir); err != nil {
			return directory.DeleteResult{}, err
		}
	}

	owner := c.Owner()
	res, err := idempotent(ctx, s, c, "rmdir", func() (directory.DeleteResult, error) {
		return s.dirs.Delete(ctx, owner, dir, c.FolderPassphrase, c.FolderSession)
	})
	if err != nil {
		return directory.DeleteResult{}, err
	}
	s.invalidateFor(ctx, owner, nil, []string{dir, pathutil.ParentDir(dir)})
	return res, nil
}
