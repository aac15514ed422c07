package service

import (
	"context"

	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/archive/jobs"
	"github.com/cloudrove/cloudrove/pkg/fault"
)

func (s *Service) archiveQueue() (*jobs.Service, error) {
	if s.archives == nil {
		return nil, fault.Unavailablef("archive processing is not configured")
	}
	return s.archives, nil
}

// ExtractRequest queues an archive extraction next to the archive.
type ExtractRequest struct {
	Key      string `validate:"required"`
	Format   archive.Format
	Selected []string
}

// ExtractStart queues an extraction job and returns its id.
func (s *Service) ExtractStart(ctx context.Context, c Caller, req ExtractRequest) (string, error) {
	if err := s.check(c, req); err != nil {
		return "", err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return "", err
	}
	if err := s.accessCheck(ctx, c, req.Key); err != nil {
		return "", err
	}
	return q.EnqueueExtract(ctx, c.Owner(), req.Key, req.Format, req.Selected)
}

// ExtractStatus returns an extraction job's state, progress and result.
func (s *Service) ExtractStatus(ctx context.Context, c Caller, id string) (jobs.Job, error) {
	if err := s.check(c, nil); err != nil {
		return jobs.Job{}, err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return jobs.Job{}, err
	}
	return q.Status(ctx, c.Owner(), jobs.KindExtract, id)
}

// ExtractCancel cancels a waiting extraction or flags an active one.
func (s *Service) ExtractCancel(ctx context.Context, c Caller, id string) error {
	if err := s.check(c, nil); err != nil {
		return err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return err
	}
	return q.Cancel(ctx, c.Owner(), jobs.KindExtract, id)
}

// PreviewArchive lists an archive's entries without extracting it.
func (s *Service) PreviewArchive(ctx context.Context, c Caller, key string, format archive.Format) ([]archive.Entry, error) {
	if err := s.check(c, nil); err != nil {
		return nil, err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return nil, err
	}
	if err := s.accessCheck(ctx, c, key); err != nil {
		return nil, err
	}
	return q.Preview(ctx, c.Owner(), key, format)
}

// CreateArchiveRequest queues an archive creation job.
type CreateArchiveRequest struct {
	Keys      []string       `validate:"required,min=1,dive,required"`
	Format    archive.Format `validate:"required"`
	OutputKey string
}

// CreateArchiveStart queues a creation job and returns its id.
func (s *Service) CreateArchiveStart(ctx context.Context, c Caller, req CreateArchiveRequest) (string, error) {
	if err := s.check(c, req); err != nil {
		return "", err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return "", err
	}
	for _, key := range req.Keys {
		if err := s.accessCheck(ctx, c, key); err != nil {
			return "", err
		}
	}
	if req.OutputKey != "" {
		if err := s.accessCheck(ctx, c, req.OutputKey); err != nil {
			return "", err
		}
	}
	return q.EnqueueCreate(ctx, c.Owner(), req.Keys, req.Format, req.OutputKey)
}

// CreateArchiveStatus returns a creation job's state, progress and result.
func (s *Service) CreateArchiveStatus(ctx context.Context, c Caller, id string) (jobs.Job, error) {
	if err := s.check(c, nil); err != nil {
		return jobs.Job{}, err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return jobs.Job{}, err
	}
	return q.Status(ctx, c.Owner(), jobs.KindCreate, id)
}

// CreateArchiveCancel cancels a waiting creation job or flags an active
// one; a flagged job aborts its multipart upload on the next checkpoint.
func (s *Service) CreateArchiveCancel(ctx context.Context, c Caller, id string) error {
	if err := s.check(c, nil); err != nil {
		return err
	}
	q, err := s.archiveQueue()
	if err != nil {
		return err
	}
	return q.Cancel(ctx, c.Owner(), jobs.KindCreate, id)
}
