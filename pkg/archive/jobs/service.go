package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/archive"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/listing"
	"github.com/cloudrove/cloudrove/pkg/metrics"
	"github.com/cloudrove/cloudrove/pkg/objmeta"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
	"github.com/cloudrove/cloudrove/pkg/usage"
)

// Defaults for the archive pipeline knobs.
const (
	DefaultExtractConcurrency  = 1
	DefaultCreateConcurrency   = 1
	DefaultEntryConcurrency    = 3
	DefaultProgressEntriesStep = 5
	DefaultProgressBytesStep   = 5 << 20 // 5 MiB
	DefaultCreateMaxFiles      = 1000
	DefaultCreateMaxTotalBytes = 5 << 30 // 5 GiB
	DefaultPreviewMaxBytes     = 256 << 20
	DefaultPollInterval        = 500 * time.Millisecond

	cancelFlagTTL = 6 * time.Hour
	resultTTL     = 24 * time.Hour
)

// Config tunes the archive job pipeline. Zero values take the defaults.
type Config struct {
	ExtractConcurrency  int
	CreateConcurrency   int
	EntryConcurrency    int
	ProgressEntriesStep int
	ProgressBytesStep   int64
	Limits              archive.Limits
	CreateMaxFiles      int
	CreateMaxTotalBytes int64
	PreviewMaxBytes     int64
	PollInterval        time.Duration

	// Metrics may be nil; all recording is then skipped.
	Metrics *metrics.JobMetrics
}

func (c Config) withDefaults() Config {
	if c.ExtractConcurrency <= 0 {
		c.ExtractConcurrency = DefaultExtractConcurrency
	}
	if c.CreateConcurrency <= 0 {
		c.CreateConcurrency = DefaultCreateConcurrency
	}
	if c.EntryConcurrency <= 0 {
		c.EntryConcurrency = DefaultEntryConcurrency
	}
	if c.ProgressEntriesStep <= 0 {
		c.ProgressEntriesStep = DefaultProgressEntriesStep
	}
	if c.ProgressBytesStep <= 0 {
		c.ProgressBytesStep = DefaultProgressBytesStep
	}
	if c.Limits == (archive.Limits{}) {
		c.Limits = archive.DefaultLimits()
	}
	if c.CreateMaxFiles <= 0 {
		c.CreateMaxFiles = DefaultCreateMaxFiles
	}
	if c.CreateMaxTotalBytes <= 0 {
		c.CreateMaxTotalBytes = DefaultCreateMaxTotalBytes
	}
	if c.PreviewMaxBytes <= 0 {
		c.PreviewMaxBytes = DefaultPreviewMaxBytes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Service owns both archive queues and their workers.
type Service struct {
	gw       *gateway.Gateway
	kv       kv.Store
	usage    *usage.Service
	images   *objmeta.ImageProcessor
	listings *listing.Service
	registry *archive.Registry
	cfg      Config

	extractQ *queue
	createQ  *queue

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewService wires the archive pipeline. images and listings may be nil.
func NewService(gw *gateway.Gateway, store kv.Store, usageSvc *usage.Service, images *objmeta.ImageProcessor, listings *listing.Service, registry *archive.Registry, cfg Config) *Service {
	return &Service{
		gw:       gw,
		kv:       store,
		usage:    usageSvc,
		images:   images,
		listings: listings,
		registry: registry,
		cfg:      cfg.withDefaults(),
		extractQ: newQueue(store, kvkeys.ExtractJobPrefix),
		createQ:  newQueue(store, kvkeys.CreateJobPrefix),
		stop:     make(chan struct{}),
	}
}

// Start launches the worker pools. Call Stop to drain them.
func (s *Service) Start() {
	for i := 0; i < s.cfg.ExtractConcurrency; i++ {
		s.wg.Add(1)
		go s.workLoop(s.extractQ, s.runExtract)
	}
	for i := 0; i < s.cfg.CreateConcurrency; i++ {
		s.wg.Add(1)
		go s.workLoop(s.createQ, s.runCreate)
	}
	logger.Info("archive workers started",
		"extractWorkers", s.cfg.ExtractConcurrency, "createWorkers", s.cfg.CreateConcurrency)
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) workLoop(q *queue, run func(context.Context, Job)) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			job, ok, err := q.Claim(ctx)
			if err != nil {
				logger.Warn("queue claim failed", logger.KeyError, err)
				continue
			}
			if ok {
				run(ctx, job)
			}
		}
	}
}

// EnqueueExtract queues an archive extraction. The format is resolved
// from the key when not given, failing fast on unsupported archives.
func (s *Service) EnqueueExtract(ctx context.Context, owner, key string, format archive.Format, selected []string) (string, error) {
	var err error
	if format == "" {
		var h archive.Handler
		if h, err = s.registry.ForKey(key); err == nil {
			format = h.Format()
		}
	} else {
		_, err = s.registry.ByFormat(format)
	}
	if err != nil {
		return "", err
	}

	id, err := s.extractQ.Enqueue(ctx, Job{
		OwnerID:  owner,
		Kind:     KindExtract,
		Key:      key,
		Format:   format,
		Selected: selected,
	})
	if err != nil {
		return "", err
	}
	logger.Info("extract job queued",
		logger.KeyOwner, owner, logger.KeyKey, key, logger.KeyJobID, id, logger.KeyFormat, string(format))
	return id, nil
}

// EnqueueCreate queues an archive creation over the given keys.
func (s *Service) EnqueueCreate(ctx context.Context, owner string, keys []string, format archive.Format, outputKey string) (string, error) {
	h, err := s.registry.ByFormat(format)
	if err != nil {
		return "", err
	}
	if !h.SupportsCreation() {
		return "", fault.BadRequestf("archive format %q does not support creation", format)
	}
	if len(keys) == 0 {
		return "", fault.BadRequestf("no source keys given")
	}

	id, err := s.createQ.Enqueue(ctx, Job{
		OwnerID:      owner,
		Kind:         KindCreate,
		Keys:         keys,
		OutputFormat: format,
		OutputKey:    outputKey,
	})
	if err != nil {
		return "", err
	}
	logger.Info("create job queued",
		logger.KeyOwner, owner, logger.KeyJobID, id, logger.KeyFormat, string(format), logger.KeyEntries, len(keys))
	return id, nil
}

// Preview lists an archive's entries synchronously, without extracting.
// Oversized archives are refused so previews stay interactive.
func (s *Service) Preview(ctx context.Context, owner, key string, format archive.Format) ([]archive.Entry, error) {
	var handler archive.Handler
	var err error
	if format == "" {
		handler, err = s.registry.ForKey(key)
	} else {
		handler, err = s.registry.ByFormat(format)
	}
	if err != nil {
		return nil, err
	}

	fullKey := pathutil.KeyBuilder(owner, key)
	obj, err := s.gw.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			return nil, fault.NotFoundf("archive %q not found", key)
		}
		return nil, fault.Internalf(err, "read archive %q", key)
	}
	defer func() { _ = obj.Body.Close() }()

	totalBytes := aws.ToInt64(obj.ContentLength)
	if totalBytes > s.cfg.PreviewMaxBytes {
		return nil, fault.BadRequestf("archive is too large to preview")
	}
	return handler.ListEntries(ctx, obj.Body, totalBytes, s.cfg.Limits)
}

// Status returns the job with its progress and result. Jobs belong to
// their owner; anyone else gets forbidden. Evicted create jobs fall back
// to the durable result mirror.
func (s *Service) Status(ctx context.Context, owner string, kind Kind, id string) (Job, error) {
	q := s.extractQ
	if kind == KindCreate {
		q = s.createQ
	}
	job, err := q.Get(ctx, id)
	if err != nil {
		if kind == KindCreate && fault.IsKind(err, fault.KindNotFound) {
			var res Result
			if found, gerr := s.kv.Get(ctx, kvkeys.CreateResult(id), &res); gerr == nil && found {
				if res.OwnerID != owner {
					return Job{}, fault.Forbiddenf("job %q belongs to another owner", id)
				}
				return Job{ID: id, OwnerID: res.OwnerID, Kind: KindCreate, State: StateCompleted, Result: &res}, nil
			}
		}
		return Job{}, err
	}
	if job.OwnerID != owner {
		return Job{}, fault.Forbiddenf("job %q belongs to another owner", id)
	}
	return job, nil
}

// Cancel stops a job: waiting jobs flip to cancelled immediately, active
// jobs get the cancel flag and stop at the next entry boundary.
func (s *Service) Cancel(ctx context.Context, owner string, kind Kind, id string) error {
	q, cancelKey := s.extractQ, kvkeys.ExtractCancel(id)
	if kind == KindCreate {
		q, cancelKey = s.createQ, kvkeys.CreateCancel(id)
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.OwnerID != owner {
		return fault.Forbiddenf("job %q belongs to another owner", id)
	}
	if job.terminal() {
		return nil
	}

	if job.State == StateWaiting {
		job.State = StateCancelled
		return q.Save(ctx, job)
	}
	if err := s.kv.Set(ctx, cancelKey, true, cancelFlagTTL); err != nil {
		return fault.Internalf(err, "set cancel flag for %q", id)
	}
	logger.Info("cancel requested", logger.KeyJobID, id)
	return nil
}

// shouldCancel polls the cancel flag for a running job.
func (s *Service) shouldCancel(ctx context.Context, cancelKey string) func() bool {
	return func() bool {
		var flag bool
		found, err := s.kv.Get(ctx, cancelKey, &flag)
		return err == nil && found && flag
	}
}

// finish records the terminal state of a job run.
func (s *Service) finish(ctx context.Context, q *queue, job Job, runErr error) {
	switch {
	case runErr == nil:
		job.State = StateCompleted
	case isCancel(runErr):
		job.State = StateCancelled
	default:
		job.State = StateFailed
		job.FailedReason = runErr.Error()
		logger.Error("archive job failed",
			logger.KeyJobID, job.ID, logger.KeyOwner, job.OwnerID, logger.KeyError, runErr)
	}
	if err := q.Save(ctx, job); err != nil {
		logger.Error("failed to persist job state", logger.KeyJobID, job.ID, logger.KeyError, err)
	}

	var produced int64
	if job.Result != nil {
		produced = job.Result.ArchiveSize + job.Result.ExtractedBytes
	}
	s.cfg.Metrics.RecordJob(string(job.Kind), string(job.State),
		time.Duration(time.Now().Unix()-job.CreatedAt)*time.Second, produced)
}

func isCancel(err error) bool {
	return errors.Is(err, archive.ErrCancelled)
}
