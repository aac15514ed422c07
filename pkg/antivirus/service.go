package antivirus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudrove/cloudrove/internal/logger"
	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
	kvkeys "github.com/cloudrove/cloudrove/pkg/kv/keys"
	"github.com/cloudrove/cloudrove/pkg/metrics"
	"github.com/cloudrove/cloudrove/pkg/pathutil"
	"github.com/cloudrove/cloudrove/pkg/storage/gateway"
)

// Status is the published scan state of one object.
type Status string

// Scan states.
const (
	StatusPending  Status = "pending"
	StatusClean    Status = "clean"
	StatusInfected Status = "infected"
	StatusSkipped  Status = "skipped"
	StatusError    Status = "error"
)

// Skip and error reasons.
const (
	ReasonSizeLimit       = "size_limit"
	ReasonUnknownResponse = "unknown_response"
	ReasonScanFailed      = "scan_failed"
)

// Result is the verdict stored per object.
type Result struct {
	Status    Status `json:"status"`
	Signature string `json:"signature,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Size      int64  `json:"size,omitempty"`
	ScannedAt int64  `json:"scannedAt,omitempty"`
}

// Defaults for the scan pipeline.
const (
	DefaultMaxScanBytes = 100 << 20 // 100 MiB
	DefaultConcurrency  = 1
	DefaultQueueSize    = 256
)

// Config tunes the scan service. Zero values take the defaults.
type Config struct {
	MaxScanBytes int64
	Concurrency  int
	QueueSize    int

	// Metrics may be nil; all recording is then skipped.
	Metrics *metrics.ScanMetrics
}

func (c Config) withDefaults() Config {
	if c.MaxScanBytes <= 0 {
		c.MaxScanBytes = DefaultMaxScanBytes
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

type scanJob struct {
	owner string
	key   string
}

// Service runs the background scan queue. It satisfies the upload
// package's ScanQueue interface.
type Service struct {
	gw      *gateway.Gateway
	kv      kv.Store
	scanner *Scanner
	cfg     Config

	jobs chan scanJob
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewService wires the scan queue.
func NewService(gw *gateway.Gateway, store kv.Store, scanner *Scanner, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		gw:      gw,
		kv:      store,
		scanner: scanner,
		cfg:     cfg,
		jobs:    make(chan scanJob, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the scan workers. Call Stop to shut them down.
func (s *Service) Start() {
	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	logger.Info("antivirus workers started", "workers", s.cfg.Concurrency)
}

// Stop signals the workers and waits for in-flight scans to finish.
// Queued but unstarted scans are dropped; their verdicts stay pending.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case job := <-s.jobs:
			s.scanOne(context.Background(), job.owner, job.key)
		}
	}
}

// Enqueue queues an object for scanning. It never blocks: when the queue
// is full the scan is dropped and the verdict stays pending.
func (s *Service) Enqueue(ctx context.Context, owner, key string) {
	s.publish(ctx, owner, key, Result{Status: StatusPending})
	select {
	case s.jobs <- scanJob{owner: owner, key: key}:
	default:
		logger.Warn("scan queue full, dropping scan",
			logger.KeyOwner, owner, logger.KeyKey, key)
	}
}

// Status returns the published verdict for one object.
func (s *Service) Status(ctx context.Context, owner, key string) (Result, error) {
	var res Result
	found, err := s.kv.Get(ctx, kvkeys.Scan(owner, key), &res)
	if err != nil {
		return Result{}, fault.Internalf(err, "load scan status")
	}
	if !found {
		return Result{}, fault.NotFoundf("no scan recorded for %q", key)
	}
	return res, nil
}

func (s *Service) scanOne(ctx context.Context, owner, key string) {
	start := time.Now()
	fullKey := pathutil.KeyBuilder(owner, key)
	obj, err := s.gw.Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.gw.BucketPtr(),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if gateway.IsNotFound(err) {
			// Deleted between upload and scan; nothing to report on.
			_ = s.kv.Delete(ctx, kvkeys.Scan(owner, key))
			return
		}
		s.publish(ctx, owner, key, Result{Status: StatusError, Reason: ReasonScanFailed})
		return
	}
	defer func() { _ = obj.Body.Close() }()

	size := aws.ToInt64(obj.ContentLength)
	if size > s.cfg.MaxScanBytes {
		s.publish(ctx, owner, key, Result{Status: StatusSkipped, Reason: ReasonSizeLimit, Size: size})
		s.cfg.Metrics.RecordVerdict(string(StatusSkipped), time.Since(start))
		return
	}

	verdict, err := s.scanner.Scan(ctx, obj.Body)
	switch {
	case err == nil && verdict.Clean:
		s.publish(ctx, owner, key, Result{Status: StatusClean, Size: size})
		s.cfg.Metrics.RecordVerdict(string(StatusClean), time.Since(start))
	case err == nil:
		logger.Warn("infected object detected",
			logger.KeyOwner, owner, logger.KeyKey, key, "signature", verdict.Signature)
		s.publish(ctx, owner, key, Result{Status: StatusInfected, Signature: verdict.Signature, Size: size})
		s.cfg.Metrics.RecordVerdict(string(StatusInfected), time.Since(start))
	default:
		reason := ReasonScanFailed
		var unknown *errUnknownReply
		if errors.As(err, &unknown) {
			reason = ReasonUnknownResponse
		}
		logger.Error("scan failed",
			logger.KeyOwner, owner, logger.KeyKey, key, logger.KeyError, err)
		s.publish(ctx, owner, key, Result{Status: StatusError, Reason: reason, Size: size})
		s.cfg.Metrics.RecordVerdict(string(StatusError), time.Since(start))
	}
}

func (s *Service) publish(ctx context.Context, owner, key string, res Result) {
	res.ScannedAt = time.Now().Unix()
	if err := s.kv.Set(ctx, kvkeys.Scan(owner, key), res, 0); err != nil {
		logger.Warn("failed to publish scan verdict",
			logger.KeyOwner, owner, logger.KeyKey, key, logger.KeyError, err)
	}
}
