package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudrove/cloudrove/pkg/fault"
	"github.com/cloudrove/cloudrove/pkg/kv"
)

// jobRetention keeps terminal job records around for status polling.
const jobRetention = 24 * time.Hour

// queue is one durable job queue over the KV store. Claiming is
// serialized in-process; cross-process claim races are tolerated because
// job handlers are idempotent.
type queue struct {
	kv     kv.Store
	prefix string // key prefix, e.g. "cloud:archive-extract:job:"
	now    func() time.Time

	mu sync.Mutex
}

func newQueue(store kv.Store, prefix string) *queue {
	return &queue{kv: store, prefix: prefix, now: time.Now}
}

func (q *queue) key(id string) string { return q.prefix + id }

// Enqueue stores the job in waiting state and returns its id.
func (q *queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.State = StateWaiting
	job.CreatedAt = q.now().Unix()
	job.UpdatedAt = job.CreatedAt
	if err := q.kv.Set(ctx, q.key(job.ID), job, jobRetention); err != nil {
		return "", fault.Internalf(err, "enqueue job")
	}
	return job.ID, nil
}

// Get loads one job.
func (q *queue) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	found, err := q.kv.Get(ctx, q.key(id), &job)
	if err != nil {
		return Job{}, fault.Internalf(err, "load job %q", id)
	}
	if !found {
		return Job{}, fault.NotFoundf("job %q not found", id)
	}
	return job, nil
}

// Save persists a job update.
func (q *queue) Save(ctx context.Context, job Job) error {
	job.touch(q.now())
	if err := q.kv.Set(ctx, q.key(job.ID), job, jobRetention); err != nil {
		return fault.Internalf(err, "save job %q", job.ID)
	}
	return nil
}

// Claim picks the oldest waiting job and marks it active. Returns false
// when the queue has no waiting jobs.
func (q *queue) Claim(ctx context.Context) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids, err := q.kv.FindKeys(ctx, q.prefix+"*")
	if err != nil {
		return Job{}, false, fault.Internalf(err, "scan queue")
	}

	var waiting []Job
	for _, key := range ids {
		var job Job
		found, err := q.kv.Get(ctx, key, &job)
		if err != nil || !found {
			continue
		}
		if job.State == StateWaiting {
			waiting = append(waiting, job)
		}
	}
	if len(waiting) == 0 {
		return Job{}, false, nil
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].CreatedAt < waiting[j].CreatedAt })

	job := waiting[0]
	job.State = StateActive
	if err := q.Save(ctx, job); err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}
