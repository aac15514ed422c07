// Package jobs runs the asynchronous archive pipeline: durable extract
// and create queues over the KV store, worker pools with bounded entry
// upload concurrency, throttled progress reporting, and KV-signalled
// cancellation.
package jobs

import (
	"time"

	"github.com/cloudrove/cloudrove/pkg/archive"
)

// State is the job lifecycle state.
type State string

// Job states. Terminal states retain progress and result until the queue
// evicts the record.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Kind distinguishes the two queues.
type Kind string

// Job kinds.
const (
	KindExtract Kind = "extract"
	KindCreate  Kind = "create"
)

// Progress is the live progress snapshot of a job.
type Progress struct {
	Phase            string `json:"phase,omitempty"`
	EntriesProcessed int    `json:"entriesProcessed"`
	TotalEntries     int    `json:"totalEntries,omitempty"`
	BytesRead        int64  `json:"bytesRead,omitempty"`
	BytesWritten     int64  `json:"bytesWritten,omitempty"`
	TotalBytes       int64  `json:"totalBytes,omitempty"`
	CurrentEntry     string `json:"currentEntry,omitempty"`
}

// Result is what a finished job produced. OwnerID travels with the
// result so the durable mirror stays owner-checked after the job record
// is evicted.
type Result struct {
	OwnerID          string `json:"ownerId,omitempty"`
	ArchiveKey       string `json:"archiveKey,omitempty"`
	ArchiveSize      int64  `json:"archiveSize,omitempty"`
	ExtractedEntries int    `json:"extractedEntries,omitempty"`
	ExtractedBytes   int64  `json:"extractedBytes,omitempty"`
	ExtractPrefix    string `json:"extractPrefix,omitempty"`
}

// Job is one queued archive operation, durable in the KV store.
type Job struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Kind    Kind   `json:"kind"`
	State   State  `json:"state"`

	// Extract payload.
	Key      string         `json:"key,omitempty"`
	Format   archive.Format `json:"format,omitempty"`
	Selected []string       `json:"selected,omitempty"`

	// Create payload.
	Keys         []string       `json:"keys,omitempty"`
	OutputFormat archive.Format `json:"outputFormat,omitempty"`
	OutputKey    string         `json:"outputKey,omitempty"`

	Progress     Progress `json:"progress"`
	Result       *Result  `json:"result,omitempty"`
	FailedReason string   `json:"failedReason,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (j *Job) terminal() bool {
	switch j.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

func (j *Job) touch(now time.Time) {
	j.UpdatedAt = now.Unix()
}
