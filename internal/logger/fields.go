package logger

// Standard field keys for structured logging. Use these consistently across
// all log statements so logs can be aggregated and queried per owner,
// operation, and job.
const (
	// Request / caller scope
	KeyOwner     = "owner"      // Storage owner scope (user id or team/{id})
	KeyRequestID = "request_id" // HTTP request id from the router middleware

	// Storage operations
	KeyOp     = "op"     // Operation name: List, Move, Upload.Complete, ...
	KeyBucket = "bucket" // Object-store bucket
	KeyKey    = "key"    // Object key (owner-prefixed)
	KeyPrefix = "prefix" // Listing prefix
	KeySize   = "size"   // Byte size of the affected object

	// Background jobs
	KeyJobID   = "job_id"   // Archive or scan job id
	KeyQueue   = "queue"    // Queue name: archive-extract, archive-create, av-scan
	KeyEntries = "entries"  // Archive entries processed
	KeyFormat  = "format"   // Archive format: zip, tar, tar.gz, rar

	// Outcome
	KeyError    = "error"       // Error message
	KeyDuration = "duration_ms" // Operation duration in milliseconds
)
