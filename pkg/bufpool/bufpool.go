// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// The pool hands out reusable byte slices for the streaming paths of the
// service: archive entry copies, clamd scan chunks, and other per-request
// I/O that would otherwise allocate a fresh buffer every time.
//
// Three size tiers balance memory efficiency with reuse:
//   - Small buffers (default 4KB): control payloads
//   - Medium buffers (default 64KB): stream copy chunks
//   - Large buffers (default 1MB): bulk transfers
//
// Buffers larger than the large tier are allocated directly and not pooled
// to avoid keeping very large buffers in memory indefinitely.
//
// All operations are thread-safe via sync.Pool.
package bufpool

import (
	"io"
	"sync"
)

// Default buffer size classes.
// These can be overridden when creating a custom pool with NewPool.
const (
	// DefaultSmallSize handles small control payloads (4KB)
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize handles stream copy chunks (64KB)
	DefaultMediumSize = 64 << 10

	// DefaultLargeSize handles bulk data transfer (1MB)
	DefaultLargeSize = 1 << 20
)

// Pool manages a set of byte slice pools organized by size class.
// It automatically selects the appropriate pool based on requested size
// and provides fallback allocation for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium buffers (default: 64KB)
	MediumSize int

	// LargeSize is the size of large buffers (default: 1MB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	// Apply defaults for zero values
	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of at least the requested size.
// The returned slice may be larger than requested to use pooled buffers
// efficiently.
//
// The caller must call Put() when finished with the buffer. For sizes
// larger than LargeSize, a new slice is allocated directly and will not
// be pooled.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		// For very large requests, allocate directly without pooling.
		// This prevents keeping oversized buffers in memory indefinitely.
		buf := make([]byte, size)
		return buf
	}

	// Return slice with exact requested length but backed by pooled buffer
	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse.
// The buffer must have been obtained from Get() and should not be used
// after Put(). Buffers larger than LargeSize are not pooled and will be
// GC'd normally.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	// Determine which pool this buffer belongs to based on capacity
	switch cap(buf) {
	case p.smallSize:
		// Reset length to full capacity for next use
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	default:
		// Don't pool oversized or undersized buffers
	}
}

// Copy copies from src to dst through a pooled medium buffer, avoiding
// the per-call allocation io.Copy would make.
func (p *Pool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := p.Get(p.mediumSize)
	defer p.Put(buf)
	return io.CopyBuffer(dst, src, buf)
}

// globalPool is the package-level buffer pool with default configuration.
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
// Always pair this with Get() using defer to ensure buffers are returned.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// Copy copies from src to dst through the global pool.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	return globalPool.Copy(dst, src)
}
