package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks listing-cache effectiveness.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations prometheus.Counter
}

// NewCacheMetrics creates the cache collectors, nil when disabled.
func NewCacheMetrics() *CacheMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &CacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_listing_cache_lookups_total",
				Help: "Listing cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		invalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cloudrove_listing_cache_invalidations_total",
				Help: "Listing cache invalidation sweeps",
			},
		),
	}
}

// RecordLookup counts one cache lookup. hit selects the outcome label.
func (m *CacheMetrics) RecordLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

// RecordInvalidation counts one invalidation sweep.
func (m *CacheMetrics) RecordInvalidation() {
	if m == nil {
		return
	}
	m.invalidations.Inc()
}

// JobMetrics tracks archive job outcomes.
type JobMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobBytes    *prometheus.CounterVec
}

// NewJobMetrics creates the archive job collectors, nil when disabled.
func NewJobMetrics() *JobMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &JobMetrics{
		jobsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_archive_jobs_total",
				Help: "Finished archive jobs by kind and final state",
			},
			[]string{"kind", "state"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudrove_archive_job_duration_seconds",
				Help:    "Archive job run time by kind",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"kind"},
		),
		jobBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_archive_job_bytes_total",
				Help: "Bytes produced by archive jobs by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordJob counts one finished job with its run time and output bytes.
func (m *JobMetrics) RecordJob(kind, state string, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(kind, state).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if bytes > 0 {
		m.jobBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// ScanMetrics tracks antivirus verdicts.
type ScanMetrics struct {
	verdicts     *prometheus.CounterVec
	scanDuration prometheus.Histogram
}

// NewScanMetrics creates the antivirus collectors, nil when disabled.
func NewScanMetrics() *ScanMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &ScanMetrics{
		verdicts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudrove_antivirus_verdicts_total",
				Help: "Antivirus verdicts by status",
			},
			[]string{"status"},
		),
		scanDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloudrove_antivirus_scan_duration_seconds",
				Help:    "Time to stream and scan one object",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
		),
	}
}

// RecordVerdict counts one verdict with its scan time.
func (m *ScanMetrics) RecordVerdict(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(status).Inc()
	m.scanDuration.Observe(duration.Seconds())
}
