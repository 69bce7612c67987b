package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Storage Metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	StorageDiskUsageBytes    prometheus.Gauge
	StorageSegmentsTotal     prometheus.Gauge

	// Write Path Metrics
	BufferFlushesTotal    *prometheus.CounterVec
	BufferRecords         prometheus.Gauge
	MemTableRecords       prometheus.Gauge
	MemTableFlushesTotal  *prometheus.CounterVec
	MemTableFlushDuration prometheus.Histogram
	SegmentBytesWritten   prometheus.Counter
	BloomChecksTotal      *prometheus.CounterVec
	PinnedBytes           prometheus.Gauge

	// System Metrics
	UptimeSeconds prometheus.Gauge
	BuildInfo     *prometheus.GaugeVec

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initStorageMetrics()
	r.initWritePathMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
