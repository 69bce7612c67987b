package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initWritePathMetrics() {
	r.BufferFlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "onechain_buffer_flushes_total",
			Help: "Write buffer flushes into the memtable",
		},
		[]string{"trigger"}, // full, drain
	)

	r.BufferRecords = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "onechain_buffer_records",
			Help: "Live records in the write buffer",
		},
	)

	r.MemTableRecords = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "onechain_memtable_records",
			Help: "Records held in the memtable",
		},
	)

	r.MemTableFlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "onechain_memtable_flushes_total",
			Help: "Memtable flushes to segment files",
		},
		[]string{"status"},
	)

	r.MemTableFlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onechain_memtable_flush_duration_seconds",
			Help:    "Time to write a memtable to a segment",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	r.SegmentBytesWritten = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "onechain_segment_bytes_written_total",
			Help: "Bytes written to new segment files",
		},
	)

	r.BloomChecksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "onechain_bloom_checks_total",
			Help: "Segment bloom filter checks by outcome",
		},
		[]string{"result"}, // negative, maybe
	)

	r.PinnedBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "onechain_pinned_bytes",
			Help: "Bytes locked in physical memory",
		},
	)
}
