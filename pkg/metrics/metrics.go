package metrics

import (
	"time"
)

// RecordStorageOperation records a storage operation
func (r *Registry) RecordStorageOperation(operation, status string, duration time.Duration) {
	r.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBufferFlush records a write buffer flush
func (r *Registry) RecordBufferFlush(trigger string) {
	r.BufferFlushesTotal.WithLabelValues(trigger).Inc()
}

// RecordMemTableFlush records a memtable flush to a segment of size bytes
func (r *Registry) RecordMemTableFlush(size int64, duration time.Duration, err error) {
	if err != nil {
		r.MemTableFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	r.MemTableFlushesTotal.WithLabelValues("success").Inc()
	r.MemTableFlushDuration.Observe(duration.Seconds())
	r.SegmentBytesWritten.Add(float64(size))
}

// RecordBloomCheck records one segment bloom filter check
func (r *Registry) RecordBloomCheck(maybe bool) {
	if maybe {
		r.BloomChecksTotal.WithLabelValues("maybe").Inc()
		return
	}
	r.BloomChecksTotal.WithLabelValues("negative").Inc()
}

// UpdateWritePath sets the write path occupancy gauges
func (r *Registry) UpdateWritePath(bufferRecords, memTableRecords, segments int, diskBytes, pinnedBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BufferRecords.Set(float64(bufferRecords))
	r.MemTableRecords.Set(float64(memTableRecords))
	r.StorageSegmentsTotal.Set(float64(segments))
	r.StorageDiskUsageBytes.Set(float64(diskBytes))
	r.PinnedBytes.Set(float64(pinnedBytes))
}

// UpdateSystemMetrics refreshes the engine uptime. Go runtime and process
// statistics are collected on scrape.
func (r *Registry) UpdateSystemMetrics(started time.Time) {
	r.UptimeSeconds.Set(time.Since(started).Seconds())
}
