package lsm

import (
	"fmt"
	"time"

	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/sys"
)

// flushWorker syncs the engine once writes have been idle for a full
// FlushInterval, and refreshes the gauges on every tick.
func (e *Engine) flushWorker() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Periodic check
			if e.idleWithPendingWrites() {
				if err := e.Sync(); err != nil && !e.closed.Load() {
					e.logger.Error("periodic flush failed", logging.Error(err))
				}
			}
			e.updateGauges()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) idleWithPendingWrites() bool {
	last := e.lastWrite.Load()
	if last == 0 || time.Since(time.Unix(0, last)) < e.opts.FlushInterval {
		return false
	}
	return e.buffer.Len() > 0 || e.memTable.Size() > 0
}

// onSegmentFlushed opens a segment the memtable just wrote and publishes it
// to readers. It runs with the memtable lock held, before the memtable lets
// go of the records; an error keeps them there and fails the flush.
func (e *Engine) onSegmentFlushed(info *SegmentInfo, elapsed time.Duration) error {
	seg, err := e.openSegment(info.Path)
	if err != nil {
		return fmt.Errorf("publish segment %s: %w", info.Path, err)
	}

	e.segMu.Lock()
	e.segments = append(e.segments, seg)
	e.segMu.Unlock()

	// Cached misses may now be stale.
	e.cache.Clear()

	e.stats.MemTableFlushes.Add(1)
	e.stats.SegmentBytes.Add(info.Size)
	if e.metrics != nil {
		e.metrics.RecordMemTableFlush(info.Size, elapsed, nil)
	}
	return nil
}

// recordOp reports a storage operation to the metrics registry
func (e *Engine) recordOp(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordStorageOperation(op, status, time.Since(start))
}

// updateGauges refreshes occupancy gauges from the engine state
func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}

	e.segMu.RLock()
	segCount := len(e.segments)
	var diskBytes int64
	for _, seg := range e.segments {
		diskBytes += seg.Info().Size
	}
	e.segMu.RUnlock()

	e.metrics.UpdateWritePath(e.buffer.Len(), e.memTable.Size(), segCount, diskBytes, sys.PinnedBytes())
	e.metrics.UpdateSystemMetrics(e.started)
}
