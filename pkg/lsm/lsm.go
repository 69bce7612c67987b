package lsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/onechain/pkg/digest"
	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/sys"
)

// slowRecovery is the open-time segment scan duration logged as a warning
const slowRecovery = 5 * time.Second

// Open creates or reopens an engine in opts.DataDir
func Open(opts Options) (*Engine, error) {
	return OpenContext(context.Background(), opts)
}

// OpenContext creates or reopens an engine in opts.DataDir. Existing
// segments are opened and verified concurrently; any corrupt segment fails
// the open.
func OpenContext(ctx context.Context, opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.New("lsm: data directory is required")
	}
	if opts.MemTableCapacity != 0 && opts.MemTableCapacity < BufferCapacity {
		return nil, fmt.Errorf("lsm: memtable capacity %d cannot hold a full write buffer of %d", opts.MemTableCapacity, BufferCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, err
	}

	e := &Engine{
		buffer:   NewWriteBuffer(),
		cache:    NewLookupCache(opts.CacheSize),
		opts:     opts,
		logger:   opts.Logger.With(logging.Component("engine")),
		metrics:  opts.Metrics,
		stopChan: make(chan struct{}),
		started:  time.Now(),

		openSegment: OpenSegment,
	}

	segments, err := e.recoverSegments(ctx)
	if err != nil {
		return nil, err
	}
	e.segments = segments
	for _, seg := range segments {
		e.buffer.SetSequence(seg.Meta().MaxSeq)
	}

	mt, err := NewMemTable(MemTableOptions{
		Dir:       opts.DataDir,
		Capacity:  opts.MemTableCapacity,
		PinMemory: opts.PinMemory,
		Segment: SegmentOptions{
			Compression: opts.Compression,
			BloomBytes:  opts.BloomBytes,
		},
		Seed:    opts.Seed,
		Logger:  opts.Logger,
		OnFlush: e.onSegmentFlushed,
	})
	if err != nil {
		closeSegments(segments)
		return nil, err
	}
	e.memTable = mt

	// Start background worker
	if opts.FlushInterval > 0 {
		e.wg.Add(1)
		go e.flushWorker()
	}

	e.updateGauges()
	return e, nil
}

// recoverSegments opens every segment in the data directory, oldest first.
func (e *Engine) recoverSegments(ctx context.Context) ([]*Segment, error) {
	paths, err := ListSegments(e.opts.DataDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}

	timer := logging.StartTimer(e.logger, "segments recovered", logging.Path(e.opts.DataDir), logging.Count(len(paths)))

	segments := make([]*Segment, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seg, err := OpenSegment(path)
			if err != nil {
				return err
			}
			segments[i] = seg
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		closeSegments(segments)
		timer.EndError(err)
		return nil, fmt.Errorf("recover segments: %w", err)
	}

	for _, seg := range segments {
		e.stats.RecoveredRecords.Add(int64(seg.Len()))
	}
	timer.EndSlow(slowRecovery)
	return segments, nil
}

// Put records key as present
func (e *Engine) Put(key digest.Key) error {
	return e.write(key, false)
}

// Delete records a tombstone for key
func (e *Engine) Delete(key digest.Key) error {
	return e.write(key, true)
}

// write adds a record to the buffer and moves a full buffer into the
// memtable. A buffer that could not be flushed is retried before the next
// write, so the ring never overwrites records that have not reached the
// memtable.
func (e *Engine) write(key digest.Key, tombstone bool) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	start := time.Now()
	op := "put"
	if tombstone {
		op = "delete"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Close may have finished while we waited for the lock.
	if e.closed.Load() {
		return ErrEngineClosed
	}

	if e.buffer.Full() {
		if err := e.flushBufferLocked(); err != nil {
			e.recordOp(op, start, err)
			return err
		}
	}

	if tombstone {
		e.buffer.Delete(key)
		e.stats.DeleteCount.Add(1)
	} else {
		e.buffer.Add(key)
		e.stats.WriteCount.Add(1)
	}
	e.lastWrite.Store(time.Now().UnixNano())

	var err error
	if e.buffer.Full() {
		err = e.flushBufferLocked()
	}
	e.recordOp(op, start, err)
	return err
}

func (e *Engine) flushBufferLocked() error {
	flushed, err := e.buffer.Flush(e.memTable)
	if err != nil {
		e.logger.Error("buffer flush failed", logging.Source(SourceBuffer.String()), logging.Count(e.buffer.Len()), logging.Error(err))
		if e.metrics != nil {
			e.metrics.RecordMemTableFlush(0, 0, err)
		}
		return fmt.Errorf("flush write buffer: %w", err)
	}
	if flushed {
		e.stats.BufferFlushes.Add(1)
		if e.metrics != nil {
			e.metrics.RecordBufferFlush("full")
		}
	}
	return nil
}

// MayContain reports whether key is present and not deleted. Segments are
// consulted newest first and skipped when their bloom filter rules the key
// out.
func (e *Engine) MayContain(key digest.Key) bool {
	rec, ok := e.Lookup(key)
	return ok && !rec.Tombstone
}

// Lookup returns the newest record for key. Tombstones are returned as
// found so callers can tell a deletion from a miss.
func (e *Engine) Lookup(key digest.Key) (Record, bool) {
	if e.closed.Load() {
		return Record{}, false
	}
	start := time.Now()
	e.stats.LookupCount.Add(1)
	d := digest.Sum(key)

	if rec, ok := e.buffer.Lookup(d); ok {
		e.recordOp("lookup", start, nil)
		return rec, true
	}
	if rec, ok := e.memTable.Get(d); ok {
		e.recordOp("lookup", start, nil)
		return rec, true
	}

	rec, ok := e.lookupSegments(d)
	e.recordOp("lookup", start, nil)
	return rec, ok
}

func (e *Engine) lookupSegments(d digest.Digest) (Record, bool) {
	if rec, found, hit := e.cache.Get(d); hit {
		return rec, found
	}
	gen := e.cache.Generation()

	e.segMu.RLock()
	defer e.segMu.RUnlock()

	for i := len(e.segments) - 1; i >= 0; i-- {
		seg := e.segments[i]
		maybe := seg.MayContain(d)
		if e.metrics != nil {
			e.metrics.RecordBloomCheck(maybe)
		}
		if !maybe {
			e.stats.BloomNegatives.Add(1)
			continue
		}

		rec, found, err := seg.Get(d)
		if err != nil {
			e.logger.Warn("segment lookup failed", logging.Path(seg.Path()), logging.Digest(d), logging.Error(err))
			continue
		}
		if found {
			e.cache.PutIfCurrent(gen, d, rec, true)
			return rec, true
		}
	}

	e.cache.PutIfCurrent(gen, d, Record{}, false)
	return Record{}, false
}

// Sync drains the write buffer into the memtable and flushes the memtable
// to a segment.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.syncLocked()
}

func (e *Engine) syncLocked() error {
	start := time.Now()

	n, err := e.buffer.Drain(e.memTable)
	if err != nil {
		e.recordOp("sync", start, err)
		return fmt.Errorf("drain write buffer: %w", err)
	}
	if n > 0 {
		e.stats.BufferFlushes.Add(1)
		if e.metrics != nil {
			e.metrics.RecordBufferFlush("drain")
		}
	}

	if _, err := e.memTable.Flush(); err != nil && !errors.Is(err, ErrEmptyIndex) {
		if e.metrics != nil {
			e.metrics.RecordMemTableFlush(0, 0, err)
		}
		e.recordOp("sync", start, err)
		return fmt.Errorf("flush memtable: %w", err)
	}

	e.recordOp("sync", start, nil)
	e.updateGauges()
	return nil
}

// Compact merges every segment into as few new segments as the memtable
// capacity allows and removes the inputs. Pending writes are synced first.
func (e *Engine) Compact() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := e.syncLocked(); err != nil {
		return err
	}

	e.segMu.RLock()
	inputs := slices.Clone(e.segments)
	e.segMu.RUnlock()
	if len(inputs) < 2 {
		return nil
	}

	timer := logging.StartTimer(e.logger, "compaction finished", logging.Int("inputs", len(inputs)))

	if _, err := e.memTable.IngestSegments(inputs); err != nil {
		timer.EndError(err)
		return fmt.Errorf("compact: %w", err)
	}
	if _, err := e.memTable.Flush(); err != nil && !errors.Is(err, ErrEmptyIndex) {
		timer.EndError(err)
		return fmt.Errorf("compact: %w", err)
	}

	e.segMu.Lock()
	e.segments = slices.DeleteFunc(e.segments, func(s *Segment) bool {
		return slices.Contains(inputs, s)
	})
	e.segMu.Unlock()
	e.cache.Clear()

	var errs []error
	for _, seg := range inputs {
		if err := seg.Delete(); err != nil {
			errs = append(errs, err)
		}
	}

	e.stats.CompactionCount.Add(1)
	timer.End()
	e.updateGauges()
	return errors.Join(errs...)
}

// Stats returns current statistics as a snapshot
func (e *Engine) Stats() StatsSnapshot {
	e.segMu.RLock()
	segCount := len(e.segments)
	e.segMu.RUnlock()

	hits, misses, _ := e.cache.Stats()

	return StatsSnapshot{
		WriteCount:       e.stats.WriteCount.Load(),
		DeleteCount:      e.stats.DeleteCount.Load(),
		LookupCount:      e.stats.LookupCount.Load(),
		BufferFlushes:    e.stats.BufferFlushes.Load(),
		MemTableFlushes:  e.stats.MemTableFlushes.Load(),
		CompactionCount:  e.stats.CompactionCount.Load(),
		BloomNegatives:   e.stats.BloomNegatives.Load(),
		SegmentBytes:     e.stats.SegmentBytes.Load(),
		RecoveredRecords: e.stats.RecoveredRecords.Load(),
		BufferRecords:    e.buffer.Len(),
		MemTableRecords:  e.memTable.Size(),
		SegmentCount:     segCount,
		CacheHits:        hits,
		CacheMisses:      misses,
		BufferDigest:     e.buffer.Fingerprint().String(),
	}
}

// Segments describes the open segments, oldest first
func (e *Engine) Segments() []SegmentInfo {
	e.segMu.RLock()
	defer e.segMu.RUnlock()

	infos := make([]SegmentInfo, len(e.segments))
	for i, seg := range e.segments {
		infos[i] = seg.Info()
	}
	return infos
}

// Close flushes pending writes, stops the background worker and releases
// the memtable arena and segment mappings.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Stop worker
	close(e.stopChan)
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.syncLocked(); err != nil {
		errs = append(errs, fmt.Errorf("final flush failed: %w", err))
	}
	if err := e.memTable.Close(); err != nil {
		errs = append(errs, err)
	}

	e.segMu.Lock()
	errs = append(errs, closeSegments(e.segments)...)
	e.segments = nil
	e.segMu.Unlock()

	e.logger.Info("engine closed", logging.Path(e.opts.DataDir))
	return errors.Join(errs...)
}

func closeSegments(segments []*Segment) []error {
	var errs []error
	for _, seg := range segments {
		if seg == nil {
			continue
		}
		if err := seg.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Closed reports whether Close has been called
func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// PinnedBytes reports the bytes this process has locked in memory
func (e *Engine) PinnedBytes() int64 {
	return sys.PinnedBytes()
}
