package lsm

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/dd0wney/onechain/pkg/digest"
	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/sys"
)

const (
	// MemTableCapacity is the default number of nodes in a memtable arena.
	MemTableCapacity = 1000
	// MaxLevel is the tallest tower a skip list node can have.
	MaxLevel = 8

	nilLink int32 = -1
)

// skipNode lives in off-heap memory and must not hold Go pointers.
type skipNode struct {
	digest    digest.Digest
	timestamp int64
	seq       uint64
	next      [MaxLevel]int32
	tombstone bool
	source    DataSource
	height    uint8
}

func (n *skipNode) record() Record {
	return Record{Digest: n.digest, Timestamp: n.timestamp, Seq: n.seq, Tombstone: n.tombstone}
}

// MemTableOptions configures a MemTable
type MemTableOptions struct {
	Dir       string // where flushed segments are written
	Capacity  int    // 0 means MemTableCapacity
	PinMemory bool   // mlock the node arena
	Segment   SegmentOptions
	Seed      uint64 // level generator seed; 0 picks one at random
	Logger    logging.Logger

	// OnFlush is called with the lock held after each segment is written
	// and before the memtable is emptied. An error removes the new segment
	// file, keeps the records and fails the flush.
	OnFlush func(info *SegmentInfo, elapsed time.Duration) error
}

// MemTable is an ordered in-memory index: a skip list threaded through a
// fixed arena of nodes. When the arena is full the contents are flushed to
// a new segment and the arena is reused.
//
// The arena is an anonymous mapping outside the Go heap. Platforms without
// mmap fall back to a heap slice.
type MemTable struct {
	mu    sync.RWMutex
	opts  MemTableOptions
	arena *sys.Mapping // nil when heap-backed
	pin   *sys.PinGuard
	nodes []skipNode
	cap   int // fixed at construction; nodes is nil after Close

	head  [MaxLevel]int32
	level int // number of populated levels
	size  int

	mergeCount uint32
	sources    uint8

	rng    *rand.Rand
	logger logging.Logger
	closed bool
}

// NewMemTable allocates the node arena and, if requested, pins it.
func NewMemTable(opts MemTableOptions) (*MemTable, error) {
	if opts.Capacity <= 0 {
		opts.Capacity = MemTableCapacity
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	mt := &MemTable{
		opts:   opts,
		cap:    opts.Capacity,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: opts.Logger.With(logging.Component("memtable")),
	}

	arenaBytes := opts.Capacity * int(unsafe.Sizeof(skipNode{}))
	arena, err := sys.MapAnon(arenaBytes)
	switch {
	case errors.Is(err, sys.ErrUnsupported):
		mt.nodes = make([]skipNode, opts.Capacity)
	case err != nil:
		return nil, fmt.Errorf("allocate memtable arena: %w", err)
	default:
		mt.arena = arena
		mt.nodes = unsafe.Slice((*skipNode)(unsafe.Pointer(&arena.Bytes()[0])), opts.Capacity)
	}

	if opts.PinMemory && mt.arena != nil {
		guard, err := sys.Pin(mt.arena.Bytes())
		if err != nil {
			_ = mt.arena.Close()
			return nil, err
		}
		mt.pin = guard
	}

	mt.resetLocked()
	return mt, nil
}

// Add inserts rec. If the memtable is full it is flushed to a segment first;
// the result reports whether that flush succeeded. A failed flush leaves
// both the memtable and rec untouched.
func (mt *MemTable) Add(rec Record, src DataSource) (bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.closed {
		return false, ErrMemTableClosed
	}
	if mt.size == len(mt.nodes) {
		if _, err := mt.flushLocked(); err != nil {
			return false, err
		}
	}

	mt.insertLocked(rec, src)
	return true, nil
}

// Reserve makes room for n more records, flushing first if needed.
func (mt *MemTable) Reserve(n int) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.closed {
		return ErrMemTableClosed
	}
	if n > len(mt.nodes) {
		return fmt.Errorf("reserve %d records in memtable of %d", n, len(mt.nodes))
	}
	if len(mt.nodes)-mt.size >= n {
		return nil
	}
	_, err := mt.flushLocked()
	return err
}

func (mt *MemTable) insertLocked(rec Record, src DataSource) {
	var update [MaxLevel]int32
	for i := range update {
		update[i] = nilLink
	}

	// Walk down, stopping after the last node <= rec so equal digests keep
	// insertion order.
	cur := nilLink
	for lvl := mt.level - 1; lvl >= 0; lvl-- {
		for {
			next := mt.nextOf(cur, lvl)
			if next == nilLink || rec.Digest.Less(mt.nodes[next].digest) {
				break
			}
			cur = next
		}
		update[lvl] = cur
	}

	height := mt.randomLevel(src)
	idx := int32(mt.size)
	node := &mt.nodes[idx]
	*node = skipNode{
		digest:    rec.Digest,
		timestamp: rec.Timestamp,
		seq:       rec.Seq,
		tombstone: rec.Tombstone,
		source:    src,
		height:    uint8(height),
	}
	for i := range node.next {
		node.next[i] = nilLink
	}

	for lvl := 0; lvl < height; lvl++ {
		prev := update[lvl]
		node.next[lvl] = mt.nextOf(prev, lvl)
		mt.setNext(prev, lvl, idx)
	}
	if height > mt.level {
		mt.level = height
	}

	mt.size++
	mt.sources |= sourceMask(src)
}

// nextOf returns the successor of node at lvl; nilLink names the head.
func (mt *MemTable) nextOf(node int32, lvl int) int32 {
	if node == nilLink {
		return mt.head[lvl]
	}
	return mt.nodes[node].next[lvl]
}

func (mt *MemTable) setNext(node int32, lvl int, to int32) {
	if node == nilLink {
		mt.head[lvl] = to
		return
	}
	mt.nodes[node].next[lvl] = to
}

// randomLevel draws a tower height; hotter sources grow taller.
func (mt *MemTable) randomLevel(src DataSource) int {
	p := src.promotion()
	lvl := 1
	for lvl < MaxLevel && mt.rng.Float64() < p {
		lvl++
	}
	return lvl
}

// Search reports whether any record with digest d is present.
func (mt *MemTable) Search(d digest.Digest) bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.lowerBoundLocked(d) != nilLink
}

// lowerBoundLocked returns the first node with digest d, or nilLink.
func (mt *MemTable) lowerBoundLocked(d digest.Digest) int32 {
	cur := nilLink
	for lvl := mt.level - 1; lvl >= 0; lvl-- {
		for {
			next := mt.nextOf(cur, lvl)
			if next == nilLink || !mt.nodes[next].digest.Less(d) {
				break
			}
			cur = next
		}
	}

	next := mt.nextOf(cur, 0)
	if next == nilLink || mt.nodes[next].digest != d {
		return nilLink
	}
	return next
}

// Get returns the winning record for d under the tombstone policy.
func (mt *MemTable) Get(d digest.Digest) (Record, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	n := mt.lowerBoundLocked(d)
	if n == nilLink {
		return Record{}, false
	}

	best := mt.nodes[n].record()
	for n = mt.nodes[n].next[0]; n != nilLink && mt.nodes[n].digest == d; n = mt.nodes[n].next[0] {
		if rec := mt.nodes[n].record(); rec.newer(best) {
			best = rec
		}
	}
	return best, true
}

// Flush writes every record to a new segment and empties the memtable.
// On failure the memtable is left as it was.
func (mt *MemTable) Flush() (*SegmentInfo, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.closed {
		return nil, ErrMemTableClosed
	}
	return mt.flushLocked()
}

func (mt *MemTable) flushLocked() (*SegmentInfo, error) {
	if mt.size == 0 {
		return nil, ErrEmptyIndex
	}

	start := time.Now()
	opts := mt.opts.Segment
	opts.MergeCount = mt.mergeCount
	opts.Sources = mt.sources

	info, err := CreateSegment(mt.opts.Dir, mt.recordsLocked(), opts)
	if err != nil {
		mt.logger.Error("memtable flush failed", logging.Count(mt.size), logging.Error(err))
		return nil, err
	}

	elapsed := time.Since(start)
	if mt.opts.OnFlush != nil {
		if err := mt.opts.OnFlush(info, elapsed); err != nil {
			mt.logger.Error("flushed segment rejected", logging.Path(info.Path), logging.Count(mt.size), logging.Error(err))
			if rmErr := os.Remove(info.Path); rmErr != nil {
				mt.logger.Warn("remove rejected segment", logging.Path(info.Path), logging.Error(rmErr))
			}
			return nil, err
		}
	}

	mt.logger.Info("memtable flushed",
		logging.Path(info.Path),
		logging.SegmentID(info.ID.String()),
		logging.Count(info.EntryCount),
		logging.Bytes(info.Size),
		logging.Codec(opts.Compression),
		logging.Latency(elapsed),
	)

	mt.resetLocked()
	return info, nil
}

func (mt *MemTable) resetLocked() {
	for i := range mt.head {
		mt.head[i] = nilLink
	}
	mt.level = 0
	mt.size = 0
	mt.mergeCount = 0
	mt.sources = 0
}

// IngestSegment feeds every record of seg into the memtable as cold data.
func (mt *MemTable) IngestSegment(seg *Segment) (int, error) {
	return mt.IngestSegments([]*Segment{seg})
}

// IngestSegments merges segs and feeds the result into the memtable as cold
// data, one record per digest. The memtable flushes as it fills; the merge
// count of the next segment records how many inputs were combined.
func (mt *MemTable) IngestSegments(segs []*Segment) (int, error) {
	it, err := NewMergeIterator(segs)
	if err != nil {
		return 0, err
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.closed {
		return 0, ErrMemTableClosed
	}

	merged := uint32(len(segs))
	n := 0
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		if mt.size == len(mt.nodes) {
			if _, err := mt.flushLocked(); err != nil {
				return n, err
			}
		}
		mt.insertLocked(rec, SourceSegment)
		mt.mergeCount = max(mt.mergeCount, merged)
		n++
	}

	mt.logger.Debug("segments ingested", logging.Count(n), logging.Int("inputs", len(segs)))
	return n, nil
}

// Records returns every record in level-0 order.
func (mt *MemTable) Records() []Record {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.recordsLocked()
}

func (mt *MemTable) recordsLocked() []Record {
	out := make([]Record, 0, mt.size)
	for n := mt.head[0]; n != nilLink; n = mt.nodes[n].next[0] {
		out = append(out, mt.nodes[n].record())
	}
	return out
}

// LevelCounts returns how many nodes are linked at each level.
func (mt *MemTable) LevelCounts() [MaxLevel]int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	var counts [MaxLevel]int
	for lvl := 0; lvl < MaxLevel; lvl++ {
		for n := mt.head[lvl]; n != nilLink; n = mt.nodes[n].next[lvl] {
			counts[lvl]++
		}
	}
	return counts
}

// Size returns the number of records held
func (mt *MemTable) Size() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Cap returns the arena capacity
func (mt *MemTable) Cap() int {
	return mt.cap
}

// Full reports whether the next Add will flush
func (mt *MemTable) Full() bool {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size == len(mt.nodes)
}

// Pinned reports whether the arena is locked in memory
func (mt *MemTable) Pinned() bool {
	return mt.pin != nil && mt.pin.Size() > 0
}

// Close unpins and unmaps the arena. Unflushed records are discarded;
// call Flush first to keep them. Close is idempotent.
func (mt *MemTable) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.closed {
		return nil
	}
	mt.closed = true
	mt.resetLocked()
	mt.nodes = nil

	var errs []error
	if err := mt.pin.Release(); err != nil {
		errs = append(errs, err)
	}
	if mt.arena != nil {
		if err := mt.arena.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
