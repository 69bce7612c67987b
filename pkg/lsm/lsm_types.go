package lsm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/onechain/pkg/logging"
	"github.com/dd0wney/onechain/pkg/metrics"
)

// Engine is the write-path storage engine: a write buffer feeding a skip
// list memtable that flushes to immutable segment files.
type Engine struct {
	// Write path, serialised by mu
	mu       sync.Mutex
	buffer   *WriteBuffer
	memTable *MemTable

	// Read path
	segMu    sync.RWMutex
	segments []*Segment // oldest first
	cache    *LookupCache

	// openSegment publishes freshly flushed segments; OpenSegment outside tests
	openSegment func(path string) (*Segment, error)

	opts    Options
	logger  logging.Logger
	metrics *metrics.Registry // nil disables metrics

	// Background worker
	stopChan  chan struct{}
	wg        sync.WaitGroup
	lastWrite atomic.Int64 // Unix nanoseconds
	started   time.Time

	closed atomic.Bool

	// Statistics
	stats EngineStats
}

// EngineStats tracks engine statistics using lock-free atomic counters.
type EngineStats struct {
	WriteCount       atomic.Int64
	DeleteCount      atomic.Int64
	LookupCount      atomic.Int64
	BufferFlushes    atomic.Int64
	MemTableFlushes  atomic.Int64
	CompactionCount  atomic.Int64
	BloomNegatives   atomic.Int64
	SegmentBytes     atomic.Int64
	RecoveredRecords atomic.Int64
}

// Options configures the engine
type Options struct {
	DataDir          string
	MemTableCapacity int  // nodes (default MemTableCapacity)
	PinMemory        bool // mlock the memtable arena
	Compression      Codec
	BloomBytes       int           // per segment (default DefaultBloomBytes)
	CacheSize        int           // lookup cache entries, 0 disables
	FlushInterval    time.Duration // idle flush period, 0 disables the worker
	Seed             uint64        // skip list level seed, 0 is random
	Logger           logging.Logger
	Metrics          *metrics.Registry
}

// DefaultOptions returns default engine configuration
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:          dataDir,
		MemTableCapacity: MemTableCapacity,
		Compression:      CodecNone,
		BloomBytes:       DefaultBloomBytes,
		CacheSize:        10000,
		FlushInterval:    time.Second,
	}
}

// StatsSnapshot is a point-in-time snapshot of engine statistics
type StatsSnapshot struct {
	WriteCount       int64
	DeleteCount      int64
	LookupCount      int64
	BufferFlushes    int64
	MemTableFlushes  int64
	CompactionCount  int64
	BloomNegatives   int64
	SegmentBytes     int64
	RecoveredRecords int64
	BufferRecords    int
	MemTableRecords  int
	SegmentCount     int
	CacheHits        int64
	CacheMisses      int64
	BufferDigest     string // write buffer fingerprint
}
