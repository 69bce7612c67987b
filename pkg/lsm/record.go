package lsm

import (
	"github.com/dd0wney/onechain/pkg/digest"
)

// Record is the unit that flows from the write buffer through the memtable
// into segments.
type Record struct {
	Digest    digest.Digest
	Timestamp int64  // Unix milliseconds
	Seq       uint64 // Write order within the engine; breaks timestamp ties
	Tombstone bool   // Logical delete marker
}

// newRecord hashes key into an unstamped Record. The write buffer assigns
// the timestamp and sequence number when the record takes a slot.
func newRecord(key digest.Key, tombstone bool) Record {
	return Record{
		Digest:    digest.Sum(key),
		Tombstone: tombstone,
	}
}

// newer reports whether r should win over other under the tombstone policy:
// the later (timestamp, seq) wins, and only on an exact tie does the
// tombstone win.
func (r Record) newer(other Record) bool {
	if r.Timestamp != other.Timestamp {
		return r.Timestamp > other.Timestamp
	}
	if r.Seq != other.Seq {
		return r.Seq > other.Seq
	}
	return r.Tombstone && !other.Tombstone
}

// DataSource tells the memtable where a record came from. It biases how
// tall the record's skip list tower grows.
type DataSource uint8

const (
	// SourceBuffer is fresh data from the write buffer (hot).
	SourceBuffer DataSource = iota
	// SourceMemTable is data already resident in a memtable (warm).
	SourceMemTable
	// SourceSegment is data read back from an on-disk segment (cold).
	SourceSegment
)

// String returns the name of the data source
func (s DataSource) String() string {
	switch s {
	case SourceBuffer:
		return "buffer"
	case SourceMemTable:
		return "memtable"
	case SourceSegment:
		return "segment"
	default:
		return "unknown"
	}
}

// promotion returns the chance of climbing one more level.
func (s DataSource) promotion() float64 {
	switch s {
	case SourceBuffer:
		return hotPromotion
	case SourceSegment:
		return coldPromotion
	default:
		return warmPromotion
	}
}

const (
	hotPromotion  = 0.75
	warmPromotion = 0.5
	coldPromotion = 0.25
)
