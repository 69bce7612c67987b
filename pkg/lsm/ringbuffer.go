package lsm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dd0wney/onechain/pkg/digest"
)

const (
	// BufferCapacity is the number of slots in a WriteBuffer.
	BufferCapacity = 100

	cacheLineSize = 64
)

// AlignedCursor is a slot position padded to a full cache line, so the
// producer advancing the tail never invalidates the line holding the head.
// A negative position means the cursor has never been set.
type AlignedCursor struct {
	pos atomic.Int64
	_   [cacheLineSize - 8]byte
}

func (c *AlignedCursor) load() (int, bool) {
	p := c.pos.Load()
	if p < 0 {
		return 0, false
	}
	return int(p), true
}

func (c *AlignedCursor) store(p int) {
	c.pos.Store(int64(p))
}

// WriteBuffer is a bounded ring of records and the entry point for every
// mutation. When full, a new record overwrites the oldest slot.
//
// Slot mutation is serialised by a mutex; the head and tail cursors are
// atomics so observers can read them without taking the lock. The pads keep
// each cursor off the lines shared with neighbouring heap objects and the
// mutex.
type WriteBuffer struct {
	_    [cacheLineSize]byte
	head AlignedCursor
	tail AlignedCursor
	_    [cacheLineSize]byte

	mu          sync.Mutex
	slots       [BufferCapacity]Record
	occupancy   *roaring.Bitmap // bit i set <=> slots[i] holds a live record
	fingerprint digest.Digest   // XOR of every live digest
	size        int

	// Stamps never go backwards, so slot order, timestamp order and
	// sequence order agree.
	lastStamp int64
	seq       uint64
}

// NewWriteBuffer creates an empty write buffer
func NewWriteBuffer() *WriteBuffer {
	wb := &WriteBuffer{
		occupancy: roaring.New(),
	}
	wb.head.store(-1)
	wb.tail.store(-1)
	return wb
}

// Add inserts a live record for key. It always succeeds.
func (wb *WriteBuffer) Add(key digest.Key) bool {
	wb.insert(newRecord(key, false))
	return true
}

// Delete inserts a tombstone for key. Nothing is removed; the tombstone is
// resolved downstream. It always succeeds.
func (wb *WriteBuffer) Delete(key digest.Key) bool {
	wb.insert(newRecord(key, true))
	return true
}

func (wb *WriteBuffer) insert(rec Record) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	wb.lastStamp = max(wb.lastStamp, time.Now().UnixMilli())
	wb.seq++
	rec.Timestamp, rec.Seq = wb.lastStamp, wb.seq

	var slot int
	if wb.size == 0 {
		// Resume where the last flush left the head.
		if head, ok := wb.head.load(); ok {
			slot = head
		}
		wb.head.store(slot)
	} else {
		tail, _ := wb.tail.load()
		slot = (tail + 1) % BufferCapacity
	}

	if wb.occupancy.Contains(uint32(slot)) {
		// Full ring: evict the oldest record.
		wb.fingerprint = wb.fingerprint.Xor(wb.slots[slot].Digest)
		wb.occupancy.Remove(uint32(slot))
		wb.size--
		if head, _ := wb.head.load(); head == slot {
			wb.head.store((slot + 1) % BufferCapacity)
		}
	}

	wb.slots[slot] = rec
	wb.occupancy.Add(uint32(slot))
	wb.fingerprint = wb.fingerprint.Xor(rec.Digest)
	wb.size++
	wb.tail.store(slot)
}

// Flush moves a full buffer into idx. It sorts the live records by digest,
// inserts them in ascending order and advances the head past them.
//
// It returns false without touching anything unless the buffer is full.
// If idx cannot make room (its own flush to a segment failed) the buffer is
// left intact and the error is returned.
func (wb *WriteBuffer) Flush(idx *MemTable) (bool, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if !wb.flushableLocked() || wb.size < BufferCapacity {
		return false, nil
	}

	if _, err := wb.drainLocked(idx); err != nil {
		return false, err
	}
	return true, nil
}

// Drain moves every live record into idx regardless of fill level and
// returns how many were moved. Used on sync and shutdown.
func (wb *WriteBuffer) Drain(idx *MemTable) (int, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	if wb.size == 0 {
		return 0, nil
	}
	return wb.drainLocked(idx)
}

func (wb *WriteBuffer) flushableLocked() bool {
	if wb.size <= 1 {
		return false
	}
	head, _ := wb.head.load()
	tail, _ := wb.tail.load()
	return head != tail
}

func (wb *WriteBuffer) drainLocked(idx *MemTable) (int, error) {
	batch := wb.recordsLocked()
	sortRecords(batch)

	if err := idx.Reserve(len(batch)); err != nil {
		return 0, err
	}
	for _, rec := range batch {
		if _, err := idx.Add(rec, SourceBuffer); err != nil {
			return 0, err
		}
	}

	tail, _ := wb.tail.load()
	wb.head.store((tail + 1) % BufferCapacity)
	wb.occupancy.Clear()
	wb.fingerprint = digest.Digest{}
	wb.size = 0
	return len(batch), nil
}

// recordsLocked returns live records oldest first.
func (wb *WriteBuffer) recordsLocked() []Record {
	out := make([]Record, 0, wb.size)
	head, ok := wb.head.load()
	if !ok {
		return out
	}
	for i := 0; i < wb.size; i++ {
		out = append(out, wb.slots[(head+i)%BufferCapacity])
	}
	return out
}

// Records returns a snapshot of the live records, oldest first.
func (wb *WriteBuffer) Records() []Record {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.recordsLocked()
}

// Lookup returns the newest record for d still in the buffer.
func (wb *WriteBuffer) Lookup(d digest.Digest) (Record, bool) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	tail, ok := wb.tail.load()
	if !ok {
		return Record{}, false
	}
	for i := 0; i < wb.size; i++ {
		slot := (tail - i + BufferCapacity) % BufferCapacity
		if wb.slots[slot].Digest == d {
			return wb.slots[slot], true
		}
	}
	return Record{}, false
}

// Oldest returns the record at the head. ErrEmptyBuffer means no record is live.
func (wb *WriteBuffer) Oldest() (Record, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	head, ok := wb.head.load()
	if !ok || wb.size == 0 {
		return Record{}, ErrEmptyBuffer
	}
	return wb.slots[head], nil
}

// Newest returns the record at the tail. ErrEmptyBuffer means no record is live.
func (wb *WriteBuffer) Newest() (Record, error) {
	wb.mu.Lock()
	defer wb.mu.Unlock()

	tail, ok := wb.tail.load()
	if !ok || wb.size == 0 {
		return Record{}, ErrEmptyBuffer
	}
	return wb.slots[tail], nil
}

// SetSequence raises the last issued sequence number to at least n, so
// records written after a reopen order after every recovered one.
func (wb *WriteBuffer) SetSequence(n uint64) {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	wb.seq = max(wb.seq, n)
}

// Sequence returns the last issued sequence number
func (wb *WriteBuffer) Sequence() uint64 {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.seq
}

// Len returns the number of live records
func (wb *WriteBuffer) Len() int {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.size
}

// Cap returns the buffer capacity
func (wb *WriteBuffer) Cap() int {
	return BufferCapacity
}

// Full reports whether the next insert would overwrite a record
func (wb *WriteBuffer) Full() bool {
	return wb.Len() == BufferCapacity
}

// Head returns the slot of the oldest record. ok is false before the first insert.
func (wb *WriteBuffer) Head() (slot int, ok bool) {
	return wb.head.load()
}

// Tail returns the slot of the newest record. ok is false before the first insert.
func (wb *WriteBuffer) Tail() (slot int, ok bool) {
	return wb.tail.load()
}

// Fingerprint returns the XOR of every live digest.
func (wb *WriteBuffer) Fingerprint() digest.Digest {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.fingerprint
}

// Occupancy returns the occupied slot numbers in ascending order.
func (wb *WriteBuffer) Occupancy() []uint32 {
	wb.mu.Lock()
	defer wb.mu.Unlock()
	return wb.occupancy.ToArray()
}
