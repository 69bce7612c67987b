package lsm

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/onechain/pkg/digest"
)

// TestWriteBufferInvariants checks the ring's cursor and fingerprint
// bookkeeping for arbitrary insert sequences.
func TestWriteBufferInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("size, head and tail within capacity", prop.ForAll(
		func(n int) bool {
			wb := NewWriteBuffer()
			for i := 0; i < n; i++ {
				wb.Add(digest.KeyFromUint64(uint64(i)))
			}
			head, hok := wb.Head()
			tail, tok := wb.Tail()
			return wb.Len() == n && hok && tok && head == 0 && tail == n-1
		},
		gen.IntRange(1, BufferCapacity),
	))

	properties.Property("size saturates at capacity", prop.ForAll(
		func(n int) bool {
			wb := NewWriteBuffer()
			for i := 0; i < n; i++ {
				wb.Add(digest.KeyFromUint64(uint64(i)))
			}
			return wb.Len() == BufferCapacity && len(wb.Occupancy()) == BufferCapacity
		},
		gen.IntRange(BufferCapacity+1, 5*BufferCapacity),
	))

	properties.Property("fingerprint is xor of live digests", prop.ForAll(
		func(keys []uint64, deletes []bool) bool {
			wb := NewWriteBuffer()
			for i, k := range keys {
				if i < len(deletes) && deletes[i] {
					wb.Delete(digest.KeyFromUint64(k))
				} else {
					wb.Add(digest.KeyFromUint64(k))
				}
			}
			var want digest.Digest
			for _, rec := range wb.Records() {
				want = want.Xor(rec.Digest)
			}
			return wb.Fingerprint() == want
		},
		gen.SliceOf(gen.UInt64()),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("second distinct key changes fingerprint", prop.ForAll(
		func(a, b uint64) bool {
			if a == b {
				return true
			}
			wb := NewWriteBuffer()
			wb.Add(digest.KeyFromUint64(a))
			before := wb.Fingerprint()
			wb.Add(digest.KeyFromUint64(b))
			return wb.Fingerprint() != before
		},
		gen.UInt64(),
		gen.UInt64(),
	))

	properties.Property("flush below capacity mutates nothing", prop.ForAll(
		func(n int) bool {
			mt := newTestMemTable(t, 0)
			wb := NewWriteBuffer()
			for i := 0; i < n; i++ {
				wb.Add(digest.KeyFromUint64(uint64(i)))
			}
			fp := wb.Fingerprint()
			head, _ := wb.Head()
			tail, _ := wb.Tail()

			flushed, err := wb.Flush(mt)
			h2, _ := wb.Head()
			t2, _ := wb.Tail()
			return !flushed && err == nil && wb.Len() == n && wb.Fingerprint() == fp &&
				h2 == head && t2 == tail && mt.Size() == 0
		},
		gen.IntRange(0, BufferCapacity-1),
	))

	properties.TestingRun(t)
}

func TestSortProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("output is sorted and a permutation", prop.ForAll(
		func(keys []uint64) bool {
			records := make([]Record, len(keys))
			counts := make(map[digest.Digest]int)
			for i, k := range keys {
				records[i] = Record{Digest: digestOf(k % 64)}
				counts[records[i].Digest]++
			}
			sortRecords(records)
			for _, r := range records {
				counts[r.Digest]--
			}
			for _, n := range counts {
				if n != 0 {
					return false
				}
			}
			return isSorted(records)
		},
		gen.SliceOf(gen.UInt64()),
	))

	properties.TestingRun(t)
}

func TestBloomProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("no false negatives", prop.ForAll(
		func(keys []uint64) bool {
			bf := NewBloomFilter()
			for _, k := range keys {
				bf.Add(digestOf(k))
			}
			for _, k := range keys {
				if !bf.MayContain(digestOf(k)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt64()),
	))

	properties.TestingRun(t)
}

func TestMemTableProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("level 0 stays sorted", prop.ForAll(
		func(keys []uint64, sources []uint8) bool {
			mt := newTestMemTable(t, 0)
			for i, k := range keys {
				if i >= mt.Cap() {
					break
				}
				src := DataSource(0)
				if i < len(sources) {
					src = DataSource(sources[i] % 3)
				}
				if _, err := mt.Add(Record{Digest: digestOf(k), Timestamp: int64(i)}, src); err != nil {
					return false
				}
			}
			records := mt.Records()
			counts := mt.LevelCounts()
			return isSorted(records) && counts[0] == len(records)
		},
		gen.SliceOf(gen.UInt64()),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
