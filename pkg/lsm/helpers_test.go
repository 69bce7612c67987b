package lsm

import (
	"testing"

	"github.com/dd0wney/onechain/pkg/digest"
)

// digestOf returns the digest of the key encoding n
func digestOf(n uint64) digest.Digest {
	return digest.Sum(digest.KeyFromUint64(n))
}

// makeRecords builds count live records for keys [start, start+count)
func makeRecords(start, count int, ts int64) []Record {
	records := make([]Record, count)
	for i := range records {
		records[i] = Record{Digest: digestOf(uint64(start + i)), Timestamp: ts}
	}
	return records
}

// newTestMemTable creates a memtable writing segments into a temp dir
func newTestMemTable(t *testing.T, capacity int) *MemTable {
	t.Helper()
	mt, err := NewMemTable(MemTableOptions{
		Dir:      t.TempDir(),
		Capacity: capacity,
		Seed:     42,
	})
	if err != nil {
		t.Fatalf("NewMemTable failed: %v", err)
	}
	t.Cleanup(func() { _ = mt.Close() })
	return mt
}

func isSorted(records []Record) bool {
	for i := 1; i < len(records); i++ {
		if records[i].Digest.Less(records[i-1].Digest) {
			return false
		}
	}
	return true
}
