package lsm

import (
	"io"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/onechain/pkg/digest"
)

// Segment is an open, verified, read-only segment file backed by mmap.
// Uncompressed segments are read entry by entry from the mapping;
// compressed ones keep the decoded data block in memory.
type Segment struct {
	path   string
	reader *mmap.ReaderAt
	footer Footer
	meta   MetaBlock
	bloom  *BloomFilter
	index  []IndexEntry
	data   []byte // decoded data block, nil for CodecNone
	closed atomic.Bool
}

// Path returns the segment file path
func (s *Segment) Path() string {
	return s.path
}

// Footer returns the decoded footer
func (s *Segment) Footer() Footer {
	return s.footer
}

// Meta returns the decoded meta block
func (s *Segment) Meta() MetaBlock {
	return s.meta
}

// Len returns the number of records in the segment
func (s *Segment) Len() int {
	return len(s.index)
}

// Info summarises the segment
func (s *Segment) Info() SegmentInfo {
	return SegmentInfo{
		Path:       s.path,
		ID:         s.meta.SegmentID,
		EntryCount: len(s.index),
		Size:       int64(s.reader.Len()),
		MinDigest:  s.footer.MinDigest,
		MaxDigest:  s.footer.MaxDigest,
		CreatedAt:  time.UnixMilli(s.meta.CreatedAt),
		Codec:      s.meta.Codec,
		MergeCount: s.meta.MergeCount,
		MaxSeq:     s.meta.MaxSeq,
	}
}

// MayContain checks the digest bounds and the bloom filter.
// False positives are possible, false negatives are not.
func (s *Segment) MayContain(d digest.Digest) bool {
	if d.Less(s.footer.MinDigest) || s.footer.MaxDigest.Less(d) {
		return false
	}
	return s.bloom.MayContain(d)
}

// Get returns the winning record for d. A tombstone is returned as found;
// callers decide what it means.
func (s *Segment) Get(d digest.Digest) (Record, bool, error) {
	if s.closed.Load() {
		return Record{}, false, &SegmentError{Op: "get", Path: s.path, Cause: os.ErrClosed}
	}
	if !s.MayContain(d) {
		return Record{}, false, nil
	}

	i := sort.Search(len(s.index), func(i int) bool {
		return !s.index[i].Digest.Less(d)
	})

	var (
		best  Record
		found bool
	)
	for ; i < len(s.index) && s.index[i].Digest == d; i++ {
		rec, err := s.recordAt(s.index[i].Offset)
		if err != nil {
			return Record{}, false, &SegmentError{Op: "get", Path: s.path, Cause: err}
		}
		if !found || rec.newer(best) {
			best, found = rec, true
		}
	}
	return best, found, nil
}

// Records decodes every record in digest order.
func (s *Segment) Records() ([]Record, error) {
	if s.closed.Load() {
		return nil, &SegmentError{Op: "read", Path: s.path, Cause: os.ErrClosed}
	}

	records := make([]Record, len(s.index))
	for i, e := range s.index {
		rec, err := s.recordAt(e.Offset)
		if err != nil {
			return nil, &SegmentError{Op: "read", Path: s.path, Cause: err}
		}
		records[i] = rec
	}
	return records, nil
}

// recordAt decodes the record at off within the data block.
func (s *Segment) recordAt(off uint32) (Record, error) {
	if s.data != nil {
		return decodeRecord(s.data[off:]), nil
	}

	var buf [dataEntrySize]byte
	if _, err := s.reader.ReadAt(buf[:], int64(s.footer.DataOff)+int64(off)); err != nil {
		return Record{}, err
	}
	return decodeRecord(buf[:]), nil
}

// Close unmaps the segment. It is safe to call more than once.
func (s *Segment) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.reader.Close()
}

// Delete closes the segment and removes its file
func (s *Segment) Delete() error {
	_ = s.Close()
	return os.Remove(s.path)
}

var _ io.Closer = (*Segment)(nil)
