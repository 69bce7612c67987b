package lsm

import (
	"github.com/dd0wney/onechain/pkg/digest"
)

// MergeIterator merges multiple sorted segment iterators. Records sharing a
// digest collapse to the one that wins the tombstone policy.
type MergeIterator struct {
	iterators []*SegmentIterator
}

// SegmentIterator iterates over a segment in digest order
type SegmentIterator struct {
	seg     *Segment
	records []Record
	index   int
}

// NewSegmentIterator creates an iterator for a segment
func NewSegmentIterator(seg *Segment) (*SegmentIterator, error) {
	records, err := seg.Records()
	if err != nil {
		return nil, err
	}

	return &SegmentIterator{
		seg:     seg,
		records: records,
	}, nil
}

// Next advances the iterator
func (it *SegmentIterator) Next() (Record, bool) {
	if it.index >= len(it.records) {
		return Record{}, false
	}

	rec := it.records[it.index]
	it.index++
	return rec, true
}

// Peek returns current record without advancing
func (it *SegmentIterator) Peek() (Record, bool) {
	if it.index >= len(it.records) {
		return Record{}, false
	}
	return it.records[it.index], true
}

// NewMergeIterator creates an iterator that merges multiple segments
func NewMergeIterator(segments []*Segment) (*MergeIterator, error) {
	iterators := make([]*SegmentIterator, 0, len(segments))

	for _, seg := range segments {
		it, err := NewSegmentIterator(seg)
		if err != nil {
			return nil, err
		}
		iterators = append(iterators, it)
	}

	return &MergeIterator{
		iterators: iterators,
	}, nil
}

// Next returns the next distinct digest in sorted order across all
// iterators, resolved to its winning record.
func (mi *MergeIterator) Next() (Record, bool) {
	var (
		minDigest digest.Digest
		found     bool
	)

	// Find minimum digest across all iterators
	for _, it := range mi.iterators {
		rec, ok := it.Peek()
		if !ok {
			continue
		}
		if !found || rec.Digest.Less(minDigest) {
			minDigest = rec.Digest
			found = true
		}
	}

	if !found {
		return Record{}, false
	}

	// Drain every record for that digest and keep the winner
	var (
		best Record
		have bool
	)
	for _, it := range mi.iterators {
		for {
			rec, ok := it.Peek()
			if !ok || rec.Digest != minDigest {
				break
			}
			it.Next()
			if !have || rec.newer(best) {
				best, have = rec, true
			}
		}
	}
	return best, true
}
