package lsm

import (
	"github.com/dd0wney/onechain/pkg/digest"
)

// sortRecords sorts records in place by digest using quicksort with a
// median-of-three pivot. The sort is not stable.
func sortRecords(records []Record) {
	if len(records) <= 1 {
		return
	}

	last := len(records) - 1
	pivot := medianOfThree(records, 0, len(records)/2, last)
	p := partition(records, pivot)

	sortRecords(records[:p])
	sortRecords(records[p+1:])
}

// partition moves the pivot to the end, sweeps smaller digests to the
// front (Lomuto) and returns the pivot's final position.
func partition(records []Record, pivot int) int {
	last := len(records) - 1
	pivotDigest := records[pivot].Digest
	records[pivot], records[last] = records[last], records[pivot]

	j := 0
	for i := 0; i < last; i++ {
		if digest.Compare(records[i].Digest, pivotDigest) < 0 {
			records[i], records[j] = records[j], records[i]
			j++
		}
	}
	records[j], records[last] = records[last], records[j]
	return j
}

// medianOfThree returns whichever of a, b, c holds the median digest.
func medianOfThree(records []Record, a, b, c int) int {
	va, vb, vc := records[a].Digest, records[b].Digest, records[c].Digest
	ab := digest.Compare(va, vb) > 0
	ac := digest.Compare(va, vc) > 0
	if ab != ac {
		return a
	}
	ba := digest.Compare(vb, va) > 0
	bc := digest.Compare(vb, vc) > 0
	if ba != bc {
		return b
	}
	return c
}
