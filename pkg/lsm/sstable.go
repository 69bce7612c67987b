package lsm

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// segmentName returns the file name for a segment created at millis. The
// seq suffix disambiguates segments created within the same millisecond.
func segmentName(millis int64, seq int) string {
	if seq == 0 {
		return fmt.Sprintf("%s%d%s", segmentPrefix, millis, SegmentExt)
	}
	return fmt.Sprintf("%s%d-%d%s", segmentPrefix, millis, seq, SegmentExt)
}

// parseSegmentName extracts the creation time and sequence from a segment
// file name. ok is false for files that are not segments.
func parseSegmentName(name string) (millis int64, seq int, ok bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, SegmentExt) {
		return 0, 0, false
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), SegmentExt)

	ts, suffix, hasSeq := strings.Cut(stem, "-")
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || millis < 0 {
		return 0, 0, false
	}
	if hasSeq {
		seq, err = strconv.Atoi(suffix)
		if err != nil || seq <= 0 {
			return 0, 0, false
		}
	}
	return millis, seq, true
}

// ListSegments returns the paths of all segment files in dir, oldest first.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type named struct {
		path   string
		millis int64
		seq    int
	}
	found := make([]named, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		millis, seq, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		found = append(found, named{filepath.Join(dir, e.Name()), millis, seq})
	}

	slices.SortFunc(found, func(a, b named) int {
		if c := cmp.Compare(a.millis, b.millis); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	paths := make([]string, len(found))
	for i, n := range found {
		paths[i] = n.path
	}
	return paths, nil
}
