package lsm

import (
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/onechain/pkg/digest"
	"github.com/dd0wney/onechain/pkg/sys"
)

// maxNameAttempts bounds the search for a free segment name within one millisecond.
const maxNameAttempts = 1024

// CreateSegment writes records to a new immutable segment file in dir.
// Records are sorted by digest before they are written. The file is sized
// to a whole number of pages, written through a shared memory mapping and
// synced before CreateSegment returns. On any failure the file is removed.
func CreateSegment(dir string, records []Record, opts SegmentOptions) (*SegmentInfo, error) {
	if len(records) == 0 {
		return nil, &SegmentError{Op: "create", Cause: ErrEmptyIndex}
	}

	sorted := slices.Clone(records)
	if !slices.IsSortedFunc(sorted, compareRecords) {
		sortRecords(sorted)
	}

	bloomBytes := opts.BloomBytes
	if bloomBytes <= 0 {
		bloomBytes = DefaultBloomBytes
	}
	bloom := NewBloomFilterSized(bloomBytes)
	for _, rec := range sorted {
		bloom.Add(rec.Digest)
	}

	var maxSeq uint64
	for _, rec := range sorted {
		maxSeq = max(maxSeq, rec.Seq)
	}

	raw := encodeDataBlock(sorted)
	data, err := compress(opts.Compression, raw)
	if err != nil {
		return nil, &SegmentError{Op: "create", Cause: err}
	}

	createdAt := time.Now()
	id := uuid.New()
	meta := MetaBlock{
		Codec:      opts.Compression,
		CreatedAt:  createdAt.UnixMilli(),
		MergeCount: opts.MergeCount,
		EntryCount: uint32(len(sorted)),
		RawDataLen: uint32(len(raw)),
		SegmentID:  id,
		Sources:    opts.Sources,
		MaxSeq:     maxSeq,
	}

	bloomData := bloom.MarshalBinary()
	indexData := encodeIndexBlock(sorted)

	bodyLen := uint64(len(bloomData)) + uint64(len(indexData)) + uint64(len(data)) + MetaBlockSize
	if bodyLen+FooterSize > math.MaxUint32 || uint64(len(raw)) > math.MaxUint32 {
		return nil, &SegmentError{Op: "create", Cause: ErrSegmentTooLarge}
	}
	size := sys.RoundToPage(int(bodyLen) + FooterSize)

	f, path, err := createSegmentFile(dir, createdAt.UnixMilli())
	if err != nil {
		return nil, &SegmentError{Op: "create", Path: dir, Cause: err}
	}

	if err := writeSegment(f, size, func(buf []byte) {
		w := &blockWriter{buf: buf}
		w.write(bloomData)
		indexOff := w.write(indexData)
		dataOff := w.write(data)
		metaOff := w.write(encodeMetaBlock(meta))

		footer := Footer{
			Magic:      SegmentMagic,
			Version:    SegmentVersion,
			BloomLen:   uint32(len(bloomData)),
			IndexOff:   uint32(indexOff),
			DataOff:    uint32(dataOff),
			DataLen:    uint32(len(data)),
			MetaOff:    uint32(metaOff),
			BodyLen:    uint32(w.off),
			Checksum:   crc32.ChecksumIEEE(buf[:w.off]),
			EntryCount: uint32(len(sorted)),
			MinDigest:  sorted[0].Digest,
			MaxDigest:  sorted[len(sorted)-1].Digest,
		}
		copy(buf[len(buf)-FooterSize:], encodeFooter(footer))
	}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, &SegmentError{Op: "create", Path: path, Cause: err}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, &SegmentError{Op: "create", Path: path, Cause: err}
	}

	return &SegmentInfo{
		Path:       path,
		ID:         id,
		EntryCount: len(sorted),
		Size:       int64(size),
		MinDigest:  sorted[0].Digest,
		MaxDigest:  sorted[len(sorted)-1].Digest,
		CreatedAt:  time.UnixMilli(meta.CreatedAt),
		Codec:      opts.Compression,
		MergeCount: opts.MergeCount,
		MaxSeq:     maxSeq,
	}, nil
}

// writeSegment maps f at size bytes, lets fill populate the mapping and
// syncs it. Platforms without mmap get an in-memory buffer written with
// WriteAt instead.
func writeSegment(f *os.File, size int, fill func(buf []byte)) error {
	m, err := sys.Map(f, size)
	if errors.Is(err, sys.ErrUnsupported) {
		buf := make([]byte, size)
		fill(buf)
		if _, err := f.WriteAt(buf, 0); err != nil {
			return err
		}
		return f.Sync()
	}
	if err != nil {
		return err
	}

	fill(m.Bytes())
	if err := m.Sync(); err != nil {
		_ = m.Close()
		return err
	}
	return m.Close()
}

// createSegmentFile exclusively creates the first free segment name for millis.
func createSegmentFile(dir string, millis int64) (*os.File, string, error) {
	for seq := 0; seq < maxNameAttempts; seq++ {
		path := filepath.Join(dir, segmentName(millis, seq))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, path, nil
	}
	return nil, "", fmt.Errorf("no free segment name for %d after %d attempts", millis, maxNameAttempts)
}

func compareRecords(a, b Record) int {
	return digest.Compare(a.Digest, b.Digest)
}
