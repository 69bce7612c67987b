package lsm

import (
	"bytes"
	"hash/crc32"

	"golang.org/x/exp/mmap"
)

// OpenSegment maps the segment at path read-only and verifies it: footer
// magic and version, block layout, body checksum, bloom filter, index and
// meta block. Any verification failure wraps ErrCorruptSegment.
func OpenSegment(path string) (*Segment, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, &SegmentError{Op: "open", Path: path, Cause: err}
	}

	seg, err := loadSegment(path, reader)
	if err != nil {
		_ = reader.Close()
		return nil, &SegmentError{Op: "open", Path: path, Cause: err}
	}
	return seg, nil
}

func loadSegment(path string, reader *mmap.ReaderAt) (*Segment, error) {
	size := reader.Len()
	if size < FooterSize+MetaBlockSize {
		return nil, corruptf("file too small (%d bytes)", size)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := reader.ReadAt(footerBuf, int64(size-FooterSize)); err != nil {
		return nil, err
	}
	footer, err := decodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	if err := footer.validate(size); err != nil {
		return nil, err
	}

	body := make([]byte, footer.BodyLen)
	if _, err := reader.ReadAt(body, 0); err != nil {
		return nil, err
	}
	if sum := crc32.ChecksumIEEE(body); sum != footer.Checksum {
		return nil, corruptf("checksum mismatch: stored %08x, computed %08x", footer.Checksum, sum)
	}

	bloom := &BloomFilter{}
	if err := bloom.UnmarshalBinary(body[:footer.BloomLen]); err != nil {
		return nil, corruptf("bloom filter: %v", err)
	}

	index, err := decodeIndexBlock(body[footer.IndexOff:footer.DataOff])
	if err != nil {
		return nil, err
	}

	meta, err := decodeMetaBlock(body[footer.MetaOff:footer.BodyLen])
	if err != nil {
		return nil, err
	}

	if err := checkCounts(footer, meta, index); err != nil {
		return nil, err
	}

	seg := &Segment{
		path:   path,
		reader: reader,
		footer: footer,
		meta:   meta,
		bloom:  bloom,
		index:  index,
	}

	if meta.Codec != CodecNone {
		data, err := decompress(meta.Codec, body[footer.DataOff:footer.MetaOff], int(meta.RawDataLen))
		if err != nil {
			return nil, err
		}
		seg.data = data
	}
	return seg, nil
}

// checkCounts cross-checks the entry counts and digest bounds recorded in
// the footer, meta block and index.
func checkCounts(footer Footer, meta MetaBlock, index []IndexEntry) error {
	n := len(index)
	switch {
	case n == 0:
		return corruptf("segment has no entries")
	case uint32(n) != footer.EntryCount || meta.EntryCount != footer.EntryCount:
		return corruptf("entry count mismatch: footer %d, meta %d, index %d", footer.EntryCount, meta.EntryCount, n)
	case uint64(meta.RawDataLen) != uint64(n)*dataEntrySize:
		return corruptf("raw data length %d does not hold %d entries", meta.RawDataLen, n)
	case meta.Codec == CodecNone && footer.DataLen != meta.RawDataLen:
		return corruptf("uncompressed data length %d, want %d", footer.DataLen, meta.RawDataLen)
	case meta.Codec > CodecZstd:
		return corruptf("unknown codec %d", meta.Codec)
	case !bytes.Equal(index[0].Digest[:], footer.MinDigest[:]) || !bytes.Equal(index[n-1].Digest[:], footer.MaxDigest[:]):
		return corruptf("index bounds do not match footer")
	}

	for i, e := range index {
		if uint64(e.Offset)+dataEntrySize > uint64(meta.RawDataLen) {
			return corruptf("index entry %d offset %d out of range", i, e.Offset)
		}
		if i > 0 && e.Digest.Less(index[i-1].Digest) {
			return corruptf("index not sorted at entry %d", i)
		}
	}
	return nil
}
