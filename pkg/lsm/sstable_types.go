package lsm

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/onechain/pkg/digest"
)

// Segment format (little-endian). The file is a whole number of OS pages:
//
//	[Bloom Filter: bloom_len bytes]
//	[Index Block:  count(4) | count × (digest(16) | offset(4))]
//	[Data Block:   codec-encoded count × (digest(16) | timestamp(8) | seq(8) | flags(1))]
//	[Meta Block:   codec(1) | created_at(8) | merge_count(4) | entry_count(4) |
//	               raw_data_len(4) | segment_id(16) | sources(1) | max_seq(8)]
//	[zero padding]
//	[Footer:       magic(4) | version(2) | flags(2) | bloom_len(4) | index_off(4) |
//	               data_off(4) | data_len(4) | meta_off(4) | body_len(4) |
//	               crc32(4) | entry_count(4) | min_digest(16) | max_digest(16)]
//
// The footer fills the last FooterSize bytes of the file. The checksum covers
// body bytes [0, body_len). Index offsets point into the decoded data block.

const (
	SegmentMagic   uint32 = 0x5353434F // "OCSS"
	SegmentVersion uint16 = 2

	FooterSize     = 72
	MetaBlockSize  = 46
	indexEntrySize = digest.Size + 4
	dataEntrySize  = digest.Size + 8 + 8 + 1

	segmentPrefix = "sstable-"
	SegmentExt    = ".segment"

	flagTombstone = 1 << 0
)

// Codec selects how the data block is compressed.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
	CodecZstd
)

// String returns the configuration name of the codec
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec converts a configuration name to a Codec
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CodecNone, nil
	case "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// SegmentOptions configures segment creation
type SegmentOptions struct {
	Compression Codec
	BloomBytes  int // 0 means DefaultBloomBytes

	// Lineage recorded in the meta block
	MergeCount uint32 // segments ingested into the source memtable
	Sources    uint8  // bitmask of DataSource values present
}

// DefaultSegmentOptions returns default segment configuration
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		Compression: CodecNone,
		BloomBytes:  DefaultBloomBytes,
	}
}

// Footer is the fixed trailer of every segment.
type Footer struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	BloomLen   uint32
	IndexOff   uint32
	DataOff    uint32
	DataLen    uint32
	MetaOff    uint32
	BodyLen    uint32
	Checksum   uint32
	EntryCount uint32
	MinDigest  digest.Digest
	MaxDigest  digest.Digest
}

// MetaBlock carries compression, time and merge metadata.
type MetaBlock struct {
	Codec      Codec
	CreatedAt  int64 // Unix milliseconds
	MergeCount uint32
	EntryCount uint32
	RawDataLen uint32
	SegmentID  uuid.UUID
	Sources    uint8
	MaxSeq     uint64 // highest record sequence number in the segment
}

// IndexEntry maps a digest to its offset in the decoded data block.
type IndexEntry struct {
	Digest digest.Digest
	Offset uint32
}

// SegmentInfo describes a segment on disk.
type SegmentInfo struct {
	Path       string
	ID         uuid.UUID
	EntryCount int
	Size       int64 // file bytes
	MinDigest  digest.Digest
	MaxDigest  digest.Digest
	CreatedAt  time.Time
	Codec      Codec
	MergeCount uint32
	MaxSeq     uint64
}

func sourceMask(src DataSource) uint8 {
	return 1 << src
}
