package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/dd0wney/onechain/pkg/digest"
)

// blockWriter appends blocks into a mapped region at increasing offsets.
type blockWriter struct {
	buf []byte
	off int
}

func (w *blockWriter) write(p []byte) int {
	start := w.off
	w.off += copy(w.buf[w.off:], p)
	return start
}

func (w *blockWriter) putUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

// encodeIndexBlock writes count | count × (digest | offset)
func encodeIndexBlock(records []Record) []byte {
	out := make([]byte, 4+len(records)*indexEntrySize)
	binary.LittleEndian.PutUint32(out, uint32(len(records)))
	pos := 4
	for i, rec := range records {
		copy(out[pos:], rec.Digest[:])
		binary.LittleEndian.PutUint32(out[pos+digest.Size:], uint32(i*dataEntrySize))
		pos += indexEntrySize
	}
	return out
}

func decodeIndexBlock(data []byte) ([]IndexEntry, error) {
	if len(data) < 4 {
		return nil, corruptf("index block truncated")
	}
	count := binary.LittleEndian.Uint32(data)
	if int(count) > (len(data)-4)/indexEntrySize {
		return nil, corruptf("index block claims %d entries in %d bytes", count, len(data))
	}

	index := make([]IndexEntry, count)
	pos := 4
	for i := range index {
		copy(index[i].Digest[:], data[pos:])
		index[i].Offset = binary.LittleEndian.Uint32(data[pos+digest.Size:])
		pos += indexEntrySize
	}
	return index, nil
}

// encodeDataBlock writes the raw (uncompressed) data block
func encodeDataBlock(records []Record) []byte {
	out := make([]byte, len(records)*dataEntrySize)
	for i, rec := range records {
		encodeRecord(out[i*dataEntrySize:], rec)
	}
	return out
}

func encodeRecord(dst []byte, rec Record) {
	copy(dst, rec.Digest[:])
	binary.LittleEndian.PutUint64(dst[digest.Size:], uint64(rec.Timestamp))
	binary.LittleEndian.PutUint64(dst[digest.Size+8:], rec.Seq)
	var flags byte
	if rec.Tombstone {
		flags |= flagTombstone
	}
	dst[digest.Size+16] = flags
}

func decodeRecord(src []byte) Record {
	var rec Record
	copy(rec.Digest[:], src)
	rec.Timestamp = int64(binary.LittleEndian.Uint64(src[digest.Size:]))
	rec.Seq = binary.LittleEndian.Uint64(src[digest.Size+8:])
	rec.Tombstone = src[digest.Size+16]&flagTombstone != 0
	return rec
}

func encodeMetaBlock(m MetaBlock) []byte {
	out := make([]byte, MetaBlockSize)
	out[0] = byte(m.Codec)
	binary.LittleEndian.PutUint64(out[1:], uint64(m.CreatedAt))
	binary.LittleEndian.PutUint32(out[9:], m.MergeCount)
	binary.LittleEndian.PutUint32(out[13:], m.EntryCount)
	binary.LittleEndian.PutUint32(out[17:], m.RawDataLen)
	copy(out[21:37], m.SegmentID[:])
	out[37] = m.Sources
	binary.LittleEndian.PutUint64(out[38:], m.MaxSeq)
	return out
}

func decodeMetaBlock(data []byte) (MetaBlock, error) {
	var m MetaBlock
	if len(data) < MetaBlockSize {
		return m, corruptf("meta block truncated")
	}
	m.Codec = Codec(data[0])
	m.CreatedAt = int64(binary.LittleEndian.Uint64(data[1:]))
	m.MergeCount = binary.LittleEndian.Uint32(data[9:])
	m.EntryCount = binary.LittleEndian.Uint32(data[13:])
	m.RawDataLen = binary.LittleEndian.Uint32(data[17:])
	id, err := uuid.FromBytes(data[21:37])
	if err != nil {
		return m, corruptf("segment id: %v", err)
	}
	m.SegmentID = id
	m.Sources = data[37]
	m.MaxSeq = binary.LittleEndian.Uint64(data[38:])
	return m, nil
}

func encodeFooter(f Footer) []byte {
	out := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(out[0:], f.Magic)
	binary.LittleEndian.PutUint16(out[4:], f.Version)
	binary.LittleEndian.PutUint16(out[6:], f.Flags)
	binary.LittleEndian.PutUint32(out[8:], f.BloomLen)
	binary.LittleEndian.PutUint32(out[12:], f.IndexOff)
	binary.LittleEndian.PutUint32(out[16:], f.DataOff)
	binary.LittleEndian.PutUint32(out[20:], f.DataLen)
	binary.LittleEndian.PutUint32(out[24:], f.MetaOff)
	binary.LittleEndian.PutUint32(out[28:], f.BodyLen)
	binary.LittleEndian.PutUint32(out[32:], f.Checksum)
	binary.LittleEndian.PutUint32(out[36:], f.EntryCount)
	copy(out[40:56], f.MinDigest[:])
	copy(out[56:72], f.MaxDigest[:])
	return out
}

func decodeFooter(data []byte) (Footer, error) {
	var f Footer
	if len(data) < FooterSize {
		return f, corruptf("footer truncated")
	}
	f.Magic = binary.LittleEndian.Uint32(data[0:])
	if f.Magic != SegmentMagic {
		return f, corruptf("bad magic %#x", f.Magic)
	}
	f.Version = binary.LittleEndian.Uint16(data[4:])
	if f.Version != SegmentVersion {
		return f, corruptf("unsupported version %d", f.Version)
	}
	f.Flags = binary.LittleEndian.Uint16(data[6:])
	f.BloomLen = binary.LittleEndian.Uint32(data[8:])
	f.IndexOff = binary.LittleEndian.Uint32(data[12:])
	f.DataOff = binary.LittleEndian.Uint32(data[16:])
	f.DataLen = binary.LittleEndian.Uint32(data[20:])
	f.MetaOff = binary.LittleEndian.Uint32(data[24:])
	f.BodyLen = binary.LittleEndian.Uint32(data[28:])
	f.Checksum = binary.LittleEndian.Uint32(data[32:])
	f.EntryCount = binary.LittleEndian.Uint32(data[36:])
	copy(f.MinDigest[:], data[40:56])
	copy(f.MaxDigest[:], data[56:72])
	return f, nil
}

// validate checks that the blocks are laid out in order inside the body.
func (f Footer) validate(fileSize int) error {
	switch {
	case f.BloomLen == 0:
		return corruptf("empty bloom filter")
	case f.IndexOff != f.BloomLen:
		return corruptf("index offset %d does not follow bloom filter", f.IndexOff)
	case f.DataOff < f.IndexOff || f.MetaOff < f.DataOff:
		return corruptf("blocks out of order")
	case uint64(f.DataOff)+uint64(f.DataLen) != uint64(f.MetaOff):
		return corruptf("data block length %d does not reach meta block", f.DataLen)
	case uint64(f.MetaOff)+MetaBlockSize != uint64(f.BodyLen):
		return corruptf("meta block does not end the body")
	case int(f.BodyLen)+FooterSize > fileSize:
		return corruptf("body length %d exceeds file size %d", f.BodyLen, fileSize)
	}
	return nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// compress encodes a raw data block with codec
func compress(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return raw, nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd compress: %w", err)
		}
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

// decompress decodes a data block and checks it against the expected raw length
func decompress(codec Codec, data []byte, rawLen int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch codec {
	case CodecNone:
		out = data
	case CodecSnappy:
		out, err = snappy.Decode(nil, data)
	case CodecLZ4:
		out, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case CodecZstd:
		var dec *zstd.Decoder
		if _, dec, err = zstdCodecs(); err == nil {
			out, err = dec.DecodeAll(data, nil)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
	if err != nil {
		return nil, corruptf("%s data block: %v", codec, err)
	}
	if len(out) != rawLen {
		return nil, corruptf("data block decoded to %d bytes, want %d", len(out), rawLen)
	}
	return out, nil
}
