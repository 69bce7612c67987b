package lsm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dd0wney/onechain/pkg/digest"
	"github.com/dd0wney/onechain/pkg/sys"
)

// createTestSegment writes records to dir and opens the result
func createTestSegment(t *testing.T, dir string, records []Record, opts SegmentOptions) *Segment {
	t.Helper()
	info, err := CreateSegment(dir, records, opts)
	if err != nil {
		t.Fatalf("CreateSegment failed: %v", err)
	}
	seg, err := OpenSegment(info.Path)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

// TestSSTable_CreateAndOpen tests creating and reopening a segment
func TestSSTable_CreateAndOpen(t *testing.T) {
	dir := t.TempDir()
	records := makeRecords(0, 100, 5)
	records[3].Tombstone = true

	info, err := CreateSegment(dir, records, DefaultSegmentOptions())
	if err != nil {
		t.Fatalf("CreateSegment failed: %v", err)
	}

	if info.EntryCount != len(records) {
		t.Errorf("Expected %d entries, got %d", len(records), info.EntryCount)
	}
	if info.Size%int64(sys.PageSize()) != 0 {
		t.Errorf("Expected page-rounded size, got %d", info.Size)
	}
	st, err := os.Stat(info.Path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Size() != info.Size {
		t.Errorf("Expected file size %d, got %d", info.Size, st.Size())
	}

	seg, err := OpenSegment(info.Path)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}
	defer seg.Close()

	footer := seg.Footer()
	if footer.Magic != SegmentMagic {
		t.Errorf("Expected magic %x, got %x", SegmentMagic, footer.Magic)
	}
	if footer.Version != SegmentVersion {
		t.Errorf("Expected version %d, got %d", SegmentVersion, footer.Version)
	}
	if footer.BloomLen != DefaultBloomBytes {
		t.Errorf("Expected bloom of %d bytes, got %d", DefaultBloomBytes, footer.BloomLen)
	}
	if seg.Len() != len(records) {
		t.Errorf("Expected %d records, got %d", len(records), seg.Len())
	}

	got := seg.Info()
	if got.ID != info.ID {
		t.Errorf("Expected segment id %s, got %s", info.ID, got.ID)
	}
	if got.MinDigest != info.MinDigest || got.MaxDigest != info.MaxDigest {
		t.Error("Digest bounds differ between create and open")
	}
	if seg.Meta().RawDataLen != uint32(len(records)*dataEntrySize) {
		t.Errorf("Unexpected raw data length %d", seg.Meta().RawDataLen)
	}

	for _, rec := range records {
		r, found, err := seg.Get(rec.Digest)
		if err != nil || !found {
			t.Fatalf("Get(%s): found=%v err=%v", rec.Digest, found, err)
		}
		if r != rec {
			t.Errorf("Expected %+v, got %+v", rec, r)
		}
	}
}

// TestSSTable_Codecs tests every data block codec
func TestSSTable_Codecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			records := makeRecords(0, 300, 9)
			seg := createTestSegment(t, t.TempDir(), records, SegmentOptions{Compression: codec})

			if seg.Meta().Codec != codec {
				t.Errorf("Expected codec %s, got %s", codec, seg.Meta().Codec)
			}

			all, err := seg.Records()
			if err != nil {
				t.Fatalf("Records failed: %v", err)
			}
			if len(all) != len(records) {
				t.Fatalf("Expected %d records, got %d", len(records), len(all))
			}
			if !isSorted(all) {
				t.Error("Records not in digest order")
			}

			for _, rec := range records {
				if _, found, err := seg.Get(rec.Digest); err != nil || !found {
					t.Errorf("Get(%s): found=%v err=%v", rec.Digest, found, err)
				}
			}
		})
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecNone, false},
		{"none", CodecNone, false},
		{"Snappy", CodecSnappy, false},
		{"lz4", CodecLZ4, false},
		{"ZSTD", CodecZstd, false},
		{"gzip", CodecNone, true},
	}

	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCodec(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownCodec) {
			t.Errorf("ParseCodec(%q) error = %v, want ErrUnknownCodec", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCodec(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestSSTable_EmptyRecords tests that an empty memtable makes no segment
func TestSSTable_EmptyRecords(t *testing.T) {
	dir := t.TempDir()

	_, err := CreateSegment(dir, nil, DefaultSegmentOptions())
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("Expected ErrEmptyIndex, got %v", err)
	}

	var segErr *SegmentError
	if !errors.As(err, &segErr) || segErr.Op != "create" {
		t.Errorf("Expected create SegmentError, got %v", err)
	}

	paths, _ := ListSegments(dir)
	if len(paths) != 0 {
		t.Errorf("Expected no segment files, got %v", paths)
	}
}

// TestSSTable_UnsortedInput tests that input order does not matter
func TestSSTable_UnsortedInput(t *testing.T) {
	records := makeRecords(0, 50, 1)
	input := append([]Record(nil), records...)

	seg := createTestSegment(t, t.TempDir(), input, DefaultSegmentOptions())

	for i := range input {
		if input[i] != records[i] {
			t.Fatal("CreateSegment modified its input")
		}
	}
	all, err := seg.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if !isSorted(all) {
		t.Error("Expected sorted records")
	}
}

// TestSSTable_DuplicateDigests tests tombstone resolution within a segment
func TestSSTable_DuplicateDigests(t *testing.T) {
	d := digestOf(7)
	records := []Record{
		{Digest: d, Timestamp: 1},
		{Digest: d, Timestamp: 3, Tombstone: true},
		{Digest: d, Timestamp: 2},
		{Digest: digestOf(8), Timestamp: 1},
	}

	seg := createTestSegment(t, t.TempDir(), records, DefaultSegmentOptions())

	got, found, err := seg.Get(d)
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if !got.Tombstone || got.Timestamp != 3 {
		t.Errorf("Expected newest tombstone, got %+v", got)
	}
}

// TestSSTable_SequenceNumbers tests that sequence numbers survive a round trip
// and order records written within one millisecond
func TestSSTable_SequenceNumbers(t *testing.T) {
	d := digestOf(7)
	records := []Record{
		{Digest: d, Timestamp: 5, Seq: 40},
		{Digest: d, Timestamp: 5, Seq: 41, Tombstone: true},
		{Digest: d, Timestamp: 5, Seq: 42},
		{Digest: digestOf(8), Timestamp: 4, Seq: 39},
	}

	for _, codec := range []Codec{CodecNone, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			opts := DefaultSegmentOptions()
			opts.Compression = codec
			seg := createTestSegment(t, t.TempDir(), records, opts)

			got, found, err := seg.Get(d)
			if err != nil || !found {
				t.Fatalf("Get failed: found=%v err=%v", found, err)
			}
			if got.Tombstone || got.Seq != 42 {
				t.Errorf("Expected the re-put with seq 42, got %+v", got)
			}
			if seg.Meta().MaxSeq != 42 || seg.Info().MaxSeq != 42 {
				t.Errorf("Expected max seq 42, meta %d info %d", seg.Meta().MaxSeq, seg.Info().MaxSeq)
			}

			all, err := seg.Records()
			if err != nil {
				t.Fatalf("Records failed: %v", err)
			}
			seqs := make(map[uint64]bool)
			for _, rec := range all {
				seqs[rec.Seq] = true
			}
			for _, want := range []uint64{39, 40, 41, 42} {
				if !seqs[want] {
					t.Errorf("seq %d lost in round trip", want)
				}
			}
		})
	}
}

// TestSSTable_MayContain tests digest bounds and the bloom filter
func TestSSTable_MayContain(t *testing.T) {
	records := makeRecords(0, 200, 1)
	seg := createTestSegment(t, t.TempDir(), records, DefaultSegmentOptions())

	for _, rec := range records {
		if !seg.MayContain(rec.Digest) {
			t.Fatalf("False negative for %s", rec.Digest)
		}
	}

	var lowest, highest digest.Digest
	for i := range highest {
		highest[i] = 0xFF
	}
	if seg.MayContain(lowest) {
		t.Error("Expected digest below minimum to be ruled out")
	}
	if seg.MayContain(highest) {
		t.Error("Expected digest above maximum to be ruled out")
	}

	falsePositives := 0
	for i := 1000; i < 3000; i++ {
		d := digestOf(uint64(i))
		if seg.MayContain(d) {
			falsePositives++
			if _, found, _ := seg.Get(d); found {
				t.Errorf("Get found absent digest %s", d)
			}
		}
	}
	if falsePositives > 60 {
		t.Errorf("Too many false positives: %d/2000", falsePositives)
	}
}

// TestSSTable_Corruption tests that damaged files are rejected
func TestSSTable_Corruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(data []byte)
	}{
		{"body byte", func(data []byte) { data[DefaultBloomBytes+10] ^= 0xFF }},
		{"bloom byte", func(data []byte) { data[0] ^= 0x01 }},
		{"magic", func(data []byte) { data[len(data)-FooterSize] ^= 0xFF }},
		{"version", func(data []byte) { data[len(data)-FooterSize+4] = 0x7F }},
		{"meta offset", func(data []byte) { data[len(data)-FooterSize+27] = 0x7F }},
		{"body length", func(data []byte) { data[len(data)-FooterSize+31] = 0x7F }},
		{"checksum", func(data []byte) { data[len(data)-FooterSize+32] ^= 0xFF }},
		{"truncated", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := CreateSegment(t.TempDir(), makeRecords(0, 20, 1), DefaultSegmentOptions())
			if err != nil {
				t.Fatalf("CreateSegment failed: %v", err)
			}
			data, err := os.ReadFile(info.Path)
			if err != nil {
				t.Fatalf("ReadFile failed: %v", err)
			}
			if tt.corrupt != nil {
				tt.corrupt(data)
			} else {
				data = data[:FooterSize]
			}
			if err := os.WriteFile(info.Path, data, 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			seg, err := OpenSegment(info.Path)
			if err == nil {
				seg.Close()
				t.Fatal("Expected OpenSegment to fail")
			}
			if !errors.Is(err, ErrCorruptSegment) {
				t.Errorf("Expected ErrCorruptSegment, got %v", err)
			}
		})
	}
}

// TestSSTable_InvalidFile tests opening something that is not a segment
func TestSSTable_InvalidFile(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenSegment(filepath.Join(dir, "missing.segment")); err == nil {
		t.Error("Expected error opening missing file")
	}

	path := filepath.Join(dir, "garbage.segment")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := OpenSegment(path); !errors.Is(err, ErrCorruptSegment) {
		t.Errorf("Expected ErrCorruptSegment, got %v", err)
	}
}

// TestSSTable_UniqueNames tests segments created in the same millisecond
func TestSSTable_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	records := makeRecords(0, 5, 1)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		info, err := CreateSegment(dir, records, DefaultSegmentOptions())
		if err != nil {
			t.Fatalf("CreateSegment failed: %v", err)
		}
		if seen[info.Path] {
			t.Fatalf("Duplicate segment path %s", info.Path)
		}
		seen[info.Path] = true
	}

	paths, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(paths) != 20 {
		t.Errorf("Expected 20 segments, got %d", len(paths))
	}
}

func TestSegmentNames(t *testing.T) {
	tests := []struct {
		name   string
		millis int64
		seq    int
		ok     bool
	}{
		{"sstable-1700000000000.segment", 1700000000000, 0, true},
		{"sstable-1700000000000-3.segment", 1700000000000, 3, true},
		{"sstable-1700000000000-0.segment", 0, 0, false},
		{"sstable--5.segment", 0, 0, false},
		{"sstable-abc.segment", 0, 0, false},
		{"sstable-1700000000000.sst", 0, 0, false},
		{"other-1.segment", 0, 0, false},
	}

	for _, tt := range tests {
		millis, seq, ok := parseSegmentName(tt.name)
		if ok != tt.ok || millis != tt.millis || seq != tt.seq {
			t.Errorf("parseSegmentName(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.name, millis, seq, ok, tt.millis, tt.seq, tt.ok)
		}
		if tt.ok {
			if got := segmentName(tt.millis, tt.seq); got != tt.name {
				t.Errorf("segmentName(%d, %d) = %q, want %q", tt.millis, tt.seq, got, tt.name)
			}
		}
	}
}

// TestListSegments tests ordering and filtering
func TestListSegments(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"sstable-200.segment",
		"sstable-100-2.segment",
		"sstable-100.segment",
		"sstable-100-10.segment",
		"notes.txt",
		"sstable-x.segment",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sstable-50.segment"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	paths, err := ListSegments(dir)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}

	want := []string{
		"sstable-100.segment",
		"sstable-100-2.segment",
		"sstable-100-10.segment",
		"sstable-200.segment",
	}
	if len(paths) != len(want) {
		t.Fatalf("Expected %v, got %v", want, paths)
	}
	for i, p := range paths {
		if filepath.Base(p) != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, filepath.Base(p), want[i])
		}
	}
}

// TestSSTable_CloseMultiple tests that Close is idempotent
func TestSSTable_CloseMultiple(t *testing.T) {
	info, err := CreateSegment(t.TempDir(), makeRecords(0, 3, 1), DefaultSegmentOptions())
	if err != nil {
		t.Fatalf("CreateSegment failed: %v", err)
	}
	seg, err := OpenSegment(info.Path)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}

	if err := seg.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	if _, _, err := seg.Get(digestOf(0)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Expected os.ErrClosed, got %v", err)
	}
	if _, err := seg.Records(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Expected os.ErrClosed, got %v", err)
	}
}

// TestSSTable_Delete tests removing a segment file
func TestSSTable_Delete(t *testing.T) {
	info, err := CreateSegment(t.TempDir(), makeRecords(0, 3, 1), DefaultSegmentOptions())
	if err != nil {
		t.Fatalf("CreateSegment failed: %v", err)
	}
	seg, err := OpenSegment(info.Path)
	if err != nil {
		t.Fatalf("OpenSegment failed: %v", err)
	}

	if err := seg.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Errorf("Expected segment file removed, stat err = %v", err)
	}
}

// TestSSTable_CreateInMissingDir tests that I/O errors propagate
func TestSSTable_CreateInMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := CreateSegment(dir, makeRecords(0, 3, 1), DefaultSegmentOptions())
	if err == nil {
		t.Fatal("Expected error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}
