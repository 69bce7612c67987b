// Package sys binds the engine to the operating system's memory facilities.
//
// # Overview
//
// Three capabilities are exposed:
//
//   - PageSize reports the platform page size. Segment files are always a
//     whole number of pages.
//   - MapFile / Map / MapAnon create memory mappings. File mappings are
//     read-write and shared, and are advised for sequential access because
//     segments are written once, front to back.
//   - Pin / Unpin lock a region against paging. The memtable arena sits on
//     every write path, so its pages are pinned for its whole lifetime.
//
// # Usage
//
//	m, err := sys.MapFile("sstable-1700000000000.segment", 4096)
//	if err != nil { ... }
//	defer m.Close()
//	copy(m.Bytes(), payload)
//	_ = m.Sync()
//
//	guard, err := sys.Pin(arena)
//	if err != nil { ... }
//	defer guard.Release()
//
// # Platform Support
//
// Unix platforms use mmap(2), madvise(2), msync(2) and mlock(2) through
// golang.org/x/sys/unix. Other platforms report ErrUnsupported from every
// mapping and pinning call.
package sys
