package sys

import (
	"os"
	"sync/atomic"
)

// Mapping is a read-write memory mapping, either file-backed or anonymous.
// It owns the mapped bytes and, when created by MapFile, the file handle.
type Mapping struct {
	data   []byte
	path   string
	file   *os.File // closed by Close only when owned
	owned  bool
	closed atomic.Bool
}

// MapFile creates or opens the file at path, sizes it to a whole number of
// pages covering size, and maps it read-write with sequential-access advice.
func MapFile(path string, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &MapError{Op: "open", Path: path, Size: size, Err: err}
	}

	m, err := Map(f, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	m.owned = true
	return m, nil
}

// Map sizes f to a whole number of pages covering size and maps it
// read-write with sequential-access advice. The caller keeps ownership of f.
func Map(f *os.File, size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	rounded := RoundToPage(size)
	if err := f.Truncate(int64(rounded)); err != nil {
		return nil, &MapError{Op: "truncate", Path: f.Name(), Size: rounded, Err: err}
	}

	data, err := osMapFile(f, rounded)
	if err != nil {
		return nil, &MapError{Op: "mmap", Path: f.Name(), Size: rounded, Err: err}
	}

	m := &Mapping{data: data, path: f.Name(), file: f}
	if err := m.Advise(AccessSequential); err != nil {
		_ = osUnmap(data)
		return nil, err
	}
	return m, nil
}

// MapAnon creates an anonymous read-write mapping of at least size bytes,
// rounded up to whole pages. The memory lives outside the Go heap and must
// not hold Go pointers.
func MapAnon(size int) (*Mapping, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	rounded := RoundToPage(size)
	data, err := osMapAnon(rounded)
	if err != nil {
		return nil, &MapError{Op: "mmap", Size: rounded, Err: err}
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped memory.
// The slice is valid only until Close is called.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the size of the mapping in bytes (always page aligned).
func (m *Mapping) Size() int {
	return len(m.data)
}

// Path returns the backing file path, or "" for anonymous mappings.
func (m *Mapping) Path() string {
	return m.path
}

// Advise hints the kernel about the expected access pattern.
func (m *Mapping) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := osAdvise(m.data, pattern); err != nil {
		return &MapError{Op: "madvise", Path: m.path, Size: len(m.data), Err: err}
	}
	return nil
}

// Sync flushes dirty pages of a file-backed mapping to disk.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.file == nil {
		return nil
	}
	if err := osSync(m.data); err != nil {
		return &MapError{Op: "msync", Path: m.path, Size: len(m.data), Err: err}
	}
	return nil
}

// Close unmaps the memory and closes an owned file. It is idempotent.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	var err error
	if m.data != nil {
		if uerr := osUnmap(m.data); uerr != nil {
			err = &MapError{Op: "munmap", Path: m.path, Size: len(m.data), Err: uerr}
		}
		m.data = nil
	}
	if m.owned && m.file != nil {
		if cerr := m.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.file = nil
	return err
}
