package sys

import (
	"errors"
	"fmt"
)

// AccessPattern provides hints to the kernel about how mapped data will be accessed.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects data to be accessed front to back.
	AccessSequential
	// AccessRandom expects data to be accessed randomly.
	AccessRandom
	// AccessWillNeed expects data to be accessed in the near future.
	AccessWillNeed
)

// String returns the name of the access pattern
func (p AccessPattern) String() string {
	switch p {
	case AccessSequential:
		return "sequential"
	case AccessRandom:
		return "random"
	case AccessWillNeed:
		return "willneed"
	default:
		return "default"
	}
}

var (
	// ErrClosed is returned when using a mapping after Close.
	ErrClosed = errors.New("sys: mapping is closed")
	// ErrInvalidSize is returned for zero or negative mapping sizes.
	ErrInvalidSize = errors.New("sys: invalid mapping size")
	// ErrUnsupported is returned on platforms without mmap/mlock support.
	ErrUnsupported = errors.New("sys: operation not supported on this platform")
)

// MapError describes a failed mapping call.
type MapError struct {
	Op   string // "open", "truncate", "mmap", "madvise", "msync", "munmap"
	Path string // empty for anonymous mappings
	Size int
	Err  error
}

func (e *MapError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("sys: %s (%d bytes): %v", e.Op, e.Size, e.Err)
	}
	return fmt.Sprintf("sys: %s %s (%d bytes): %v", e.Op, e.Path, e.Size, e.Err)
}

func (e *MapError) Unwrap() error {
	return e.Err
}

// PinError describes a failed mlock/munlock call.
type PinError struct {
	Op   string // "mlock" or "munlock"
	Size int
	Err  error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("sys: %s %d bytes: %v", e.Op, e.Size, e.Err)
}

func (e *PinError) Unwrap() error {
	return e.Err
}
