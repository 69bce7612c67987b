package lsm

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrEmptyBuffer     = errors.New("write buffer is empty")
	ErrEmptyIndex      = errors.New("memtable is empty")
	ErrCorruptSegment  = errors.New("segment is corrupt")
	ErrEngineClosed    = errors.New("engine is closed")
	ErrUnknownCodec    = errors.New("unknown compression codec")
	ErrSegmentTooLarge = errors.New("segment exceeds format limits")
	ErrMemTableClosed  = errors.New("memtable is closed")
)

// SegmentError provides structured error information for segment operations.
type SegmentError struct {
	Op    string // Operation that failed (e.g., "create", "open", "verify")
	Path  string // Segment file path
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *SegmentError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("segment %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("segment %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SegmentError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *SegmentError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// corruptf builds an ErrCorruptSegment with detail.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptSegment, fmt.Sprintf(format, args...))
}
