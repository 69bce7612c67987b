package sys

import (
	"sync/atomic"
)

var pinnedBytes atomic.Int64

// PinnedBytes reports the number of bytes currently pinned through this package.
func PinnedBytes() int64 {
	return pinnedBytes.Load()
}

// PinGuard holds a pinned region until Release is called.
type PinGuard struct {
	region   []byte
	released atomic.Bool
}

// Pin locks region into physical memory so it is never paged out.
// The returned guard unpins it; callers typically defer guard.Release().
func Pin(region []byte) (*PinGuard, error) {
	if len(region) == 0 {
		return &PinGuard{}, nil
	}
	if err := osLock(region); err != nil {
		return nil, &PinError{Op: "mlock", Size: len(region), Err: err}
	}
	pinnedBytes.Add(int64(len(region)))
	return &PinGuard{region: region}, nil
}

// Unpin unlocks a region previously locked with Pin.
// Prefer PinGuard.Release, which is idempotent.
func Unpin(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	if err := osUnlock(region); err != nil {
		return &PinError{Op: "munlock", Size: len(region), Err: err}
	}
	pinnedBytes.Add(-int64(len(region)))
	return nil
}

// Size returns the number of bytes held by the guard.
func (g *PinGuard) Size() int {
	return len(g.region)
}

// Release unpins the region. Calling it more than once is a no-op.
func (g *PinGuard) Release() error {
	if g == nil || g.released.Swap(true) {
		return nil
	}
	return Unpin(g.region)
}
