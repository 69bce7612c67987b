//go:build !(linux || darwin)

package sys

// DiskUsage is not available on this platform.
func DiskUsage(path string) (used, total uint64, err error) {
	return 0, 0, ErrUnsupported
}
