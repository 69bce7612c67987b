//go:build linux || darwin

package sys

import (
	"golang.org/x/sys/unix"
)

// DiskUsage reports the used and total bytes of the filesystem holding path.
func DiskUsage(path string) (used, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	total = st.Blocks * bsize
	used = total - st.Bavail*bsize
	return used, total, nil
}
