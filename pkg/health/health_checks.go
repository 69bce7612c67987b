package health

import (
	"runtime"
)

// EngineCheck reports unhealthy once the engine has been closed
func EngineCheck(closed func() bool) CheckFunc {
	return func() Check {
		check := Check{Name: "engine"}
		if closed() {
			check.Status = StatusUnhealthy
			check.Message = "Engine closed"
		} else {
			check.Status = StatusHealthy
			check.Message = "Accepting writes"
		}
		return check
	}
}

// SegmentCheck degrades when more than maxSegments segments are open,
// which means lookups consult too many bloom filters and compaction is due.
func SegmentCheck(segments func() int, maxSegments int) CheckFunc {
	return func() Check {
		n := segments()
		check := Check{
			Name: "segments",
			Details: map[string]any{
				"open_segments": n,
				"max_segments":  maxSegments,
			},
		}

		if maxSegments > 0 && n > maxSegments {
			check.Status = StatusDegraded
			check.Message = "Compaction needed"
		} else {
			check.Status = StatusHealthy
			check.Message = "Segment count normal"
		}
		return check
	}
}

// PinnedMemoryCheck degrades when memory pinning was requested but nothing
// is locked, usually because RLIMIT_MEMLOCK is too low.
func PinnedMemoryCheck(requested bool, pinned func() int64) CheckFunc {
	return func() Check {
		n := pinned()
		check := Check{
			Name: "pinned_memory",
			Details: map[string]any{
				"requested":    requested,
				"pinned_bytes": n,
			},
		}

		switch {
		case !requested:
			check.Status = StatusHealthy
			check.Message = "Pinning disabled"
		case n == 0:
			check.Status = StatusDegraded
			check.Message = "Memtable arena not pinned"
		default:
			check.Status = StatusHealthy
			check.Message = "Memtable arena pinned"
		}
		return check
	}
}

// DiskSpaceCheck creates a health check for disk space
func DiskSpaceCheck(getUsage func() (used, total uint64, err error)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "disk_space",
			Details: make(map[string]any),
		}

		used, total, err := getUsage()
		if err != nil {
			check.Status = StatusDegraded
			check.Message = err.Error()
			return check
		}
		if total == 0 {
			check.Status = StatusDegraded
			check.Message = "Unknown filesystem size"
			return check
		}

		usagePercent := float64(used) / float64(total) * 100

		check.Details["used_bytes"] = used
		check.Details["total_bytes"] = total
		check.Details["usage_percent"] = usagePercent

		if usagePercent > 95 {
			check.Status = StatusUnhealthy
			check.Message = "Critical disk space"
		} else if usagePercent > 80 {
			check.Status = StatusDegraded
			check.Message = "Low disk space"
		} else {
			check.Status = StatusHealthy
			check.Message = "Sufficient disk space"
		}

		return check
	}
}

// MemoryCheck reports Go heap usage against memory obtained from the OS
func MemoryCheck() CheckFunc {
	return func() Check {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		check := Check{
			Name: "memory",
			Details: map[string]any{
				"alloc_bytes": ms.Alloc,
				"sys_bytes":   ms.Sys,
			},
		}

		if ms.Sys > 0 && float64(ms.Alloc)/float64(ms.Sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}
		return check
	}
}
