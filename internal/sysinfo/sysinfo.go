// Package sysinfo reports container-aware resource usage for the
// /health diagnostic payload, adapted from the teacher's cgroup-based
// capacity sizing (cgroup.go) onto gopsutil so the same numbers work
// whether the process is containerized or not.
package sysinfo

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time resource reading suitable for embedding in
// a health response.
type Snapshot struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryUsed  uint64  `json:"memoryUsedBytes"`
	MemoryTotal uint64  `json:"memoryTotalBytes"`
}

// Read samples CPU and memory usage. Errors from either sampler leave
// the corresponding field zero rather than failing the whole read, since
// this feeds a best-effort diagnostic, not an admission-control input.
func Read() Snapshot {
	var snap Snapshot
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryUsed = vm.Used
		snap.MemoryTotal = vm.Total
	}
	return snap
}
