// Package system reports a snapshot of host resources for pipeline stats.
package system

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time view of the host. Zero values mean the probe
// was unavailable on this platform.
type Snapshot struct {
	Hostname       string  `json:"hostname,omitempty"`
	Platform       string  `json:"platform,omitempty"`
	Uptime         uint64  `json:"uptime_secs,omitempty"`
	CPUCount       int     `json:"cpu_count"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryTotal    uint64  `json:"memory_total"`
	MemoryUsed     uint64  `json:"memory_used"`
	MemoryPercent  float64 `json:"memory_percent"`
	GoroutineCount int     `json:"goroutine_count"`
}

// Capture probes the host. Individual probe failures leave their fields
// zero; Capture itself never fails.
func Capture() Snapshot {
	snap := Snapshot{
		CPUCount:       runtime.NumCPU(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	if info, err := host.Info(); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = info.Platform
		snap.Uptime = info.Uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryTotal = vm.Total
		snap.MemoryUsed = vm.Used
		snap.MemoryPercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	return snap
}
