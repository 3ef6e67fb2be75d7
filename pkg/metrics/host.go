package metrics

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a snapshot of the machine running the simulator
type HostStats struct {
	CPUCores          int     `json:"cpu_cores"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryTotalBytes  uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes   uint64  `json:"memory_used_bytes"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Goroutines        int     `json:"goroutines"`
}

// CollectHostStats reads host CPU and memory. Fields stay zero when a probe fails.
func CollectHostStats() HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if n, err := cpu.Counts(true); err == nil {
		stats.CPUCores = n
	}
	// interval 0 compares against the previous call instead of sleeping
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		stats.MemoryTotalBytes = vmem.Total
		stats.MemoryUsedBytes = vmem.Used
		stats.MemoryUsedPercent = vmem.UsedPercent
	}
	return stats
}
