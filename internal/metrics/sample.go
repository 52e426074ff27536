package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// SampleOne samples CPU/memory for a single running pid, the same way
// ProcessMetricsCollector.getProcessMetrics does internally. It is exported for callers
// (the supervision engine's reconcile loop) that need to sample a process synchronously
// on each tick rather than through the collector's own background ticker.
func SampleOne(name string, pid int32) (ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("failed to get CPU percent", "name", name, "pid", pid, "error", err)
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("failed to get thread count", "name", name, "pid", pid, "error", err)
		numThreads = 0
	}

	m := ProcessMetrics{
		PID:        pid,
		Name:       name,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		Timestamp:  time.Now(),
		NumThreads: numThreads,
	}
	if memInfo.Swap > 0 {
		m.MemorySwap = memInfo.Swap
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			m.NumFDs = numFDs
		}
	}
	return m, nil
}
