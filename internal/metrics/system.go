package metrics

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemSnapshot is the host-wide resource snapshot published on the WebSocket event
// stream's SystemMetrics frame, alongside the per-process ProcessMetrics SampleOne
// already provides for individual records.
type SystemSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemTotalBytes uint64    `json:"mem_total_bytes"`
	MemPercent    float64   `json:"mem_percent"`
}

// SampleSystem takes one host-wide CPU/memory reading. The CPU sample is instantaneous
// (zero-duration interval) rather than blocking for a window, so it is cheap enough to
// call once per reconcile tick.
func SampleSystem() (SystemSnapshot, error) {
	snap := SystemSnapshot{Timestamp: time.Now()}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, err
	}
	snap.MemUsedBytes = vm.Used
	snap.MemTotalBytes = vm.Total
	snap.MemPercent = vm.UsedPercent
	return snap, nil
}
