package ws

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// processStats samples this process's memory and CPU use.
func processStats() (*ProcessStats, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	return &ProcessStats{
		PID:        pid,
		RSSBytes:   mem.RSS,
		CPUPercent: cpu,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}
