package monitor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// Sampler reads the current resident memory of a process. ok is false when
// the handle is invalid or the process is gone; the watchdog treats that as
// a skipped tick, never a failure.
type Sampler interface {
	Sample(pid int32) (bytes uint64, ok bool)
}

// ProcessSampler samples resident set size via the host process table.
type ProcessSampler struct{}

func (ProcessSampler) Sample(pid int32) (uint64, bool) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, false
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0, false
	}
	return info.RSS, true
}
