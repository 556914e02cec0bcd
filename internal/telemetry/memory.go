package telemetry

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// MemorySampler reads resident memory for a process, normally the simulator
// subprocess. Sampling is best-effort: a vanished process reads as zero.
type MemorySampler struct {
	proc *process.Process
}

// NewMemorySampler targets the given pid. pid <= 0 targets this process.
func NewMemorySampler(pid int) *MemorySampler {
	if pid <= 0 {
		pid = os.Getpid()
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return &MemorySampler{}
	}
	return &MemorySampler{proc: p}
}

// SampleMB returns resident set size in MB, or 0 when unavailable.
func (m *MemorySampler) SampleMB() float64 {
	if m == nil || m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}
