package media

import (
	"sync"
	"syscall"
	"time"
)

// cpuSampler measures process CPU utilization as the ratio of CPU time to
// wall time between consecutive samples. The first sample reports zero.
type cpuSampler struct {
	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
}

func newCPUSampler() *cpuSampler {
	return &cpuSampler{}
}

func (s *cpuSampler) Sample() (float64, error) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	cpu := time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastWall.IsZero() {
		s.lastWall = now
		s.lastCPU = cpu
		return 0, nil
	}

	wallDelta := now.Sub(s.lastWall)
	cpuDelta := cpu - s.lastCPU
	s.lastWall = now
	s.lastCPU = cpu

	if wallDelta <= 0 {
		return 0, nil
	}
	usage := float64(cpuDelta) / float64(wallDelta)
	if usage < 0 {
		usage = 0
	}
	if usage > 1 {
		usage = 1
	}
	return usage, nil
}
