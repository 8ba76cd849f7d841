package encoder

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time resource sample for an encoder process.
type ProcessStats struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Monitor periodically samples CPU and memory usage of a running process.
type Monitor struct {
	pid      int
	interval time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor for the given pid.
func NewMonitor(pid int, interval time.Duration) *Monitor {
	return &Monitor{
		pid:      pid,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the sampler to exit.
func (m *Monitor) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}

// Stats returns the most recent sample.
func (m *Monitor) Stats() ProcessStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	proc, err := process.NewProcess(int32(m.pid))
	if err != nil {
		// Process exited; keep the last sample.
		return
	}

	stats := ProcessStats{SampledAt: time.Now()}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSS = mem.RSS
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
