package ffmpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID int `json:"pid"`

	// CPU usage
	CPUPercent float64       `json:"cpu_percent"` // Usage over the last interval, 100 per core
	CPUUser    time.Duration `json:"cpu_user"`
	CPUSystem  time.Duration `json:"cpu_system"`
	CPUTotal   time.Duration `json:"cpu_total"`

	// Memory usage
	MemoryRSSBytes     uint64  `json:"memory_rss_bytes"`
	MemoryPeakRSSBytes uint64  `json:"memory_peak_rss_bytes"`
	MemoryVMSBytes     uint64  `json:"memory_vms_bytes"`
	MemoryPercent      float32 `json:"memory_percent"`

	// Bytes drained from the child's pipes
	BytesRead   uint64  `json:"bytes_read"`
	ReadRateBps float64 `json:"read_rate_bps"`

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
	Samples     int           `json:"samples"`
}

// ProcessMonitor samples resource usage of an FFmpeg process.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	running bool
	proc    *process.Process

	lastCPUTime   time.Duration
	lastCheckTime time.Time
	lastBytesRead uint64

	bytesRead atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a new process monitor.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithInterval sets the sampling interval.
func (pm *ProcessMonitor) WithInterval(d time.Duration) *ProcessMonitor {
	if d > 0 {
		pm.interval = d
	}
	return pm
}

// Start begins monitoring the process.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.lastCheckTime = time.Now()
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.monitorLoop()
}

// Stop stops monitoring and takes no further samples.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the latest process statistics.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := pm.stats
	stats.PID = pm.pid
	stats.StartedAt = pm.startedAt
	stats.BytesRead = pm.bytesRead.Load()
	return stats
}

// AddBytesRead adds to the drained bytes counter.
func (pm *ProcessMonitor) AddBytesRead(n uint64) {
	pm.bytesRead.Add(n)
}

func (pm *ProcessMonitor) monitorLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample()
		}
	}
}

// sample takes a snapshot of process statistics. A process that has
// already exited leaves the previous sample in place.
func (pm *ProcessMonitor) sample() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.sampleRates(now)
	pm.stats.Duration = now.Sub(pm.startedAt)
	pm.stats.LastUpdated = now

	if pm.proc == nil {
		p, err := process.NewProcessWithContext(pm.ctx, int32(pm.pid))
		if err != nil {
			return
		}
		pm.proc = p
	}

	if times, err := pm.proc.TimesWithContext(pm.ctx); err == nil {
		user := time.Duration(times.User * float64(time.Second))
		system := time.Duration(times.System * float64(time.Second))
		total := user + system
		pm.stats.CPUUser = user
		pm.stats.CPUSystem = system
		pm.stats.CPUTotal = total

		elapsed := now.Sub(pm.lastCheckTime)
		if elapsed > 0 && pm.stats.Samples > 0 {
			pm.stats.CPUPercent = float64(total-pm.lastCPUTime) / float64(elapsed) * 100.0
		}
		pm.lastCPUTime = total
		pm.lastCheckTime = now
	}

	if mi, err := pm.proc.MemoryInfoWithContext(pm.ctx); err == nil {
		pm.stats.MemoryRSSBytes = mi.RSS
		pm.stats.MemoryVMSBytes = mi.VMS
		pm.stats.MemoryPeakRSSBytes = max(pm.stats.MemoryPeakRSSBytes, mi.RSS)
	}
	if pct, err := pm.proc.MemoryPercentWithContext(pm.ctx); err == nil {
		pm.stats.MemoryPercent = pct
	}

	pm.stats.Samples++
}

func (pm *ProcessMonitor) sampleRates(now time.Time) {
	current := pm.bytesRead.Load()
	if elapsed := now.Sub(pm.stats.LastUpdated); pm.stats.Samples > 0 && elapsed > 0 {
		pm.stats.ReadRateBps = float64(current-pm.lastBytesRead) / elapsed.Seconds()
	}
	pm.lastBytesRead = current
}
