package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"
)

// slowPingThreshold marks a database ping as slow.
const slowPingThreshold = 100 * time.Millisecond

// HealthHandler serves liveness, readiness and the detailed health report.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	// scheduler reports whether the history pruner is running.
	scheduler func() bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler sets the pruner status probe.
func (h *HealthHandler) WithScheduler(running func() bool) *HealthHandler {
	h.scheduler = running
	return h
}

// CPUInfo reports host load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports host and process memory in MB.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo reports the RSS of this process and its children. The
// children are the running FFmpeg processes.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
}

// DatabaseHealth reports the connection pool and ping latency.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	OpenConnections   int     `json:"open_connections"`
	InUseConnections  int     `json:"in_use_connections"`
	IdleConnections   int     `json:"idle_connections"`
	WaitCount         int64   `json:"wait_count"`
	MaxOpenConnection int     `json:"max_open_connections"`
}

// HealthResponse is the detailed health report.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Database      DatabaseHealth    `json:"database"`
	Checks        map[string]string `json:"checks"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including host load, memory and database status",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the database and pruner are available.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{
		"database":  h.getDatabaseHealth(ctx).Status,
		"scheduler": h.schedulerStatus(),
	}
	out.Body.Status = "ready"
	for _, status := range out.Body.Components {
		if status != "ok" && status != "slow" {
			out.Body.Status = "not_ready"
			break
		}
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)
	db := h.getDatabaseHealth(ctx)

	status := "healthy"
	if db.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       getCPUInfo(),
			Memory:        getMemoryInfo(),
			Database:      db,
			Checks: map[string]string{
				"database":  db.Status,
				"scheduler": h.schedulerStatus(),
			},
		},
	}, nil
}

func (h *HealthHandler) schedulerStatus() string {
	switch {
	case h.scheduler == nil:
		return "ok"
	case h.scheduler():
		return "ok"
	default:
		return "stopped"
	}
}

func getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.Avg()
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vm, err := mem.VirtualMemory()
	if err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.UsedMemoryMB = toMB(vm.Used)
		info.AvailableMemoryMB = toMB(vm.Available)
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
		info.ProcessMemory.MainProcessMB = toMB(mi.RSS)
		info.ProcessMemory.TotalProcessTreeMB = info.ProcessMemory.MainProcessMB
	}
	// Children fails with ErrorNoChildren when nothing is running.
	children, err := proc.Children()
	if err != nil {
		return info
	}
	info.ProcessMemory.ChildProcessCount = len(children)
	for _, child := range children {
		if mi, err := child.MemoryInfo(); err == nil && mi != nil {
			info.ProcessMemory.ChildProcessesMB += toMB(mi.RSS)
			info.ProcessMemory.TotalProcessTreeMB += toMB(mi.RSS)
		}
	}
	return info
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	stats := sqlDB.Stats()
	health := DatabaseHealth{
		Status:            "ok",
		OpenConnections:   stats.OpenConnections,
		InUseConnections:  stats.InUse,
		IdleConnections:   stats.Idle,
		WaitCount:         stats.WaitCount,
		MaxOpenConnection: stats.MaxOpenConnections,
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	elapsed := time.Since(start)
	health.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		health.Status = "error"
	case elapsed > slowPingThreshold:
		health.Status = "slow"
	}
	return health
}
