package diagnostic

import (
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/dronesim/domain/scene"
	"github.com/open-teleop/dronesim/pkg/worker"
)

// SystemMetrics represents simulator diagnostics information
type SystemMetrics struct {
	Timestamp       time.Time      `json:"timestamp"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
	Session         string         `json:"session"`
	Scene           string         `json:"scene"`
	WorkerState     string         `json:"worker_state"`
	Phase           string         `json:"phase"`
	QueueDepth      int            `json:"queue_depth"`
	DroppedCommands uint64         `json:"dropped_commands"`
	Frames          uint64         `json:"frames"`
	Exchange        worker.Metrics `json:"exchange"`
	Goroutines      int            `json:"goroutines"`
	HeapAllocMB     float64        `json:"heap_alloc_mb"`
}

// Source is what the service samples on each request.
type Source interface {
	Status() scene.Status
	Metrics() worker.Metrics
}

// DiagnosticService handles simulator diagnostics
type DiagnosticService struct {
	mu      sync.RWMutex
	source  Source
	started time.Time
	metrics SystemMetrics
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(source Source) *DiagnosticService {
	return &DiagnosticService{
		source:  source,
		started: time.Now(),
		metrics: SystemMetrics{Timestamp: time.Now()},
	}
}

// GetMetricsHandler handles API requests for simulator metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.Refresh(),
	})
}

// Refresh samples the source and the runtime.
func (s *DiagnosticService) Refresh() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
	}
	if s.source != nil {
		st := s.source.Status()
		m.Session = st.Session
		m.Scene = st.Kind
		m.WorkerState = st.Worker
		m.Phase = st.Phase
		m.QueueDepth = st.QueueDepth
		m.DroppedCommands = st.Dropped
		m.Frames = st.Frames
		m.Exchange = s.source.Metrics()
	}
	s.UpdateMetrics(m)
	return s.GetMetrics()
}

// UpdateMetrics updates the stored metrics
func (s *DiagnosticService) UpdateMetrics(metrics SystemMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = metrics
	s.metrics.Timestamp = time.Now()
	s.metrics.UptimeSeconds = time.Since(s.started).Seconds()
}

// GetMetrics returns the last sampled metrics
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.metrics
}
