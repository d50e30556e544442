// Package monitoring samples queue and job state for health reporting.
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Health levels
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Alert thresholds
const (
	queueDepthWarning = 100
	failureRateAlert  = 0.1
	minFinishedJobs   = 10
	lowMemory         = 512 << 20
)

// Metrics is one sample of pipeline state.
type Metrics struct {
	QueueDepth      int       `json:"queue_depth"`
	PlannedJobs     int       `json:"planned_jobs"`
	ActiveJobs      int       `json:"active_jobs"`
	CompletedJobs   int       `json:"completed_jobs"`
	FailedJobs      int       `json:"failed_jobs"`
	AvailableMemory int64     `json:"available_memory_bytes"`
	LastUpdated     time.Time `json:"last_updated"`
}

// QueueProvider reports queue depth.
type QueueProvider interface {
	Len() int
}

// JobCounter reports jobs per state.
type JobCounter interface {
	Counts() map[models.JobStatus]int
}

// MemoryProbe reports available system memory in bytes.
type MemoryProbe func(ctx context.Context) (int64, error)

// Monitor keeps the latest sample.
type Monitor struct {
	mu      sync.RWMutex
	metrics Metrics

	queue  QueueProvider
	jobs   JobCounter
	memory MemoryProbe
	logger *logging.Logger
}

// NewMonitor creates a monitor. memory may be nil.
func NewMonitor(queue QueueProvider, jobs JobCounter, memory MemoryProbe, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		queue:  queue,
		jobs:   jobs,
		memory: memory,
		logger: logger.WithComponent("monitor"),
	}
}

// Start samples every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.Update(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Update(ctx)
			}
		}
	}()
}

// Update takes a sample now and publishes it to the job gauges.
func (m *Monitor) Update(ctx context.Context) Metrics {
	counts := m.jobs.Counts()
	sample := Metrics{
		QueueDepth:    m.queue.Len(),
		PlannedJobs:   counts[models.JobStatusPlanned],
		ActiveJobs:    counts[models.JobStatusInProgress],
		CompletedJobs: counts[models.JobStatusDone],
		FailedJobs:    counts[models.JobStatusError],
		LastUpdated:   time.Now(),
	}
	if m.memory != nil {
		avail, err := m.memory(ctx)
		if err != nil {
			m.logger.WithError(err).Debugf("memory probe failed")
			avail = -1
		}
		sample.AvailableMemory = avail
	}

	metrics.UpdateJobMetrics(sample.ActiveJobs, sample.QueueDepth)

	m.mu.Lock()
	m.metrics = sample
	m.mu.Unlock()
	return sample
}

// GetMetrics returns the latest sample.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// GetSystemHealth summarises the latest sample.
func (m *Monitor) GetSystemHealth() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.memory != nil && m.metrics.AvailableMemory >= 0 && m.metrics.AvailableMemory < lowMemory &&
		!m.metrics.LastUpdated.IsZero() {
		return HealthCritical
	}
	if m.metrics.QueueDepth > queueDepthWarning || m.failureRate() > failureRateAlert {
		return HealthWarning
	}
	return HealthHealthy
}

// GetAlerts describes every threshold the latest sample crosses.
func (m *Monitor) GetAlerts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []string
	if m.memory != nil && m.metrics.AvailableMemory >= 0 && m.metrics.AvailableMemory < lowMemory &&
		!m.metrics.LastUpdated.IsZero() {
		alerts = append(alerts, fmt.Sprintf("Low memory: %d bytes available", m.metrics.AvailableMemory))
	}
	if m.metrics.QueueDepth > queueDepthWarning {
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d jobs pending", m.metrics.QueueDepth))
	}
	if rate := m.failureRate(); rate > failureRateAlert {
		alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", rate*100))
	}
	return alerts
}

// failureRate is over finished jobs, and zero until enough have finished.
func (m *Monitor) failureRate() float64 {
	finished := m.metrics.CompletedJobs + m.metrics.FailedJobs
	if finished < minFinishedJobs {
		return 0
	}
	return float64(m.metrics.FailedJobs) / float64(finished)
}
