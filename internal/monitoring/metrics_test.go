package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

type fakeQueue int

func (q fakeQueue) Len() int { return int(q) }

type fakeCounter map[models.JobStatus]int

func (c fakeCounter) Counts() map[models.JobStatus]int { return c }

func memory(n int64) MemoryProbe {
	return func(context.Context) (int64, error) { return n, nil }
}

func TestMonitorUpdate(t *testing.T) {
	m := NewMonitor(fakeQueue(3), fakeCounter{
		models.JobStatusPlanned:    3,
		models.JobStatusInProgress: 1,
		models.JobStatusDone:       7,
	}, memory(8<<30), nil)

	sample := m.Update(context.Background())
	assert.Equal(t, 3, sample.QueueDepth)
	assert.Equal(t, 3, sample.PlannedJobs)
	assert.Equal(t, 1, sample.ActiveJobs)
	assert.Equal(t, 7, sample.CompletedJobs)
	assert.Equal(t, int64(8<<30), sample.AvailableMemory)
	assert.Equal(t, sample, m.GetMetrics())

	assert.Equal(t, HealthHealthy, m.GetSystemHealth())
	assert.Empty(t, m.GetAlerts())
}

func TestMonitorHealth(t *testing.T) {
	tests := []struct {
		name   string
		queue  int
		counts fakeCounter
		memory MemoryProbe
		health string
		alerts int
	}{
		{name: "idle", counts: fakeCounter{}, health: HealthHealthy},
		{name: "deep queue", queue: 150, counts: fakeCounter{}, health: HealthWarning, alerts: 1},
		{
			name:   "failures below sample size",
			counts: fakeCounter{models.JobStatusError: 3},
			health: HealthHealthy,
		},
		{
			name:   "high failure rate",
			counts: fakeCounter{models.JobStatusDone: 8, models.JobStatusError: 4},
			health: HealthWarning,
			alerts: 1,
		},
		{name: "low memory", counts: fakeCounter{}, memory: memory(100 << 20), health: HealthCritical, alerts: 1},
		{
			name:   "probe failure is not low memory",
			counts: fakeCounter{},
			memory: func(context.Context) (int64, error) { return 0, errors.New("no /proc") },
			health: HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(fakeQueue(tt.queue), tt.counts, tt.memory, nil)
			m.Update(context.Background())
			assert.Equal(t, tt.health, m.GetSystemHealth())
			assert.Len(t, m.GetAlerts(), tt.alerts)
		})
	}
}

func TestMonitorStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor(fakeQueue(2), fakeCounter{}, nil, nil)
	m.Start(ctx, time.Hour)

	assert.Eventually(t, func() bool {
		return m.GetMetrics().QueueDepth == 2
	}, time.Second, 5*time.Millisecond)
}
