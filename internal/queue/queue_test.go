package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

func TestQueueFIFO(t *testing.T) {
	q := New()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		q.Push(id)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"job-1", "job-2", "job-3"}, q.Snapshot())

	for _, want := range []string{"job-1", "job-2", "job-3"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestQueueWaitWakesOnPush(t *testing.T) {
	q := New()

	done := make(chan bool, 1)
	go func() {
		done <- q.Wait(context.Background(), time.Hour)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("job-1")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on push")
	}
}

func TestQueueWaitBackoff(t *testing.T) {
	q := New()

	start := time.Now()
	assert.True(t, q.Wait(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueueWaitCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, q.Wait(ctx, time.Hour))
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(fmt.Sprintf("%d-%d", p, i))
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for {
		id, ok := q.Pop()
		if !ok {
			break
		}
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 400)
}

func TestEventMessage(t *testing.T) {
	job := &models.ExtractionJob{
		ID:             "job-1",
		TargetFilename: "Movie (2001) - English.srt",
		Status:         models.JobStatusDone,
	}

	msg, err := eventMessage(job)
	require.NoError(t, err)

	assert.Equal(t, "extraction.done", RoutingKey(job.Status))
	assert.Equal(t, "job-1", msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)

	var decoded models.ExtractionJob
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, job.TargetFilename, decoded.TargetFilename)
}
