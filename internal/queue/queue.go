// Package queue holds pending extraction job ids and publishes job lifecycle
// events to the message broker.
package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded FIFO of job ids with a wake-up signal for the single
// consumer.
type Queue struct {
	mu     sync.Mutex
	ids    []string
	signal chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends id and wakes a waiting consumer.
func (q *Queue) Push(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest id.
func (q *Queue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	return id, true
}

// Wait blocks until an id may be available: after a Push, after backoff has
// elapsed, or when ctx is done. It reports false only for ctx.
func (q *Queue) Wait(ctx context.Context, backoff time.Duration) bool {
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-q.signal:
		return true
	case <-timer.C:
		return true
	}
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Snapshot returns the queued ids in order.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}
