// Package registry holds every extraction job of the process and is the only
// place job status changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when an active job already holds the target.
	ErrDuplicateJob = errors.New("an active job already exists for this target")
	// ErrIllegalTransition is returned for status changes the lifecycle forbids.
	ErrIllegalTransition = errors.New("illegal job status transition")
)

// interruptedMessage marks jobs that were active when the previous process
// stopped.
const interruptedMessage = "interrupted by restart"

// Store persists jobs across restarts.
type Store interface {
	SaveJob(ctx context.Context, job *models.ExtractionJob) error
	LoadJobs(ctx context.Context) ([]*models.ExtractionJob, error)
}

// Observer is notified after every job change.
type Observer interface {
	JobChanged(ctx context.Context, job *models.ExtractionJob) error
}

// Target describes a job to create.
type Target struct {
	TargetFilename string
	SourceItemID   string
	SourceItemName string
}

// Registry maps job ids to jobs. All methods are safe for concurrent use and
// hand out copies.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*models.ExtractionJob
	order []string

	// pending holds changes not yet delivered, in the order they were made.
	// It is guarded by mu. notifyMu is held by whoever is delivering and is
	// never acquired while mu is held.
	pending   []change
	notifyMu  sync.Mutex
	store     Store
	observers []Observer

	now    func() time.Time
	logger *logging.Logger
}

type change struct {
	ctx context.Context
	job *models.ExtractionJob
}

// New creates an empty registry.
func New(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		jobs:   make(map[string]*models.ExtractionJob),
		now:    time.Now,
		logger: logger.WithComponent("registry"),
	}
}

// SetStore installs durable persistence.
func (r *Registry) SetStore(s Store) {
	r.store = s
}

// AddObserver registers o for change notifications.
func (r *Registry) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// CreateIfAbsent returns the active job for target.TargetFilename, or creates a
// planned one. The lookup and the insert happen under one lock.
func (r *Registry) CreateIfAbsent(ctx context.Context, target Target) (*models.ExtractionJob, bool) {
	r.mu.Lock()
	if existing := r.activeFor(target.TargetFilename); existing != nil {
		job := existing.Clone()
		r.mu.Unlock()
		return job, false
	}

	now := r.now()
	job := &models.ExtractionJob{
		ID:             uuid.New().String(),
		TargetFilename: target.TargetFilename,
		Status:         models.JobStatusPlanned,
		SourceItemID:   target.SourceItemID,
		SourceItemName: target.SourceItemName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.insert(job)
	snapshot := job.Clone()
	r.enqueue(ctx, snapshot)
	r.mu.Unlock()

	r.flush()
	metrics.RecordJobCreated()
	r.logger.LogJobEvent(job.ID, "created", string(job.Status), map[string]interface{}{
		"target":  job.TargetFilename,
		"item_id": job.SourceItemID,
	})
	return snapshot, true
}

// Create inserts job as given. It fails with ErrDuplicateJob when an active
// job already holds the target. Empty id and timestamps are filled in.
func (r *Registry) Create(ctx context.Context, job *models.ExtractionJob) (string, error) {
	if !job.Status.Valid() {
		return "", fmt.Errorf("invalid job status %q", job.Status)
	}

	r.mu.Lock()
	if job.Status.Active() && r.activeFor(job.TargetFilename) != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("%s: %w", job.TargetFilename, ErrDuplicateJob)
	}

	stored := job.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := r.jobs[stored.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("job id %s already registered", stored.ID)
	}
	now := r.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	r.insert(stored)
	snapshot := stored.Clone()
	r.enqueue(ctx, snapshot)
	r.mu.Unlock()

	r.flush()
	metrics.RecordJobCreated()
	return snapshot.ID, nil
}

// Update moves a job to status, recording message for errors.
func (r *Registry) Update(ctx context.Context, id string, status models.JobStatus, message string) (*models.ExtractionJob, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if !job.Status.CanTransition(status) {
		from := job.Status
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, status)
	}

	job.Status = status
	job.ErrorMessage = message
	job.UpdatedAt = r.now()
	snapshot := job.Clone()
	r.enqueue(ctx, snapshot)
	r.mu.Unlock()

	r.flush()
	if status.Terminal() {
		metrics.RecordJobCompleted(string(status), snapshot.UpdatedAt.Sub(snapshot.CreatedAt).Seconds())
	}

	details := map[string]interface{}{"target": snapshot.TargetFilename}
	if message != "" {
		details["error"] = message
	}
	r.logger.LogJobEvent(id, "status_changed", string(status), details)
	return snapshot, nil
}

// Get returns the job with id.
func (r *Registry) Get(id string) (*models.ExtractionJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	return job.Clone(), ok
}

// FindByFilename returns the active job for name, else the newest one.
func (r *Registry) FindByFilename(name string) (*models.ExtractionJob, bool) {
	return r.find(func(j *models.ExtractionJob) bool { return j.TargetFilename == name })
}

// FindByItemID returns the active job for itemID, else the newest one.
func (r *Registry) FindByItemID(itemID string) (*models.ExtractionJob, bool) {
	return r.find(func(j *models.ExtractionJob) bool { return j.SourceItemID == itemID })
}

// All returns every job in insertion order.
func (r *Registry) All() []*models.ExtractionJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ExtractionJob, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// Len returns the number of jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[models.JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.JobStatus]int, 4)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts
}

// Hydrate loads jobs saved by a previous process. Jobs that were still
// active are closed as errors since their queue did not survive.
func (r *Registry) Hydrate(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	jobs, err := r.store.LoadJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load jobs: %w", err)
	}

	interrupted := 0
	r.mu.Lock()
	for _, job := range jobs {
		if _, exists := r.jobs[job.ID]; exists {
			continue
		}
		stored := job.Clone()
		if stored.Status.Active() {
			stored.Status = models.JobStatusError
			stored.ErrorMessage = interruptedMessage
			stored.UpdatedAt = r.now()
			r.enqueue(ctx, stored.Clone())
			interrupted++
		}
		r.insert(stored)
	}
	r.mu.Unlock()

	r.flush()
	if interrupted > 0 {
		r.logger.Warnf("marked %d interrupted jobs as failed", interrupted)
	}
	return len(jobs), nil
}

func (r *Registry) insert(job *models.ExtractionJob) {
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
}

// activeFor must be called with mu held.
func (r *Registry) activeFor(target string) *models.ExtractionJob {
	for _, id := range r.order {
		job := r.jobs[id]
		if job.TargetFilename == target && job.Status.Active() {
			return job
		}
	}
	return nil
}

func (r *Registry) find(match func(*models.ExtractionJob) bool) (*models.ExtractionJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *models.ExtractionJob
	for _, id := range r.order {
		job := r.jobs[id]
		if !match(job) {
			continue
		}
		if job.Status.Active() {
			return job.Clone(), true
		}
		if newest == nil || !job.CreatedAt.Before(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, false
	}
	return newest.Clone(), true
}

// enqueue must be called with mu held.
func (r *Registry) enqueue(ctx context.Context, job *models.ExtractionJob) {
	r.pending = append(r.pending, change{ctx: ctx, job: job})
}

// flush delivers pending changes in order. It returns once every change
// queued before the call has been delivered, by this caller or another.
func (r *Registry) flush() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	for {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		r.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, c := range batch {
			r.deliver(c.ctx, c.job)
		}
	}
}

func (r *Registry) deliver(ctx context.Context, job *models.ExtractionJob) {
	if r.store != nil {
		if err := r.store.SaveJob(ctx, job); err != nil {
			r.logger.WithJobID(job.ID).WithError(err).Error("failed to persist job")
		}
	}
	for _, o := range r.observers {
		if err := o.JobChanged(ctx, job.Clone()); err != nil {
			r.logger.WithJobID(job.ID).WithError(err).Warn("job observer failed")
		}
	}
}
