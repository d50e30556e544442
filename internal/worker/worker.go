// Package worker consumes the extraction queue and runs OCR jobs one at a
// time.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/internal/queue"
	"github.com/therealutkarshpriyadarshi/subextract/internal/tracing"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Jobs is the part of the registry the worker mutates.
type Jobs interface {
	Get(id string) (*models.ExtractionJob, bool)
	Update(ctx context.Context, id string, status models.JobStatus, message string) (*models.ExtractionJob, error)
}

// Library provides item metadata and source media.
type Library interface {
	GetItem(ctx context.Context, itemID string) (*models.MediaItem, error)
	DownloadURL(itemID string) string
	ContentLength(ctx context.Context, url string) (int64, error)
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Extractor runs the OCR tool.
type Extractor interface {
	Resolve() (string, error)
	Rip(ctx context.Context, mediaPath string) ([]string, error)
}

// MemoryProbe reports currently available system memory in bytes.
type MemoryProbe func(ctx context.Context) (int64, error)

// Worker is the single consumer of the extraction queue.
type Worker struct {
	queue     *queue.Queue
	jobs      Jobs
	library   Library
	extractor Extractor
	store     *cache.Store
	rules     cleaner.Rules
	memory    MemoryProbe

	pollInterval    time.Duration
	margin          int64
	downloadTimeout time.Duration

	logger *logging.Logger
}

// New creates a worker.
func New(cfg config.WorkerConfig, q *queue.Queue, jobs Jobs, library Library, extractor Extractor,
	store *cache.Store, rules cleaner.Rules, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Worker{
		queue:           q,
		jobs:            jobs,
		library:         library,
		extractor:       extractor,
		store:           store,
		rules:           rules,
		memory:          AvailableMemory,
		pollInterval:    poll,
		margin:          cfg.MemoryMargin,
		downloadTimeout: cfg.DownloadTimeout,
		logger:          logger.WithComponent("worker"),
	}
}

// SetMemoryProbe replaces the system memory probe.
func (w *Worker) SetMemoryProbe(p MemoryProbe) {
	w.memory = p
}

// Run processes jobs until ctx is cancelled. A job in progress runs to
// completion; queued jobs are left planned and no new job starts after
// cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started, waiting for jobs...")
	jobCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			w.logger.Infof("Worker stopped, %d jobs left queued", w.queue.Len())
			return ctx.Err()
		}
		id, ok := w.queue.Pop()
		if !ok {
			metrics.UpdateJobMetrics(0, 0)
			if !w.queue.Wait(ctx, w.pollInterval) {
				w.logger.Info("Worker stopped")
				return ctx.Err()
			}
			continue
		}
		w.Process(jobCtx, id)
	}
}

// Drain processes queued jobs until the queue is empty and returns how many
// were taken.
func (w *Worker) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		id, ok := w.queue.Pop()
		if !ok {
			break
		}
		w.Process(ctx, id)
		n++
	}
	return n
}

// Process runs one job. Every failure, including a panic, ends the job in
// the error state; nothing is returned to the loop.
func (w *Worker) Process(ctx context.Context, id string) {
	logger := w.logger.WithJobID(id)

	job, ok := w.jobs.Get(id)
	if !ok {
		logger.Warn("queued job is not registered, skipping")
		return
	}
	if job.Status != models.JobStatusPlanned {
		logger.Warnf("queued job is %s, skipping", job.Status)
		return
	}

	if w.store.Exists(job.TargetFilename) {
		if _, err := w.jobs.Update(ctx, id, models.JobStatusDone, ""); err != nil {
			logger.WithError(err).Error("failed to complete satisfied job")
		}
		return
	}

	if _, err := w.jobs.Update(ctx, id, models.JobStatusInProgress, ""); err != nil {
		logger.WithError(err).Error("failed to start job")
		return
	}
	metrics.UpdateJobMetrics(1, w.queue.Len())

	err := w.safeExtract(ctx, job)

	status, message := models.JobStatusDone, ""
	if err != nil {
		status, message = models.JobStatusError, err.Error()
		logger.WithError(err).Error("extraction failed")
	}
	if _, uerr := w.jobs.Update(ctx, id, status, message); uerr != nil {
		logger.WithError(uerr).Error("failed to record job result")
	}
	metrics.UpdateJobMetrics(0, w.queue.Len())
}

func (w *Worker) safeExtract(ctx context.Context, job *models.ExtractionJob) (err error) {
	span, ctx := tracing.StartSpan(ctx, "worker.extract")
	tracing.SetTag(span, "job_id", job.ID)
	tracing.SetTag(span, "item_id", job.SourceItemID)

	defer func() {
		if r := recover(); r != nil {
			w.logger.WithJobID(job.ID).Errorf("panic during extraction: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("unexpected failure: %v", r)
		}
		tracing.FinishSpan(span, err)
	}()

	return w.extract(ctx, job)
}

func (w *Worker) extract(ctx context.Context, job *models.ExtractionJob) error {
	if _, err := w.extractor.Resolve(); err != nil {
		return err
	}

	item, err := w.library.GetItem(ctx, job.SourceItemID)
	if err != nil {
		return fmt.Errorf("failed to load item: %w", err)
	}

	url := w.library.DownloadURL(item.ID)
	size := item.Size
	if size <= 0 {
		if size, err = w.library.ContentLength(ctx, url); err != nil {
			return fmt.Errorf("failed to determine source size: %w", err)
		}
	}

	available, err := w.memory(ctx)
	if err != nil {
		return fmt.Errorf("failed to read available memory: %w", err)
	}
	if err := CheckCapacity(size, available, w.margin); err != nil {
		metrics.RecordCapacityRejection()
		return err
	}

	dir := filepath.Join(w.store.TempRoot(), item.ID)
	mediaPath := filepath.Join(dir, item.FileName())
	if err := w.download(ctx, url, mediaPath, size); err != nil {
		return err
	}

	removeArtifacts(dir)
	artifacts, err := w.extractor.Rip(ctx, mediaPath)
	if err != nil {
		return err
	}

	published := w.publish(ctx, job, artifacts)
	removeArtifacts(dir)
	if published == 0 {
		return errors.New("extraction produced no usable subtitles")
	}

	if err := os.Remove(mediaPath); err != nil && !os.IsNotExist(err) {
		w.logger.WithError(err).Warnf("failed to remove %s", mediaPath)
	}
	os.Remove(dir)
	return nil
}

// download fetches the source unless a file of exactly size bytes is
// already present from an earlier attempt.
func (w *Worker) download(ctx context.Context, url, dest string, size int64) error {
	if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() == size {
		w.logger.Infof("reusing downloaded source %s", dest)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	if w.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.downloadTimeout)
		defer cancel()
	}

	n, err := w.library.Fetch(ctx, url, dest)
	if err != nil {
		return fmt.Errorf("failed to download source: %w", err)
	}
	if size > 0 && n != size {
		os.Remove(dest)
		return fmt.Errorf("downloaded %d bytes, expected %d", n, size)
	}
	return nil
}

// publish cleans each artifact and moves it into the cache. The first goes
// to the job target, the rest to numbered siblings.
func (w *Worker) publish(ctx context.Context, job *models.ExtractionJob, artifacts []string) int {
	stem := strings.TrimSuffix(job.TargetFilename, filepath.Ext(job.TargetFilename))

	published := 0
	for _, artifact := range artifacts {
		if _, err := cleaner.CleanFile(artifact, artifact, w.rules); err != nil {
			w.logger.WithJobID(job.ID).WithError(err).Warnf("discarding %s", filepath.Base(artifact))
			continue
		}

		name := job.TargetFilename
		if published > 0 {
			name = fmt.Sprintf("%s.%d.srt", stem, published)
		}
		if _, err := w.store.Publish(ctx, artifact, name); err != nil {
			w.logger.WithJobID(job.ID).WithError(err).Errorf("failed to publish %s", name)
			continue
		}
		metrics.RecordCachePublish("extract")
		published++
	}
	return published
}

func removeArtifacts(dir string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.srt"))
	for _, m := range matches {
		os.Remove(m)
	}
}
