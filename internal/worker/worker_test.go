package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/queue"
	"github.com/therealutkarshpriyadarshi/subextract/internal/registry"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

const ripped = "1\n00:00:01,000 --> 00:00:02,000\nl'm here.\n"

type fakeLibrary struct {
	mu      sync.Mutex
	items   map[string]*models.MediaItem
	fetches int
}

func (f *fakeLibrary) GetItem(_ context.Context, id string) (*models.MediaItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return item, nil
}

func (f *fakeLibrary) DownloadURL(id string) string { return "/Items/" + id + "/Download" }

func (f *fakeLibrary) ContentLength(_ context.Context, url string) (int64, error) {
	return 0, errors.New("no HEAD in tests")
}

func (f *fakeLibrary) Fetch(_ context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()

	id := strings.TrimSuffix(strings.TrimPrefix(url, "/Items/"), "/Download")
	data := make([]byte, f.items[id].Size)
	return int64(len(data)), os.WriteFile(dest, data, 0o644)
}

type fakeExtractor struct {
	missing bool
	outputs []string
	panics  bool
	calls   int

	// started and release, when set, hold each Rip until released.
	started chan struct{}
	release chan struct{}
}

func (f *fakeExtractor) Resolve() (string, error) {
	if f.missing {
		return "", models.ErrToolUnavailable
	}
	return "/usr/bin/pgsrip", nil
}

func (f *fakeExtractor) Rip(_ context.Context, media string) ([]string, error) {
	f.calls++
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.panics {
		panic("tool exploded")
	}
	var out []string
	stem := strings.TrimSuffix(media, filepath.Ext(media))
	for _, lang := range f.outputs {
		p := stem + "." + lang + ".srt"
		if err := os.WriteFile(p, []byte(ripped), 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type harness struct {
	worker    *Worker
	queue     *queue.Queue
	registry  *registry.Registry
	store     *cache.Store
	library   *fakeLibrary
	extractor *fakeExtractor
}

func newHarness(t *testing.T, available int64) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := cache.NewStore(filepath.Join(root, "out"), filepath.Join(root, "tmp"), nil)
	require.NoError(t, err)

	h := &harness{
		queue:    queue.New(),
		registry: registry.New(nil),
		store:    store,
		library: &fakeLibrary{items: map[string]*models.MediaItem{
			"item-1": {ID: "item-1", Path: "/media/Movie (2001).mkv", Size: 64},
			"item-2": {ID: "item-2", Path: "/media/Other (1999).mkv", Size: 32},
			"big":    {ID: "big", Path: "/media/Huge (2010).mkv", Size: 4096},
		}},
		extractor: &fakeExtractor{outputs: []string{"en"}},
	}
	h.worker = New(config.WorkerConfig{PollInterval: 10 * time.Millisecond}, h.queue, h.registry,
		h.library, h.extractor, store, cleaner.AllRules(), nil)
	h.worker.SetMemoryProbe(func(context.Context) (int64, error) { return available, nil })
	return h
}

func (h *harness) enqueue(t *testing.T, itemID, target string) *models.ExtractionJob {
	t.Helper()
	job, created := h.registry.CreateIfAbsent(context.Background(), registry.Target{
		TargetFilename: target,
		SourceItemID:   itemID,
		SourceItemName: itemID,
	})
	require.True(t, created)
	h.queue.Push(job.ID)
	return job
}

func (h *harness) status(t *testing.T, id string) *models.ExtractionJob {
	t.Helper()
	job, ok := h.registry.Get(id)
	require.True(t, ok)
	return job
}

func TestProcessExtractsAndPublishes(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.extractor.outputs = []string{"en", "fr"}
	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")

	assert.Equal(t, 1, h.worker.Drain(context.Background()))

	got := h.status(t, job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status, got.ErrorMessage)

	data, err := os.ReadFile(h.store.Path("Movie (2001) - English.srt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "I'm here.")
	assert.True(t, h.store.Exists("Movie (2001) - English.1.srt"))

	_, err = os.Stat(filepath.Join(h.store.TempRoot(), "item-1", "Movie (2001).mkv"))
	assert.True(t, os.IsNotExist(err), "downloaded media must be removed")
}

func TestProcessToolUnavailableContinues(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.extractor.missing = true
	first := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	second := h.enqueue(t, "item-2", "Other (1999) - English.srt")

	assert.Equal(t, 2, h.worker.Drain(context.Background()))

	for _, id := range []string{first.ID, second.ID} {
		got := h.status(t, id)
		assert.Equal(t, models.JobStatusError, got.Status)
		assert.Contains(t, got.ErrorMessage, models.ErrToolUnavailable.Error())
	}
	assert.Zero(t, h.library.fetches)
}

func TestProcessCapacityGuard(t *testing.T) {
	h := newHarness(t, 1000)
	big := h.enqueue(t, "big", "Huge (2010) - English.srt")
	small := h.enqueue(t, "item-1", "Movie (2001) - English.srt")

	assert.Equal(t, 2, h.worker.Drain(context.Background()))

	rejected := h.status(t, big.ID)
	assert.Equal(t, models.JobStatusError, rejected.Status)
	assert.Contains(t, rejected.ErrorMessage, "4096")
	assert.Contains(t, rejected.ErrorMessage, "1000")

	assert.Equal(t, models.JobStatusDone, h.status(t, small.ID).Status)
	assert.Equal(t, 1, h.library.fetches, "rejected source is never downloaded")
}

func TestProcessFastPathWhenTargetExists(t *testing.T) {
	h := newHarness(t, 1<<30)
	_, err := h.store.PublishBytes(context.Background(), []byte(ripped), "Movie (2001) - English.srt")
	require.NoError(t, err)

	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	h.worker.Drain(context.Background())

	assert.Equal(t, models.JobStatusDone, h.status(t, job.ID).Status)
	assert.Zero(t, h.extractor.calls)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.extractor.panics = true
	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")

	h.worker.Drain(context.Background())

	got := h.status(t, job.ID)
	assert.Equal(t, models.JobStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "tool exploded")
}

func TestProcessNoArtifacts(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.extractor.outputs = nil
	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")

	h.worker.Drain(context.Background())

	got := h.status(t, job.ID)
	assert.Equal(t, models.JobStatusError, got.Status)
	assert.False(t, h.store.Exists("Movie (2001) - English.srt"))
}

func TestProcessReusesCompleteDownload(t *testing.T) {
	h := newHarness(t, 1<<30)
	dir := filepath.Join(h.store.TempRoot(), "item-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Movie (2001).mkv"), make([]byte, 64), 0o644))

	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	h.worker.Drain(context.Background())

	assert.Equal(t, models.JobStatusDone, h.status(t, job.ID).Status)
	assert.Zero(t, h.library.fetches)
}

func TestProcessUnknownItem(t *testing.T) {
	h := newHarness(t, 1<<30)
	job := h.enqueue(t, "gone", "Gone - English.srt")

	h.worker.Drain(context.Background())

	got := h.status(t, job.ID)
	assert.Equal(t, models.JobStatusError, got.Status)
	assert.Contains(t, got.ErrorMessage, "not found")
}

func TestProcessSkipsNonPlannedJobs(t *testing.T) {
	h := newHarness(t, 1<<30)
	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	_, err := h.registry.Update(context.Background(), job.ID, models.JobStatusDone, "")
	require.NoError(t, err)

	h.worker.Drain(context.Background())
	assert.Zero(t, h.extractor.calls)

	h.queue.Push("unknown-id")
	assert.Equal(t, 1, h.worker.Drain(context.Background()))
}

func TestRunProcessesPushedJobsAndStops(t *testing.T) {
	h := newHarness(t, 1<<30)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	job := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	assert.Eventually(t, func() bool {
		j, _ := h.registry.Get(job.ID)
		return j.Status == models.JobStatusDone
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunStopsWithBacklog(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.extractor.started = make(chan struct{}, 1)
	h.extractor.release = make(chan struct{})

	running := h.enqueue(t, "item-1", "Movie (2001) - English.srt")
	queued := []*models.ExtractionJob{
		h.enqueue(t, "item-2", "Other (1999) - English.srt"),
		h.enqueue(t, "item-1", "Movie (2001) - French.srt"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	select {
	case <-h.extractor.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not start the first job")
	}
	cancel()
	close(h.extractor.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, models.JobStatusDone, h.status(t, running.ID).Status, "the running job finishes")
	for _, job := range queued {
		assert.Equal(t, models.JobStatusPlanned, h.status(t, job.ID).Status)
	}
	assert.Equal(t, 1, h.extractor.calls)
	assert.Equal(t, 2, h.queue.Len())
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		available int64
		margin    int64
		wantErr   bool
	}{
		{"fits", 100, 1000, 0, false},
		{"equal is rejected", 1000, 1000, 0, true},
		{"larger", 2000, 1000, 0, true},
		{"positive margin allows more", 1000, 1000, 1, false},
		{"negative margin demands headroom", 900, 1000, -200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCapacity(tt.size, tt.available, tt.margin)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientMemory)
			var capErr *models.CapacityError
			require.True(t, errors.As(err, &capErr))
			assert.Equal(t, tt.size, capErr.SourceSize)
			assert.Equal(t, tt.available, capErr.Available)
		})
	}
}

func TestAvailableMemory(t *testing.T) {
	available, err := AvailableMemory(context.Background())
	require.NoError(t, err)
	assert.Greater(t, available, int64(0))
}
