// Package subtitles decides, per request, whether a subtitle is served from
// the cache, converted on the spot, queued for extraction or discovered.
package subtitles

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/catalog"
	"github.com/therealutkarshpriyadarshi/subextract/internal/classifier"
	"github.com/therealutkarshpriyadarshi/subextract/internal/discovery"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/internal/queue"
	"github.com/therealutkarshpriyadarshi/subextract/internal/registry"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Outcome is how a subtitle request was satisfied.
type Outcome string

// Outcome values
const (
	OutcomeCached            Outcome = "cached"
	OutcomeConverted         Outcome = "converted"
	OutcomeExtractionStarted Outcome = "extraction_started"
	OutcomeExtractionPending Outcome = "extraction_pending"
)

// Response describes the result of Request or Extract. Job is set for the
// extraction outcomes, Filename and URL for the others.
type Response struct {
	Outcome  Outcome
	Filename string
	URL      string
	Job      *models.ExtractionJob
}

// Library fetches item metadata.
type Library interface {
	GetItem(ctx context.Context, itemID string) (*models.MediaItem, error)
}

// Converter runs the synchronous conversion pipeline.
type Converter interface {
	Convert(ctx context.Context, item *models.MediaItem, stream models.SubtitleStream, target string) (cache.Entry, error)
}

// Discoverer finds subtitles with external providers.
type Discoverer interface {
	Discover(ctx context.Context, item *models.MediaItem) ([]discovery.Result, error)
}

// Service is the request-level entry point of the pipeline.
type Service struct {
	library    Library
	classifier *classifier.Classifier
	store      *cache.Store
	converter  Converter
	jobs       *registry.Registry
	queue      *queue.Queue
	catalog    *catalog.Catalog
	discoverer Discoverer
	logger     *logging.Logger
}

// NewService wires the pipeline components.
func NewService(library Library, c *classifier.Classifier, store *cache.Store, converter Converter,
	jobs *registry.Registry, q *queue.Queue, cat *catalog.Catalog, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		library:    library,
		classifier: c,
		store:      store,
		converter:  converter,
		jobs:       jobs,
		queue:      q,
		catalog:    cat,
		logger:     logger.WithComponent("subtitles"),
	}
}

// SetDiscoverer enables the discovery fallback.
func (s *Service) SetDiscoverer(d Discoverer) {
	s.discoverer = d
}

// Streams lists every subtitle stream of an item with its disposition.
func (s *Service) Streams(ctx context.Context, itemID string) ([]models.StreamListing, error) {
	item, err := s.library.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var out []models.StreamListing
	for _, stream := range item.SubtitleStreams() {
		d := s.classifier.Classify(stream)
		if d == models.DispositionUnsupported {
			s.logger.WithItemID(itemID).Warnf("stream %q has unsupported codec %s", stream.DisplayTitle, stream.Codec)
		}
		out = append(out, models.StreamListing{Stream: stream, Disposition: d})
	}
	return out, nil
}

// Request makes one subtitle stream available. Cached and convertible
// streams are answered synchronously; extractable ones are queued.
func (s *Service) Request(ctx context.Context, itemID, displayTitle string) (resp *Response, err error) {
	defer func() { metrics.RecordSubtitleRequest(requestOutcome(resp, err)) }()

	item, stream, err := s.resolve(ctx, itemID, displayTitle)
	if err != nil {
		return nil, err
	}
	target := models.StreamFilename(item.BaseName(), stream.DisplayTitle)

	if _, ok := s.store.Lookup(target); ok {
		return s.cached(OutcomeCached, target), nil
	}

	d := s.classifier.Classify(stream)
	metrics.RecordClassification(d.String())

	switch d {
	case models.DispositionDirect, models.DispositionConvertible:
		entry, err := s.converter.Convert(ctx, item, stream, target)
		if err != nil {
			return nil, err
		}
		return s.cached(OutcomeConverted, entry.Name), nil
	case models.DispositionExtractable:
		return s.enqueue(ctx, item, target), nil
	default:
		return nil, fmt.Errorf("%s (%s): %w", stream.DisplayTitle, stream.Codec, models.ErrUnsupportedFormat)
	}
}

// Extract queues extraction of an image-based stream without trying the
// other branches.
func (s *Service) Extract(ctx context.Context, itemID, displayTitle string) (*Response, error) {
	item, stream, err := s.resolve(ctx, itemID, displayTitle)
	if err != nil {
		return nil, err
	}
	if d := s.classifier.Classify(stream); d != models.DispositionExtractable {
		return nil, fmt.Errorf("%s is %s, not extractable: %w", stream.DisplayTitle, d, models.ErrUnsupportedFormat)
	}

	target := models.StreamFilename(item.BaseName(), stream.DisplayTitle)
	if _, ok := s.store.Lookup(target); ok {
		return s.cached(OutcomeCached, target), nil
	}
	return s.enqueue(ctx, item, target), nil
}

// ExtractStatus returns the job for one stream of an item.
func (s *Service) ExtractStatus(ctx context.Context, itemID, displayTitle string) (*models.ExtractionJob, error) {
	item, stream, err := s.resolve(ctx, itemID, displayTitle)
	if err != nil {
		return nil, err
	}
	target := models.StreamFilename(item.BaseName(), stream.DisplayTitle)
	job, ok := s.jobs.FindByFilename(target)
	if !ok {
		return nil, fmt.Errorf("no extraction job for %s: %w", target, models.ErrNotFound)
	}
	return job, nil
}

// Jobs returns every job in registry order.
func (s *Service) Jobs() []*models.ExtractionJob {
	return s.jobs.All()
}

// Discover runs the discovery fallback for an item. Nothing found is an
// empty result.
func (s *Service) Discover(ctx context.Context, itemID string) ([]models.DiscoveryResult, error) {
	item, err := s.library.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if s.discoverer == nil {
		return nil, nil
	}

	results, err := s.discoverer.Discover(ctx, item)
	if err != nil {
		return nil, err
	}
	out := make([]models.DiscoveryResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.DiscoveryResult{
			Language: r.Language,
			Filename: r.Entry.Name,
			URL:      s.catalog.URL(r.Entry.Name),
		})
	}
	return out, nil
}

// All lists every cached subtitle belonging to an item.
func (s *Service) All(ctx context.Context, itemID string) ([]models.CatalogEntry, error) {
	item, err := s.library.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return s.catalog.ListCached(item)
}

// PlanItem queues extraction for every image-based stream of an item that is
// not cached yet. Streams that already have an active job return that job.
func (s *Service) PlanItem(ctx context.Context, itemID string) ([]*models.ExtractionJob, error) {
	item, err := s.library.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var jobs []*models.ExtractionJob
	for _, stream := range item.SubtitleStreams() {
		if s.classifier.Classify(stream) != models.DispositionExtractable {
			continue
		}
		target := models.StreamFilename(item.BaseName(), stream.DisplayTitle)
		if s.store.Exists(target) {
			continue
		}
		jobs = append(jobs, s.enqueue(ctx, item, target).Job)
	}
	return jobs, nil
}

func (s *Service) resolve(ctx context.Context, itemID, displayTitle string) (*models.MediaItem, models.SubtitleStream, error) {
	item, err := s.library.GetItem(ctx, itemID)
	if err != nil {
		return nil, models.SubtitleStream{}, err
	}
	stream, ok := item.FindSubtitle(displayTitle)
	if !ok {
		return nil, models.SubtitleStream{}, fmt.Errorf("subtitle %q of item %s: %w", displayTitle, itemID, models.ErrNotFound)
	}
	return item, stream, nil
}

// enqueue creates a planned job for target unless one is active already.
func (s *Service) enqueue(ctx context.Context, item *models.MediaItem, target string) *Response {
	job, created := s.jobs.CreateIfAbsent(ctx, registry.Target{
		TargetFilename: target,
		SourceItemID:   item.ID,
		SourceItemName: item.FileName(),
	})
	if !created {
		return &Response{Outcome: OutcomeExtractionPending, Filename: target, Job: job}
	}

	s.queue.Push(job.ID)
	metrics.UpdateJobMetrics(s.jobs.Counts()[models.JobStatusInProgress], s.queue.Len())
	s.logger.WithJobID(job.ID).WithItemID(item.ID).Infof("queued extraction of %s", target)
	return &Response{Outcome: OutcomeExtractionStarted, Filename: target, Job: job}
}

func (s *Service) cached(outcome Outcome, name string) *Response {
	return &Response{Outcome: outcome, Filename: name, URL: s.catalog.URL(name)}
}

func requestOutcome(resp *Response, err error) string {
	switch {
	case resp != nil:
		return string(resp.Outcome)
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrUnsupportedFormat):
		return "unsupported"
	default:
		return "failed"
	}
}
