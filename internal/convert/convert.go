// Package convert turns fetchable text subtitle streams into cached SRT files
// within the calling request.
package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/asticode/go-astisub"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/classifier"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/internal/tracing"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Source locates and downloads subtitle streams.
type Source interface {
	SubtitleURL(item *models.MediaItem, stream models.SubtitleStream) string
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Pipeline converts Direct and Convertible streams.
type Pipeline struct {
	source     Source
	classifier *classifier.Classifier
	store      *cache.Store
	rules      cleaner.Rules
	logger     *logging.Logger
}

// NewPipeline creates a conversion pipeline.
func NewPipeline(source Source, c *classifier.Classifier, store *cache.Store, rules cleaner.Rules, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		source:     source,
		classifier: c,
		store:      store,
		rules:      rules,
		logger:     logger.WithComponent("convert"),
	}
}

// format is the on-the-wire shape of a downloaded subtitle.
type format int

const (
	formatSRT format = iota
	formatSSA
	formatWebVTT
)

// Convert fetches stream and publishes it to the cache as target. Failures
// are *models.ConversionError; the cache is left untouched on failure.
func (p *Pipeline) Convert(ctx context.Context, item *models.MediaItem, stream models.SubtitleStream, target string) (entry cache.Entry, err error) {
	span, ctx := tracing.StartSpan(ctx, "convert.subtitle")
	tracing.SetTag(span, "item_id", item.ID)
	tracing.SetTag(span, "codec", stream.Codec)
	start := time.Now()
	defer func() {
		tracing.FinishSpan(span, err)
		metrics.RecordConversion(strings.ToLower(stream.Codec), err == nil, time.Since(start).Seconds())
		p.logger.LogConversion(item.ID, target, stream.Codec, time.Since(start), err)
	}()

	disposition := p.classifier.Classify(stream)
	if disposition != models.DispositionDirect && disposition != models.DispositionConvertible {
		return cache.Entry{}, fmt.Errorf("stream %q is %s: %w", stream.DisplayTitle, disposition, models.ErrUnsupportedFormat)
	}

	dir, err := p.store.TempDir("convert-")
	if err != nil {
		return cache.Entry{}, &models.ConversionError{Stage: models.StageFetch, Target: target, Err: err}
	}
	defer os.RemoveAll(dir)

	url := p.source.SubtitleURL(item, stream)
	downloaded := filepath.Join(dir, "source")
	if _, err := p.source.Fetch(ctx, url, downloaded); err != nil {
		return cache.Entry{}, &models.ConversionError{Stage: models.StageFetch, Target: target, Err: err}
	}

	ready := downloaded
	if disposition == models.DispositionConvertible {
		ready = filepath.Join(dir, "converted.srt")
		if err := p.toSRT(downloaded, ready, target, detectFormat(url, stream.Codec)); err != nil {
			return cache.Entry{}, err
		}
	}

	entry, err = p.store.Publish(ctx, ready, target)
	if err != nil {
		return cache.Entry{}, &models.ConversionError{Stage: models.StagePublish, Target: target, Err: err}
	}
	metrics.RecordCachePublish("convert")
	return entry, nil
}

// toSRT converts src into a cleaned SRT file at dst.
func (p *Pipeline) toSRT(src, dst, target string, f format) error {
	var (
		subs *astisub.Subtitles
		err  error
	)

	switch f {
	case formatSRT:
		stats, err := cleaner.CleanFile(src, dst, p.rules)
		if err != nil {
			return &models.ConversionError{Stage: models.StageClean, Target: target, Err: err}
		}
		p.logger.Debugf("cleaned %s: %d cues, %d removed", target, stats.Cues, stats.RemovedCues)
		return nil
	case formatSSA:
		subs, err = readWith(src, astisub.ReadFromSSA)
	case formatWebVTT:
		subs, err = readWith(src, astisub.ReadFromWebVTT)
	}
	if err != nil {
		return &models.ConversionError{Stage: models.StageConvert, Target: target, Err: err}
	}

	stats, err := cleaner.WriteSRT(subs, dst, p.rules)
	if err != nil {
		return &models.ConversionError{Stage: models.StageClean, Target: target, Err: err}
	}
	p.logger.Debugf("converted %s: %d cues, %d removed", target, stats.Cues, stats.RemovedCues)
	return nil
}

func readWith(name string, read func(io.Reader) (*astisub.Subtitles, error)) (*astisub.Subtitles, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return read(f)
}

// detectFormat prefers the extension of the delivery URL, since the library
// may already have converted the stream, and falls back to the codec.
func detectFormat(url, codec string) format {
	u := url
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch strings.ToLower(path.Ext(u)) {
	case ".srt", ".subrip":
		return formatSRT
	case ".ass", ".ssa":
		return formatSSA
	case ".vtt":
		return formatWebVTT
	}

	switch strings.ToLower(codec) {
	case "ass", "ssa":
		return formatSSA
	case "webvtt", "vtt":
		return formatWebVTT
	default:
		return formatSRT
	}
}
