// Package classifier decides how a subtitle stream can be turned into a
// cached SRT file.
package classifier

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// Table lists codec names per disposition. Matching is case-insensitive.
type Table struct {
	Text        []string
	Convertible []string
	Image       []string
}

// DefaultTable covers the codecs reported by Jellyfin for common sources.
func DefaultTable() Table {
	return Table{
		Text:        []string{"subrip", "srt"},
		Convertible: []string{"ass", "ssa", "mov_text", "webvtt"},
		Image:       []string{"pgssub", "pgs", "pgs_image", "hdmv_pgs_subtitle"},
	}
}

// TableFromConfig builds a table from the subtitles.codecs section.
func TableFromConfig(cfg config.CodecsConfig) Table {
	return Table{Text: cfg.Text, Convertible: cfg.Convertible, Image: cfg.Image}
}

// Classifier maps streams to dispositions. It is immutable and safe for
// concurrent use.
type Classifier struct {
	text        map[string]struct{}
	convertible map[string]struct{}
	image       map[string]struct{}
}

// New builds a classifier from t.
func New(t Table) *Classifier {
	return &Classifier{
		text:        toSet(t.Text),
		convertible: toSet(t.Convertible),
		image:       toSet(t.Image),
	}
}

// Classify applies the rules in order; the first match wins.
//
//  1. text codec and fetchable -> Direct
//  2. convertible codec and fetchable -> Convertible
//  3. image codec -> Extractable (read from the container, fetchability irrelevant)
//  4. anything else -> Unsupported
func (c *Classifier) Classify(s models.SubtitleStream) models.Disposition {
	codec := normalize(s.Codec)
	fetchable := s.Fetchable()

	if _, ok := c.text[codec]; ok && fetchable {
		return models.DispositionDirect
	}
	if _, ok := c.convertible[codec]; ok && fetchable {
		return models.DispositionConvertible
	}
	if _, ok := c.image[codec]; ok {
		return models.DispositionExtractable
	}
	return models.DispositionUnsupported
}

// IsConvertibleCodec reports whether codec belongs to the convertible set.
func (c *Classifier) IsConvertibleCodec(codec string) bool {
	_, ok := c.convertible[normalize(codec)]
	return ok
}

func toSet(codecs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codecs))
	for _, codec := range codecs {
		if n := normalize(codec); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func normalize(codec string) string {
	return strings.ToLower(strings.TrimSpace(codec))
}
