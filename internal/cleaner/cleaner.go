// Package cleaner tidies SRT subtitles produced by conversion, OCR or
// external providers before they are published to the cache.
package cleaner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/asticode/go-astisub"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
)

// ErrNoCues is returned when nothing usable is left to write.
var ErrNoCues = errors.New("subtitle has no cues")

// Rules selects the cleaning passes to apply.
type Rules struct {
	NoStyle bool // drop inline styling and leftover override tags
	OCR     bool // repair common OCR confusions
	Tidy    bool // normalize whitespace and drop empty cues
	NoSpam  bool // drop advertisement cues
}

// AllRules enables every pass.
func AllRules() Rules {
	return Rules{NoStyle: true, OCR: true, Tidy: true, NoSpam: true}
}

// RulesFromConfig maps the subtitles.cleaning section.
func RulesFromConfig(cfg config.CleaningConfig) Rules {
	return Rules{NoStyle: cfg.NoStyle, OCR: cfg.OCR, Tidy: cfg.Tidy, NoSpam: cfg.NoSpam}
}

// Stats summarizes what a cleaning run changed.
type Stats struct {
	Cues         int
	RemovedCues  int
	RemovedLines int
	EditedLines  int
}

var (
	overrideTagPattern = regexp.MustCompile(`\{\\[^}]*\}`)
	htmlTagPattern     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	multiSpacePattern  = regexp.MustCompile(`[ \t]{2,}`)
	spaceBeforePunct   = regexp.MustCompile(`\s+([,.!?;:])`)
	symbolOnlyPattern  = regexp.MustCompile(`^[\s\p{P}\p{S}]*$`)

	spamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)opensubtitles`),
		regexp.MustCompile(`(?i)subtitles?\s+(by|ripped by|synced by|downloaded from)`),
		regexp.MustCompile(`(?i)(sync|synced|corrected)\s+(and|&)\s+(corrected|synced)\s+by`),
		regexp.MustCompile(`(?i)https?://`),
		regexp.MustCompile(`(?i)\bwww\.`),
		regexp.MustCompile(`(?i)\b(subscene|addic7ed|podnapisi|yts|yify)\b`),
		regexp.MustCompile(`(?i)advertise your product`),
	}

	ocrReplacements = []struct {
		pattern *regexp.Regexp
		repl    string
	}{
		{regexp.MustCompile(`\|`), "I"},
		{regexp.MustCompile(`\bl'm\b`), "I'm"},
		{regexp.MustCompile(`\bl'll\b`), "I'll"},
		{regexp.MustCompile(`\bl've\b`), "I've"},
		{regexp.MustCompile(`\bl'd\b`), "I'd"},
		{regexp.MustCompile(`(^|[\s"-])l(\s)`), "${1}I${2}"},
		{regexp.MustCompile(`\b0f\b`), "of"},
		{regexp.MustCompile(`''`), `"`},
		{regexp.MustCompile(`\s*\.\s*\.\s*\.`), "..."},
	}
)

// Clean applies rules to subs in place.
func Clean(subs *astisub.Subtitles, rules Rules) Stats {
	var stats Stats
	if subs == nil {
		return stats
	}

	if rules.NoStyle {
		subs.RemoveStyling()
	}

	kept := subs.Items[:0]
	for _, item := range subs.Items {
		if rules.NoSpam && isSpam(item) {
			stats.RemovedCues++
			continue
		}

		lines := item.Lines[:0]
		for _, line := range item.Lines {
			original := line.String()
			text := original
			if rules.NoStyle {
				text = overrideTagPattern.ReplaceAllString(text, "")
				text = htmlTagPattern.ReplaceAllString(text, "")
			}
			if rules.OCR {
				text = fixOCR(text)
			}
			if rules.Tidy {
				text = tidy(text)
			}
			if (rules.Tidy || rules.OCR) && symbolOnlyPattern.MatchString(text) {
				stats.RemovedLines++
				continue
			}
			if text != original {
				stats.EditedLines++
				line = astisub.Line{Items: []astisub.LineItem{{Text: text}}, VoiceName: line.VoiceName}
			}
			lines = append(lines, line)
		}
		item.Lines = lines

		if len(item.Lines) == 0 && (rules.Tidy || rules.OCR) {
			stats.RemovedCues++
			continue
		}
		kept = append(kept, item)
	}
	subs.Items = kept

	if rules.Tidy {
		for i, item := range subs.Items {
			item.Index = i + 1
		}
	}

	stats.Cues = len(subs.Items)
	return stats
}

// CleanSRT reads SRT from r, cleans it and writes SRT to w.
func CleanSRT(r io.Reader, w io.Writer, rules Rules) (Stats, error) {
	subs, err := astisub.ReadFromSRT(r)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to parse srt: %w", err)
	}
	stats := Clean(subs, rules)
	if len(subs.Items) == 0 {
		return stats, ErrNoCues
	}
	if err := subs.WriteToSRT(w); err != nil {
		return stats, fmt.Errorf("failed to write srt: %w", err)
	}
	return stats, nil
}

// CleanFile cleans the SRT at src and writes the result to dst. src and dst
// may be the same path.
func CleanFile(src, dst string, rules Rules) (Stats, error) {
	in, err := os.ReadFile(src)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read %s: %w", src, err)
	}

	var out bytes.Buffer
	stats, err := CleanSRT(bytes.NewReader(in), &out, rules)
	if err != nil {
		return stats, err
	}

	if err := os.WriteFile(dst, out.Bytes(), 0o644); err != nil {
		return stats, fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return stats, nil
}

// WriteSRT cleans subs and writes them to path.
func WriteSRT(subs *astisub.Subtitles, path string, rules Rules) (Stats, error) {
	stats := Clean(subs, rules)
	if subs == nil || len(subs.Items) == 0 {
		return stats, ErrNoCues
	}

	f, err := os.Create(path)
	if err != nil {
		return stats, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := subs.WriteToSRT(f); err != nil {
		f.Close()
		return stats, fmt.Errorf("failed to write srt: %w", err)
	}
	if err := f.Close(); err != nil {
		return stats, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return stats, nil
}

func isSpam(item *astisub.Item) bool {
	for _, line := range item.Lines {
		text := line.String()
		for _, p := range spamPatterns {
			if p.MatchString(text) {
				return true
			}
		}
	}
	return false
}

func fixOCR(text string) string {
	for _, r := range ocrReplacements {
		text = r.pattern.ReplaceAllString(text, r.repl)
	}
	return text
}

func tidy(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = multiSpacePattern.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
