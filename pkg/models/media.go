package models

import (
	"path"
	"strings"
)

// SubtitleStream describes one subtitle track of a media item as reported by
// the media library. It is a per-request snapshot and is never persisted.
type SubtitleStream struct {
	Index                  int    `json:"index"`
	Type                   string `json:"type"`
	Codec                  string `json:"codec"`
	Language               string `json:"language,omitempty"`
	DisplayTitle           string `json:"display_title"`
	IsExternal             bool   `json:"is_external"`
	IsTextSubtitleStream   bool   `json:"is_text_subtitle_stream"`
	SupportsExternalStream bool   `json:"supports_external_stream"`
	DeliveryURL            string `json:"delivery_url,omitempty"`
}

// Fetchable reports whether the library exposes the stream as a standalone
// download.
func (s SubtitleStream) Fetchable() bool {
	return s.IsExternal || s.IsTextSubtitleStream || s.SupportsExternalStream
}

// MediaItem is the subset of a library item the subtitle pipeline needs.
type MediaItem struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Path          string           `json:"path"`
	MediaSourceID string           `json:"media_source_id"`
	Size          int64            `json:"size"`
	Container     string           `json:"container,omitempty"`
	Streams       []SubtitleStream `json:"streams"`
}

// StreamTypeSubtitle is the media stream type carrying subtitles.
const StreamTypeSubtitle = "Subtitle"

// BaseName returns the source filename without directory or extension. It is
// the prefix every cache entry of the item is named after.
func (m MediaItem) BaseName() string {
	src := strings.ReplaceAll(m.Path, "\\", "/")
	base := path.Base(src)
	if src == "" || base == "." || base == "/" {
		base = m.Name
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	return sanitizeBase(base)
}

// FileName returns the source filename including its extension.
func (m MediaItem) FileName() string {
	src := strings.ReplaceAll(m.Path, "\\", "/")
	base := path.Base(src)
	if src == "" || base == "." || base == "/" {
		base = m.Name
		if m.Container != "" {
			base += "." + m.Container
		}
	}
	return strings.ReplaceAll(base, "/", "")
}

// SubtitleStreams returns the item's subtitle streams in library order.
func (m MediaItem) SubtitleStreams() []SubtitleStream {
	var out []SubtitleStream
	for _, s := range m.Streams {
		if s.Type == "" || strings.EqualFold(s.Type, StreamTypeSubtitle) {
			out = append(out, s)
		}
	}
	return out
}

// FindSubtitle returns the subtitle stream with the given display title.
func (m MediaItem) FindSubtitle(displayTitle string) (SubtitleStream, bool) {
	for _, s := range m.SubtitleStreams() {
		if s.DisplayTitle == displayTitle {
			return s, true
		}
	}
	return SubtitleStream{}, false
}

// StreamFilename is the cache key of a converted or extracted stream.
func StreamFilename(base, displayTitle string) string {
	return sanitizeBase(base) + " - " + sanitize(displayTitle) + ".srt"
}

// DiscoveryFilename is the cache key of a provider download.
func DiscoveryFilename(base, language string) string {
	return sanitizeBase(base) + "." + sanitize(language) + ".srt"
}

var unsafeChars = strings.NewReplacer("/", "", "\\", "", "\x00", "")

// sanitize drops the characters a cache entry name may not contain.
func sanitize(s string) string {
	return unsafeChars.Replace(s)
}

// sanitizeBase also drops leading dots so names never become hidden files.
func sanitizeBase(s string) string {
	return strings.TrimLeft(sanitize(s), ".")
}
