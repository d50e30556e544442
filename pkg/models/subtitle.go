package models

import "strings"

// Disposition is how a subtitle stream is made usable.
type Disposition int

// Disposition values
const (
	DispositionUnsupported Disposition = iota
	DispositionDirect
	DispositionConvertible
	DispositionExtractable
)

func (d Disposition) String() string {
	switch d {
	case DispositionDirect:
		return "direct"
	case DispositionConvertible:
		return "convertible"
	case DispositionExtractable:
		return "extractable"
	default:
		return "unsupported"
	}
}

// StreamListing pairs a stream with its disposition.
type StreamListing struct {
	Stream      SubtitleStream `json:"stream"`
	Disposition Disposition    `json:"-"`
}

// CatalogEntry is one cached subtitle file offered for an item.
type CatalogEntry struct {
	Language string `json:"language"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// DiscoveryResult is one subtitle published by the discovery fallback.
type DiscoveryResult struct {
	Language string `json:"language"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Wire separators kept for client compatibility.
const (
	FieldSeparator  = "`"
	RecordSeparator = ";"
)

// EncodeStreamListings renders "{displayTitle}`{disposition}" records.
func EncodeStreamListings(items []StreamListing) string {
	records := make([]string, 0, len(items))
	for _, it := range items {
		records = append(records, joinFields(it.Stream.DisplayTitle, it.Disposition.String()))
	}
	return strings.Join(records, RecordSeparator)
}

// EncodeCatalog renders "{language}`{filename}`{url}" records.
func EncodeCatalog(entries []CatalogEntry) string {
	records := make([]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, joinFields(e.Language, e.Filename, e.URL))
	}
	return strings.Join(records, RecordSeparator)
}

// EncodeDiscovery renders "{language}`{url}" records.
func EncodeDiscovery(results []DiscoveryResult) string {
	records := make([]string, 0, len(results))
	for _, r := range results {
		records = append(records, joinFields(r.Language, r.URL))
	}
	return strings.Join(records, RecordSeparator)
}

// DecodeRecords splits a wire string back into field slices.
func DecodeRecords(s string) [][]string {
	if s == "" {
		return nil
	}
	var out [][]string
	for _, rec := range strings.Split(s, RecordSeparator) {
		out = append(out, strings.Split(rec, FieldSeparator))
	}
	return out
}

func joinFields(fields ...string) string {
	for i, f := range fields {
		f = strings.ReplaceAll(f, FieldSeparator, "'")
		fields[i] = strings.ReplaceAll(f, RecordSeparator, ",")
	}
	return strings.Join(fields, FieldSeparator)
}
