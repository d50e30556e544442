package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	all := []JobStatus{JobStatusPlanned, JobStatusInProgress, JobStatusDone, JobStatusError}

	legal := map[[2]JobStatus]bool{
		{JobStatusPlanned, JobStatusInProgress}: true,
		{JobStatusPlanned, JobStatusDone}:       true,
		{JobStatusInProgress, JobStatusDone}:    true,
		{JobStatusInProgress, JobStatusError}:   true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]JobStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusError.Terminal())
	assert.False(t, JobStatusPlanned.Terminal())
	assert.True(t, JobStatusInProgress.Active())
	assert.False(t, JobStatus("bogus").Valid())
}

func TestExtractionJobJSON(t *testing.T) {
	job := &ExtractionJob{
		ID:             "job-1",
		TargetFilename: "Movie (2001) - English.srt",
		Status:         JobStatusPlanned,
		SourceItemID:   "item-1",
		SourceItemName: "Movie (2001).mkv",
	}

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"targetFilename", "status", "sourceItemId", "sourceItemName", "createdAt", "updatedAt"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, "planned", fields["status"])

	clone := job.Clone()
	clone.Status = JobStatusDone
	assert.Equal(t, JobStatusPlanned, job.Status)
}

func TestMediaItemBaseName(t *testing.T) {
	tests := []struct {
		name string
		item MediaItem
		want string
	}{
		{"unix path", MediaItem{Path: "/media/movies/Movie (2001)/Movie (2001).mkv"}, "Movie (2001)"},
		{"windows path", MediaItem{Path: `D:\Movies\Movie (2001).mp4`}, "Movie (2001)"},
		{"no path falls back to name", MediaItem{Name: "Movie (2001)"}, "Movie (2001)"},
		{"dotted release name", MediaItem{Path: "/m/Movie.Name.2001.1080p.mkv"}, "Movie.Name.2001.1080p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.BaseName())
		})
	}
}

func TestMediaItemFindSubtitle(t *testing.T) {
	item := MediaItem{Streams: []SubtitleStream{
		{Type: "Video", DisplayTitle: "1080p"},
		{Type: "Subtitle", DisplayTitle: "English", Codec: "subrip"},
		{Type: "Subtitle", DisplayTitle: "French", Codec: "ass"},
	}}

	assert.Len(t, item.SubtitleStreams(), 2)

	s, ok := item.FindSubtitle("French")
	require.True(t, ok)
	assert.Equal(t, "ass", s.Codec)

	_, ok = item.FindSubtitle("1080p")
	assert.False(t, ok)
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "Movie (2001) - English.srt", StreamFilename("Movie (2001)", "English"))
	assert.Equal(t, "Movie (2001) - EnglishSDH.srt", StreamFilename("Movie (2001)", "English/SDH"))
	assert.Equal(t, "Movie (2001).en.srt", DiscoveryFilename("Movie (2001)", "en"))
	assert.Equal(t, "Movie (2001) - EnglishSDH.srt", StreamFilename("Movie (2001)", "English\\SDH"))
	assert.Equal(t, "hidden - English.srt", StreamFilename("..hidden", "Eng\x00lish"))
	assert.Equal(t, "Movie (2001).en.srt", DiscoveryFilename(".Movie (2001)", "e\\n"))

	item := MediaItem{Name: "Movie\\ (2001)"}
	assert.Equal(t, "Movie (2001)", item.BaseName())
}

func TestFetchable(t *testing.T) {
	assert.False(t, SubtitleStream{}.Fetchable())
	assert.True(t, SubtitleStream{IsExternal: true}.Fetchable())
	assert.True(t, SubtitleStream{IsTextSubtitleStream: true}.Fetchable())
	assert.True(t, SubtitleStream{SupportsExternalStream: true}.Fetchable())
}

func TestWireEncoding(t *testing.T) {
	catalog := EncodeCatalog([]CatalogEntry{
		{Language: "English", Filename: "Movie (2001) - English.srt", URL: "http://h/files/a"},
		{Language: "fr", Filename: "Movie (2001).fr.srt", URL: "http://h/files/b"},
	})
	assert.Equal(t, "English`Movie (2001) - English.srt`http://h/files/a;fr`Movie (2001).fr.srt`http://h/files/b", catalog)

	records := DecodeRecords(catalog)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"fr", "Movie (2001).fr.srt", "http://h/files/b"}, records[1])

	listing := EncodeStreamListings([]StreamListing{
		{Stream: SubtitleStream{DisplayTitle: "English; SDH"}, Disposition: DispositionExtractable},
	})
	assert.Equal(t, "English, SDH`extractable", listing)

	assert.Equal(t, "", EncodeDiscovery(nil))
	assert.Nil(t, DecodeRecords(""))
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&ConversionError{Stage: StageFetch, Target: "a.srt", Err: cause})

	assert.True(t, errors.Is(err, ErrConversionFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "fetch")

	var ce *ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "a.srt", ce.Target)

	capErr := error(&CapacityError{SourceSize: 4096, Available: 1024})
	assert.True(t, errors.Is(capErr, ErrInsufficientMemory))
	assert.Contains(t, capErr.Error(), "4096")
	assert.Contains(t, capErr.Error(), "1024")
}
