package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/classifier"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

const srtBody = `1
00:00:01,000 --> 00:00:03,000
Hello there.

2
00:00:04,000 --> 00:00:05,000
Downloaded from www.example.org
`

const assBody = `[Script Info]
ScriptType: v4.00+

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:03.00,Default,,0,0,0,,{\i1}Hello there{\i0}
Dialogue: 0,0:00:04.00,0:00:06.00,Default,,0,0,0,,Second line
`

const vttBody = `WEBVTT

00:00:01.000 --> 00:00:03.000
From the web.
`

type fakeSource struct {
	bodies  map[string]string
	fetched []string
}

func (f *fakeSource) SubtitleURL(item *models.MediaItem, stream models.SubtitleStream) string {
	if stream.DeliveryURL != "" {
		return stream.DeliveryURL
	}
	return "/Videos/" + item.ID + "/" + stream.Codec
}

func (f *fakeSource) Fetch(_ context.Context, url, dest string) (int64, error) {
	f.fetched = append(f.fetched, url)
	body, ok := f.bodies[url]
	if !ok {
		return 0, errors.New("connection refused")
	}
	return int64(len(body)), os.WriteFile(dest, []byte(body), 0o644)
}

func newTestPipeline(t *testing.T, bodies map[string]string) (*Pipeline, *cache.Store, *fakeSource) {
	t.Helper()
	root := t.TempDir()
	store, err := cache.NewStore(filepath.Join(root, "out"), filepath.Join(root, "tmp"), nil)
	require.NoError(t, err)

	src := &fakeSource{bodies: bodies}
	return NewPipeline(src, classifier.New(classifier.DefaultTable()), store, cleaner.AllRules(), nil), store, src
}

func assertTempEmpty(t *testing.T, store *cache.Store) {
	t.Helper()
	entries, err := os.ReadDir(store.TempRoot())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}

var item = &models.MediaItem{ID: "item-1", Path: "/media/Movie (2001).mkv"}

func TestConvertDirectCopiesAsIs(t *testing.T) {
	p, store, _ := newTestPipeline(t, map[string]string{"/sub.srt": srtBody})
	stream := models.SubtitleStream{Codec: "subrip", DisplayTitle: "English", IsExternal: true, DeliveryURL: "/sub.srt"}

	entry, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	require.NoError(t, err)
	assert.Equal(t, "Movie (2001) - English.srt", entry.Name)

	data, err := os.ReadFile(store.Path(entry.Name))
	require.NoError(t, err)
	assert.Equal(t, srtBody, string(data))
	assertTempEmpty(t, store)
}

func TestConvertASS(t *testing.T) {
	p, store, _ := newTestPipeline(t, map[string]string{"/sub.ass": assBody})
	stream := models.SubtitleStream{Codec: "ass", DisplayTitle: "English", IsExternal: true, DeliveryURL: "/sub.ass"}

	entry, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path(entry.Name))
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "00:00:01,000 --> 00:00:03,000")
	assert.Contains(t, out, "Hello there")
	assert.Contains(t, out, "Second line")
	assert.NotContains(t, out, `{\i1}`)
	assertTempEmpty(t, store)
}

func TestConvertWebVTT(t *testing.T) {
	p, store, _ := newTestPipeline(t, map[string]string{"/sub.vtt": vttBody})
	stream := models.SubtitleStream{Codec: "webvtt", DisplayTitle: "English", SupportsExternalStream: true, DeliveryURL: "/sub.vtt"}

	entry, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path(entry.Name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "From the web.")
	assert.NotContains(t, string(data), "WEBVTT")
}

func TestConvertMovTextCleans(t *testing.T) {
	p, store, _ := newTestPipeline(t, map[string]string{"/sub.srt": srtBody})
	stream := models.SubtitleStream{Codec: "mov_text", DisplayTitle: "English", IsTextSubtitleStream: true, DeliveryURL: "/sub.srt"}

	entry, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	require.NoError(t, err)

	data, err := os.ReadFile(store.Path(entry.Name))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello there.")
	assert.NotContains(t, string(data), "www.example.org")
}

func TestConvertFetchFailure(t *testing.T) {
	p, store, _ := newTestPipeline(t, nil)
	stream := models.SubtitleStream{Codec: "subrip", DisplayTitle: "English", IsExternal: true}

	_, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	require.Error(t, err)

	var convErr *models.ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, models.StageFetch, convErr.Stage)
	assert.ErrorIs(t, err, models.ErrConversionFailure)
	assert.False(t, store.Exists("Movie (2001) - English.srt"))
	assertTempEmpty(t, store)
}

func TestConvertUnusableContent(t *testing.T) {
	p, store, _ := newTestPipeline(t, map[string]string{"/sub.ass": "not a subtitle"})
	stream := models.SubtitleStream{Codec: "ass", DisplayTitle: "English", IsExternal: true, DeliveryURL: "/sub.ass"}

	_, err := p.Convert(context.Background(), item, stream, "Movie (2001) - English.srt")
	assert.ErrorIs(t, err, models.ErrConversionFailure)
	assert.False(t, store.Exists("Movie (2001) - English.srt"))
	assertTempEmpty(t, store)
}

func TestConvertRejectsOtherDispositions(t *testing.T) {
	p, _, src := newTestPipeline(t, nil)

	tests := []models.SubtitleStream{
		{Codec: "PGSSUB", DisplayTitle: "English"},
		{Codec: "dvd_subtitle", DisplayTitle: "English", IsExternal: true},
		{Codec: "ass", DisplayTitle: "English"},
	}
	for _, stream := range tests {
		_, err := p.Convert(context.Background(), item, stream, "x.srt")
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat, stream.Codec)
	}
	assert.Empty(t, src.fetched)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		url   string
		codec string
		want  format
	}{
		{"/Videos/1/1/Subtitles/2/0/Stream.srt", "ass", formatSRT},
		{"/Videos/1/1/Subtitles/2/0/Stream.ass?api_key=x", "subrip", formatSSA},
		{"/Videos/1/1/Subtitles/2/0/Stream.vtt", "", formatWebVTT},
		{"/stream", "ssa", formatSSA},
		{"/stream", "WebVTT", formatWebVTT},
		{"/stream", "mov_text", formatSRT},
	}

	for _, tt := range tests {
		t.Run(strings.TrimPrefix(tt.url, "/")+"/"+tt.codec, func(t *testing.T) {
			assert.Equal(t, tt.want, detectFormat(tt.url, tt.codec))
		})
	}
}
