package catalog

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

func newCatalog(t *testing.T, names ...string) (*Catalog, *bytes.Buffer) {
	t.Helper()
	root := t.TempDir()
	store, err := cache.NewStore(filepath.Join(root, "out"), filepath.Join(root, "tmp"), nil)
	require.NoError(t, err)
	for _, n := range names {
		_, err := store.PublishBytes(context.Background(), []byte("1\n00:00:01,000 --> 00:00:02,000\nhi\n"), n)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	logger := logging.New(&buf, logging.Config{Level: "debug", Format: "json"})
	return New(store, "http://subs.local/", logger), &buf
}

func TestListCached(t *testing.T) {
	c, logs := newCatalog(t,
		"Movie Name (2001) - English.srt",
		"Movie Name (2001) - French - PGSSUB.srt",
		"Movie Name (2001).de.srt",
		"Movie Name (2002) - English.srt",
		"Other Film (2001) - English.srt",
		"Movie Name - English.srt",
		"notes.srt",
	)

	item := &models.MediaItem{ID: "item-1", Path: "/media/Movie Name (2001)/Movie Name (2001).mkv"}
	entries, err := c.ListCached(item)
	require.NoError(t, err)

	assert.Equal(t, []models.CatalogEntry{
		{Language: "en", Filename: "Movie Name (2001) - English.srt", URL: "http://subs.local/files/Movie%20Name%20%282001%29%20-%20English.srt"},
		{Language: "fr", Filename: "Movie Name (2001) - French - PGSSUB.srt", URL: "http://subs.local/files/Movie%20Name%20%282001%29%20-%20French%20-%20PGSSUB.srt"},
		{Language: "de", Filename: "Movie Name (2001).de.srt", URL: "http://subs.local/files/Movie%20Name%20%282001%29.de.srt"},
	}, entries)

	assert.Contains(t, logs.String(), "Movie Name - English.srt")
	assert.Contains(t, logs.String(), "notes.srt")
}

func TestListCachedEpisode(t *testing.T) {
	c, _ := newCatalog(t,
		"Show (2019) S01E02 - English.srt",
		"Show (2019) S01E03 - English.srt",
	)

	entries, err := c.ListCached(&models.MediaItem{ID: "ep", Path: "/tv/Show (2019) S01E02.mkv"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Show (2019) S01E02 - English.srt", entries[0].Filename)
}

func TestListCachedWithoutItemMetadata(t *testing.T) {
	c, logs := newCatalog(t,
		"Home Video - English.srt",
		"Home Video.fr.srt",
		"Home Video Extended - English.srt",
		"Home Videos.srt",
	)

	entries, err := c.ListCached(&models.MediaItem{ID: "hv", Path: "/media/Home Video.mkv"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Home Video - English.srt", entries[0].Filename)
	assert.Equal(t, "en", entries[0].Language)
	assert.Equal(t, "Home Video.fr.srt", entries[1].Filename)
	assert.Contains(t, logs.String(), "exact name matches only")
}

func TestListCachedEmpty(t *testing.T) {
	c, _ := newCatalog(t)
	entries, err := c.ListCached(&models.MediaItem{ID: "x", Path: "Movie (2001).mkv"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
