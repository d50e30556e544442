// Package catalog answers which cached subtitles exist for a media item.
package catalog

import (
	"net/url"
	"strings"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/identity"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// UnknownLanguage is reported for entries whose name carries no language.
const UnknownLanguage = "und"

// Catalog lists cache entries by media identity.
type Catalog struct {
	store     *cache.Store
	publicURL string
	logger    *logging.Logger
}

// New creates a catalog serving files under publicURL + "/files/".
func New(store *cache.Store, publicURL string, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Catalog{
		store:     store,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.WithComponent("catalog"),
	}
}

// ListCached returns the cached subtitles belonging to item. Entries whose
// names do not carry a title plus a year or episode tag are skipped.
func (c *Catalog) ListCached(item *models.MediaItem) ([]models.CatalogEntry, error) {
	entries, err := c.store.List()
	if err != nil {
		return nil, err
	}

	want := identity.Parse(item.FileName())
	base := item.BaseName()
	logger := c.logger.WithItemID(item.ID)
	if !want.Complete() {
		logger.Warnf("%q has no year or episode tag, listing exact name matches only", item.FileName())
	}

	var out []models.CatalogEntry
	for _, e := range entries {
		id := identity.Parse(e.Name)
		switch {
		case want.Complete():
			if !id.Complete() {
				logger.Warnf("skipping cache entry %q: not enough metadata in name", e.Name)
				continue
			}
			if !want.Matches(id) {
				continue
			}
		case !ownedBy(e.Name, base):
			continue
		}

		lang := id.Language
		if lang == "" {
			lang = UnknownLanguage
		}
		out = append(out, models.CatalogEntry{
			Language: lang,
			Filename: e.Name,
			URL:      c.URL(e.Name),
		})
	}
	return out, nil
}

// URL is the public access URL of a cache entry.
func (c *Catalog) URL(name string) string {
	return c.publicURL + "/files/" + url.PathEscape(name)
}

// ownedBy reports whether name is one of the cache keys derived from base.
func ownedBy(name, base string) bool {
	return strings.HasPrefix(name, base+" - ") || strings.HasPrefix(name, base+".")
}
