// Package discovery finds subtitles for an item with external providers when
// the library has none usable.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/asticode/go-astisub"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/internal/identity"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/internal/tracing"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// maxAttempts bounds how many candidates are downloaded per language.
const maxAttempts = 3

// Query is what providers search for.
type Query struct {
	Identity  identity.Identity
	FileName  string
	Languages []string
}

// Candidate is one subtitle offered by a provider.
type Candidate struct {
	Provider          string
	ID                string
	Ref               string // provider specific download reference
	Language          string
	Release           string
	Downloads         int
	MachineTranslated bool
	Identity          identity.Identity
}

// Provider is an external subtitle source.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Candidate, error)
	Download(ctx context.Context, c Candidate) ([]byte, error)
}

// Result is one published discovery.
type Result struct {
	Language string
	Entry    cache.Entry
}

// Service runs discovery across providers.
type Service struct {
	providers []Provider
	store     *cache.Store
	rules     cleaner.Rules
	languages []string
	logger    *logging.Logger
}

// NewService creates a discovery service for the given target languages.
func NewService(store *cache.Store, rules cleaner.Rules, languages []string, logger *logging.Logger, providers ...Provider) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	var langs []string
	seen := make(map[string]bool)
	for _, l := range languages {
		code := identity.NormalizeLanguage(l)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		langs = append(langs, code)
	}
	return &Service{
		providers: providers,
		store:     store,
		rules:     rules,
		languages: langs,
		logger:    logger.WithComponent("discovery"),
	}
}

// Discover publishes the best provider subtitle per target language. An item
// nobody has subtitles for yields an empty result and no error.
func (s *Service) Discover(ctx context.Context, item *models.MediaItem) (results []Result, err error) {
	span, ctx := tracing.StartSpan(ctx, "discovery.discover")
	tracing.SetTag(span, "item_id", item.ID)
	defer func() {
		tracing.FinishSpan(span, err)
		metrics.RecordDiscovery(len(results))
	}()

	logger := s.logger.WithItemID(item.ID)
	base := item.BaseName()

	var missing []string
	for _, lang := range s.languages {
		if entry, ok := s.store.Lookup(models.DiscoveryFilename(base, lang)); ok {
			results = append(results, Result{Language: lang, Entry: entry})
			continue
		}
		missing = append(missing, lang)
	}
	if len(missing) == 0 || len(s.providers) == 0 {
		return results, nil
	}

	id := identity.Parse(item.FileName())
	if id.Title == "" {
		logger.Warnf("cannot derive a title from %q, skipping discovery", item.FileName())
		return results, nil
	}
	query := Query{Identity: id, FileName: item.FileName(), Languages: missing}

	candidates := s.search(ctx, query)
	if err := ctx.Err(); err != nil {
		return results, err
	}

	for _, lang := range missing {
		entry, err := s.fetchBest(ctx, id, lang, candidates, models.DiscoveryFilename(base, lang))
		if err != nil {
			logger.WithError(err).Infof("no subtitle published for %s", lang)
			continue
		}
		results = append(results, Result{Language: lang, Entry: entry})
	}
	return results, nil
}

// search queries every provider in parallel. Provider failures are logged
// and otherwise ignored.
func (s *Service) search(ctx context.Context, q Query) []Candidate {
	found := make([][]Candidate, len(s.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		i, p := i, p
		g.Go(func() error {
			candidates, err := p.Search(gctx, q)
			if err != nil {
				metrics.RecordProviderError(p.Name())
				s.logger.WithError(err).Warnf("provider %s search failed", p.Name())
				return nil
			}
			found[i] = candidates
			return nil
		})
	}
	_ = g.Wait()

	var all []Candidate
	for _, c := range found {
		all = append(all, c...)
	}
	return all
}

func (s *Service) fetchBest(ctx context.Context, id identity.Identity, lang string, candidates []Candidate, name string) (cache.Entry, error) {
	ranked := Rank(candidates, lang, id)
	if len(ranked) == 0 {
		return cache.Entry{}, models.ErrDiscoveryExhausted
	}
	if len(ranked) > maxAttempts {
		ranked = ranked[:maxAttempts]
	}

	var lastErr error
	for _, c := range ranked {
		data, err := s.prepare(ctx, c, lang)
		if err != nil {
			s.logger.WithError(err).Debugf("rejected %s candidate %s", c.Provider, c.ID)
			lastErr = err
			continue
		}
		entry, err := s.store.PublishBytes(ctx, data, name)
		if err != nil {
			return cache.Entry{}, err
		}
		metrics.RecordCachePublish("discovery")
		return entry, nil
	}
	return cache.Entry{}, fmt.Errorf("%w: %v", models.ErrDiscoveryExhausted, lastErr)
}

// prepare downloads, verifies and cleans a candidate.
func (s *Service) prepare(ctx context.Context, c Candidate, lang string) ([]byte, error) {
	p := s.provider(c.Provider)
	if p == nil {
		return nil, fmt.Errorf("unknown provider %s", c.Provider)
	}

	raw, err := p.Download(ctx, c)
	if err != nil {
		metrics.RecordProviderError(p.Name())
		return nil, err
	}
	metrics.RecordDownload("subtitle", int64(len(raw)))

	subs, err := astisub.ReadFromSRT(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid srt: %w", err)
	}
	cleaner.Clean(subs, s.rules)
	if len(subs.Items) == 0 {
		return nil, cleaner.ErrNoCues
	}

	if detected, _ := cleaner.DetectLanguage(subs); detected != "" && detected != lang {
		return nil, fmt.Errorf("content is %s, expected %s", detected, lang)
	}

	var buf bytes.Buffer
	if err := subs.WriteToSRT(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Service) provider(name string) Provider {
	for _, p := range s.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Rank orders the candidates for lang best first: human translations before
// machine ones, then matching identity, then popularity, then id.
func Rank(candidates []Candidate, lang string, id identity.Identity) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if identity.NormalizeLanguage(c.Language) == lang {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MachineTranslated != b.MachineTranslated {
			return !a.MachineTranslated
		}
		am, bm := titleMatches(a, id), titleMatches(b, id)
		if am != bm {
			return am
		}
		if a.Downloads != b.Downloads {
			return a.Downloads > b.Downloads
		}
		return strings.Compare(a.ID, b.ID) < 0
	})
	return out
}

func titleMatches(c Candidate, id identity.Identity) bool {
	if c.Identity.Complete() {
		return c.Identity.Matches(id)
	}
	return c.Release != "" && identity.Parse(c.Release).Matches(id)
}
