package discovery

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/identity"
)

const (
	DefaultOpenSubtitlesURL = "https://api.opensubtitles.com/api/v1"
	defaultUserAgent        = "subextract v1"
)

// OpenSubtitles searches the opensubtitles.com REST API.
type OpenSubtitles struct {
	client  *resty.Client
	files   *resty.Client
	limiter *rate.Limiter
}

// NewOpenSubtitles creates a provider from configuration.
func NewOpenSubtitles(cfg config.OpenSubtitlesConfig) *OpenSubtitles {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenSubtitlesURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeaders(map[string]string{
			"Api-Key":      cfg.APIKey,
			"User-Agent":   userAgent,
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})
	files := resty.New().SetHeader("User-Agent", userAgent)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
		files.SetTimeout(cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenSubtitles{
		client:  client,
		files:   files,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Name implements Provider.
func (o *OpenSubtitles) Name() string { return "opensubtitles" }

// Close releases idle connections.
func (o *OpenSubtitles) Close() error {
	o.files.Close()
	return o.client.Close()
}

type searchResponse struct {
	TotalCount int             `json:"total_count"`
	Data       []searchSubject `json:"data"`
}

type searchSubject struct {
	ID         string           `json:"id"`
	Attributes searchAttributes `json:"attributes"`
}

type searchAttributes struct {
	Language          string         `json:"language"`
	DownloadCount     int            `json:"download_count"`
	MachineTranslated bool           `json:"machine_translated"`
	AITranslated      bool           `json:"ai_translated"`
	Release           string         `json:"release"`
	FeatureDetails    featureDetails `json:"feature_details"`
	Files             []searchFile   `json:"files"`
}

type featureDetails struct {
	Title         string `json:"title"`
	MovieName     string `json:"movie_name"`
	Year          int    `json:"year"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
}

type searchFile struct {
	FileID   int    `json:"file_id"`
	FileName string `json:"file_name"`
}

type downloadRequest struct {
	FileID int `json:"file_id"`
}

type downloadResponse struct {
	Link      string `json:"link"`
	FileName  string `json:"file_name"`
	Remaining int    `json:"remaining"`
}

type apiError struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func (e *apiError) String() string {
	if e.Message != "" {
		return e.Message
	}
	return strings.Join(e.Errors, "; ")
}

// Search implements Provider.
func (o *OpenSubtitles) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	langs := append([]string(nil), q.Languages...)
	sort.Strings(langs)

	req := o.client.R().
		SetContext(ctx).
		SetQueryParam("query", strings.ToLower(q.Identity.Title)).
		SetQueryParam("languages", strings.Join(langs, ",")).
		SetQueryParam("order_by", "download_count").
		SetResult(&searchResponse{}).
		SetError(&apiError{})
	if q.Identity.Year != 0 {
		req.SetQueryParam("year", strconv.Itoa(q.Identity.Year))
	}
	if q.Identity.Episode != 0 {
		req.SetQueryParam("season_number", strconv.Itoa(q.Identity.Season))
		req.SetQueryParam("episode_number", strconv.Itoa(q.Identity.Episode))
	}

	resp, err := req.Get("/subtitles")
	if err != nil {
		return nil, fmt.Errorf("opensubtitles search failed: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("search", resp)
	}

	result := resp.Result().(*searchResponse)
	var out []Candidate
	for _, subject := range result.Data {
		attrs := subject.Attributes
		if len(attrs.Files) == 0 {
			continue
		}
		title := attrs.FeatureDetails.Title
		if title == "" {
			title = attrs.FeatureDetails.MovieName
		}
		out = append(out, Candidate{
			Provider:          o.Name(),
			ID:                subject.ID,
			Ref:               strconv.Itoa(attrs.Files[0].FileID),
			Language:          attrs.Language,
			Release:           attrs.Release,
			Downloads:         attrs.DownloadCount,
			MachineTranslated: attrs.MachineTranslated || attrs.AITranslated,
			Identity: identity.Identity{
				Title:   title,
				Year:    attrs.FeatureDetails.Year,
				Season:  attrs.FeatureDetails.SeasonNumber,
				Episode: attrs.FeatureDetails.EpisodeNumber,
			},
		})
	}
	return out, nil
}

// Download implements Provider. It requests a temporary link and fetches the
// file behind it.
func (o *OpenSubtitles) Download(ctx context.Context, c Candidate) ([]byte, error) {
	fileID, err := strconv.Atoi(c.Ref)
	if err != nil {
		return nil, fmt.Errorf("invalid file reference %q", c.Ref)
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(downloadRequest{FileID: fileID}).
		SetResult(&downloadResponse{}).
		SetError(&apiError{}).
		Post("/download")
	if err != nil {
		return nil, fmt.Errorf("opensubtitles download request failed: %w", err)
	}
	if resp.IsError() {
		return nil, responseError("download", resp)
	}

	link := resp.Result().(*downloadResponse).Link
	if link == "" {
		return nil, fmt.Errorf("opensubtitles returned no download link")
	}

	file, err := o.files.R().SetContext(ctx).Get(link)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subtitle file: %w", err)
	}
	if file.IsError() {
		return nil, fmt.Errorf("subtitle file returned status %d", file.StatusCode())
	}
	return file.Bytes(), nil
}

func responseError(op string, resp *resty.Response) error {
	if e, ok := resp.Error().(*apiError); ok && e.String() != "" {
		return fmt.Errorf("opensubtitles %s returned status %d: %s", op, resp.StatusCode(), e.String())
	}
	return fmt.Errorf("opensubtitles %s returned status %d", op, resp.StatusCode())
}
