package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/subextract/internal/keys"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/middleware"
	"github.com/therealutkarshpriyadarshi/subextract/internal/subtitles"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

const testKey = "secret-key"

type fakeService struct {
	streams   []models.StreamListing
	responses map[string]*subtitles.Response
	jobs      []*models.ExtractionJob
	found     []models.DiscoveryResult
	catalog   []models.CatalogEntry
	err       error
}

func (f *fakeService) Streams(_ context.Context, itemID string) ([]models.StreamListing, error) {
	if itemID != "item-1" {
		return nil, models.ErrNotFound
	}
	return f.streams, f.err
}

func (f *fakeService) Request(_ context.Context, _, name string) (*subtitles.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp, ok := f.responses[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return resp, nil
}

func (f *fakeService) Extract(ctx context.Context, itemID, name string) (*subtitles.Response, error) {
	return f.Request(ctx, itemID, name)
}

func (f *fakeService) ExtractStatus(_ context.Context, _, name string) (*models.ExtractionJob, error) {
	for _, j := range f.jobs {
		if j.TargetFilename == "Movie - "+name+".srt" {
			return j, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeService) Jobs() []*models.ExtractionJob { return f.jobs }

func (f *fakeService) Discover(context.Context, string) ([]models.DiscoveryResult, error) {
	return f.found, f.err
}

func (f *fakeService) All(context.Context, string) ([]models.CatalogEntry, error) {
	return f.catalog, f.err
}

type staticKeys struct{}

func (staticKeys) Validate(secret string) (string, error) {
	if secret == testKey {
		return "1", nil
	}
	return "", keys.ErrUnknownKey
}

func (staticKeys) ValidateID(id string) error {
	if id == "1" {
		return nil
	}
	return keys.ErrUnknownKey
}

var job = &models.ExtractionJob{
	ID:             "job-1",
	TargetFilename: "Movie - French - PGSSUB.srt",
	Status:         models.JobStatusPlanned,
	SourceItemID:   "item-1",
}

func newTestRouter(t *testing.T, svc *fakeService, health map[string]error) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	api := &API{
		subtitles: svc,
		health:    func(context.Context) map[string]error { return health },
		filesDir:  dir,
		logger:    logging.NewNop(),
	}
	return setupRouter(api, staticKeys{}, middleware.NewRateLimiter(0, 0), logging.NewNop()), dir
}

func post(t *testing.T, router *gin.Engine, path string, key string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"auth_key": key})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubtitleRoutes(t *testing.T) {
	svc := &fakeService{
		streams: []models.StreamListing{
			{Stream: models.SubtitleStream{DisplayTitle: "English"}, Disposition: models.DispositionDirect},
			{Stream: models.SubtitleStream{DisplayTitle: "French - PGSSUB"}, Disposition: models.DispositionExtractable},
		},
		responses: map[string]*subtitles.Response{
			"English": {Outcome: subtitles.OutcomeCached, URL: "http://subs.local/files/Movie%20-%20English.srt"},
			"French - PGSSUB": {
				Outcome: subtitles.OutcomeExtractionStarted,
				Job:     job,
			},
		},
		jobs: []*models.ExtractionJob{job},
		found: []models.DiscoveryResult{
			{Language: "de", Filename: "Movie.de.srt", URL: "http://subs.local/files/Movie.de.srt"},
		},
		catalog: []models.CatalogEntry{
			{Language: "en", Filename: "Movie - English.srt", URL: "http://subs.local/files/Movie%20-%20English.srt"},
		},
	}
	router, _ := newTestRouter(t, svc, nil)

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"list streams", "/subtitles/item-1", http.StatusOK, "English`direct;French - PGSSUB`extractable"},
		{"unknown item", "/subtitles/missing", http.StatusNotFound, ""},
		{"cached subtitle", "/subtitles/item-1/English", http.StatusOK, "http://subs.local/files/Movie%20-%20English.srt"},
		{"unknown subtitle", "/subtitles/item-1/Klingon", http.StatusNotFound, ""},
		{"discover", "/subtitles/item-1/discover", http.StatusOK, "de`http://subs.local/files/Movie.de.srt"},
		{"all", "/subtitles/item-1/all", http.StatusOK, "en`Movie - English.srt`http://subs.local/files/Movie%20-%20English.srt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, tt.path, testKey)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequestExtractionReturnsJob(t *testing.T) {
	svc := &fakeService{responses: map[string]*subtitles.Response{
		"French - PGSSUB": {Outcome: subtitles.OutcomeExtractionPending, Job: job},
	}, jobs: []*models.ExtractionJob{job}}
	router, _ := newTestRouter(t, svc, nil)

	for _, path := range []string{
		"/subtitles/item-1/French%20-%20PGSSUB",
		"/subtitles/item-1/French%20-%20PGSSUB/extract",
	} {
		w := post(t, router, path, testKey)
		require.Equal(t, http.StatusAccepted, w.Code, path)

		var body struct {
			Outcome string               `json:"outcome"`
			Job     models.ExtractionJob `json:"job"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "extraction_pending", body.Outcome)
		assert.Equal(t, "job-1", body.Job.ID)
	}

	w := post(t, router, "/subtitles/item-1/French%20-%20PGSSUB/extract/status", testKey)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.ExtractionJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.JobStatusPlanned, status.Status)

	w = post(t, router, "/subtitles/item-1/Spanish/extract/status", testKey)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = post(t, router, "/extract_status", testKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"targetFilename":"Movie - French - PGSSUB.srt"`)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unsupported", models.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"conversion", &models.ConversionError{Stage: models.StageConvert, Target: "x.srt", Err: errors.New("malformed script header")}, http.StatusBadGateway},
		{"not found", models.ErrNotFound, http.StatusNotFound},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &fakeService{err: tt.err}, nil)
			w := post(t, router, "/subtitles/item-1/English", testKey)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestDiscoverNothingFound(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := post(t, router, "/subtitles/item-1/discover", testKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "No subtitles found")
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := post(t, router, "/subtitles/item-1", "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Invalid auth_key!", w.Body.String())

	w = post(t, router, "/extract_status", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t, &fakeService{}, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	router, _ = newTestRouter(t, &fakeService{}, map[string]error{"redis": errors.New("connection refused")})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestServeCachedFiles(t *testing.T) {
	router, dir := newTestRouter(t, &fakeService{}, nil)
	content := "1\n00:00:01,000 --> 00:00:02,000\nHello\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Movie - English.srt"), []byte(content), 0o644))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/Movie%20-%20English.srt", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files/missing.srt", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
