package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/metrics"
	"github.com/therealutkarshpriyadarshi/subextract/internal/middleware"
	"github.com/therealutkarshpriyadarshi/subextract/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/subextract/internal/subtitles"
	"github.com/therealutkarshpriyadarshi/subextract/pkg/models"
)

// subtitleService is the part of subtitles.Service the handlers use.
type subtitleService interface {
	Streams(ctx context.Context, itemID string) ([]models.StreamListing, error)
	Request(ctx context.Context, itemID, displayTitle string) (*subtitles.Response, error)
	Extract(ctx context.Context, itemID, displayTitle string) (*subtitles.Response, error)
	ExtractStatus(ctx context.Context, itemID, displayTitle string) (*models.ExtractionJob, error)
	Jobs() []*models.ExtractionJob
	Discover(ctx context.Context, itemID string) ([]models.DiscoveryResult, error)
	All(ctx context.Context, itemID string) ([]models.CatalogEntry, error)
}

type API struct {
	subtitles subtitleService
	health    func(ctx context.Context) map[string]error
	monitor   *monitoring.Monitor
	filesDir  string
	logger    *logging.Logger
}

func setupRouter(api *API, validator middleware.KeyValidator, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(metrics.Middleware())

	router.GET("/health", api.healthCheck)
	router.GET("/metrics", metrics.Handler())
	router.StaticFS("/files", gin.Dir(api.filesDir, false))

	authorized := router.Group("/")
	authorized.Use(middleware.KeyAuth(validator))
	authorized.Use(middleware.RateLimit(limiter))
	{
		authorized.POST("/subtitles/:item_id", api.listStreams)
		authorized.POST("/subtitles/:item_id/discover", api.discover)
		authorized.POST("/subtitles/:item_id/all", api.listAll)
		authorized.POST("/subtitles/:item_id/:subtitle_name", api.requestSubtitle)
		authorized.POST("/subtitles/:item_id/:subtitle_name/extract", api.extract)
		authorized.POST("/subtitles/:item_id/:subtitle_name/extract/status", api.extractStatus)
		authorized.POST("/extract_status", api.extractStatusAll)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy"}
	if api.monitor != nil {
		body["system"] = api.monitor.GetSystemHealth()
		body["alerts"] = api.monitor.GetAlerts()
		body["metrics"] = api.monitor.GetMetrics()
	}

	failed := api.health(ctx)
	if len(failed) > 0 {
		errs := make(map[string]string, len(failed))
		for name, err := range failed {
			errs[name] = err.Error()
		}
		body["status"] = "unhealthy"
		body["errors"] = errs
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}

	c.JSON(http.StatusOK, body)
}

// List subtitle streams endpoint
func (api *API) listStreams(c *gin.Context) {
	listing, err := api.subtitles.Streams(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	c.String(http.StatusOK, models.EncodeStreamListings(listing))
}

// Request subtitle endpoint
func (api *API) requestSubtitle(c *gin.Context) {
	resp, err := api.subtitles.Request(c.Request.Context(), c.Param("item_id"), c.Param("subtitle_name"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	writeResponse(c, resp)
}

// Force extraction endpoint
func (api *API) extract(c *gin.Context) {
	resp, err := api.subtitles.Extract(c.Request.Context(), c.Param("item_id"), c.Param("subtitle_name"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	writeResponse(c, resp)
}

// Extraction status endpoint
func (api *API) extractStatus(c *gin.Context) {
	job, err := api.subtitles.ExtractStatus(c.Request.Context(), c.Param("item_id"), c.Param("subtitle_name"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Every known job
func (api *API) extractStatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": api.subtitles.Jobs()})
}

// Discovery endpoint
func (api *API) discover(c *gin.Context) {
	results, err := api.subtitles.Discover(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No subtitles found"})
		return
	}
	c.String(http.StatusOK, models.EncodeDiscovery(results))
}

// Cached subtitles endpoint
func (api *API) listAll(c *gin.Context) {
	entries, err := api.subtitles.All(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		api.writeError(c, err)
		return
	}
	c.String(http.StatusOK, models.EncodeCatalog(entries))
}

// writeResponse sends the file URL for ready subtitles and the job record
// for queued ones.
func writeResponse(c *gin.Context, resp *subtitles.Response) {
	switch resp.Outcome {
	case subtitles.OutcomeCached, subtitles.OutcomeConverted:
		c.String(http.StatusOK, resp.URL)
	default:
		c.JSON(http.StatusAccepted, gin.H{"outcome": resp.Outcome, "job": resp.Job})
	}
}

func (api *API) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConversionFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		api.logger.WithError(err).Errorf("%s %s failed", c.Request.Method, c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
