package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subextract_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Request outcome metrics
	SubtitleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_subtitle_requests_total",
			Help: "Subtitle requests by outcome (cached, converted, extraction_started, extraction_pending, unsupported, not_found)",
		},
		[]string{"outcome"},
	)

	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_classifications_total",
			Help: "Subtitle streams classified by disposition",
		},
		[]string{"disposition"},
	)

	// Conversion metrics
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_conversions_total",
			Help: "Synchronous conversions by codec and status",
		},
		[]string{"codec", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subextract_conversion_duration_seconds",
			Help:    "Synchronous conversion duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"codec"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subextract_jobs_created_total",
			Help: "Total number of extraction jobs created",
		},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_jobs_completed_total",
			Help: "Total number of extraction jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subextract_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "subextract_jobs_queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subextract_job_duration_seconds",
			Help:    "Extraction job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		},
		[]string{"status"},
	)

	CapacityRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subextract_capacity_rejections_total",
			Help: "Extraction jobs rejected by the memory capacity guard",
		},
	)

	// Cache metrics
	CachePublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_cache_publishes_total",
			Help: "Files published into the subtitle cache by source",
		},
		[]string{"source"},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subextract_cache_hits_total",
			Help: "Subtitle requests served from the cache",
		},
	)

	// Discovery metrics
	DiscoveryRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_discovery_requests_total",
			Help: "Discovery runs by result (found, empty)",
		},
		[]string{"result"},
	)

	ProviderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_provider_errors_total",
			Help: "Subtitle provider failures",
		},
		[]string{"provider"},
	)

	// Download metrics
	DownloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subextract_download_bytes_total",
			Help: "Bytes downloaded from the media library",
		},
		[]string{"kind"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordSubtitleRequest records the outcome of a subtitle request
func RecordSubtitleRequest(outcome string) {
	SubtitleRequestsTotal.WithLabelValues(outcome).Inc()
	if outcome == "cached" {
		CacheHitsTotal.Inc()
	}
}

// RecordClassification records a classifier decision
func RecordClassification(disposition string) {
	ClassificationsTotal.WithLabelValues(disposition).Inc()
}

// RecordConversion records a synchronous conversion
func RecordConversion(codec string, success bool, duration float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	ConversionsTotal.WithLabelValues(codec, status).Inc()
	ConversionDuration.WithLabelValues(codec).Observe(duration)
}

// RecordJobCreated records job creation
func RecordJobCreated() {
	JobsCreatedTotal.Inc()
}

// RecordJobCompleted records a job reaching a terminal state
func RecordJobCompleted(status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(status).Observe(duration)
}

// UpdateJobMetrics updates job gauges
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordCapacityRejection records a capacity guard rejection
func RecordCapacityRejection() {
	CapacityRejectionsTotal.Inc()
}

// RecordCachePublish records a published cache entry
func RecordCachePublish(source string) {
	CachePublishesTotal.WithLabelValues(source).Inc()
}

// RecordDiscovery records a discovery run
func RecordDiscovery(found int) {
	result := "found"
	if found == 0 {
		result = "empty"
	}
	DiscoveryRequestsTotal.WithLabelValues(result).Inc()
}

// RecordProviderError records a provider failure
func RecordProviderError(provider string) {
	ProviderErrorsTotal.WithLabelValues(provider).Inc()
}

// RecordDownload records downloaded bytes
func RecordDownload(kind string, bytes int64) {
	DownloadBytesTotal.WithLabelValues(kind).Add(float64(bytes))
}
