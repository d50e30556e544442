package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Jellyfin  JellyfinConfig
	Subtitles SubtitlesConfig
	Worker    WorkerConfig
	Discovery DiscoveryConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Events    EventsConfig
	Webhooks  WebhooksConfig
	Auth      AuthConfig
	Log       LogConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	PublicURL       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// JellyfinConfig holds media library connection settings
type JellyfinConfig struct {
	URL          string
	APIKey       string
	UserID       string
	Timeout      time.Duration
	ItemCacheTTL time.Duration
}

// SubtitlesConfig holds cache layout and format settings
type SubtitlesConfig struct {
	OutputDir string
	TempDir   string
	Languages []string
	Codecs    CodecsConfig
	Cleaning  CleaningConfig
}

// CodecsConfig is the classifier decision table
type CodecsConfig struct {
	Text        []string
	Convertible []string
	Image       []string
}

// CleaningConfig toggles cleaning rules
type CleaningConfig struct {
	NoStyle bool
	OCR     bool
	Tidy    bool
	NoSpam  bool
}

// WorkerConfig holds extraction worker settings
type WorkerConfig struct {
	PollInterval    time.Duration
	MemoryMargin    int64
	ToolPath        string
	ToolTimeout     time.Duration
	DownloadTimeout time.Duration
}

// DiscoveryConfig holds subtitle provider settings
type DiscoveryConfig struct {
	Enabled       bool
	OpenSubtitles OpenSubtitlesConfig
}

// OpenSubtitlesConfig holds OpenSubtitles REST API settings
type OpenSubtitlesConfig struct {
	Enabled           bool
	BaseURL           string
	APIKey            string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// EventsConfig holds message broker configuration
type EventsConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// WebhooksConfig holds job notification endpoints
type WebhooksConfig struct {
	URLs       []string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// AuthConfig holds access control settings
type AuthConfig struct {
	KeyFile   string
	JWTSecret string
	RateLimit RateLimitConfig
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Subtitles.OutputDir == "" {
		return fmt.Errorf("subtitles.outputDir is required")
	}
	if c.Subtitles.TempDir == "" {
		return fmt.Errorf("subtitles.tempDir is required")
	}
	if len(c.Subtitles.Languages) == 0 {
		return fmt.Errorf("subtitles.languages must list at least one language")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.pollInterval must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.publicURL", "http://localhost:8080")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "120s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Jellyfin defaults
	v.SetDefault("jellyfin.url", "http://localhost:8096")
	v.SetDefault("jellyfin.apiKey", "")
	v.SetDefault("jellyfin.userId", "")
	v.SetDefault("jellyfin.timeout", "30s")
	v.SetDefault("jellyfin.itemCacheTTL", "5m")

	// Subtitle cache defaults
	v.SetDefault("subtitles.outputDir", "./subtitles")
	v.SetDefault("subtitles.tempDir", "/tmp/subextract")
	v.SetDefault("subtitles.languages", []string{"en"})
	v.SetDefault("subtitles.codecs.text", []string{"subrip", "srt"})
	v.SetDefault("subtitles.codecs.convertible", []string{"ass", "ssa", "mov_text", "webvtt"})
	v.SetDefault("subtitles.codecs.image", []string{"pgssub", "pgs", "pgs_image", "hdmv_pgs_subtitle"})
	v.SetDefault("subtitles.cleaning.noStyle", true)
	v.SetDefault("subtitles.cleaning.ocr", true)
	v.SetDefault("subtitles.cleaning.tidy", true)
	v.SetDefault("subtitles.cleaning.noSpam", true)

	// Worker defaults
	v.SetDefault("worker.pollInterval", "2s")
	v.SetDefault("worker.memoryMargin", 0)
	v.SetDefault("worker.toolPath", "pgsrip")
	v.SetDefault("worker.toolTimeout", "2h")
	v.SetDefault("worker.downloadTimeout", "1h")

	// Discovery defaults
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.openSubtitles.enabled", false)
	v.SetDefault("discovery.openSubtitles.baseURL", "https://api.opensubtitles.com/api/v1")
	v.SetDefault("discovery.openSubtitles.userAgent", "subextract v1.0")
	v.SetDefault("discovery.openSubtitles.requestsPerSecond", 1.0)
	v.SetDefault("discovery.openSubtitles.timeout", "30s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "subextract")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "subtitles")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.host", "localhost")
	v.SetDefault("events.port", 5672)
	v.SetDefault("events.user", "guest")
	v.SetDefault("events.password", "guest")
	v.SetDefault("events.vhost", "/")

	// Webhook defaults
	v.SetDefault("webhooks.urls", []string{})
	v.SetDefault("webhooks.secret", "")
	v.SetDefault("webhooks.timeout", "30s")
	v.SetDefault("webhooks.maxRetries", 3)

	// Auth defaults
	v.SetDefault("auth.keyFile", "keyfile.json")
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.rateLimit.requestsPerSecond", 10)
	v.SetDefault("auth.rateLimit.burst", 20)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "subextract")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}
