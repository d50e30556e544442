// Package app assembles the subtitle pipeline from configuration. Both the
// API server and the batch runner start from here.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/subextract/internal/cache"
	"github.com/therealutkarshpriyadarshi/subextract/internal/catalog"
	"github.com/therealutkarshpriyadarshi/subextract/internal/classifier"
	"github.com/therealutkarshpriyadarshi/subextract/internal/cleaner"
	"github.com/therealutkarshpriyadarshi/subextract/internal/config"
	"github.com/therealutkarshpriyadarshi/subextract/internal/convert"
	"github.com/therealutkarshpriyadarshi/subextract/internal/database"
	"github.com/therealutkarshpriyadarshi/subextract/internal/discovery"
	"github.com/therealutkarshpriyadarshi/subextract/internal/jellyfin"
	"github.com/therealutkarshpriyadarshi/subextract/internal/logging"
	"github.com/therealutkarshpriyadarshi/subextract/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/subextract/internal/ocr"
	"github.com/therealutkarshpriyadarshi/subextract/internal/queue"
	"github.com/therealutkarshpriyadarshi/subextract/internal/registry"
	"github.com/therealutkarshpriyadarshi/subextract/internal/storage"
	"github.com/therealutkarshpriyadarshi/subextract/internal/subtitles"
	"github.com/therealutkarshpriyadarshi/subextract/internal/webhook"
	"github.com/therealutkarshpriyadarshi/subextract/internal/worker"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	Store    *cache.Store
	Library  *jellyfin.Client
	Registry *registry.Registry
	Queue    *queue.Queue
	Worker   *worker.Worker
	Service  *subtitles.Service
	Tool     *ocr.Tool
	Monitor  *monitoring.Monitor

	// Checks are keyed by service name.
	Checks map[string]HealthCheck

	logger  *logging.Logger
	closers []func() error
}

// Build connects the optional backends enabled in cfg and wires the pipeline.
// On error everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (a *App, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a = &App{Config: cfg, Checks: make(map[string]HealthCheck), logger: logger.WithComponent("app")}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.Store, err = cache.NewStore(cfg.Subtitles.OutputDir, cfg.Subtitles.TempDir, logger)
	if err != nil {
		return a, err
	}

	a.Library = jellyfin.New(cfg.Jellyfin, logger)
	a.closers = append(a.closers, a.Library.Close)

	a.Registry = registry.New(logger)
	a.Queue = queue.New()

	if err = a.connectRedis(cfg.Redis); err != nil {
		return a, err
	}
	if err = a.connectStorage(ctx, cfg.Storage); err != nil {
		return a, err
	}
	if err = a.connectDatabase(ctx, cfg.Database); err != nil {
		return a, err
	}
	if err = a.connectEvents(cfg.Events); err != nil {
		return a, err
	}
	if len(cfg.Webhooks.URLs) > 0 {
		notifier := webhook.NewNotifier(cfg.Webhooks, logger)
		a.closers = append(a.closers, notifier.Close)
		a.Registry.AddObserver(notifier)
		a.logger.Infof("posting job results to %d webhook endpoints", len(cfg.Webhooks.URLs))
	}

	rules := cleaner.RulesFromConfig(cfg.Subtitles.Cleaning)
	cls := classifier.New(classifier.TableFromConfig(cfg.Subtitles.Codecs))

	a.Tool = ocr.New(cfg.Worker.ToolPath, cfg.Subtitles.Languages, cfg.Worker.ToolTimeout, logger)
	a.Worker = worker.New(cfg.Worker, a.Queue, a.Registry, a.Library, a.Tool, a.Store, rules, logger)
	a.Monitor = monitoring.NewMonitor(a.Queue, a.Registry, worker.AvailableMemory, logger)

	pipeline := convert.NewPipeline(a.Library, cls, a.Store, rules, logger)
	cat := catalog.New(a.Store, cfg.Server.PublicURL, logger)
	a.Service = subtitles.NewService(a.Library, cls, a.Store, pipeline, a.Registry, a.Queue, cat, logger)

	if cfg.Discovery.Enabled {
		var providers []discovery.Provider
		if cfg.Discovery.OpenSubtitles.Enabled {
			provider := discovery.NewOpenSubtitles(cfg.Discovery.OpenSubtitles)
			a.closers = append(a.closers, provider.Close)
			providers = append(providers, provider)
		}
		if len(providers) == 0 {
			a.logger.Warn("discovery is enabled but no provider is configured")
		}
		a.Service.SetDiscoverer(discovery.NewService(a.Store, rules, cfg.Subtitles.Languages, logger, providers...))
	}

	if _, err := a.Tool.Resolve(); err != nil {
		a.logger.WithError(err).Warn("extraction jobs will fail until the tool is installed")
	}

	return a, nil
}

func (a *App) connectRedis(cfg config.RedisConfig) error {
	if !cfg.Enabled {
		return nil
	}
	mc, err := cache.NewMetadataCache(cfg.Host, cfg.Port, cfg.Password, cfg.DB)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, mc.Close)
	a.Checks["redis"] = mc.Ping
	a.Library.SetItemCache(mc)
	a.Registry.AddObserver(mc)
	a.logger.Info("redis metadata cache enabled")
	return nil
}

func (a *App) connectStorage(ctx context.Context, cfg config.StorageConfig) error {
	if !cfg.Enabled {
		return nil
	}
	s, err := storage.New(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	a.Store.SetMirror(s)
	a.logger.Infof("mirroring published subtitles to bucket %s", cfg.BucketName)
	return nil
}

func (a *App) connectDatabase(ctx context.Context, cfg config.DatabaseConfig) error {
	if !cfg.Enabled {
		return nil
	}
	db, err := database.New(ctx, cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { db.Close(); return nil })
	a.Checks["database"] = db.Health

	jobs := database.NewJobStore(db, a.logger)
	if err := jobs.Migrate(ctx); err != nil {
		return err
	}
	a.Registry.SetStore(jobs)

	n, err := a.Registry.Hydrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to load job history: %w", err)
	}
	a.logger.Infof("loaded %d jobs from the database", n)
	return nil
}

func (a *App) connectEvents(cfg config.EventsConfig) error {
	if !cfg.Enabled {
		return nil
	}
	pub, err := queue.NewEventPublisher(cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, pub.Close)
	a.Registry.AddObserver(pub)
	return nil
}

// Health runs every check and returns the failures by name.
func (a *App) Health(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for name, check := range a.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
