// -----------------------------------------------------------------------
// Last Modified: Thursday, 20th August 2026 9:05:41 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/handlers"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/queue"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"

	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/services/indexer"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/services/scraper"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager interfaces.StorageManager

	// Queues
	FrontierQueue interfaces.QueueManager
	IngestQueue   interfaces.QueueManager

	// Services
	EventService     interfaces.EventService
	Fetchers         *scraper.Factory
	IndexerService   *indexer.Service
	ScraperService   *scraper.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	ScrapeHandler     *handlers.ScrapeHandler
	DocumentHandler   *handlers.DocumentHandler
	DefinitionHandler *handlers.DefinitionHandler
	StatusHandler     *handlers.StatusHandler
	WSHandler         *handlers.WebSocketHandler
}

// New creates and initializes the application: storage, queues,
// services, and handlers, in dependency order
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		a.Close()
		return nil, err
	}
	a.initHandlers()

	logger.Info().Msg("Application initialized")
	return a, nil
}

func (a *App) initStorage() error {
	manager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = manager

	visibility := parseDurationOr(a.Config.Queue.VisibilityTimeout, 5*time.Minute)
	frontier, err := queue.NewBadgerManager(manager.DB(), a.Config.Queue.DiscoveryQueueName, visibility, a.Config.Queue.MaxReceive)
	if err != nil {
		return fmt.Errorf("failed to initialize frontier queue: %w", err)
	}
	a.FrontierQueue = frontier

	ingest, err := queue.NewBadgerManager(manager.DB(), a.Config.Queue.IngestQueueName, visibility, a.Config.Queue.MaxReceive)
	if err != nil {
		return fmt.Errorf("failed to initialize ingest queue: %w", err)
	}
	a.IngestQueue = ingest

	return a.applyStartupDeletes()
}

// applyStartupDeletes clears data categories named in delete_on_startup.
// Meant for local development resets, not production.
func (a *App) applyStartupDeletes() error {
	if len(a.Config.DeleteOnStartup) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, category := range a.Config.DeleteOnStartup {
		var err error
		switch category {
		case "jobs":
			err = a.StorageManager.JobStorage().DeleteAll(ctx)
		case "queue":
			if err = a.FrontierQueue.Purge(ctx); err == nil {
				err = a.IngestQueue.Purge(ctx)
			}
		case "documents":
			err = a.StorageManager.DocumentStorage().ClearAll()
		case "dedup":
			err = a.StorageManager.DedupStorage().DeleteAll(ctx)
		default:
			a.Logger.Warn().Str("category", category).Msg("Unknown delete_on_startup category, skipping")
			continue
		}
		if err != nil {
			return fmt.Errorf("delete_on_startup %s failed: %w", category, err)
		}
		a.Logger.Info().Str("category", category).Msg("Cleared data on startup")
	}
	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	a.Fetchers = scraper.NewFactory(&a.Config.Scraper, a.Logger)
	a.IndexerService = indexer.NewService(a.StorageManager.DocumentStorage(), &a.Config.Indexer, a.Logger)

	a.ScraperService = scraper.NewService(
		a.StorageManager,
		a.FrontierQueue,
		a.IngestQueue,
		a.EventService,
		a.Fetchers,
		a.IndexerService,
		a.Config,
		a.Logger,
	)
	if err := a.ScraperService.Start(); err != nil {
		return fmt.Errorf("failed to start scraper service: %w", err)
	}

	schedulerService, err := scheduler.NewService(a.Config, a.ScraperService, a.StorageManager, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if err := schedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.SchedulerService = schedulerService

	return nil
}

func (a *App) initHandlers() {
	a.ScrapeHandler = handlers.NewScrapeHandler(a.ScraperService, a.Logger)
	a.DocumentHandler = handlers.NewDocumentHandler(a.StorageManager.DocumentStorage(), a.Logger)
	a.DefinitionHandler = handlers.NewDefinitionHandler(a.SchedulerService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StorageManager, a.FrontierQueue, a.IngestQueue, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
}

// Close shuts everything down in reverse dependency order. Workers stop
// before queues and storage close so in-flight transactions finish.
func (a *App) Close() {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}
	if a.ScraperService != nil {
		if err := a.ScraperService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scraper service shutdown error")
		}
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.Fetchers != nil {
		if err := a.Fetchers.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Fetcher shutdown error")
		}
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service shutdown error")
		}
	}
	if a.FrontierQueue != nil {
		if err := a.FrontierQueue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Frontier queue shutdown error")
		}
	}
	if a.IngestQueue != nil {
		if err := a.IngestQueue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Ingest queue shutdown error")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage shutdown error")
		}
	}
	a.Logger.Info().Msg("Application shutdown complete")
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
