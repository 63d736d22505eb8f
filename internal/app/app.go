// -----------------------------------------------------------------------
// Last Modified: Wednesday, 22nd July 2026 10:02:51 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/common"
	"github.com/ternarybob/quaesitor/internal/handlers"
	"github.com/ternarybob/quaesitor/internal/interfaces"
	"github.com/ternarybob/quaesitor/internal/services/browser"
	"github.com/ternarybob/quaesitor/internal/services/coordinator"
	"github.com/ternarybob/quaesitor/internal/services/events"
	"github.com/ternarybob/quaesitor/internal/services/history"
	"github.com/ternarybob/quaesitor/internal/services/identity"
	"github.com/ternarybob/quaesitor/internal/services/proxy"
	"github.com/ternarybob/quaesitor/internal/services/search"
	"github.com/ternarybob/quaesitor/internal/storage"
	"github.com/ternarybob/quaesitor/internal/store"
)

// closeTimeout bounds the identity teardown during shutdown. The browser
// quit path has its own timeout; this is the outer guard.
const closeTimeout = 10 * time.Second

// App holds all worker components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Persistence
	StorageManager interfaces.StorageManager
	SharedStore    interfaces.SharedStore

	// Fleet plumbing
	EventService      interfaces.EventService
	ProxyPool         *proxy.Pool
	ProxySelector     *proxy.Selector
	CoordinatorClient interfaces.CoordinatorClient

	// Search pipeline
	IdentityService interfaces.IdentityService
	SearchService   interfaces.SearchService
	HistoryService  interfaces.HistoryService

	// HTTP handlers
	SearchHandler  *handlers.SearchHandler
	RotateHandler  *handlers.RotateHandler
	HealthHandler  *handlers.HealthHandler
	HistoryHandler *handlers.HistoryHandler
	WSHandler      *handlers.WebSocketHandler
}

// New initializes the worker with all dependencies. The identity warm-up
// runs in the background so the HTTP surface can come up immediately;
// /search answers warming_up until the first rotation lands.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		cancel()
		app.closeStorage()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Warm asynchronously. A failed warm-up leaves the worker answering
	// warming_up; POST /session/refresh retries it.
	common.SafeGo(logger, "identity-warmup", func() {
		if err := app.IdentityService.Warm(app.ctx); err != nil {
			logger.Warn().Err(err).Msg("Identity warm-up failed; worker stays in warming_up")
		}
	})

	logger.Info().
		Str("store", cfg.Store.Backend).
		Int("profiles", len(cfg.Browser.Profiles)).
		Int("proxies", len(cfg.ProxyEndpoints())).
		Msg("Worker initialization complete")

	return app, nil
}

// initStorage wires the local audit store (Badger) and the shared fleet
// store (Redis or in-memory)
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Local storage initialized")

	sharedStore, err := store.NewStore(&a.Config.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create shared store: %w", err)
	}
	a.SharedStore = sharedStore
	a.Logger.Debug().
		Str("backend", a.Config.Store.Backend).
		Msg("Shared store initialized")

	return nil
}

// initServices initializes business services in dependency order
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLifecycleLogger(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe lifecycle logger: %w", err)
	}

	pool, err := proxy.NewPool(a.Config.ProxyEndpoints())
	if err != nil {
		return fmt.Errorf("failed to build proxy pool: %w", err)
	}
	a.ProxyPool = pool

	prober := proxy.NewHTTPProber(
		a.Config.Proxy.ProbeURL,
		common.ParseDurationOr(a.Config.Proxy.ProbeTimeout, 5*time.Second),
	)

	a.CoordinatorClient = coordinator.NewClient(a.Config, a.Logger)

	a.ProxySelector = proxy.NewSelector(
		a.ProxyPool,
		a.SharedStore,
		prober,
		a.CoordinatorClient,
		proxy.Settings{
			BindingMode:   a.Config.Proxy.BindingMode,
			BlockCooldown: common.ParseDurationOr(a.Config.Proxy.BlockCooldown, 5*time.Minute),
		},
		a.Logger,
	)

	factory := browser.NewFactory(&a.Config.Browser, a.Logger)

	a.IdentityService = identity.NewService(a.Config, factory, a.ProxySelector, a.EventService, a.Logger)
	a.SearchService = search.NewService(a.Config, a.IdentityService, a.EventService, a.Logger)
	a.HistoryService = history.NewService(a.StorageManager.SearchStorage(), a.Logger)

	return nil
}

// initHandlers wires the HTTP surface
func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
	a.SearchHandler = handlers.NewSearchHandler(
		a.IdentityService,
		a.SearchService,
		a.HistoryService,
		a.CoordinatorClient,
		a.EventService,
		a.Logger,
	)
	a.RotateHandler = handlers.NewRotateHandler(a.IdentityService, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(a.IdentityService, a.HistoryService, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.HistoryService, a.Logger)
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
	}

	if a.IdentityService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.IdentityService.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close identity service")
		}
		cancel()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	a.closeStorage()

	a.Logger.Info().Msg("Worker shutdown complete")
	return nil
}

func (a *App) closeStorage() {
	if a.SharedStore != nil {
		if err := a.SharedStore.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close shared store")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
		}
	}
}
