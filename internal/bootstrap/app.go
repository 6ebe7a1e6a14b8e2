package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/locvowork/task_management_sample/internal/cache"
	"github.com/locvowork/task_management_sample/internal/config"
	"github.com/locvowork/task_management_sample/internal/deeplink"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/export"
	"github.com/locvowork/task_management_sample/internal/handler"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/internal/remote"
	"github.com/locvowork/task_management_sample/internal/search"
	"github.com/locvowork/task_management_sample/internal/session"
	"github.com/locvowork/task_management_sample/internal/workspace"
	"github.com/locvowork/task_management_sample/pkg/googlecloud"
	"github.com/locvowork/task_management_sample/pkg/memstore"
	"github.com/locvowork/task_management_sample/pkg/mongostore"
	"github.com/locvowork/task_management_sample/pkg/pgstore"
)

type App struct {
	Echo      *echo.Echo
	Store     domain.Store
	Session   *session.Manager
	Workspace *workspace.Workspace
	Joiner    *deeplink.Joiner

	envFile string
	cache   *cache.SQLiteCache
	closers []func(context.Context) error
}

// NewApp creates the app. envFile is loaded before the environment; empty means ".env".
func NewApp(envFile string) *App {
	if envFile == "" {
		envFile = ".env"
	}
	e := echo.New()
	e.HideBanner = true
	return &App{Echo: e, envFile: envFile}
}

func (a *App) Initialize(ctx context.Context) error {
	// Load environment configuration
	if err := config.LoadEnvConfigFrom(a.envFile); err != nil {
		return fmt.Errorf("failed to load env config: %w", err)
	}
	cfg := config.DefaultEnvConfig

	// Initialize logging
	logger.InitLoggingWithLevel(cfg.LOG_FILE_PATH, cfg.LOG_LEVEL)
	logger.InfoLog(ctx, "Environment variables loaded successfully")

	store, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.STORE_BACKEND, err)
	}
	guarded := remote.New(store, remote.Config{
		MaxAttempts:    cfg.REMOTE_MAX_ATTEMPTS,
		Backoff:        cfg.REMOTE_BACKOFF,
		MaxFailures:    cfg.BREAKER_MAX_FAILURES,
		BreakerTimeout: cfg.BREAKER_TIMEOUT,
		RequestTimeout: cfg.REMOTE_TIMEOUT,
	})
	a.Store = guarded

	a.cache, err = cache.Open(cfg.CACHE_PATH)
	if err != nil {
		return fmt.Errorf("failed to open session cache: %w", err)
	}
	a.Session = session.NewManager(guarded, a.cache, session.WithResolveTimeout(cfg.SESSION_RESOLVE_TIMEOUT))
	a.Workspace = workspace.New(guarded, workspace.WithNotificationLimit(cfg.NOTIFICATION_LIMIT))
	a.Joiner = deeplink.New(a.Workspace, a.Session, deeplink.WithFailureMessage(workspace.JoinFailureMessage))
	BindSession(a.Session, a.Workspace, a.Joiner)

	var searcher handler.Searcher
	if cfg.ELASTIC_URL != "" {
		indexer, err := a.openSearch(ctx, cfg.ELASTIC_URL, cfg.ELASTIC_INDEX)
		if err != nil {
			// Search is optional; the rest of the API works without it.
			logger.ErrorLog(ctx, fmt.Sprintf("failed to initialize search: %v", err))
		} else {
			searcher = indexer
		}
	}

	layout, err := export.LoadLayout(cfg.EXPORT_LAYOUT_FILE)
	if err != nil {
		return fmt.Errorf("failed to load export layout: %w", err)
	}

	// Register Middlewares
	a.RegisterMiddlewares()

	// Register Routes
	a.RegisterRoutes(
		handler.NewAuthHandler(a.Session),
		handler.NewTaskHandler(a.Workspace, searcher, export.New(layout)),
		handler.NewGroupHandler(a.Workspace, a.Joiner),
		handler.NewNotificationHandler(a.Workspace),
	)

	return nil
}

func (a *App) openStore(ctx context.Context) (domain.Store, error) {
	cfg := config.DefaultEnvConfig
	switch cfg.STORE_BACKEND {
	case config.BackendDatastore:
		client, err := googlecloud.NewClient(ctx, cfg.GCP_PROJECT_ID, googlecloud.WithPollInterval(cfg.DATASTORE_POLL_INTERVAL))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return client, nil
	case config.BackendMongo:
		s, err := mongostore.Open(ctx, cfg.MONGO_URI, cfg.MONGO_DB_NAME)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendPostgres:
		s, err := pgstore.Open(ctx, cfg.POSTGRES_DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	}
	logger.WarnLog(ctx, "using the in-memory store; data is lost on restart")
	return memstore.New(), nil
}

func (a *App) openSearch(ctx context.Context, url, index string) (*search.Indexer, error) {
	client, err := search.NewClient(url, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	indexer := search.NewIndexer(client, index)
	if err := indexer.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	mirror := indexer.NewMirror(context.Background(), a.Workspace)
	a.Workspace.OnChange(func(ch workspace.Change) { mirror.TasksChanged(ch.Tasks) })
	a.closers = append(a.closers, func(context.Context) error {
		mirror.Close()
		return nil
	})
	return indexer, nil
}

// BindSession starts the workspace subscriptions for every signed-in identity, stops them on
// sign-out and replays join links parked while signed out.
func BindSession(sess *session.Manager, ws *workspace.Workspace, joiner *deeplink.Joiner) {
	sess.OnChange(func(identity *domain.Identity) {
		if identity == nil {
			ws.StopListening()
			return
		}
		ws.StartListening(context.Background(), *identity)
		if joiner != nil {
			joiner.SessionChanged(identity)
		}
	})
}

func (a *App) RegisterMiddlewares() {
	a.Echo.Use(middleware.Logger())
	a.Echo.Use(middleware.Recover())
	a.Echo.Use(middleware.CORS())
	a.Echo.Use(middleware.RequestID())
	a.Echo.Use(handler.RequestContext(a.Session))
}

func (a *App) RegisterRoutes(auth *handler.AuthHandler, tasks *handler.TaskHandler, groups *handler.GroupHandler, notifications *handler.NotificationHandler) {
	authGroup := a.Echo.Group("/auth")
	authGroup.POST("/sign-in", auth.SignInHandler)
	authGroup.POST("/sign-out", auth.SignOutHandler)
	authGroup.GET("/me", auth.MeHandler)

	// Join links work signed out; the code is kept until sign-in.
	a.Echo.GET("/join/:code", groups.JoinLinkHandler)

	api := a.Echo.Group("/api/v1", handler.RequireSession(a.Session))

	api.GET("/tasks", tasks.ListHandler)
	api.POST("/tasks", tasks.CreateHandler)
	api.GET("/tasks/stats", tasks.StatsHandler)
	api.GET("/tasks/assignable", tasks.AssignableHandler)
	api.GET("/tasks/search", tasks.SearchHandler)
	api.GET("/tasks/export", tasks.ExportHandler)
	api.GET("/tasks/:id", tasks.GetHandler)
	api.PUT("/tasks/:id", tasks.UpdateHandler)
	api.DELETE("/tasks/:id", tasks.DeleteHandler)
	api.POST("/tasks/:id/toggle", tasks.ToggleHandler)
	api.PUT("/tasks/:id/status", tasks.StatusHandler)
	api.PUT("/tasks/:id/assignee", tasks.AssignHandler)
	api.POST("/tasks/:id/comments", tasks.CommentHandler)

	api.GET("/groups", groups.ListHandler)
	api.POST("/groups", groups.CreateHandler)
	api.POST("/groups/join", groups.JoinHandler)
	api.GET("/groups/:id", groups.GetHandler)
	api.DELETE("/groups/:id", groups.DeleteHandler)
	api.GET("/groups/:id/tasks", groups.TasksHandler)
	api.POST("/groups/:id/members", groups.AddMemberHandler)

	api.GET("/notifications", notifications.ListHandler)
	api.POST("/notifications/:id/read", notifications.MarkReadHandler)
}

// Run restores the cached session in the background and serves until the server stops.
func (a *App) Run() error {
	defer a.shutdown()
	go a.Session.ResolveExistingSession(context.Background())

	err := a.Echo.Start(":" + config.DefaultEnvConfig.APP_PORT)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	ctx := context.Background()
	a.Workspace.Close()
	closers := a.closers
	if a.cache != nil {
		closers = append(closers, func(context.Context) error { return a.cache.Close() })
	}
	for _, closeFn := range closers {
		if err := closeFn(ctx); err != nil {
			logger.WarnLog(ctx, fmt.Sprintf("shutdown: %v", err))
		}
	}
}
