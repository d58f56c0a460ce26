package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/schoolboard/internal/config"
	httpcontroller "github.com/vadim/schoolboard/internal/controller/http"
	"github.com/vadim/schoolboard/internal/database"
	accountdao "github.com/vadim/schoolboard/internal/domain/account/dao"
	accountservice "github.com/vadim/schoolboard/internal/domain/account/service"
	postdao "github.com/vadim/schoolboard/internal/domain/post/dao"
	postentity "github.com/vadim/schoolboard/internal/domain/post/entity"
	"github.com/vadim/schoolboard/internal/domain/post/policy"
	"github.com/vadim/schoolboard/internal/domain/post/scheduler"
	postservice "github.com/vadim/schoolboard/internal/domain/post/service"
	templatedao "github.com/vadim/schoolboard/internal/domain/template/dao"
	templateservice "github.com/vadim/schoolboard/internal/domain/template/service"
	"github.com/vadim/schoolboard/internal/httpx/upstream/instagram"
	"github.com/vadim/schoolboard/internal/render"
	"github.com/vadim/schoolboard/internal/storage"
	"github.com/vadim/schoolboard/internal/vault"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	pool       *pgxpool.Pool

	postPolicy      *policy.Policy
	accountService  *accountservice.Service
	templateService *templateservice.Service

	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	if err := app.initDomains(ctx); err != nil {
		return nil, fmt.Errorf("initializing domains: %w", err)
	}

	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Pipeline.Enabled {
		app.scheduler = scheduler.New(app.postPolicy, app.accountService, scheduler.Config{
			RenderInterval:    cfg.Pipeline.RenderInterval,
			PublishInterval:   cfg.Pipeline.PublishInterval,
			CarouselInterval:  cfg.Pipeline.CarouselInterval,
			ReconcileInterval: cfg.Pipeline.ReconcileInterval,
			StuckAfter:        cfg.Pipeline.StuckAfter,
			TokenRefreshAt:    cfg.Pipeline.TokenRefreshAt,
			StopGrace:         cfg.Server.ShutdownGrace,
			RenderPool:        cfg.Pipeline.RenderPool,
			PublishPool:       cfg.Pipeline.PublishPool,
			CarouselPool:      cfg.Pipeline.CarouselPool,
			RenderBatch:       cfg.Pipeline.RenderBatch,
			PublishBatch:      cfg.Pipeline.PublishBatch,
			CarouselBatch:     cfg.Pipeline.CarouselBatch,
		}, logger)
	}

	return app, nil
}

// initDomains initializes infrastructure and domain layers
func (a *App) initDomains(ctx context.Context) error {
	pool, err := database.NewPostgresPool(ctx, a.cfg.Database.PostgresDSN, database.PoolOptions{
		MaxConns:     a.cfg.Database.MaxConns,
		MinConns:     a.cfg.Database.MinConns,
		ConnLifetime: a.cfg.Database.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool

	tokenVault, err := vault.New(a.cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("initializing token vault: %w", err)
	}

	cdn, err := storage.NewCDN(storage.CDNConfig{
		Endpoint:        a.cfg.CDN.Endpoint,
		AccessKeyID:     a.cfg.CDN.AccessKeyID,
		SecretAccessKey: a.cfg.CDN.SecretAccessKey,
		Bucket:          a.cfg.CDN.Bucket,
		Region:          a.cfg.CDN.Region,
		PublicURL:       a.cfg.CDN.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("initializing cdn storage: %w", err)
	}

	igClient := instagram.New(
		instagram.WithBaseURL(a.cfg.Instagram.BaseURL),
		instagram.WithAPIVersion(a.cfg.Instagram.APIVersion),
		instagram.WithMaxAttempts(a.cfg.Instagram.MaxAttempts),
	)
	igPublisher := instagram.NewPublisher(igClient)

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("initializing renderer: %w", err)
	}

	a.accountService = accountservice.NewService(
		accountdao.NewAccountPostgres(pool),
		tokenVault,
		igPublisher,
		a.logger,
	)

	a.templateService = templateservice.New(templatedao.NewTemplatePostgres(pool))

	postSvc := postservice.New(
		postdao.NewPostPostgres(pool),
		postdao.NewGroupPostgres(pool),
		a.cfg.Instagram.MaxAttempts,
	)

	a.postPolicy = policy.New(
		postSvc,
		renderer,
		cdn,
		igPublisher,
		&accountDirectory{accounts: a.accountService},
		a.templateService,
		&logoFetcher{client: &http.Client{Timeout: 10 * time.Second}},
		a.logger,
	)

	return nil
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		postHandler := httpcontroller.NewPostHandler(a.postPolicy)
		postHandler.RegisterRoutes(r)

		accountHandler := httpcontroller.NewAccountHandler(a.accountService)
		accountHandler.RegisterRoutes(r)

		templateHandler := httpcontroller.NewTemplateHandler(a.templateService)
		templateHandler.RegisterRoutes(r)
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.pool.Ping(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application. In-flight pipeline ticks
// finish before the database pool closes.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownGrace)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("shutdown complete")
	return nil
}

// accountDirectory adapts the account service to the pipeline's
// AccountDirectory interface
type accountDirectory struct {
	accounts *accountservice.Service
}

func (d *accountDirectory) PublishTarget(ctx context.Context, accountID string) (*policy.PublishTarget, error) {
	account, token, err := d.accounts.Credentials(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &policy.PublishTarget{
		AccountID:      account.ID,
		IGUserID:       account.IGUserID,
		AccessToken:    token,
		SchoolName:     account.SchoolName,
		LogoURL:        account.LogoURL,
		TemplateID:     account.DefaultTemplateID,
		PublishMode:    postentity.PublishMode(account.PublishMode),
		Hashtags:       account.Hashtags,
		BatchThreshold: account.BatchThreshold,
		Degraded:       account.Degraded,
	}, nil
}

func (d *accountDirectory) MarkDegraded(ctx context.Context, accountID, reason string) error {
	return d.accounts.MarkDegraded(ctx, accountID, reason)
}

// logoFetcher retrieves school logos over HTTP for card rendering
type logoFetcher struct {
	client *http.Client
}

// maxLogoBytes bounds logo downloads
const maxLogoBytes = 2 << 20

func (f *logoFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building logo request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching logo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching logo: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogoBytes))
	if err != nil {
		return nil, fmt.Errorf("reading logo: %w", err)
	}
	return data, nil
}
