package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/m0nds/teamflow-pro/internal/broker"
	"github.com/m0nds/teamflow-pro/internal/locator"
	"github.com/m0nds/teamflow-pro/internal/metrics"
	"github.com/m0nds/teamflow-pro/internal/notify"
	"github.com/m0nds/teamflow-pro/internal/router"
	"github.com/m0nds/teamflow-pro/internal/server/middleware"
	"github.com/m0nds/teamflow-pro/internal/store"
	"github.com/m0nds/teamflow-pro/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errCycled = errors.New("connection cycled by new connection")

type App struct {
	logger   *slog.Logger
	config   *config.Config
	store    store.Store
	locator  *locator.Locator
	router   *router.EventRouter
	notifier *notify.Notifier
	metrics  *metrics.Collectors
	registry *prometheus.Registry
	validate *validator.Validate

	handler http.Handler
	http    *http.Server

	// wg tracks connection goroutines, brokers tracks broker loops.
	wg         sync.WaitGroup
	brokers    sync.WaitGroup
	brokerCtx  context.Context
	stopBroker context.CancelFunc

	ctx context.Context
}

func NewApp(rootCtx context.Context, logger *slog.Logger, cfg *config.Config, st store.Store) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	brokerCtx, stopBroker := context.WithCancel(rootCtx)
	app := &App{
		logger:     logger,
		config:     cfg,
		store:      st,
		router:     router.NewEventRouter(logger, m),
		metrics:    m,
		registry:   registry,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		brokerCtx:  brokerCtx,
		stopBroker: stopBroker,
		ctx:        rootCtx,
	}
	app.locator = locator.New(logger, app.startBroker, m)
	app.notifier = notify.NewNotifier(logger, st, notify.NewEmitter(logger, app.locator, m))

	if !cfg.Broker.Lazy {
		if _, err := app.locator.Ensure(rootCtx); err != nil {
			stopBroker()
			return nil, err
		}
	}

	app.handler = app.routes()
	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app, nil
}

// startBroker is the locator's factory. The broker outlives the request that
// triggered it and runs until Shutdown.
func (a *App) startBroker(context.Context) (*broker.Broker, error) {
	b := broker.New(a.logger, broker.Options{
		QueueSize: a.config.Broker.QueueSize,
		Metrics:   a.metrics,
	})
	a.brokers.Add(1)
	go func() {
		defer a.brokers.Done()
		if err := b.Run(a.brokerCtx); err != nil {
			a.logger.Error("Broker exited", slog.Any("error", err))
		}
	}()
	return b, nil
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.NewRequestLogger(a.logger))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	upgrade := middleware.Chain(http.HandlerFunc(a.upgradeHandler),
		middleware.NewAuthMiddleware(a.logger, a.config.Server.Auth.JWTSecret, a.config.Server.Auth.RequireSocketAuth),
		middleware.NewConnectionLimiter(a.logger, a.countConnections, a.cycleConnection, a.config.Server.ConnectionLimit),
	)
	r.Get(a.config.Transport.Path, func(w http.ResponseWriter, r *http.Request) {
		if isUpgrade(r) {
			upgrade.ServeHTTP(w, r)
			return
		}
		a.handleProbe(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(a.logger, a.config.Server.Auth.JWTSecret, true))
		r.Get("/notifications", a.handleListNotifications)
		r.Post("/notifications/mark-read", a.handleMarkRead)
		r.Get("/projects", a.handleListProjects)
		r.Post("/projects", a.handleCreateProject)
		r.Get("/tasks", a.handleListTasks)
		r.Post("/tasks", a.handleCreateTask)
		r.Patch("/tasks", a.handleUpdateTaskStatus)
	})
	return r
}

// Handler exposes the routing tree, mainly for httptest.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Locator gives access to the live broker handle.
func (a *App) Locator() *locator.Locator {
	return a.locator
}

func (a *App) countConnections(ctx context.Context, owner string) (int, error) {
	b, ok := a.locator.Get()
	if !ok {
		return 0, nil
	}
	return b.CountOwned(ctx, owner)
}

func (a *App) cycleConnection(ctx context.Context, owner string) error {
	b, ok := a.locator.Get()
	if !ok {
		return nil
	}
	_, err := b.CloseOldest(ctx, owner, errCycled)
	return err
}

func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr), slog.String("socketPath", a.config.Transport.Path))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
			_ = a.Shutdown()
			return err
		}
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.http.Shutdown(shutdownCtx)

	// stopping the broker closes every attached connection
	a.logger.Info("Closing all active connections...")
	a.stopBroker()
	a.brokers.Wait()

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return err
}
