package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/d4l-network/d4l-gateway/internal/config"
	"github.com/d4l-network/d4l-gateway/internal/health"
	"github.com/d4l-network/d4l-gateway/internal/observability"
)

// ReconcileWorker is implemented by *service.Reconciler.
type ReconcileWorker interface {
	Start(ctx context.Context) error
}

// AnalyticsWorker is implemented by *service.AnalyticsService.
type AnalyticsWorker interface {
	Run(ctx context.Context) error
}

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Reconciler    ReconcileWorker
	Analytics     AnalyticsWorker
	Readiness     *health.ProbeRunner

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopOnce       sync.Once
	stopBackground func()
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	reconciler ReconcileWorker,
	analytics AnalyticsWorker,
	readiness *health.ProbeRunner,
	stopBackground func(),
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Reconciler:                   reconciler,
		Analytics:                    analytics,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackground:               stopBackground,
	}
}

// StopBackgroundTasks releases long-lived resources (signer, Redis, database).
// It is safe to call more than once.
func (a *App) StopBackgroundTasks() {
	a.stopOnce.Do(func() {
		if a.stopBackground != nil {
			a.stopBackground()
		}
	})
}

// Run serves HTTP and the background workers until ctx is cancelled, then
// drains them in order: HTTP first, then workers, then telemetry.
func (a *App) Run(ctx context.Context) error {
	defer a.StopBackgroundTasks()

	bgCtx, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBackground()
	var background errgroup.Group
	if a.Analytics != nil {
		background.Go(func() error { return a.Analytics.Run(bgCtx) })
	}
	if a.Reconciler != nil && a.Config.ReconcileEnabled {
		background.Go(func() error { return a.Reconciler.Start(bgCtx) })
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	drainCtx, cancelDrain := shutdownCtx, context.CancelFunc(func() {})
	if a.ShutdownHTTPDrainTimeout > 0 {
		drainCtx, cancelDrain = context.WithTimeout(shutdownCtx, a.ShutdownHTTPDrainTimeout)
	}
	if err := a.Server.Shutdown(drainCtx); err != nil {
		a.Logger.Warn("http drain incomplete", "error", err)
	}
	cancelDrain()

	cancelBackground()
	done := make(chan error, 1)
	go func() { done <- background.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			a.Logger.Error("background worker failed", "error", err)
		}
	case <-shutdownCtx.Done():
		a.Logger.Warn("background workers did not stop before shutdown timeout")
	}

	if a.Observability != nil {
		obsCtx, cancelObs := context.WithTimeout(context.Background(), max(a.ShutdownObservabilityTimeout, time.Second))
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Warn("observability shutdown failed", "error", err)
		}
		cancelObs()
	}
	a.Logger.Info("shutdown complete")
	return runErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.ShutdownTimeout > 0 {
		return a.ShutdownTimeout
	}
	return 20 * time.Second
}
