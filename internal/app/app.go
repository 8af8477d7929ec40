// Package app wires all sonatap subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects the
// frame source, capture session, staging ring and HTTP surface; Run starts
// the session and serves until the context ends; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithDriver, WithMetrics). When an option is not provided, New builds the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sonatap/sonatap/internal/config"
	"github.com/sonatap/sonatap/internal/health"
	"github.com/sonatap/sonatap/internal/observe"
	"github.com/sonatap/sonatap/internal/staging"
	"github.com/sonatap/sonatap/pkg/capture"
	"github.com/sonatap/sonatap/pkg/capture/device"
	"github.com/sonatap/sonatap/pkg/capture/worklet"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes for one capture service instance.
type App struct {
	cfg *config.Config
	log *slog.Logger

	metrics *observe.Metrics
	source  capture.Source
	driver  device.Driver
	worklet *worklet.Source

	capture *capture.Capture
	stager  *staging.Stager
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a frame source instead of building one from config.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithDriver injects the native callback driver used when the configured
// source kind is "device".
func WithDriver(d device.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithMetrics injects a metrics sink instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// New creates an App by wiring all subsystems together. Construction is
// synchronous and side-effect free aside from allocating the staging ring;
// no audio flows and no socket is bound until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initSource(); err != nil {
		return nil, fmt.Errorf("app: init source: %w", err)
	}
	a.initCapture()
	a.initStaging()
	a.initServer()

	return a, nil
}

// initSource builds the configured frame source unless one was injected.
func (a *App) initSource() error {
	if a.source != nil {
		return nil
	}

	switch a.cfg.Capture.Source {
	case config.SourceDevice:
		if a.driver == nil {
			return fmt.Errorf("device source requires a capture driver")
		}
		a.source = device.New(a.driver)
	case config.SourceWorklet:
		ws := worklet.New(worklet.WithLogger(a.log))
		a.worklet = ws
		a.source = ws
	default:
		return fmt.Errorf("unknown source kind %q", a.cfg.Capture.Source)
	}
	return nil
}

// initCapture creates the capture session around the source.
func (a *App) initCapture() {
	copts := []capture.Option{capture.WithLogger(a.log)}
	if id := a.cfg.Capture.RendererID; id != "" {
		copts = append(copts, capture.WithRendererID(id))
	}
	a.capture = capture.New(a.source, copts...)
	a.closers = append(a.closers, func() error {
		a.capture.Stop()
		return nil
	})
}

// initStaging sizes the ring from config and prepares the stager. The stager
// attaches to the capture stream in Run, after the session starts.
func (a *App) initStaging() {
	capacity := a.cfg.Staging.Capacity(a.cfg.Capture)
	a.stager = staging.New(capacity,
		staging.WithLogger(a.log),
		staging.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, func() error {
		a.stager.Close()
		return nil
	})
}

// initServer assembles the HTTP surface: drain, health, metrics and, for the
// worklet source, the WebSocket ingest endpoint.
func (a *App) initServer() {
	mux := http.NewServeMux()

	a.stager.Register(mux)
	health.New(health.CaptureRunning(a.capture)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.worklet != nil {
		mux.Handle("/ingest/", a.worklet.Handler())
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run starts the capture session and serves HTTP until ctx is cancelled or
// the server fails. On return the session is stopped and all subsystems are
// torn down; Run reports the first non-shutdown error.
func (a *App) Run(ctx context.Context) error {
	target := capture.TargetFormat{
		Format:     a.cfg.Capture.SampleFormat(),
		SampleRate: a.cfg.Capture.SampleRate,
		Channels:   a.cfg.Capture.Channels,
	}
	if err := a.capture.Start(ctx, target); err != nil {
		return fmt.Errorf("app: start capture: %w", err)
	}
	a.metrics.CapturesActive.Add(ctx, 1)
	defer a.metrics.CapturesActive.Add(context.Background(), -1)

	a.stager.Attach(a.capture)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	a.log.Info("sonatap running",
		"source", string(a.cfg.Capture.Source),
		"renderer_id", a.capture.RendererID(),
		"format", target.Format.String(),
		"sample_rate", target.SampleRate,
		"channels", target.Channels,
	)

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
		return ctxErr
	}
	return err
}

// Capture exposes the capture session, mainly for health checks and tests.
func (a *App) Capture() *capture.Capture { return a.capture }

// Stager exposes the staging ring, mainly for tests.
func (a *App) Stager() *staging.Stager { return a.stager }

// Shutdown drains the HTTP server and tears down all subsystems in
// reverse-init order. It respects the context deadline for the HTTP drain;
// subsystem closers run regardless. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			a.log.Warn("http server shutdown error", "error", err)
			shutdownErr = err
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
