// Package app wires configuration, the worker fleet, listener bindings,
// pipeline factories, signal handling, and the reload controller into a
// runnable proxy process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/listener"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/worker"
)

// App is the application instance.
type App struct {
	cfgPath string
	cfg     *config.Config
	log     *slog.Logger

	fleet    *worker.Fleet
	bindings map[string]*listener.Binding
	// servers remembers each binding's current server config for reloads.
	servers map[string]config.ServerConfig

	genCounter atomic.Uint64
	reloadCh   chan *config.Config
	// runCtx is the serving context; bindings created by a reload start
	// their accept loops under it.
	runCtx context.Context

	metricsSrv     *http.Server
	watcher        *config.Watcher
	tracerShutdown func(context.Context) error
}

// New loads the configuration and builds the initial pipelines. An error
// here means the process should exit non-zero.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfg:      cfg,
		log:      observability.NewLogger(cfg.Log),
		bindings: make(map[string]*listener.Binding),
		servers:  make(map[string]config.ServerConfig),
		reloadCh: make(chan *config.Config, 1),
	}
	a.fleet = worker.NewFleet(cfg.Runtime, a.log)

	for name, srv := range cfg.Servers {
		b, err := listener.Bind(name, srv.Listener, a.fleet.Size(), a.log)
		if err != nil {
			a.closeBindings()
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
		a.bindings[name] = b
		a.servers[name] = srv
	}

	// First generation. A failure here is a startup config error.
	genID := a.genCounter.Add(1)
	for name, srv := range cfg.Servers {
		if err := a.publishGeneration(a.bindings[name], srv, genID); err != nil {
			a.closeBindings()
			return nil, fmt.Errorf("build pipeline %s: %w", name, err)
		}
	}
	observability.Generation.Set(float64(genID))

	return a, nil
}

// Run serves until SIGINT/SIGTERM, then drains gracefully. SIGHUP and
// config file changes trigger pipeline reloads.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.runCtx = ctx

	shutdownTracing, err := observability.SetupTracing(ctx, a.cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		a.log.Warn("tracing disabled", "error", err)
	} else {
		a.tracerShutdown = shutdownTracing
	}

	if addr := a.cfg.Telemetry.MetricsAddr; addr != "" {
		a.metricsSrv = &http.Server{Addr: addr, Handler: observability.MetricsHandler()}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics listener failed", "error", err)
			}
		}()
	}

	if w, err := config.NewWatcher(a.cfgPath, a.log, func(cfg *config.Config) {
		select {
		case a.reloadCh <- cfg:
		default:
		}
	}); err == nil {
		a.watcher = w
	} else {
		a.log.Warn("config watcher unavailable", "error", err)
	}

	for name, b := range a.bindings {
		b.Run(ctx, a.fleet)
		a.log.Info("listening", "listener", name, "addr", b.Addr().String())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				cfg, err := config.Load(a.cfgPath)
				if err != nil {
					// The running pipeline is untouched by a bad reload.
					a.log.Warn("reload skipped", "error", err)
					observability.Reloads.WithLabelValues("error").Inc()
					continue
				}
				a.applyConfig(cfg)
				continue
			}
			a.log.Info("shutting down", "signal", sig.String())
			a.shutdown(cancel)
			return nil
		case cfg := <-a.reloadCh:
			a.applyConfig(cfg)
		}
	}
}

// shutdown stops accepting, waits out the grace interval, then cancels
// whatever is left.
func (a *App) shutdown(cancel context.CancelFunc) {
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.closeBindings()

	grace := a.cfg.MaxKeepalive()
	done := make(chan struct{})
	go func() {
		a.fleet.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("grace interval elapsed; forcing close", "grace", grace.String())
		cancel()
		<-done
	}

	if a.metricsSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		a.metricsSrv.Shutdown(sctx)
		scancel()
	}
	if a.tracerShutdown != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
		a.tracerShutdown(sctx)
		scancel()
	}
}

func (a *App) closeBindings() {
	for _, b := range a.bindings {
		b.Close()
	}
}
