package app

import (
	"log/slog"
	"reflect"

	"github.com/searchktools/fast-proxy/config"
	"github.com/searchktools/fast-proxy/core/httpproxy"
	"github.com/searchktools/fast-proxy/core/listener"
	"github.com/searchktools/fast-proxy/core/observability"
	"github.com/searchktools/fast-proxy/core/service"
	"github.com/searchktools/fast-proxy/core/thriftproxy"
)

// applyConfig is the reconfiguration controller: it swaps pipeline
// factories on running listeners without dropping in-flight connections.
//
// Per listener: build the new factory, run Make against every worker's
// live instance, and only if every build succeeded publish the new
// generation to all slots. In-flight connections keep the generation
// they were accepted under; the old instances are released by ordinary
// scope when their last connection finishes.
func (a *App) applyConfig(cfg *config.Config) {
	genID := a.genCounter.Add(1)
	a.log.Info("reloading pipelines", "generation", genID)

	ok := true
	for name, srv := range cfg.Servers {
		b, exists := a.bindings[name]
		switch {
		case !exists:
			// A brand-new server: bind and publish its first generation.
			nb, err := listener.Bind(name, srv.Listener, a.fleet.Size(), a.log)
			if err != nil {
				a.log.Warn("reload: bind failed, server skipped", "listener", name, "error", err)
				ok = false
				continue
			}
			if err := a.publishGeneration(nb, srv, genID); err != nil {
				a.log.Warn("reload: pipeline build failed, server skipped", "listener", name, "error", err)
				nb.Close()
				ok = false
				continue
			}
			a.bindings[name] = nb
			a.servers[name] = srv
			if a.runCtx != nil {
				nb.Run(a.runCtx, a.fleet)
			}
			a.log.Info("listener added", "listener", name, "addr", nb.Addr().String())

		case !reflect.DeepEqual(a.servers[name].Listener, srv.Listener):
			// The listen surface itself moved; that is a rebind, not a
			// pipeline swap. Existing connections drain on the old socket.
			a.log.Warn("reload: listener address changed; rebinding", "listener", name)
			b.Close()
			delete(a.bindings, name)
			nb, err := listener.Bind(name, srv.Listener, a.fleet.Size(), a.log)
			if err != nil {
				a.log.Warn("reload: rebind failed, server dropped", "listener", name, "error", err)
				ok = false
				continue
			}
			if err := a.publishGeneration(nb, srv, genID); err != nil {
				a.log.Warn("reload: pipeline build failed, server dropped", "listener", name, "error", err)
				nb.Close()
				ok = false
				continue
			}
			a.bindings[name] = nb
			a.servers[name] = srv
			if a.runCtx != nil {
				nb.Run(a.runCtx, a.fleet)
			}

		default:
			if err := a.publishGeneration(b, srv, genID); err != nil {
				// No-op on failure: the previous generation keeps serving.
				a.log.Warn("reload: pipeline build failed, keeping previous",
					"listener", name, "error", err)
				ok = false
				continue
			}
			a.servers[name] = srv
		}
	}

	// Servers absent from the new config stop accepting.
	for name, b := range a.bindings {
		if _, still := cfg.Servers[name]; !still {
			a.log.Info("listener removed", "listener", name)
			b.Close()
			delete(a.bindings, name)
			delete(a.servers, name)
		}
	}

	a.cfg = cfg
	if ok {
		observability.Reloads.WithLabelValues("ok").Inc()
	} else {
		observability.Reloads.WithLabelValues("error").Inc()
	}
	observability.Generation.Set(float64(genID))
}

// publishGeneration builds the pipeline for every worker of a binding and
// atomically installs it. Nothing is published unless every worker's
// build succeeded.
func (a *App) publishGeneration(b *listener.Binding, srv config.ServerConfig, genID uint64) error {
	factory := a.makeFactory(srv)
	slots := b.Slots()

	built := make([]*service.Generation, len(slots))
	for i, slot := range slots {
		var prev service.ConnHandler
		if g := slot.Active(); g != nil {
			prev = g.Handler
		}
		handler, err := factory.Make(prev)
		if err != nil {
			return err
		}
		built[i] = &service.Generation{ID: genID, Handler: handler, Factory: factory}
	}
	for i, slot := range slots {
		slot.Publish(built[i])
	}
	return nil
}

// makeFactory picks the protocol pipeline for a server config.
func (a *App) makeFactory(srv config.ServerConfig) service.Factory[service.ConnHandler] {
	entries := a.fleet.PollerEntries()
	var log *slog.Logger = a.log
	if srv.ProxyType == config.ProxyThrift {
		return &thriftproxy.Factory{Cfg: srv, Log: log, PollerEntries: entries}
	}
	return &httpproxy.Factory{Cfg: srv, Log: log, PollerEntries: entries}
}
