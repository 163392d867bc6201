// Package worker implements the execution substrate: a fixed fleet of
// workers, one per configured thread. Each worker owns its listener
// clones, connection pools, balancer cursors, and generation slots; no
// data-path state is shared across workers, and a task spawned on a
// worker stays associated with that worker's state for its whole life.
package worker

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/searchktools/fast-proxy/config"
)

// Worker is one execution unit of the fleet.
type Worker struct {
	id    int
	tasks sync.WaitGroup
}

// ID returns the worker's index in the fleet.
func (w *Worker) ID() int { return w.id }

// Spawn runs task asynchronously, accounted against this worker. Tasks
// must honor ctx cancellation; Wait blocks until all spawned tasks
// returned.
func (w *Worker) Spawn(ctx context.Context, task func(ctx context.Context)) {
	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		task(ctx)
	}()
}

// Wait blocks until every task spawned on this worker has finished.
func (w *Worker) Wait() { w.tasks.Wait() }

// Fleet is the set of workers plus the runtime knobs they share.
type Fleet struct {
	workers []*Worker
	cfg     config.RuntimeConfig
	log     *slog.Logger
}

// NewFleet builds the fleet from the runtime section and applies the
// throughput-oriented GC profile. The completion runtime type is
// accepted but currently served by the readiness driver.
func NewFleet(cfg config.RuntimeConfig, log *slog.Logger) *Fleet {
	n := cfg.WorkerThreads
	if n < 1 {
		n = 1
	}
	if cfg.RuntimeType == config.RuntimeCompletion {
		log.Info("completion runtime requested; using readiness driver", "workers", n)
	}

	tuneGC()

	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = &Worker{id: i}
	}
	return &Fleet{workers: workers, cfg: cfg, log: log}
}

// Workers returns the fleet members.
func (f *Fleet) Workers() []*Worker { return f.workers }

// Size returns the number of workers.
func (f *Fleet) Size() int { return len(f.workers) }

// PollerEntries returns the configured poller event-buffer size.
func (f *Fleet) PollerEntries() int { return f.cfg.Entries }

// Wait blocks until all tasks on all workers have finished.
func (f *Fleet) Wait() {
	for _, w := range f.workers {
		w.Wait()
	}
}

// tuneGC trades memory for fewer collection cycles, matching a proxy's
// allocation profile (many short-lived per-request objects).
func tuneGC() {
	debug.SetGCPercent(200)
	runtime.GC()
}
