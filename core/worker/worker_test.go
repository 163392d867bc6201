package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/searchktools/fast-proxy/config"
)

func testFleet(n int) *Fleet {
	return NewFleet(config.RuntimeConfig{
		RuntimeType:   config.RuntimeReadiness,
		WorkerThreads: n,
		Entries:       128,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// TestFleetSize tests worker count handling, including the n=1 floor.
func TestFleetSize(t *testing.T) {
	if got := testFleet(4).Size(); got != 4 {
		t.Errorf("size = %d", got)
	}
	if got := testFleet(0).Size(); got != 1 {
		t.Errorf("zero workers must clamp to 1, got %d", got)
	}
}

// TestSpawnWait tests task accounting per worker.
func TestSpawnWait(t *testing.T) {
	f := testFleet(2)

	var ran atomic.Int32
	for _, w := range f.Workers() {
		for range 10 {
			w.Spawn(context.Background(), func(ctx context.Context) {
				ran.Add(1)
			})
		}
	}
	f.Wait()

	if ran.Load() != 20 {
		t.Errorf("expected 20 tasks, got %d", ran.Load())
	}
}

// TestCompletionFallsBack tests that the completion runtime type builds
// a working fleet.
func TestCompletionFallsBack(t *testing.T) {
	f := NewFleet(config.RuntimeConfig{
		RuntimeType:   config.RuntimeCompletion,
		WorkerThreads: 1,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if f.Size() != 1 {
		t.Error("completion fleet must still build")
	}
}
