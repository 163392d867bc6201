package service

import "sync/atomic"

// Generation is one published pipeline instance for a listener on one
// worker. Ids increase monotonically across reloads; a connection accepted
// at generation G observes the G instance for its whole life.
type Generation struct {
	// ID is the monotonically increasing generation number.
	ID uint64
	// Handler is the pipeline instance for this generation.
	Handler ConnHandler
	// Factory is the factory that built Handler. The next reload passes
	// Handler, not Factory, as prev.
	Factory Factory[ConnHandler]
}

// Slot is the per-worker, per-listener pointer to the active generation.
// Readers load with acquire semantics and never block; the reload
// controller is the only writer. atomic.Pointer gives the required
// release/acquire ordering.
type Slot struct {
	p atomic.Pointer[Generation]
}

// Publish installs gen as the active generation.
func (s *Slot) Publish(gen *Generation) {
	s.p.Store(gen)
}

// Active returns the current generation. It is wait-free.
func (s *Slot) Active() *Generation {
	return s.p.Load()
}
