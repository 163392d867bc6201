package connector

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/fast-proxy/core/poller"
)

const (
	// DefaultMaxIdlePerKey caps idle connections stored per pool key.
	DefaultMaxIdlePerKey = 32
	// DefaultIdleTimeout is the keep-alive deadline for idle entries.
	DefaultIdleTimeout = 60 * time.Second

	sweepInterval = time.Second
)

// PooledConn is a checked-out upstream connection. It is a scoped
// resource: exactly one of Release or Close must run on every exit path,
// and the response-body plumbing arranges that automatically for HTTP.
type PooledConn struct {
	Key  Key
	Conn net.Conn
	// BR buffers reads over Conn; it survives pooling so bytes buffered
	// ahead of a response are never lost.
	BR *bufio.Reader

	pool    *Pool
	fd      int
	expires time.Time
	// Reused is true when the connection came from the pool rather than
	// a fresh dial; the caller uses it to decide the one dial retry.
	Reused bool

	released atomic.Bool
}

// Release returns the connection to its pool when reusable is true and
// the pool still wants it; otherwise the connection is closed. Safe to
// call more than once; later calls are no-ops.
func (pc *PooledConn) Release(reusable bool) {
	if !pc.released.CompareAndSwap(false, true) {
		return
	}
	if reusable && pc.pool != nil && pc.pool.put(pc) {
		return
	}
	pc.Conn.Close()
}

// Close discards the connection without pooling.
func (pc *PooledConn) Close() { pc.Release(false) }

// Pool keeps idle upstream connections per key. Pools are per worker;
// the internal lock only orders the owning worker's connection tasks and
// its sweeper, it is never contended across workers.
type Pool struct {
	mu     sync.Mutex
	idle   map[Key][]*PooledConn
	byFD   map[int]*PooledConn
	closed bool

	idleTimeout time.Duration
	maxPerKey   int

	watcher poller.Poller
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates a pool and starts its 1 Hz sweeper. entries sizes the
// readiness watcher's event buffer.
func NewPool(idleTimeout time.Duration, maxPerKey, entries int) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if maxPerKey <= 0 {
		maxPerKey = DefaultMaxIdlePerKey
	}
	p := &Pool{
		idle:        make(map[Key][]*PooledConn),
		byFD:        make(map[int]*PooledConn),
		idleTimeout: idleTimeout,
		maxPerKey:   maxPerKey,
		stop:        make(chan struct{}),
	}
	if w, err := poller.NewPoller(entries); err == nil {
		p.watcher = w
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Wrap adopts a freshly dialed connection into pool bookkeeping without
// storing it; Release decides later whether it is kept.
func (p *Pool) Wrap(key Key, conn net.Conn) *PooledConn {
	return &PooledConn{
		Key:  key,
		Conn: conn,
		BR:   bufio.NewReader(conn),
		pool: p,
		fd:   connFD(conn),
	}
}

// Get pops an idle connection for key, newest first. Every candidate is
// probed before being handed out; dead entries are dropped silently.
// Expired entries encountered on the way are evicted.
func (p *Pool) Get(key Key) *PooledConn {
	now := time.Now()
	for {
		pc := p.pop(key, now)
		if pc == nil {
			poolMisses.Inc()
			return nil
		}
		if probeDead(pc.Conn) {
			poolEvictions.WithLabelValues("dead").Inc()
			pc.Conn.Close()
			continue
		}
		poolHits.Inc()
		pc.Reused = true
		pc.released.Store(false)
		return pc
	}
}

func (p *Pool) pop(key Key, now time.Time) *PooledConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[key]
	for len(list) > 0 {
		pc := list[len(list)-1]
		list = list[:len(list)-1]
		p.unwatchLocked(pc)
		if now.After(pc.expires) {
			poolEvictions.WithLabelValues("expired").Inc()
			pc.Conn.Close()
			continue
		}
		p.storeList(key, list)
		return pc
	}
	p.storeList(key, list)
	return nil
}

func (p *Pool) storeList(key Key, list []*PooledConn) {
	if len(list) == 0 {
		delete(p.idle, key)
	} else {
		p.idle[key] = list
	}
}

// put stores a released connection; it reports false when the pool is
// closed or full, in which case the caller closes the connection.
func (p *Pool) put(pc *PooledConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	list := p.idle[pc.Key]
	if len(list) >= p.maxPerKey {
		poolEvictions.WithLabelValues("capacity").Inc()
		return false
	}
	pc.expires = time.Now().Add(p.idleTimeout)
	pc.Reused = false
	p.idle[pc.Key] = append(list, pc)
	p.watchLocked(pc)
	return true
}

func (p *Pool) watchLocked(pc *PooledConn) {
	if p.watcher == nil || pc.fd < 0 {
		return
	}
	if p.watcher.Add(pc.fd) == nil {
		p.byFD[pc.fd] = pc
	}
}

func (p *Pool) unwatchLocked(pc *PooledConn) {
	if p.watcher == nil || pc.fd < 0 {
		return
	}
	if _, ok := p.byFD[pc.fd]; ok {
		p.watcher.Remove(pc.fd)
		delete(p.byFD, pc.fd)
	}
}

// sweepLoop evicts expired entries and closes idle connections the
// readiness watcher reports as readable (EOF or stray bytes from the
// upstream; either way the entry must not be reused).
func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

func (p *Pool) sweep() {
	var readable []int
	if p.watcher != nil {
		readable, _ = p.watcher.Wait(0)
	}

	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	for _, fd := range readable {
		pc, ok := p.byFD[fd]
		if !ok {
			continue
		}
		p.removeIdleLocked(pc)
		poolEvictions.WithLabelValues("dead").Inc()
		pc.Conn.Close()
	}

	for key, list := range p.idle {
		kept := list[:0]
		for _, pc := range list {
			if now.After(pc.expires) {
				p.unwatchLocked(pc)
				poolEvictions.WithLabelValues("expired").Inc()
				pc.Conn.Close()
				continue
			}
			kept = append(kept, pc)
		}
		p.storeList(key, kept)
	}
}

func (p *Pool) removeIdleLocked(pc *PooledConn) {
	p.unwatchLocked(pc)
	list := p.idle[pc.Key]
	for i, cand := range list {
		if cand == pc {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	p.storeList(pc.Key, list)
}

// Drain closes all idle connections but keeps the pool usable.
func (p *Pool) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.idle {
		for _, pc := range list {
			p.unwatchLocked(pc)
			pc.Conn.Close()
		}
		delete(p.idle, key)
	}
}

// Close drains the pool and stops the sweeper.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for key, list := range p.idle {
		for _, pc := range list {
			p.unwatchLocked(pc)
			pc.Conn.Close()
		}
		delete(p.idle, key)
	}
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()
	if p.watcher != nil {
		p.watcher.Close()
	}
}

// IdleCount reports the number of idle entries for a key (tests, stats).
func (p *Pool) IdleCount(key Key) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}
