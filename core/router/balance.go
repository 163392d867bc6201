package router

import (
	"math/rand/v2"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Balancer picks upstreams from a route's pool. Balancers are built per
// worker, so they keep their cursor and RNG state without locking.
//
// Select returns a Selection: the balancer's pick first, then the
// remaining candidates in a deterministic order for callers that want to
// try the next one. Whether to retry at all is the caller's policy.
type Balancer interface {
	Select(pool []proxyctx.Upstream) *Selection
}

// Selection iterates a route's candidates starting from the balancer's
// pick. Next returns false when the pool is exhausted.
type Selection struct {
	pool  []proxyctx.Upstream
	order []int
	next  int
}

// Next yields the next candidate.
func (s *Selection) Next() (proxyctx.Upstream, bool) {
	if s.next >= len(s.order) {
		return proxyctx.Upstream{}, false
	}
	up := s.pool[s.order[s.next]]
	s.next++
	return up, true
}

// Remaining reports how many candidates have not been yielded yet.
func (s *Selection) Remaining() int { return len(s.order) - s.next }

// WeightedRandom selects uniformly over weights. It is the default policy.
type WeightedRandom struct {
	rng *rand.Rand
}

// NewWeightedRandom creates a weighted-random balancer with its own RNG.
func NewWeightedRandom() *WeightedRandom {
	return &WeightedRandom{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (b *WeightedRandom) Select(pool []proxyctx.Upstream) *Selection {
	total := 0
	for i := range pool {
		total += pool[i].Weight
	}
	first := 0
	if total > 0 && len(pool) > 1 {
		pick := b.rng.IntN(total)
		for i := range pool {
			pick -= pool[i].Weight
			if pick < 0 {
				first = i
				break
			}
		}
	}
	return newSelection(pool, first)
}

// RoundRobin cycles strictly through a virtual ring in which each
// candidate appears weight times. The cursor is per balancer instance and
// therefore per worker.
type RoundRobin struct {
	ring []int
	pos  int
}

// NewRoundRobin creates a round-robin balancer for a pool shape. The ring
// is expanded once at build time.
func NewRoundRobin(pool []proxyctx.Upstream) *RoundRobin {
	ring := make([]int, 0, len(pool))
	for i := range pool {
		w := pool[i].Weight
		if w < 1 {
			w = 1
		}
		for range w {
			ring = append(ring, i)
		}
	}
	return &RoundRobin{ring: ring}
}

func (b *RoundRobin) Select(pool []proxyctx.Upstream) *Selection {
	if len(b.ring) == 0 {
		return newSelection(pool, 0)
	}
	first := b.ring[b.pos]
	b.pos = (b.pos + 1) % len(b.ring)
	return newSelection(pool, first)
}

// newSelection orders candidates as first, then the rest in declaration
// order.
func newSelection(pool []proxyctx.Upstream, first int) *Selection {
	if len(pool) == 0 {
		return &Selection{}
	}
	order := make([]int, 0, len(pool))
	order = append(order, first)
	for i := range pool {
		if i != first {
			order = append(order, i)
		}
	}
	return &Selection{pool: pool, order: order}
}
