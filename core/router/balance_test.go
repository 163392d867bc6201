package router

import (
	"testing"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

func pool(weights ...int) []proxyctx.Upstream {
	ups := make([]proxyctx.Upstream, len(weights))
	for i, w := range weights {
		ups[i] = proxyctx.Upstream{Scheme: "http", Authority: string(rune('a' + i)), Weight: w}
	}
	return ups
}

// TestRoundRobinWeighted tests the strictly cyclic weighted ring: with
// weights 10 and 20, 300 selections split exactly 100/200.
func TestRoundRobinWeighted(t *testing.T) {
	ups := pool(10, 20)
	rr := NewRoundRobin(ups)

	counts := map[string]int{}
	for range 300 {
		up, ok := rr.Select(ups).Next()
		if !ok {
			t.Fatal("selection yielded nothing")
		}
		counts[up.Authority]++
	}
	if counts["a"] != 100 || counts["b"] != 200 {
		t.Errorf("expected exact 100/200 split, got %v", counts)
	}
}

// TestRoundRobinCyclic tests determinism of the cycle.
func TestRoundRobinCyclic(t *testing.T) {
	ups := pool(1, 1, 1)
	rr := NewRoundRobin(ups)

	var got []string
	for range 6 {
		up, _ := rr.Select(ups).Next()
		got = append(got, up.Authority)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cycle mismatch at %d: got %v", i, got)
		}
	}
}

// TestWeightedRandomDistribution tests the 1:2 weighting within a
// tolerance over many draws.
func TestWeightedRandomDistribution(t *testing.T) {
	ups := pool(10, 20)
	wr := NewWeightedRandom()

	const n = 30000
	counts := map[string]int{}
	for range n {
		up, _ := wr.Select(ups).Next()
		counts[up.Authority]++
	}

	// Expected share of "b" is 2/3; allow ±5%.
	share := float64(counts["b"]) / n
	if share < 0.667-0.05 || share > 0.667+0.05 {
		t.Errorf("expected ~2/3 share for b, got %.3f (%v)", share, counts)
	}
}

// TestSelectionNext tests the try-next sequence: the pick first, then the
// remaining candidates each exactly once.
func TestSelectionNext(t *testing.T) {
	ups := pool(1, 1, 1)
	rr := NewRoundRobin(ups)
	rr.Select(ups) // advance cursor so the pick is "b"

	sel := rr.Select(ups)
	seen := map[string]bool{}
	first := ""
	for {
		up, ok := sel.Next()
		if !ok {
			break
		}
		if first == "" {
			first = up.Authority
		}
		if seen[up.Authority] {
			t.Fatalf("candidate %s yielded twice", up.Authority)
		}
		seen[up.Authority] = true
	}
	if first != "b" {
		t.Errorf("expected balancer pick b first, got %s", first)
	}
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct candidates, got %d", len(seen))
	}
	if sel.Remaining() != 0 {
		t.Errorf("expected exhausted selection")
	}
}
