// Package router matches request paths against per-server route tables
// and selects an upstream from the matched route's weighted pool.
//
// Patterns support exact segments, single-segment captures `{name}`, and
// a tail wildcard `{*name}`. Lookup returns the most specific match
// (static segment beats capture beats wildcard, position by position);
// routes with equally specific patterns keep their declaration order.
package router

import (
	"fmt"
	"strings"

	"github.com/searchktools/fast-proxy/core/proxyctx"
)

// Route is one routing rule: a path pattern and its upstream pool.
type Route struct {
	// Pattern is the registered path pattern, kept for context traces.
	Pattern string
	// Upstreams is the ordered candidate pool.
	Upstreams []proxyctx.Upstream

	balancer Balancer
	order    int
}

// Balancer returns the route's selection policy.
func (r *Route) Balancer() Balancer { return r.balancer }

// Router is a segment tree over route patterns.
type Router struct {
	root  *node
	count int
}

type node struct {
	children map[string]*node // static segment -> child
	param    *node            // {name} child
	wildcard *node            // {*name} child, always a leaf
	capture  string           // capture name on param/wildcard nodes
	route    *Route           // terminal route, if any
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// New creates an empty router.
func New() *Router {
	return &Router{root: newNode()}
}

// Add registers a route under its pattern. Patterns must start with '/';
// a duplicate pattern is an error.
func (r *Router) Add(pattern string, upstreams []proxyctx.Upstream, balancer Balancer) (*Route, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("pattern %q must begin with '/'", pattern)
	}
	if len(upstreams) == 0 {
		return nil, fmt.Errorf("pattern %q has no upstreams", pattern)
	}

	route := &Route{
		Pattern:   pattern,
		Upstreams: upstreams,
		balancer:  balancer,
		order:     r.count,
	}

	n := r.root
	segs := splitPath(pattern)
	for i, seg := range segs {
		switch {
		case strings.HasPrefix(seg, "{*") && strings.HasSuffix(seg, "}"):
			name := seg[2 : len(seg)-1]
			if name == "" {
				return nil, fmt.Errorf("pattern %q: wildcard must be named", pattern)
			}
			if i != len(segs)-1 {
				return nil, fmt.Errorf("pattern %q: wildcard only allowed at the end", pattern)
			}
			if n.wildcard == nil {
				n.wildcard = newNode()
				n.wildcard.capture = name
			} else if n.wildcard.capture != name {
				return nil, fmt.Errorf("pattern %q: conflicting wildcard name %q", pattern, name)
			}
			n = n.wildcard
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if name == "" {
				return nil, fmt.Errorf("pattern %q: capture must be named", pattern)
			}
			if n.param == nil {
				n.param = newNode()
				n.param.capture = name
			} else if n.param.capture != name {
				return nil, fmt.Errorf("pattern %q: conflicting capture name %q", pattern, name)
			}
			n = n.param
		default:
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
	}
	if n.route != nil {
		return nil, fmt.Errorf("pattern %q already registered", pattern)
	}
	n.route = route
	r.count++
	return route, nil
}

// Lookup finds the most specific route for path. The returned params map
// is nil when the pattern has no captures.
func (r *Router) Lookup(path string) (*Route, map[string]string, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segs := splitPath(path)
	if len(segs) == 0 && r.root.route == nil {
		// "/" is the empty tail of a root wildcard such as "/{*rest}".
		segs = []string{""}
	}

	var params map[string]string
	route := match(r.root, segs, func(name, value string) {
		if params == nil {
			params = make(map[string]string, 2)
		}
		params[name] = value
	})
	if route == nil {
		return nil, nil, false
	}
	return route, params, true
}

// match walks the tree preferring static children over captures over the
// wildcard, backtracking when a preferred branch dead-ends.
func match(n *node, segs []string, capture func(name, value string)) *Route {
	if len(segs) == 0 {
		return n.route
	}

	head, tail := segs[0], segs[1:]

	if child, ok := n.children[head]; ok {
		if route := match(child, tail, capture); route != nil {
			return route
		}
	}
	if n.param != nil && head != "" {
		if route := match(n.param, tail, capture); route != nil {
			capture(n.param.capture, head)
			return route
		}
	}
	if n.wildcard != nil && n.wildcard.route != nil {
		capture(n.wildcard.capture, strings.Join(segs, "/"))
		return n.wildcard.route
	}
	return nil
}

// splitPath splits a cleaned path into segments, dropping the leading
// empty segment: "/a/b" -> ["a" "b"], "/" -> [].
func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
