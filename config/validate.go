package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Validate checks the configuration for errors that would make a pipeline
// unbuildable. It assumes ApplyDefaults has run.
func (c *Config) Validate() error {
	switch c.Runtime.RuntimeType {
	case RuntimeReadiness, RuntimeCompletion:
	default:
		return fmt.Errorf("runtime: unknown runtime_type %q", c.Runtime.RuntimeType)
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured")
	}

	seen := map[string]string{}
	for name, srv := range c.Servers {
		if err := validateServer(name, &srv); err != nil {
			return err
		}
		key := srv.Listener.Type + "|" + srv.Listener.Value
		if other, dup := seen[key]; dup {
			return fmt.Errorf("servers %s and %s share listener %s", other, name, srv.Listener.Value)
		}
		seen[key] = name
	}
	return nil
}

func validateServer(name string, srv *ServerConfig) error {
	switch srv.ProxyType {
	case ProxyHTTP, ProxyThrift:
	default:
		return fmt.Errorf("server %s: unknown proxy_type %q", name, srv.ProxyType)
	}

	switch srv.Listener.Type {
	case "socket":
		if _, _, err := net.SplitHostPort(srv.Listener.Value); err != nil {
			return fmt.Errorf("server %s: listener %q: %w", name, srv.Listener.Value, err)
		}
	case "unix":
		if srv.Listener.Value == "" {
			return fmt.Errorf("server %s: unix listener needs a path", name)
		}
	default:
		return fmt.Errorf("server %s: unknown listener type %q", name, srv.Listener.Type)
	}

	switch srv.UpstreamHTTPVersion {
	case VersionAuto, VersionHTTP11, VersionHTTP2:
	default:
		return fmt.Errorf("server %s: unknown upstream_http_version %q", name, srv.UpstreamHTTPVersion)
	}

	if srv.TLS != nil {
		if srv.TLS.Stack != "std" && srv.TLS.Stack != "strict" {
			return fmt.Errorf("server %s: unknown tls stack %q", name, srv.TLS.Stack)
		}
		for _, f := range []string{srv.TLS.Chain, srv.TLS.Key} {
			if f == "" {
				return fmt.Errorf("server %s: tls requires both chain and key", name)
			}
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("server %s: tls material: %w", name, err)
			}
		}
	}

	if len(srv.Routes) == 0 {
		return fmt.Errorf("server %s: no routes", name)
	}
	for i, rt := range srv.Routes {
		if err := validateRoute(name, i, &rt); err != nil {
			return err
		}
	}
	return nil
}

func validateRoute(server string, idx int, rt *RouteConfig) error {
	if !strings.HasPrefix(rt.Path, "/") {
		return fmt.Errorf("server %s route %d: path %q must begin with '/'", server, idx, rt.Path)
	}
	switch rt.LoadBalancer {
	case LBRandom, LBRoundRobin:
	default:
		return fmt.Errorf("server %s route %d: unknown load_balancer %q", server, idx, rt.LoadBalancer)
	}
	if len(rt.Upstreams) == 0 {
		return fmt.Errorf("server %s route %d: no upstreams", server, idx)
	}
	for j, up := range rt.Upstreams {
		if up.Weight < 1 {
			return fmt.Errorf("server %s route %d upstream %d: weight must be >= 1", server, idx, j)
		}
		switch up.Endpoint.Type {
		case "uri":
			u, err := url.Parse(up.Endpoint.Value)
			if err != nil {
				return fmt.Errorf("server %s route %d upstream %d: %w", server, idx, j, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("server %s route %d upstream %d: scheme %q not supported", server, idx, j, u.Scheme)
			}
			if u.Host == "" {
				return fmt.Errorf("server %s route %d upstream %d: endpoint has no host", server, idx, j)
			}
		case "unix":
			if up.Endpoint.Value == "" {
				return fmt.Errorf("server %s route %d upstream %d: unix endpoint needs a path", server, idx, j)
			}
		default:
			return fmt.Errorf("server %s route %d upstream %d: unknown endpoint type %q", server, idx, j, up.Endpoint.Type)
		}
	}
	return nil
}
