/*
Package fast-proxy is a high-performance L4/L7 reverse proxy framework.

Fast-Proxy accepts client connections on configured listeners, optionally
terminates TLS, speaks HTTP/1.1, HTTP/2, or framed-binary Thrift, routes
requests to weighted upstream pools, and relays through pooled upstream
connections with keep-alive — all under hot-reloadable pipeline
configuration.

Features

  - Worker fleet: one worker per configured thread, no data-path state
    shared across workers
  - Composable service pipelines: TLS termination, protocol detection,
    codec, routing, and upstream forwarding as layered handlers
  - Pooled upstream connections (TCP/Unix, TLS, HTTP/1.1, HTTP/2, framed
    Thrift) with keyed keep-alive, dead-connection probing, and
    readiness-driven idle sweeps
  - Path routing with named captures and tail wildcards; weighted random
    and round-robin load balancing
  - Zero-downtime reloads: new pipeline generations per listener, with
    warm state (connection pools) inherited across generations
  - Observability: structured logging, tracing spans per connection and
    request, Prometheus metrics

# Quick Start

Run the proxy with a TOML configuration:

	fastproxy -config fastproxy.toml

A minimal configuration:

	[runtime]
	worker_threads = 4

	[servers.gateway]
	name = "gateway"
	listener = { type = "socket", value = "0.0.0.0:8080" }

	[[servers.gateway.routes]]
	path = "/{*rest}"
	upstreams = [
	    { endpoint = { type = "uri", value = "http://127.0.0.1:9000" } },
	]

Modules

  - app: application lifecycle, signals, reload controller
  - config: configuration model, loaders, file watcher
  - core/worker: worker fleet
  - core/listener: listener bindings and accept loops
  - core/proxyctx: typed per-connection context stages
  - core/service: service/factory contracts and generation slots
  - core/connector: upstream connector stack and keep-alive pool
  - core/httpproxy: HTTP/1.1 and HTTP/2 data path
  - core/thriftproxy: framed-binary Thrift data path
  - core/router: path routing and load balancing
  - core/tlsterm: accept-side TLS termination
  - core/errs: typed error taxonomy
  - core/observability: logging, tracing, metrics
*/
package fastproxy
