package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleTOML = `
[runtime]
runtime_type = "readiness"
worker_threads = 2
entries = 1024

[servers.gateway]
name = "gateway"
listener = { type = "socket", value = "0.0.0.0:8080" }
upstream_http_version = "http2"
http_timeout = { server_keepalive_timeout_sec = 30, upstream_connect_timeout_sec = 1 }

[[servers.gateway.routes]]
path = "/api/{*rest}"
load_balancer = "round_robin"
upstreams = [
    { weight = 10, endpoint = { type = "uri", value = "http://10.0.0.1:9000" } },
    { weight = 20, endpoint = { type = "uri", value = "http://10.0.0.2:9000" } },
]

[servers.rpc]
name = "rpc"
proxy_type = "thrift"
listener = { type = "unix", value = "/tmp/rpc.sock" }
thrift_timeout = { server_message_timeout_sec = 3 }

[[servers.rpc.routes]]
path = "/"
upstreams = [ { endpoint = { type = "uri", value = "http://10.0.0.3:9090" } } ]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestLoadTOML tests the primary config format end to end.
func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "fastproxy.toml", sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Runtime.WorkerThreads != 2 || cfg.Runtime.Entries != 1024 {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}

	gw := cfg.Servers["gateway"]
	if gw.ProxyType != ProxyHTTP {
		t.Errorf("proxy_type should default to http, got %q", gw.ProxyType)
	}
	if gw.UpstreamHTTPVersion != VersionHTTP2 {
		t.Errorf("upstream_http_version = %q", gw.UpstreamHTTPVersion)
	}
	if got := gw.HTTPTimeout.KeepaliveTimeout(); got != 30*time.Second {
		t.Errorf("keepalive = %s", got)
	}
	if got := gw.HTTPTimeout.ConnectTimeout(); got != time.Second {
		t.Errorf("connect = %s", got)
	}
	// Unset timeouts take their defaults.
	if got := gw.HTTPTimeout.ReadHeaderTimeout(); got != DefaultReadHeaderTimeoutSec*time.Second {
		t.Errorf("read header default = %s", got)
	}

	rt := gw.Routes[0]
	if rt.LoadBalancer != LBRoundRobin {
		t.Errorf("load_balancer = %q", rt.LoadBalancer)
	}
	if rt.Upstreams[0].Weight != 10 || rt.Upstreams[1].Weight != 20 {
		t.Errorf("weights = %d/%d", rt.Upstreams[0].Weight, rt.Upstreams[1].Weight)
	}

	rpc := cfg.Servers["rpc"]
	if rpc.ProxyType != ProxyThrift {
		t.Errorf("rpc proxy_type = %q", rpc.ProxyType)
	}
	if got := rpc.ThriftTimeout.MessageTimeout(); got != 3*time.Second {
		t.Errorf("message timeout = %s", got)
	}
}

// TestLoadJSONSniff tests that a leading '{' selects JSON regardless of
// extension.
func TestLoadJSONSniff(t *testing.T) {
	content := `{
  "servers": {
    "s": {
      "listener": {"type": "socket", "value": "127.0.0.1:1"},
      "routes": [{"path": "/", "upstreams": [{"endpoint": {"type": "uri", "value": "http://h:1"}}]}]
    }
  }
}`
	cfg, err := Load(writeConfig(t, "conf.toml", content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Servers["s"]; !ok {
		t.Error("JSON config not decoded")
	}
}

// TestDefaultWeight tests that missing weights become 1.
func TestDefaultWeight(t *testing.T) {
	cfg, err := Load(writeConfig(t, "w.toml", `
[servers.s]
listener = { type = "socket", value = "127.0.0.1:1" }
[[servers.s.routes]]
path = "/"
upstreams = [ { endpoint = { type = "uri", value = "http://h:1" } } ]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w := cfg.Servers["s"].Routes[0].Upstreams[0].Weight; w != 1 {
		t.Errorf("default weight = %d", w)
	}
}

// TestValidateRejects tests the validator's main refusals.
func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"no servers":    "[runtime]\nworker_threads = 1\n",
		"bad listener":  "[servers.s]\nlistener = { type = \"socket\", value = \"nonsense\" }\n[[servers.s.routes]]\npath = \"/\"\nupstreams = [ { endpoint = { type = \"uri\", value = \"http://h:1\" } } ]\n",
		"no routes":     "[servers.s]\nlistener = { type = \"socket\", value = \"127.0.0.1:1\" }\n",
		"bad lb":        "[servers.s]\nlistener = { type = \"socket\", value = \"127.0.0.1:1\" }\n[[servers.s.routes]]\npath = \"/\"\nload_balancer = \"least_conn\"\nupstreams = [ { endpoint = { type = \"uri\", value = \"http://h:1\" } } ]\n",
		"bad scheme":    "[servers.s]\nlistener = { type = \"socket\", value = \"127.0.0.1:1\" }\n[[servers.s.routes]]\npath = \"/\"\nupstreams = [ { endpoint = { type = \"uri\", value = \"ftp://h:1\" } } ]\n",
		"relative path": "[servers.s]\nlistener = { type = \"socket\", value = \"127.0.0.1:1\" }\n[[servers.s.routes]]\npath = \"x\"\nupstreams = [ { endpoint = { type = \"uri\", value = \"http://h:1\" } } ]\n",
		"missing tls":   "[servers.s]\nlistener = { type = \"socket\", value = \"127.0.0.1:1\" }\ntls = { chain = \"/does/not/exist\", key = \"/does/not/exist\" }\n[[servers.s.routes]]\npath = \"/\"\nupstreams = [ { endpoint = { type = \"uri\", value = \"http://h:1\" } } ]\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, "bad.toml", content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// TestDuplicateListener tests that two servers cannot share a surface.
func TestDuplicateListener(t *testing.T) {
	content := `
[servers.a]
listener = { type = "socket", value = "127.0.0.1:7000" }
[[servers.a.routes]]
path = "/"
upstreams = [ { endpoint = { type = "uri", value = "http://h:1" } } ]

[servers.b]
listener = { type = "socket", value = "127.0.0.1:7000" }
[[servers.b.routes]]
path = "/"
upstreams = [ { endpoint = { type = "uri", value = "http://h:1" } } ]
`
	if _, err := Load(writeConfig(t, "dup.toml", content)); err == nil {
		t.Error("expected duplicate listener error")
	}
}
