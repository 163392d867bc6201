package proxyctx

import (
	"net"
	"testing"
)

func dummyConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a
}

// TestAcceptedStage tests the facts stamped at accept time.
func TestAcceptedStage(t *testing.T) {
	cx := NewAccepted("gw", 3, dummyConn(t))
	if cx.Listener != "gw" || cx.Generation != 3 {
		t.Errorf("accepted = %+v", cx)
	}
	if cx.ConnID.String() == "" || cx.AcceptedAt.IsZero() {
		t.Error("conn id and timestamp must be set")
	}
	if cx.ClientAddr() != cx.Peer {
		t.Error("without a proxy source, client addr is the peer")
	}
}

// TestProxySourceOverridesPeer tests the PROXY-protocol source slot.
func TestProxySourceOverridesPeer(t *testing.T) {
	cx := NewAccepted("gw", 1, dummyConn(t))
	src := &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 999}
	cx.SetProxySource(src)
	if cx.ClientAddr() != net.Addr(src) {
		t.Error("proxy source must win over the transport peer")
	}
}

// TestStageAccumulation tests that each stage carries everything the
// stage above installed.
func TestStageAccumulation(t *testing.T) {
	accepted := NewAccepted("gw", 7, dummyConn(t))

	tls := Terminated(accepted, "gateway.example", "h2", nil)
	if !tls.Terminated || tls.SNI != "gateway.example" || tls.ALPN != "h2" {
		t.Errorf("tls stage = %+v", tls)
	}
	if tls.Listener != "gw" || tls.Generation != 7 {
		t.Error("tls stage lost accepted facts")
	}

	routed := WithRoute(tls,
		RouteMatch{Route: "/api/{*rest}", Params: map[string]string{"rest": "v1/users"}},
		Upstream{Scheme: "http", Authority: "10.0.0.1:9000", Weight: 1})
	if routed.SNI != "gateway.example" {
		t.Error("routed stage lost tls facts")
	}
	if routed.Match.Route != "/api/{*rest}" || routed.Selected.Authority != "10.0.0.1:9000" {
		t.Errorf("routed stage = %+v", routed.Match)
	}
}

// TestPlaintextStage tests the uniform cleartext lift.
func TestPlaintextStage(t *testing.T) {
	cx := Plaintext(NewAccepted("gw", 1, dummyConn(t)))
	if cx.Terminated || cx.SNI != "" || cx.ALPN != "" {
		t.Errorf("plaintext stage carries tls facts: %+v", cx)
	}
}
