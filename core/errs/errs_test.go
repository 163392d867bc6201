package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

// TestCodes tests code stability.
func TestCodes(t *testing.T) {
	cases := map[Kind]string{
		ClientProto:     "CLIENT_PROTO",
		ClientTimeout:   "CLIENT_TIMEOUT",
		UpstreamConnect: "UPSTREAM_CONNECT",
		UpstreamTimeout: "UPSTREAM_TIMEOUT",
		TlsHandshake:    "TLS_HANDSHAKE",
		ConfigBuild:     "CONFIG_BUILD",
		Shutdown:        "SHUTDOWN",
	}
	for kind, code := range cases {
		if kind.Code() != code {
			t.Errorf("%v code = %q", kind, kind.Code())
		}
	}
}

// TestWrapPreservesCause tests errors.Is/As through the taxonomy.
func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(UpstreamIo, "read response", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause lost")
	}
	if KindOf(err) != UpstreamIo {
		t.Errorf("kind = %v", KindOf(err))
	}

	outer := fmt.Errorf("while proxying: %w", err)
	if KindOf(outer) != UpstreamIo {
		t.Error("kind lost through further wrapping")
	}
}

// TestWrapNil tests the nil passthrough.
func TestWrapNil(t *testing.T) {
	if Wrap(UpstreamIo, "x", nil) != nil {
		t.Error("wrapping nil must stay nil")
	}
}

// TestKindMatching tests Is matching on kind alone.
func TestKindMatching(t *testing.T) {
	err := Newf(UpstreamTimeout, "connect %s", "10.0.0.1:80")
	if !errors.Is(err, New(UpstreamTimeout, "")) {
		t.Error("same-kind errors must match")
	}
	if errors.Is(err, New(UpstreamConnect, "")) {
		t.Error("different kinds must not match")
	}
	if !UpstreamTimeout.Timeout() || UpstreamConnect.Timeout() {
		t.Error("timeout classification wrong")
	}
}
