// Package errs defines the typed error taxonomy shared by every layer of
// the proxy. Each error carries a stable short code suitable for logs and
// metrics labels plus a human-readable context string, and wraps its cause
// so errors.Is / errors.As keep working across layer boundaries.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a proxy failure. The set is closed: handlers switch on
// it to pick a wire status, metrics use its code as a label.
type Kind uint8

const (
	// KindUnknown is the zero value; it should not appear in practice.
	KindUnknown Kind = iota

	// ClientProto: the downstream peer violated the protocol.
	ClientProto
	// ClientIo: read/write error on the downstream connection.
	ClientIo
	// ClientTimeout: a server-side read deadline expired.
	ClientTimeout
	// ServerPolicy: the request was well-formed but not servable (no
	// matching route, empty upstream pool).
	ServerPolicy
	// UpstreamConnect: dialing or handshaking the upstream failed.
	UpstreamConnect
	// UpstreamProto: the upstream answered with a protocol violation.
	UpstreamProto
	// UpstreamIo: read/write error on an established upstream connection.
	UpstreamIo
	// UpstreamTimeout: an upstream deadline (connect or first byte) expired.
	UpstreamTimeout
	// TlsHandshake: accept-side TLS handshake failed.
	TlsHandshake
	// ConfigBuild: a factory could not be built from configuration.
	ConfigBuild
	// Shutdown: the operation was abandoned because the proxy is stopping.
	Shutdown
)

var kindCodes = [...]string{
	KindUnknown:     "UNKNOWN",
	ClientProto:     "CLIENT_PROTO",
	ClientIo:        "CLIENT_IO",
	ClientTimeout:   "CLIENT_TIMEOUT",
	ServerPolicy:    "SERVER_POLICY",
	UpstreamConnect: "UPSTREAM_CONNECT",
	UpstreamProto:   "UPSTREAM_PROTO",
	UpstreamIo:      "UPSTREAM_IO",
	UpstreamTimeout: "UPSTREAM_TIMEOUT",
	TlsHandshake:    "TLS_HANDSHAKE",
	ConfigBuild:     "CONFIG_BUILD",
	Shutdown:        "SHUTDOWN",
}

// Code returns the stable short code for the kind.
func (k Kind) Code() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return kindCodes[KindUnknown]
}

func (k Kind) String() string { return k.Code() }

// Timeout reports whether the kind is one of the timeout kinds.
func (k Kind) Timeout() bool {
	return k == ClientTimeout || k == UpstreamTimeout
}

// Error is the concrete error type used on the data path.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

// New creates an Error with no cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Newf creates an Error with a formatted context string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context to a cause. A nil cause yields nil so
// call sites can wrap unconditionally.
func Wrap(kind Kind, context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Context: context, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.Code() + ": " + e.Context + ": " + e.Cause.Error()
	}
	return e.Kind.Code() + ": " + e.Context
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is match two *Error values on kind alone, so sentinel
// comparisons like errors.Is(err, errs.New(errs.UpstreamTimeout, "")) work.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains an Error of the kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
