package config

import (
	"fmt"
	"net/url"
)

// ParsedEndpoint is the canonical form of an upstream endpoint.
type ParsedEndpoint struct {
	// Scheme is "http", "https", or "unix".
	Scheme string
	// Authority is host:port for URI endpoints, the socket path for unix.
	Authority string
	// PathPrefix is the URI path, when one was given.
	PathPrefix string
}

// Parse canonicalizes the endpoint. Validation has already established
// well-formedness; Parse still reports errors for defensive call sites.
func (e EndpointConfig) Parse() (ParsedEndpoint, error) {
	switch e.Type {
	case "unix":
		return ParsedEndpoint{Scheme: "unix", Authority: e.Value}, nil
	case "uri", "":
		u, err := url.Parse(e.Value)
		if err != nil {
			return ParsedEndpoint{}, err
		}
		prefix := u.Path
		if prefix == "/" {
			prefix = ""
		}
		return ParsedEndpoint{Scheme: u.Scheme, Authority: u.Host, PathPrefix: prefix}, nil
	default:
		return ParsedEndpoint{}, fmt.Errorf("unknown endpoint type %q", e.Type)
	}
}
