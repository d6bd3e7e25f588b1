// ABOUTME: Normalises gateway entry URLs handed over by the REST layer
// ABOUTME: Ensures encoding and protocol version query parameters are present

package protocol

import (
	"fmt"
	"net/url"
)

const (
	DefaultEncoding = "json"
	DefaultVersion  = "1"
)

// NormalizeURL adds the encoding and v query parameters when the URL lacks
// them. Parameters already present are left untouched. Empty encoding or
// version fall back to the defaults.
func NormalizeURL(raw, encoding, version string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("gateway url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("gateway url %q: unsupported scheme %q", raw, u.Scheme)
	}

	if encoding == "" {
		encoding = DefaultEncoding
	}
	if version == "" {
		version = DefaultVersion
	}

	q := u.Query()
	if q.Get("encoding") == "" {
		q.Set("encoding", encoding)
	}
	if q.Get("v") == "" {
		q.Set("v", version)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
