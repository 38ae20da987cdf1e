package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildEndpoint composes the relay URL
//
//	<websocketURL>/rtmps/<ingestURL><streamKey>
//
// A websocketURL without a scheme is treated as wss.
func BuildEndpoint(websocketURL, ingestURL, streamKey string) (*url.URL, error) {
	base := strings.TrimRight(strings.TrimSpace(websocketURL), "/")
	if base == "" {
		return nil, fmt.Errorf("relay websocket url is required")
	}
	if !strings.Contains(base, "://") {
		base = "wss://" + base
	}
	if ingestURL == "" {
		return nil, fmt.Errorf("ingest url is required")
	}
	if streamKey == "" {
		return nil, fmt.Errorf("stream key is required")
	}

	u, err := url.Parse(base + "/rtmps/" + ingestURL + streamKey)
	if err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("relay endpoint has no host")
	}
	return u, nil
}

// Redact returns endpoint as a string with the trailing stream key masked.
func Redact(endpoint *url.URL, streamKey string) string {
	if endpoint == nil {
		return ""
	}
	s := endpoint.String()
	if streamKey == "" {
		return s
	}
	return strings.Replace(s, streamKey, "****", 1)
}
