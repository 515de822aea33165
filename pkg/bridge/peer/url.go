package peer

import (
	"fmt"
	"net/url"
)

// hostPortFromWS extracts "host:port" from a ws:// or wss:// endpoint,
// filling in the scheme's default port when none is given.
func hostPortFromWS(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("peer: parse endpoint: %w", err)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "wss", "https":
		return u.Hostname() + ":443", nil
	default:
		return u.Hostname() + ":80", nil
	}
}
