package remote

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// Reachable reports whether a TCP connection to baseURL's host can be opened.
// It is a connectivity hint, not a health check of the blob service.
func Reachable(ctx context.Context, baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: no host", baseURL)
	}

	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return &RemoteError{Op: "probe", Reason: ReasonNetwork, Err: err}
	}
	return conn.Close()
}
