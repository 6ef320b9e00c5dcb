package probe

import (
	"context"
	"net/http"
	"time"
)

// Default probe parameters. Readiness accepts any HTTP response (the gateway
// answering at all proves the listener is up, even when the path 404s);
// liveness additionally rejects 5xx.
const (
	DefaultRequestTimeout = 2 * time.Second
	DefaultPollInterval   = 250 * time.Millisecond
)

// DefaultReadyPaths is the ordered set of well-known paths polled during
// startup. The first one to answer wins.
var DefaultReadyPaths = []string{"/healthz", "/login", "/"}

// HTTPProbe checks reachability of the gateway's loopback HTTP surface.
type HTTPProbe struct {
	BaseURL string
	Client  *http.Client
}

// New creates a probe for the given loopback base URL with a bounded
// per-request timeout.
func New(baseURL string, requestTimeout time.Duration) *HTTPProbe {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &HTTPProbe{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: requestTimeout},
	}
}

// Reachable reports whether the gateway produced any HTTP response on path.
func (p *HTTPProbe) Reachable(ctx context.Context, path string) bool {
	resp, err := p.get(ctx, path)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Healthy reports whether the gateway answered path with a non-5xx status.
func (p *HTTPProbe) Healthy(ctx context.Context, path string) bool {
	resp, err := p.get(ctx, path)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// WaitReady polls the ordered path list until one responds or ctx is done.
// Returns nil on readiness, ctx.Err() otherwise.
func (p *HTTPProbe) WaitReady(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		paths = DefaultReadyPaths
	}
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	for {
		for _, path := range paths {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.Reachable(ctx, path) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *HTTPProbe) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return p.Client.Do(req)
}
