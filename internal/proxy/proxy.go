package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/supervisor"
)

// Ensurer is the slice of the supervisor the proxy needs: make sure a ready
// backend exists before forwarding.
type Ensurer interface {
	EnsureRunning(ctx context.Context) supervisor.Result
}

// Proxy forwards plain HTTP traffic to the supervised gateway on loopback.
// WebSocket upgrades are not handled here; the router sends those to the
// bridge instead.
type Proxy struct {
	target  *url.URL
	token   string
	origin  string
	ensurer Ensurer
	logger  *slog.Logger
	verbose bool
	rp      *httputil.ReverseProxy
}

// Option tunes proxy construction.
type Option func(*Proxy)

// WithVerbose enables per-request diagnostics logging.
func WithVerbose(v bool) Option { return func(p *Proxy) { p.verbose = v } }

// New builds a proxy targeting baseURL (the gateway's loopback address).
// token and origin implement the trust-boundary inversion; ensurer may be nil
// for a proxy in front of an externally managed backend.
func New(baseURL, token, origin string, ensurer Ensurer, opts ...Option) (*Proxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		target:  target,
		token:   token,
		origin:  origin,
		ensurer: ensurer,
		logger:  slog.Default().With("component", "proxy"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:      p.rewrite,
		Transport:    newTransport(),
		ErrorHandler: p.handleError,
		ErrorLog:     nil,
	}
	return p, nil
}

// newTransport returns a transport tuned for a loopback backend: fast dials,
// no proxy environment, generous idle reuse for the single target.
func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Scheme = p.target.Scheme
	pr.Out.URL.Host = p.target.Host
	pr.Out.Host = p.target.Host
	pr.Out.Header = OutboundHeaders(pr.In, p.token, p.origin)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("backend unreachable", "method", r.Method, "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"backend unreachable: ` + jsonEscape(err.Error()) + `"}`))
}

// ServeHTTP ensures the backend is running, then streams the request through.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.ensurer != nil {
		if res := p.ensurer.EnsureRunning(r.Context()); !res.OK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"` + jsonEscape(res.Reason) + `"}`))
			return
		}
	}
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	p.rp.ServeHTTP(sw, r)
	elapsed := time.Since(start)
	metrics.ObserveProxyRequest(r.Method, strconv.Itoa(sw.status), elapsed)
	if p.verbose {
		p.logger.Debug("proxied request",
			"method", r.Method, "path", r.URL.Path,
			"status", sw.status, "duration", elapsed.Round(time.Microsecond))
	}
}

// statusWriter records the response status for metrics and diagnostics.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(b)
}

// Flush lets streaming backend responses pass through unbuffered.
func (s *statusWriter) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			out = append(out, '\\', c)
		case c < 0x20:
			out = append(out, ' ')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
