package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/proxy"
	"github.com/loykin/gatewarden/internal/supervisor"
)

// Ensurer is the slice of the supervisor the bridge needs before opening a
// backend socket.
type Ensurer interface {
	EnsureRunning(ctx context.Context) supervisor.Result
}

// Handshake-leg headers that must be freshly negotiated for the backend
// connection and therefore never copied from the client's handshake.
var handshakeHeaders = []string{
	"Connection",
	"Upgrade",
	"Sec-Websocket-Key",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Version",
	"Sec-Websocket-Accept",
	"Sec-Websocket-Protocol",
	"Content-Length",
	"Host",
}

// Bridge intercepts WebSocket upgrade requests and relays frames between the
// client and a matching backend socket, byte-exact and in order.
type Bridge struct {
	target   *url.URL
	token    string
	origin   string
	ensurer  Ensurer
	registry *Registry
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// New builds a bridge targeting baseURL, the gateway's loopback HTTP base;
// the ws scheme is derived from it.
func New(baseURL, token, origin string, ensurer Ensurer) (*Bridge, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}
	return &Bridge{
		target:   target,
		token:    token,
		origin:   origin,
		ensurer:  ensurer,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// The wrapper's own gate authenticated the request already.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: slog.Default().With("component", "bridge"),
	}, nil
}

// Registry exposes the live-connection registry, for shutdown and status.
func (b *Bridge) Registry() *Registry { return b.registry }

// IsUpgrade reports whether the request asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// dialHeaders builds the backend handshake headers from the client's,
// excluding per-leg handshake headers and applying the same trust-boundary
// inversion as the HTTP proxy.
func (b *Bridge) dialHeaders(r *http.Request) http.Header {
	h := r.Header.Clone()
	for _, name := range handshakeHeaders {
		h.Del(name)
	}
	proxy.ApplyTrustInversion(h, b.token, b.origin)
	proxy.StripForwarded(h)
	return h
}

// subprotocols parses the client's requested subprotocol list.
func subprotocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-Websocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// ServeHTTP performs the upgrade, opens the matching backend socket and
// relays until either side closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.ensurer != nil {
		if res := b.ensurer.EnsureRunning(r.Context()); !res.OK {
			http.Error(w, res.Reason, http.StatusServiceUnavailable)
			return
		}
	}

	backendURL := *b.target
	backendURL.Path = r.URL.Path
	backendURL.RawQuery = r.URL.RawQuery

	dialer := *b.dialer
	dialer.Subprotocols = subprotocols(r)
	backend, resp, err := dialer.DialContext(r.Context(), backendURL.String(), b.dialHeaders(r))
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil && resp.StatusCode > 0 {
			status = resp.StatusCode
		}
		b.logger.Error("backend websocket dial failed", "path", r.URL.Path, "error", err)
		http.Error(w, "backend unreachable", status)
		return
	}

	// Echo the backend's negotiated subprotocol back to the client leg.
	var respHeader http.Header
	if sub := backend.Subprotocol(); sub != "" {
		respHeader = http.Header{"Sec-Websocket-Protocol": []string{sub}}
	}
	client, err := b.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		_ = backend.Close()
		b.logger.Error("client upgrade failed", "path", r.URL.Path, "error", err)
		return
	}

	p := b.registry.add(client, backend)
	metrics.BridgeOpened()
	b.logger.Debug("bridge opened", "id", p.ID, "path", r.URL.Path)

	done := make(chan struct{}, 2)
	go b.relay(client, backend, "inbound", done)
	go b.relay(backend, client, "outbound", done)
	<-done

	// Either side closing or erroring closes the other.
	p.close()
	<-done
	b.registry.remove(p.ID)
	metrics.BridgeClosed()
	b.logger.Debug("bridge closed", "id", p.ID, "lifetime", time.Since(p.OpenedAt).Round(time.Millisecond))
}

// relay copies frames from src to dst preserving the message type, so text
// stays text and binary bytes pass through untouched.
func (b *Bridge) relay(src, dst *websocket.Conn, direction string, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(mt, data); err != nil {
			return
		}
		metrics.IncBridgeFrame(direction)
	}
}
