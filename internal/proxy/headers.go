package proxy

import (
	"net"
	"net/http"
	"strings"
)

// Via marker identifying this wrapper as the forwarding agent. Unlike the
// X-Forwarded-* family it survives the trust-boundary strip, so backend logs
// can still tell relayed traffic apart.
const ViaValue = "1.1 gatewarden"

// Headers meaningful only for a single transport leg. RFC 7230 section 6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop deletes the fixed hop-by-hop set plus any header named in
// the Connection field.
func removeHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// peerIP extracts the bare IP from a RemoteAddr host:port pair.
func peerIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}

// appendForwardedFor appends peer to X-Forwarded-For without duplicating an
// already-present identical entry, and returns the resulting entry list.
func appendForwardedFor(h http.Header, peer string) []string {
	var entries []string
	for _, v := range h.Values("X-Forwarded-For") {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				entries = append(entries, e)
			}
		}
	}
	seen := false
	for _, e := range entries {
		if e == peer {
			seen = true
			break
		}
	}
	if !seen && peer != "" {
		entries = append(entries, peer)
	}
	h.Set("X-Forwarded-For", strings.Join(entries, ", "))
	return entries
}

// setForwardedContext fills X-Real-Ip and the X-Forwarded-Proto/Host/Port
// trio, keeping any values an upstream proxy already set.
func setForwardedContext(h http.Header, r *http.Request, forwardedFor []string) {
	if h.Get("X-Real-Ip") == "" {
		if len(forwardedFor) > 0 {
			h.Set("X-Real-Ip", forwardedFor[0])
		} else {
			h.Set("X-Real-Ip", peerIP(r.RemoteAddr))
		}
	}
	if h.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		h.Set("X-Forwarded-Proto", proto)
	}
	if h.Get("X-Forwarded-Host") == "" && r.Host != "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	if h.Get("X-Forwarded-Port") == "" {
		if _, port, err := net.SplitHostPort(r.Host); err == nil && port != "" {
			h.Set("X-Forwarded-Port", port)
		}
	}
}

// StripForwarded removes every X-Forwarded-* header. The backend is bound to
// loopback and must perceive the connection as local rather than relayed
// through an untrusted proxy chain.
func StripForwarded(h http.Header) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-Forwarded-") {
			h.Del(name)
		}
	}
}

// ApplyTrustInversion injects the shared bearer token when the inbound
// request carries no Authorization of its own, and rewrites Origin to the
// backend's expected value so its same-origin check passes. The WebSocket
// bridge applies the same inversion to its handshake headers.
func ApplyTrustInversion(h http.Header, token, origin string) {
	if h.Get("Authorization") == "" && token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if h.Get("Origin") != "" && origin != "" {
		h.Set("Origin", origin)
	}
}

// OutboundHeaders builds the header set sent to the backend for an inbound
// request: hop-by-hop removal, forwarding context, the Via marker, the
// trust-boundary inversion, and the final X-Forwarded-* strip.
func OutboundHeaders(r *http.Request, token, origin string) http.Header {
	h := r.Header.Clone()
	removeHopByHop(h)

	entries := appendForwardedFor(h, peerIP(r.RemoteAddr))
	setForwardedContext(h, r, entries)
	h.Set("Via", ViaValue)

	ApplyTrustInversion(h, token, origin)
	StripForwarded(h)

	if r.Body == nil || r.ContentLength == 0 {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
			h.Del("Content-Length")
		}
	}
	return h
}
