package server

import (
	"context"
	stdtls "crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/gatewarden/internal/auth"
	"github.com/loykin/gatewarden/internal/bridge"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/supervisor"
)

// Supervisor is the admin surface the router exposes over HTTP.
type Supervisor interface {
	EnsureRunning(ctx context.Context) supervisor.Result
	Restart(ctx context.Context) supervisor.Result
	Stop() supervisor.Result
	ResetCircuitBreaker()
	Health() supervisor.HealthSnapshot
}

// Router wires the wrapper's HTTP surface: the authenticated admin API under
// {basePath}/api, /healthz and /metrics, and a catch-all that dispatches
// WebSocket upgrades to the bridge and everything else to the reverse proxy.
type Router struct {
	sup      Supervisor
	gate     *auth.Gate
	forward  http.Handler
	basePath string
}

// NewRouter constructs a Router. proxyHandler and bridgeHandler carry the
// traffic path; either may be nil, in which case unmatched requests get 404.
func NewRouter(sup Supervisor, gate *auth.Gate, proxyHandler, bridgeHandler http.Handler, basePath string) *Router {
	r := &Router{
		sup:      sup,
		gate:     gate,
		basePath: sanitizeBase(basePath),
	}
	dispatch := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if bridgeHandler != nil && bridge.IsUpgrade(req) {
			bridgeHandler.ServeHTTP(w, req)
			return
		}
		if proxyHandler != nil {
			proxyHandler.ServeHTTP(w, req)
			return
		}
		http.NotFound(w, req)
	})
	if gate != nil {
		r.forward = gate.HTTPAuth(dispatch)
	} else {
		r.forward = dispatch
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := g.Group(r.basePath + "/api")
	if r.gate != nil {
		api.Use(r.gate.GinAuth())
	}
	api.GET("/status", r.handleStatus)
	api.POST("/start", r.handleStart)
	api.POST("/restart", r.handleRestart)
	api.POST("/stop", r.handleStop)
	api.POST("/reset-circuit", r.handleResetCircuit)

	g.NoRoute(func(c *gin.Context) {
		r.forward.ServeHTTP(c.Writer, c.Request)
	})
	return g
}

// NewServer starts a standalone HTTP(S) server on addr using this router.
func NewServer(addr string, r *Router, tlsCfg *stdtls.Config) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if tlsCfg != nil {
			_ = server.ListenAndServeTLS("", "")
		} else {
			_ = server.ListenAndServe()
		}
	}()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// handleHealthz reports the wrapper's own liveness; it answers 200 even when
// the backend is down, carrying the snapshot for operators.
func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Health())
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Health())
}

func (r *Router) handleStart(c *gin.Context) {
	res := r.sup.EnsureRunning(c.Request.Context())
	if !res.OK {
		writeJSON(c, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleRestart(c *gin.Context) {
	res := r.sup.Restart(c.Request.Context())
	if !res.OK {
		writeJSON(c, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	res := r.sup.Stop()
	if !res.OK {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: res.Reason})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResetCircuit(c *gin.Context) {
	r.sup.ResetCircuitBreaker()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
