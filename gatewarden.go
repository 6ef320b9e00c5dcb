package gatewarden

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/gatewarden/internal/auth"
	"github.com/loykin/gatewarden/internal/bridge"
	"github.com/loykin/gatewarden/internal/cmdrunner"
	cfg "github.com/loykin/gatewarden/internal/config"
	"github.com/loykin/gatewarden/internal/env"
	"github.com/loykin/gatewarden/internal/gateway"
	"github.com/loykin/gatewarden/internal/history"
	"github.com/loykin/gatewarden/internal/history/factory"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/proxy"
	iapi "github.com/loykin/gatewarden/internal/server"
	"github.com/loykin/gatewarden/internal/supervisor"
	itls "github.com/loykin/gatewarden/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = gateway.Spec

type Result = supervisor.Result

type HealthSnapshot = supervisor.HealthSnapshot

type SupervisorConfig = supervisor.Config

type FileConfig = cfg.FileConfig

type AuthConfig = auth.Config

type TLSConfig = itls.Config

type HistorySink = history.Sink

type CommandOptions = cmdrunner.Options

type CommandResult = cmdrunner.Result

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

func NewSupervisor(spec *Spec, c SupervisorConfig) *Supervisor {
	return &Supervisor{inner: supervisor.New(spec, c)}
}

func (s *Supervisor) EnsureRunning(ctx context.Context) Result { return s.inner.EnsureRunning(ctx) }
func (s *Supervisor) Restart(ctx context.Context) Result       { return s.inner.Restart(ctx) }
func (s *Supervisor) Stop() Result                             { return s.inner.Stop() }
func (s *Supervisor) ResetCircuitBreaker()                     { s.inner.ResetCircuitBreaker() }
func (s *Supervisor) Health() HealthSnapshot                   { return s.inner.Health() }
func (s *Supervisor) SetHistory(sinks ...HistorySink)          { s.inner.SetHistory(sinks...) }
func (s *Supervisor) Shutdown()                                { s.inner.Shutdown() }

// SetGlobalEnv replaces the wrapper-wide environment overrides used when
// spawning the gateway.
func (s *Supervisor) SetGlobalEnv(kvs []string) {
	e := env.New()
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	s.inner.SetEnv(e)
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// HistorySinkFromDSN builds a lifecycle event sink from a DSN
// (sqlite://, postgres://, clickhouse://). The caller owns Close.
func HistorySinkFromDSN(dsn string) (factory.CloserSink, error) { return factory.FromDSN(dsn) }

// NewProxyHandler builds the reverse-proxy handler for the gateway described
// by spec, ensuring the supervisor has it running before each forward.
func NewProxyHandler(spec *Spec, sup *Supervisor, verbose bool) (http.Handler, error) {
	return proxy.New(spec.BaseURL(), spec.Token, spec.Origin(), sup.inner, proxy.WithVerbose(verbose))
}

// NewBridgeHandler builds the WebSocket bridge handler for the same gateway.
func NewBridgeHandler(spec *Spec, sup *Supervisor) (http.Handler, error) {
	return bridge.New(spec.BaseURL(), spec.Token, spec.Origin(), sup.inner)
}

// NewHTTPServer starts the wrapper's HTTP(S) server: admin API under
// {basePath}/api, /healthz, /metrics, and the proxy/bridge catch-all.
func NewHTTPServer(addr, basePath string, sup *Supervisor, gateCfg AuthConfig, proxyHandler, bridgeHandler http.Handler, tlsCfg *TLSConfig) (*http.Server, error) {
	var stdTLS, err = itls.Setup(derefTLS(tlsCfg))
	if err != nil {
		return nil, err
	}
	router := iapi.NewRouter(sup.inner, auth.NewGate(gateCfg), proxyHandler, bridgeHandler, basePath)
	return iapi.NewServer(addr, router, stdTLS), nil
}

func derefTLS(c *TLSConfig) itls.Config {
	if c == nil {
		return itls.Config{}
	}
	return *c
}

// RunCommand executes a one-off diagnostic command through the command
// runner, with its stable exit-code mapping.
func RunCommand(ctx context.Context, command string, args []string, opts CommandOptions) CommandResult {
	return cmdrunner.Run(ctx, command, args, opts)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
