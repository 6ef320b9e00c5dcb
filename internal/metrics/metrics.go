package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	gatewayStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "starts_total",
			Help:      "Number of confirmed-ready gateway starts.",
		}, []string{"name"},
	)
	gatewayCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "crashes_total",
			Help:      "Number of exits classified as crashes.",
		}, []string{"name"},
	)
	gatewayStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "stops_total",
			Help:      "Number of intentional stops (graceful or kill).",
		}, []string{"name"},
	)
	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "circuit_open",
			Help:      "1 while the crash circuit breaker is open.",
		}, []string{"name"},
	)
	consecutiveFails = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Subsystem: "gateway",
			Name:      "consecutive_failures",
			Help:      "Current consecutive start-failure count.",
		}, []string{"name"},
	)
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied HTTP requests by method and response class.",
		}, []string{"method", "status"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatewarden",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Round-trip time of proxied requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"},
	)
	bridgeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatewarden",
			Subsystem: "bridge",
			Name:      "active_connections",
			Help:      "Currently relayed WebSocket connection pairs.",
		},
	)
	bridgeFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatewarden",
			Subsystem: "bridge",
			Name:      "frames_total",
			Help:      "Relayed WebSocket frames by direction.",
		}, []string{"direction"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		gatewayStarts, gatewayCrashes, gatewayStops,
		circuitState, consecutiveFails,
		proxyRequests, proxyDuration,
		bridgeConnections, bridgeFrames,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncStart(name string) {
	if regOK.Load() {
		gatewayStarts.WithLabelValues(name).Inc()
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		gatewayCrashes.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		gatewayStops.WithLabelValues(name).Inc()
	}
}

func SetCircuitOpen(name string, open bool) {
	if regOK.Load() {
		v := 0.0
		if open {
			v = 1
		}
		circuitState.WithLabelValues(name).Set(v)
	}
}

func SetConsecutiveFails(name string, n int) {
	if regOK.Load() {
		consecutiveFails.WithLabelValues(name).Set(float64(n))
	}
}

func ObserveProxyRequest(method, status string, d time.Duration) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(method, status).Inc()
		proxyDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

func BridgeOpened() {
	if regOK.Load() {
		bridgeConnections.Inc()
	}
}

func BridgeClosed() {
	if regOK.Load() {
		bridgeConnections.Dec()
	}
}

func IncBridgeFrame(direction string) {
	if regOK.Load() {
		bridgeFrames.WithLabelValues(direction).Inc()
	}
}
