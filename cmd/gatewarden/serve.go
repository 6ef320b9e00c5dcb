package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/gatewarden"
	"github.com/loykin/gatewarden/internal/logger"
)

func runServe(f ServeFlags) error {
	fc, err := gatewarden.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(os.Stdout, parseLevel(fc.Log.Level), fc.Log.Colored)

	spec, err := fc.GatewaySpec()
	if err != nil {
		return err
	}
	if !spec.Configured() {
		slog.Warn("no gateway configured; proxy requests will fail until [gateway] is set")
	}

	sup := gatewarden.NewSupervisor(spec, fc.Supervisor)
	defer sup.Shutdown()

	globalEnv, err := fc.GlobalEnv()
	if err != nil {
		return fmt.Errorf("compose environment: %w", err)
	}
	sup.SetGlobalEnv(globalEnv)

	var sinks []gatewarden.HistorySink
	for _, dsn := range fc.History.Sinks {
		sink, err := gatewarden.HistorySinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("history sink %q: %w", dsn, err)
		}
		defer func() { _ = sink.Close() }()
		sinks = append(sinks, sink)
	}
	if len(sinks) > 0 {
		sup.SetHistory(sinks...)
	}

	if err := gatewarden.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	proxyHandler, err := gatewarden.NewProxyHandler(spec, sup, fc.Server.Verbose)
	if err != nil {
		return fmt.Errorf("build proxy: %w", err)
	}
	bridgeHandler, err := gatewarden.NewBridgeHandler(spec, sup)
	if err != nil {
		return fmt.Errorf("build bridge: %w", err)
	}

	listen := fc.Server.Listen
	if listen == "" {
		listen = ":9090"
	}
	srv, err := gatewarden.NewHTTPServer(listen, "", sup, fc.Auth, proxyHandler, bridgeHandler, fc.Server.TLS)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	slog.Info("gatewarden listening", "addr", listen, "gateway", spec.DisplayName())

	// Warm start so the first client request does not pay the spawn cost.
	if spec.Configured() {
		if res := sup.EnsureRunning(context.Background()); !res.OK {
			slog.Warn("initial gateway start failed", "reason", res.Reason)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
