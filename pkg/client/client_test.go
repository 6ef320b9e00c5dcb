package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func adminStub(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer admin-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication_failed"}`))
			return
		}
		switch r.URL.Path {
		case "/api/status":
			_, _ = w.Write([]byte(`{"running":true,"state":"running","pid":42,"circuit_open":false,"crash_count":0,"consecutive_fails":0}`))
		case "/api/start", "/api/restart":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/api/stop", "/api/reset-circuit":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestClientStatus(t *testing.T) {
	srv, _ := adminStub(t)
	c := New(Config{BaseURL: srv.URL + "/api", Token: "admin-tok"})

	snap, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !snap.Running || snap.PID != 42 || snap.State != "running" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestClientActions(t *testing.T) {
	srv, paths := adminStub(t)
	c := New(Config{BaseURL: srv.URL + "/api", Token: "admin-tok"})
	ctx := context.Background()

	if res, err := c.Start(ctx); err != nil || !res.OK {
		t.Fatalf("Start: res=%+v err=%v", res, err)
	}
	if res, err := c.Restart(ctx); err != nil || !res.OK {
		t.Fatalf("Restart: res=%+v err=%v", res, err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.ResetCircuit(ctx); err != nil {
		t.Fatalf("ResetCircuit: %v", err)
	}
	want := []string{"POST /api/start", "POST /api/restart", "POST /api/stop", "POST /api/reset-circuit"}
	if len(*paths) != len(want) {
		t.Fatalf("paths = %v", *paths)
	}
	for i, p := range want {
		if (*paths)[i] != p {
			t.Errorf("call %d = %q, want %q", i, (*paths)[i], p)
		}
	}
}

func TestClientStartDecodes503Result(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ok":false,"reason":"circuit open: too many recent crashes, retry in 9s"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/api"})
	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.OK || !strings.Contains(res.Reason, "circuit open") {
		t.Fatalf("result = %+v", res)
	}
}

func TestClientUnauthorizedSurfacesError(t *testing.T) {
	srv, _ := adminStub(t)
	c := New(Config{BaseURL: srv.URL + "/api", Token: "wrong"})
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatalf("unauthorized status did not error")
	}
}

func TestClientIsReachable(t *testing.T) {
	srv, _ := adminStub(t)
	c := New(Config{BaseURL: srv.URL + "/api", Token: "admin-tok"})
	if !c.IsReachable(context.Background()) {
		t.Fatalf("daemon not reachable")
	}
	bad := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	if bad.IsReachable(context.Background()) {
		t.Fatalf("unreachable daemon reported reachable")
	}
}
