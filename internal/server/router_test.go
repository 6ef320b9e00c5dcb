package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loykin/gatewarden/internal/auth"
	"github.com/loykin/gatewarden/internal/supervisor"
)

// fakeSupervisor records calls and returns canned results.
type fakeSupervisor struct {
	ensureRes  supervisor.Result
	restartRes supervisor.Result
	stopRes    supervisor.Result
	snapshot   supervisor.HealthSnapshot
	resets     int
}

func (f *fakeSupervisor) EnsureRunning(context.Context) supervisor.Result { return f.ensureRes }
func (f *fakeSupervisor) Restart(context.Context) supervisor.Result      { return f.restartRes }
func (f *fakeSupervisor) Stop() supervisor.Result                        { return f.stopRes }
func (f *fakeSupervisor) ResetCircuitBreaker()                           { f.resets++ }
func (f *fakeSupervisor) Health() supervisor.HealthSnapshot              { return f.snapshot }

func newTestRouter(sup Supervisor, gate *auth.Gate, forward http.Handler) http.Handler {
	return NewRouter(sup, gate, forward, nil, "").Handler()
}

func doReq(h http.Handler, method, target string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAlwaysAnswers(t *testing.T) {
	sup := &fakeSupervisor{snapshot: supervisor.HealthSnapshot{State: "stopped"}}
	h := newTestRouter(sup, nil, nil)

	rec := doReq(h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	var snap supervisor.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if snap.State != "stopped" {
		t.Fatalf("snapshot state = %q", snap.State)
	}
}

func TestStatusEndpoint(t *testing.T) {
	sup := &fakeSupervisor{snapshot: supervisor.HealthSnapshot{Running: true, State: "running", PID: 42}}
	h := newTestRouter(sup, nil, nil)

	rec := doReq(h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap supervisor.HealthSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("body: %v", err)
	}
	if !snap.Running || snap.PID != 42 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStartEndpointMapsFailureTo503(t *testing.T) {
	sup := &fakeSupervisor{ensureRes: supervisor.Result{OK: false, Reason: "not configured"}}
	h := newTestRouter(sup, nil, nil)

	rec := doReq(h, http.MethodPost, "/api/start", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not configured") {
		t.Fatalf("body missing reason: %q", rec.Body.String())
	}

	sup.ensureRes = supervisor.Result{OK: true}
	rec = doReq(h, http.MethodPost, "/api/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRestartAndStopAndReset(t *testing.T) {
	sup := &fakeSupervisor{
		restartRes: supervisor.Result{OK: true},
		stopRes:    supervisor.Result{OK: true},
	}
	h := newTestRouter(sup, nil, nil)

	if rec := doReq(h, http.MethodPost, "/api/restart", nil); rec.Code != http.StatusOK {
		t.Fatalf("restart status = %d", rec.Code)
	}
	if rec := doReq(h, http.MethodPost, "/api/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if rec := doReq(h, http.MethodPost, "/api/reset-circuit", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if sup.resets != 1 {
		t.Fatalf("resets = %d, want 1", sup.resets)
	}
}

func TestAdminAPIRequiresAuth(t *testing.T) {
	sup := &fakeSupervisor{snapshot: supervisor.HealthSnapshot{State: "running"}}
	gate := auth.NewGate(auth.Config{Enabled: true, Tokens: []string{"admin-tok"}})
	h := newTestRouter(sup, gate, nil)

	rec := doReq(h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}
	rec = doReq(h, http.MethodGet, "/api/status", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer admin-tok")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestHealthzBypassesGate(t *testing.T) {
	sup := &fakeSupervisor{}
	gate := auth.NewGate(auth.Config{Enabled: true, Tokens: []string{"t"}})
	h := newTestRouter(sup, gate, nil)

	if rec := doReq(h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind gate: status = %d", rec.Code)
	}
}

func TestNoRouteDispatchesToForwardHandler(t *testing.T) {
	sup := &fakeSupervisor{}
	forwarded := false
	forward := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		forwarded = true
		w.WriteHeader(http.StatusTeapot)
	})
	h := newTestRouter(sup, nil, forward)

	rec := doReq(h, http.MethodGet, "/some/backend/path", nil)
	if !forwarded || rec.Code != http.StatusTeapot {
		t.Fatalf("forward not reached: code=%d forwarded=%v", rec.Code, forwarded)
	}
}

func TestNoRouteEnforcesGate(t *testing.T) {
	sup := &fakeSupervisor{}
	gate := auth.NewGate(auth.Config{Enabled: true, Username: "u", Password: "p"})
	forward := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := newTestRouter(sup, gate, forward)

	rec := doReq(h, http.MethodGet, "/backend/path", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated forward status = %d, want 401", rec.Code)
	}
	rec = doReq(h, http.MethodGet, "/backend/path", func(r *http.Request) { r.SetBasicAuth("u", "p") })
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated forward status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	sup := &fakeSupervisor{}
	h := newTestRouter(sup, nil, nil)
	rec := doReq(h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}

func TestSanitizeBase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"/", ""},
		{"admin", "/admin"},
		{"/admin/", "/admin"},
		{" /admin ", "/admin"},
	}
	for _, tc := range tests {
		if got := sanitizeBase(tc.in); got != tc.want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
