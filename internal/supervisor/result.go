package supervisor

import (
	"fmt"
	"time"
)

// Result is the structured outcome of every public supervisor operation.
// Errors never cross the public boundary as panics or plain error values;
// callers branch on OK and show Reason to operators.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func okResult() Result { return Result{OK: true} }

func failf(format string, args ...any) Result {
	return Result{OK: false, Reason: fmt.Sprintf(format, args...)}
}

// Well-known failure reasons. Tests and the admin CLI match on prefixes.
const (
	ReasonNotConfigured = "not configured"
	reasonCircuitOpen   = "circuit open: too many recent crashes, retry in %ds"
	reasonReadyTimeout  = "gateway did not become ready within %s"
	reasonSpawnFailure  = "failed to spawn gateway: %v"
	reasonExitedEarly   = "gateway exited during startup"
)

func circuitOpenResult(remaining time.Duration) Result {
	secs := int(remaining.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return failf(reasonCircuitOpen, secs)
}

// HealthSnapshot is the advisory state read exposed to the operator console.
type HealthSnapshot struct {
	Running          bool      `json:"running"`
	State            string    `json:"state"`
	PID              int       `json:"pid,omitempty"`
	CircuitOpen      bool      `json:"circuit_open"`
	CrashCount       int       `json:"crash_count"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastHealthCheck  time.Time `json:"last_health_check,omitzero"`
	StartedAt        time.Time `json:"started_at,omitzero"`
}
