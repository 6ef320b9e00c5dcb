package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/gatewarden/internal/env"
	"github.com/loykin/gatewarden/internal/gateway"
	"github.com/loykin/gatewarden/internal/history"
	"github.com/loykin/gatewarden/internal/metrics"
	"github.com/loykin/gatewarden/internal/probe"
)

// Supervisor owns the single gateway process slot. All state transitions
// happen under mu; concurrent EnsureRunning calls are funneled through one
// cached in-flight start so at most one spawn occurs per start cycle.
type Supervisor struct {
	mu     sync.Mutex
	cfg    Config
	spec   *gateway.Spec
	envc   *env.Env
	logger *slog.Logger

	proc             *gateway.Process
	starting         *startOp
	crashHistory     []time.Time
	consecutiveFails int
	circuitOpen      bool
	circuitOpenedAt  time.Time
	lastHealthCheck  time.Time
	healthCancel     context.CancelFunc

	sinks []history.Sink
}

// startOp is the shared handle for one in-flight start. Concurrent callers
// block on done and read the same res.
type startOp struct {
	done chan struct{}
	res  Result
}

var errExitedEarly = errors.New("gateway exited before becoming ready")

// New creates a Supervisor for the given gateway spec. A nil spec means the
// wrapper is not yet configured; every start attempt then fails fast.
func New(spec *gateway.Spec, cfg Config) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		spec:   spec,
		envc:   env.New(),
		logger: slog.Default().With("component", "supervisor"),
	}
}

// SetEnv replaces the environment composer used for spawns.
func (s *Supervisor) SetEnv(e *env.Env) {
	s.mu.Lock()
	if e != nil {
		s.envc = e
	}
	s.mu.Unlock()
}

// SetHistory configures lifecycle event sinks.
func (s *Supervisor) SetHistory(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Configure installs or replaces the gateway spec. An in-flight start keeps
// the spec it copied; the new one applies from the next start.
func (s *Supervisor) Configure(spec *gateway.Spec) {
	s.mu.Lock()
	s.spec = spec
	s.mu.Unlock()
}

// EnsureRunning makes sure a ready gateway process exists. It returns
// immediately when one is running, attaches to an in-flight start when one
// exists, and otherwise performs the start itself: backoff, spawn, readiness
// confirmation, health monitor arming.
func (s *Supervisor) EnsureRunning(ctx context.Context) Result {
	s.mu.Lock()
	if !s.spec.Configured() {
		s.mu.Unlock()
		return Result{OK: false, Reason: ReasonNotConfigured}
	}
	// Attach to an in-flight start before consulting the proc slot: the
	// slot is registered at spawn, before readiness is confirmed, and must
	// not short-circuit callers arriving during the readiness window.
	if op := s.starting; op != nil {
		s.mu.Unlock()
		select {
		case <-op.done:
			return op.res
		case <-ctx.Done():
			return failf("start canceled: %v", ctx.Err())
		}
	}
	if s.proc != nil && s.proc.Alive() {
		s.mu.Unlock()
		return okResult()
	}
	if s.circuitOpen {
		elapsed := time.Since(s.circuitOpenedAt)
		if elapsed < s.cfg.Cooldown {
			remaining := s.cfg.Cooldown - elapsed
			s.mu.Unlock()
			return circuitOpenResult(remaining)
		}
		// Cooldown elapsed: half-open, admit one trial start.
		s.clearCircuitLocked("cooldown elapsed")
	}
	op := &startOp{done: make(chan struct{})}
	s.starting = op
	fails := s.consecutiveFails
	spec := *s.spec
	s.mu.Unlock()

	// The start runs on a detached context: a caller disconnecting only
	// detaches that caller. It neither kills the spawn nor turns a healthy
	// startup into a counted crash; the readiness budget alone bounds it.
	go func() {
		res := s.runStart(context.Background(), spec, fails)
		s.mu.Lock()
		s.starting = nil
		s.mu.Unlock()
		op.res = res
		close(op.done)
	}()

	select {
	case <-op.done:
		return op.res
	case <-ctx.Done():
		return failf("start canceled: %v", ctx.Err())
	}
}

func (s *Supervisor) runStart(ctx context.Context, spec gateway.Spec, fails int) Result {
	name := spec.DisplayName()
	if fails > 0 {
		delay := backoff(fails, s.cfg.BackoffBase, s.cfg.BackoffMax)
		s.logger.Info("backing off before retry", "name", name, "fails", fails, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return failf("start canceled during backoff: %v", ctx.Err())
		}
	}

	s.mu.Lock()
	merged := s.envc.Merge(spec.ProcessEnv())
	s.mu.Unlock()

	proc, err := gateway.Launch(spec, merged)
	if err != nil {
		s.mu.Lock()
		s.recordCrashLocked(fmt.Sprintf("spawn failure: %v", err))
		s.mu.Unlock()
		s.persist(history.EventCrash, 0, fmt.Sprintf("spawn failure: %v", err))
		s.logger.Error("gateway spawn failed", "name", name, "error", err)
		return failf(reasonSpawnFailure, err)
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.logger.Info("gateway spawned", "name", name, "pid", proc.PID(), "port", spec.Port)
	s.persist(history.EventStart, proc.PID(), "")
	go s.watchExit(proc, spec)

	p := probe.New(spec.BaseURL(), s.cfg.ProbeTimeout)
	readyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()
	if err := s.awaitReady(readyCtx, p, proc); err != nil {
		if errors.Is(err, errExitedEarly) {
			// The exit watcher already classified and counted this exit.
			return failf(reasonExitedEarly)
		}
		// Still alive but unreachable: kill the partial start and count it.
		proc.Terminate(s.cfg.StopGrace)
		s.mu.Lock()
		s.recordCrashLocked("readiness timeout")
		s.mu.Unlock()
		s.persist(history.EventCrash, proc.PID(), "readiness timeout")
		s.logger.Error("gateway readiness timeout", "name", name, "timeout", s.cfg.ReadyTimeout)
		return failf(reasonReadyTimeout, s.cfg.ReadyTimeout)
	}

	s.mu.Lock()
	if s.proc != proc {
		// Exited between readiness confirmation and registration.
		s.mu.Unlock()
		return failf(reasonExitedEarly)
	}
	s.consecutiveFails = 0
	s.lastHealthCheck = time.Now()
	s.startHealthMonitorLocked(proc, spec)
	s.mu.Unlock()

	metrics.IncStart(name)
	metrics.SetConsecutiveFails(name, 0)
	s.persist(history.EventReady, proc.PID(), "")
	s.logger.Info("gateway ready", "name", name, "pid", proc.PID())
	return okResult()
}

// awaitReady polls the well-known paths until one responds, the process
// exits, or the readiness budget runs out. The probe's wait loop does the
// polling; the process exiting cancels it.
func (s *Supervisor) awaitReady(ctx context.Context, p *probe.HTTPProbe, proc *gateway.Process) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := p.WaitReady(waitCtx, s.cfg.ReadyPaths); err != nil {
		select {
		case <-proc.Done():
			return errExitedEarly
		default:
		}
		return err
	}
	return nil
}

// watchExit reaps the process and applies crash classification. The health
// monitor is cancelled before counters are touched so a process-exit event
// always wins over a pending health success.
func (s *Supervisor) watchExit(proc *gateway.Process, spec gateway.Spec) {
	_ = proc.Wait()
	lifetime := proc.Lifetime()
	code, sig := proc.ExitState()
	name := spec.DisplayName()

	s.mu.Lock()
	if s.proc != proc {
		// A restart already replaced this process; nothing to account for.
		s.mu.Unlock()
		return
	}
	s.stopHealthMonitorLocked()
	s.proc = nil

	class := classifyExit(proc.StopRequested(), code, sig, lifetime, s.cfg.MinLifetime)
	var detail string
	switch class {
	case exitIntentional:
	case exitLateFailure:
		// A long-lived process failing later is not a startup defect.
		s.consecutiveFails = 0
	case exitCrash:
		detail = fmt.Sprintf("exit code %d after %s", code, lifetime.Round(time.Millisecond))
		if sig != 0 {
			detail = fmt.Sprintf("killed by %s after %s", sig, lifetime.Round(time.Millisecond))
		}
		s.recordCrashLocked(detail)
	}
	fails := s.consecutiveFails
	s.mu.Unlock()

	switch class {
	case exitIntentional:
		metrics.IncStop(name)
		s.persist(history.EventStop, proc.PID(), "")
		s.logger.Info("gateway stopped", "name", name, "pid", proc.PID(), "lifetime", lifetime.Round(time.Millisecond))
	case exitLateFailure:
		metrics.SetConsecutiveFails(name, 0)
		s.persist(history.EventStop, proc.PID(), fmt.Sprintf("late exit, code %d", code))
		s.logger.Warn("gateway exited after stable run", "name", name, "pid", proc.PID(), "code", code, "lifetime", lifetime.Round(time.Second))
	case exitCrash:
		s.persist(history.EventCrash, proc.PID(), detail)
		s.logger.Error("gateway crashed", "name", name, "pid", proc.PID(), "detail", detail, "consecutive_fails", fails)
	}
}

// exitClass partitions process exits for crash accounting.
type exitClass int

const (
	exitIntentional exitClass = iota // requested stop or graceful-shutdown signal
	exitLateFailure                  // ran past MinLifetime, resets the fail counter
	exitCrash                        // startup-window failure, counts toward the circuit
)

func classifyExit(stopRequested bool, code int, sig syscall.Signal, lifetime, minLifetime time.Duration) exitClass {
	if stopRequested || sig == syscall.SIGTERM || sig == syscall.SIGINT {
		return exitIntentional
	}
	if lifetime >= minLifetime {
		return exitLateFailure
	}
	// Below the lifetime threshold every unrequested exit is a crash,
	// including exit code 0.
	_ = code
	return exitCrash
}

// recordCrashLocked appends a crash, prunes the sliding window and opens the
// circuit when the threshold is reached. Caller holds mu.
func (s *Supervisor) recordCrashLocked(detail string) {
	now := time.Now()
	s.consecutiveFails++
	s.crashHistory = append(s.crashHistory, now)
	s.pruneCrashHistoryLocked(now)

	name := s.spec.DisplayName()
	metrics.IncCrash(name)
	metrics.SetConsecutiveFails(name, s.consecutiveFails)

	if len(s.crashHistory) >= s.cfg.CrashThreshold && !s.circuitOpen {
		s.circuitOpen = true
		s.circuitOpenedAt = now
		metrics.SetCircuitOpen(name, true)
		s.persistLocked(history.EventCircuitOpen, 0, fmt.Sprintf("%d crashes within %s", len(s.crashHistory), s.cfg.CrashWindow))
		s.logger.Error("circuit breaker opened", "name", name, "crashes", len(s.crashHistory), "window", s.cfg.CrashWindow, "cooldown", s.cfg.Cooldown)
	}
	s.logger.Debug("crash recorded", "name", name, "detail", detail, "consecutive_fails", s.consecutiveFails)
}

func (s *Supervisor) pruneCrashHistoryLocked(now time.Time) {
	cutoff := now.Add(-s.cfg.CrashWindow)
	kept := s.crashHistory[:0]
	for _, t := range s.crashHistory {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.crashHistory = kept
}

func (s *Supervisor) clearCircuitLocked(why string) {
	if !s.circuitOpen {
		return
	}
	s.circuitOpen = false
	s.circuitOpenedAt = time.Time{}
	name := s.spec.DisplayName()
	metrics.SetCircuitOpen(name, false)
	s.persistLocked(history.EventCircuitClose, 0, why)
	s.logger.Info("circuit breaker closed", "name", name, "why", why)
}

// resetFailureStateLocked clears circuit state, crash history and the fail
// counter. Caller holds mu.
func (s *Supervisor) resetFailureStateLocked(why string) {
	s.clearCircuitLocked(why)
	s.crashHistory = nil
	s.consecutiveFails = 0
	if s.spec.Configured() {
		metrics.SetConsecutiveFails(s.spec.DisplayName(), 0)
	}
}

// Stop gracefully terminates the gateway without restarting it. The health
// monitor is cancelled before the process receives its termination signal.
func (s *Supervisor) Stop() Result {
	s.mu.Lock()
	s.stopHealthMonitorLocked()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return okResult()
	}
	proc.Terminate(s.cfg.StopGrace)
	return okResult()
}

// Restart is the explicit operator override: it unconditionally clears all
// failure and circuit state, terminates any running process, and starts
// fresh.
func (s *Supervisor) Restart(ctx context.Context) Result {
	s.mu.Lock()
	s.resetFailureStateLocked("operator restart")
	s.stopHealthMonitorLocked()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Terminate(s.cfg.StopGrace)
	}
	return s.EnsureRunning(ctx)
}

// ResetCircuitBreaker clears all failure and circuit state without touching
// the process, for manual recovery after fixing an external condition.
func (s *Supervisor) ResetCircuitBreaker() {
	s.mu.Lock()
	s.resetFailureStateLocked("operator reset")
	s.mu.Unlock()
}

// Health returns an advisory snapshot for the operator console.
func (s *Supervisor) Health() HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCrashHistoryLocked(time.Now())

	snap := HealthSnapshot{
		CircuitOpen:      s.circuitOpen,
		CrashCount:       len(s.crashHistory),
		ConsecutiveFails: s.consecutiveFails,
		LastHealthCheck:  s.lastHealthCheck,
	}
	switch {
	case s.proc != nil && s.proc.Alive():
		snap.Running = true
		snap.State = "running"
		snap.PID = s.proc.PID()
		snap.StartedAt = s.proc.StartedAt()
	case s.circuitOpen:
		snap.State = "circuit_open"
	case s.starting != nil:
		snap.State = "starting"
	default:
		snap.State = "stopped"
	}
	return snap
}

// Shutdown stops the gateway and closes out the supervisor. Intended for
// wrapper process exit.
func (s *Supervisor) Shutdown() {
	_ = s.Stop()
}

func (s *Supervisor) startHealthMonitorLocked(proc *gateway.Process, spec gateway.Spec) {
	if s.cfg.HealthInterval < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.healthCancel = cancel
	go s.healthLoop(ctx, proc, spec)
}

// stopHealthMonitorLocked cancels the monitor synchronously so a stale probe
// cannot resurrect counter state after shutdown. Caller holds mu.
func (s *Supervisor) stopHealthMonitorLocked() {
	if s.healthCancel != nil {
		s.healthCancel()
		s.healthCancel = nil
	}
}

func (s *Supervisor) healthLoop(ctx context.Context, proc *gateway.Process, spec gateway.Spec) {
	p := probe.New(spec.BaseURL(), s.cfg.HealthTimeout)
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.Healthy(ctx, s.cfg.HealthPath) {
			s.mu.Lock()
			// Resets only take effect while this process is still the
			// registered one.
			if s.proc == proc {
				s.lastHealthCheck = time.Now()
				s.consecutiveFails = 0
				metrics.SetConsecutiveFails(spec.DisplayName(), 0)
			}
			s.mu.Unlock()
		} else if ctx.Err() == nil {
			// Advisory only; process exit remains the authoritative signal.
			s.logger.Warn("health probe failed", "name", spec.DisplayName(), "path", s.cfg.HealthPath)
		}
	}
}

// persist fans an event out to the configured sinks asynchronously; sink
// errors never affect supervision.
func (s *Supervisor) persist(t history.EventType, pid int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked(t, pid, detail)
}

// persistLocked is persist for callers already holding mu.
func (s *Supervisor) persistLocked(t history.EventType, pid int, detail string) {
	sinks := append([]history.Sink(nil), s.sinks...)
	name := s.spec.DisplayName()
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Name: name, PID: pid, Detail: detail},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, sink := range sinks {
			if err := sink.Send(ctx, evt); err != nil {
				s.logger.Warn("history sink send failed", "event", t, "error", err)
			}
		}
	}()
}
