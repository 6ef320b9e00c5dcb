package gateway

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is the ownership handle for one spawned gateway. The supervisor is
// the only component allowed to create or terminate it.
type Process struct {
	mu            sync.Mutex
	spec          Spec
	cmd           *exec.Cmd
	startedAt     time.Time
	stopRequested bool
	exitErr       error
	waitDone      chan struct{} // closed exactly once when Wait returns
	outCloser     io.WriteCloser
	errCloser     io.WriteCloser
}

// Launch configures and starts the gateway process. stdout/stderr go to the
// spec's rotating log writers, or to /dev/null when no capture is configured.
// The process is placed in its own process group so signals reach children.
func Launch(spec Spec, mergedEnv []string) (*Process, error) {
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := &Process{spec: spec, waitDone: make(chan struct{})}
	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.DisplayName())
		p.outCloser, p.errCloser = outW, errW
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	// Fallback sinks are retained as closers so capture-less spawns do not
	// leak descriptors.
	if cmd.Stdout == nil {
		if f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
			cmd.Stdout = f
			p.outCloser = f
		}
	}
	if cmd.Stderr == nil {
		if f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0); err == nil {
			cmd.Stderr = f
			p.errCloser = f
		}
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, err
	}
	p.cmd = cmd
	p.startedAt = time.Now()
	return p, nil
}

// Wait reaps the process. It must be called exactly once, by the supervisor's
// exit watcher. The exit error is retained for classification and waitDone is
// closed so Terminate callers unblock.
func (p *Process) Wait() error {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	p.closeWriters()
	close(p.waitDone)
	return err
}

// Done returns a channel closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Lifetime returns how long the process has been (or was) alive.
func (p *Process) Lifetime() time.Duration { return time.Since(p.startedAt) }

// SetStopRequested marks an intentional termination so the exit watcher does
// not classify the resulting exit as a crash.
func (p *Process) SetStopRequested() {
	p.mu.Lock()
	p.stopRequested = true
	p.mu.Unlock()
}

// StopRequested reports whether termination was requested by the supervisor.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopRequested
}

// Alive reports whether the process group still responds to signal 0.
func (p *Process) Alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
	}
	pid := p.PID()
	if pid == 0 {
		return false
	}
	return syscall.Kill(-pid, 0) == nil
}

// Terminate performs the uniform graceful-then-forced stop sequence: SIGTERM
// to the process group, wait up to grace for the watcher to reap, then
// SIGKILL and a short final wait. Safe to call on an already-dead process.
func (p *Process) Terminate(grace time.Duration) {
	p.SetStopRequested()
	pid := p.PID()
	if pid == 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-p.waitDone:
		return
	case <-time.After(grace):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-p.waitDone:
	case <-time.After(500 * time.Millisecond):
		// best-effort; the watcher will still reap
	}
}

// ExitState decodes the retained exit error into an exit code and, when the
// process died from a signal, the signal. code is -1 for signal deaths.
func (p *Process) ExitState() (code int, sig syscall.Signal) {
	p.mu.Lock()
	err := p.exitErr
	p.mu.Unlock()
	return decodeExit(err)
}

func decodeExit(err error) (code int, sig syscall.Signal) {
	if err == nil {
		return 0, 0
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return -1, 0
	}
	ws, ok := ee.Sys().(syscall.WaitStatus)
	if !ok {
		return ee.ExitCode(), 0
	}
	if ws.Signaled() {
		return -1, ws.Signal()
	}
	return ws.ExitStatus(), 0
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	out, errW := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}
