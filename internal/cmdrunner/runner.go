package cmdrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Exit code mapping is part of the contract: callers branch on these values.
const (
	ExitSpawnFailure = 127 // command could not be launched at all
	ExitTimeout      = 124 // killed because Timeout elapsed
	ExitSignaled     = 1   // terminated by a signal with no explicit code
)

// TimeoutMarker is appended to the captured output when a run is killed for
// exceeding its timeout.
const TimeoutMarker = "[command timed out"

// Options tunes a single run.
type Options struct {
	Dir     string        // working directory
	Env     []string      // replaces the inherited environment when set
	Extra   []string      // appended K=V entries on top of the base env
	Timeout time.Duration // 0 means no timeout
}

// Result is the outcome of one run.
type Result struct {
	ExitCode int
	Output   string // stdout+stderr interleaved as produced
	TimedOut bool
	Duration time.Duration
}

// Run spawns command with args, capturing stdout and stderr into one ordered
// buffer. When Options.Timeout is exceeded the process group is force-killed
// and a synthetic timeout marker is appended to the output.
func Run(ctx context.Context, command string, args []string, opts Options) Result {
	start := time.Now()

	var buf lockedBuffer
	// #nosec G204 -- diagnostic commands come from operator input
	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	base := opts.Env
	if base == nil {
		base = os.Environ()
	}
	cmd.Env = append(append([]string{}, base...), opts.Extra...)

	if err := cmd.Start(); err != nil {
		return Result{
			ExitCode: ExitSpawnFailure,
			Output:   err.Error(),
			Duration: time.Since(start),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-timeoutC:
		timedOut = true
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		waitErr = <-done
	}

	out := buf.String()
	code := exitCode(waitErr)
	if timedOut {
		code = ExitTimeout
		if !strings.HasSuffix(out, "\n") && out != "" {
			out += "\n"
		}
		out += fmt.Sprintf("%s after %s]", TimeoutMarker, opts.Timeout)
	}

	return Result{
		ExitCode: code,
		Output:   out,
		TimedOut: timedOut,
		Duration: time.Since(start),
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return ExitSpawnFailure
	}
	if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitSignaled
	}
	return ee.ExitCode()
}

// lockedBuffer keeps concurrent stdout/stderr writes ordered as produced.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
