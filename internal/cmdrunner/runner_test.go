package cmdrunner

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestRunCapturesInterleavedOutput(t *testing.T) {
	requireUnix(t)
	res := Run(context.Background(), "sh", []string{"-c", "echo out; echo err 1>&2; echo tail"}, Options{})
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, output %q", res.ExitCode, res.Output)
	}
	for _, want := range []string{"out", "err", "tail"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q: %q", want, res.Output)
		}
	}
}

func TestRunPropagatesExitCode(t *testing.T) {
	requireUnix(t)
	res := Run(context.Background(), "sh", []string{"-c", "exit 3"}, Options{})
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunSpawnFailureIs127(t *testing.T) {
	res := Run(context.Background(), "/no/such/binary-anywhere", nil, Options{})
	if res.ExitCode != ExitSpawnFailure {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitSpawnFailure)
	}
	if res.Output == "" {
		t.Fatalf("spawn failure lost its cause")
	}
}

func TestRunTimeoutIs124WithMarker(t *testing.T) {
	requireUnix(t)
	res := Run(context.Background(), "sh", []string{"-c", "echo before; sleep 5"}, Options{Timeout: 200 * time.Millisecond})
	if res.ExitCode != ExitTimeout {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitTimeout)
	}
	if !res.TimedOut {
		t.Fatalf("TimedOut not set")
	}
	if !strings.Contains(res.Output, "before") {
		t.Errorf("pre-timeout output lost: %q", res.Output)
	}
	if !strings.Contains(res.Output, TimeoutMarker) {
		t.Errorf("timeout marker missing: %q", res.Output)
	}
	if res.Duration >= 5*time.Second {
		t.Errorf("run was not killed: took %s", res.Duration)
	}
}

func TestRunSignalDeathIs1(t *testing.T) {
	requireUnix(t)
	res := Run(context.Background(), "sh", []string{"-c", "kill -TERM $$"}, Options{})
	if res.ExitCode != ExitSignaled {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitSignaled)
	}
}

func TestRunAppliesEnvAndDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	res := Run(context.Background(), "sh", []string{"-c", "echo $GW_PROBE; pwd"}, Options{
		Dir:   dir,
		Extra: []string{"GW_PROBE=marker-42"},
	})
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, output %q", res.ExitCode, res.Output)
	}
	if !strings.Contains(res.Output, "marker-42") {
		t.Errorf("extra env not applied: %q", res.Output)
	}
	if !strings.Contains(res.Output, dir) {
		t.Errorf("working dir not applied: %q", res.Output)
	}
}

func TestRunContextCancelKills(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res := Run(ctx, "sh", []string{"-c", "sleep 5"}, Options{})
	if res.Duration >= 5*time.Second {
		t.Fatalf("cancelled run was not killed: took %s", res.Duration)
	}
	if res.ExitCode == 0 {
		t.Fatalf("killed run reported success")
	}
}
