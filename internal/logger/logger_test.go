package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWritersWithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("gateway")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(filepath.Join(dir, "gateway.stdout.log")); err != nil {
		t.Fatalf("stdout log not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gateway.stderr.log")); err != nil {
		t.Fatalf("stderr log not created: %v", err)
	}
}

func TestWritersWithExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "s.out.log")
	ep := filepath.Join(dir, "s.err.log")
	cfg := Config{StdoutPath: sp, StderrPath: ep}
	outW, errW, err := cfg.Writers("ignored")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	_, _ = outW.Write([]byte("x"))
	_, _ = errW.Write([]byte("y"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(sp); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
	if _, err := os.Stat(ep); err != nil {
		t.Fatalf("explicit stderr path not used: %v", err)
	}
}

func TestWritersEmptyConfig(t *testing.T) {
	outW, errW, err := Config{}.Writers("gateway")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers for empty config")
	}
}

func TestSetupPlainText(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelInfo, false)
	l.Debug("hidden")
	l.Info("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug message leaked at info level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Fatalf("info message missing: %q", out)
	}
}

func TestSetupColored(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, slog.LevelDebug, true)
	l.Warn("colorful")
	if !strings.Contains(buf.String(), "colorful") {
		t.Fatalf("colored handler dropped the message: %q", buf.String())
	}
}

func TestValOr(t *testing.T) {
	if valOr(0, 7) != 7 || valOr(-1, 7) != 7 || valOr(3, 7) != 3 {
		t.Fatalf("valOr defaults wrong")
	}
}
