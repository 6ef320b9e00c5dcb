package gateway

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loykin/gatewarden/internal/logger"
)

// Loopback address the gateway is required to bind to. The wrapper is the
// only component allowed to face the network.
const LoopbackHost = "127.0.0.1"

// Spec describes the supervised gateway process: how to launch it, where it
// listens, and which credential lets already-authenticated wrapper traffic
// through the gateway's own token check.
type Spec struct {
	Name         string        `json:"name" mapstructure:"name"`
	Command      string        `json:"command" mapstructure:"command"`             // gateway executable
	Args         []string      `json:"args" mapstructure:"args"`                   // extra args appended after the fixed set
	Port         int           `json:"port" mapstructure:"port"`                   // loopback port the gateway binds
	Token        string        `json:"token" mapstructure:"token"`                 // shared bearer token
	StateDir     string        `json:"state_dir" mapstructure:"state_dir"`         // gateway state directory
	WorkspaceDir string        `json:"workspace_dir" mapstructure:"workspace_dir"` // workspace served by the gateway
	WorkDir      string        `json:"work_dir" mapstructure:"work_dir"`           // optional working dir for the process
	Env          []string      `json:"env" mapstructure:"env"`                     // extra env (K=V)
	Log          logger.Config `json:"log" mapstructure:"log"`
}

// Configured reports whether the spec is complete enough to spawn: a command
// and a port are the minimum contract.
func (s *Spec) Configured() bool {
	return s != nil && strings.TrimSpace(s.Command) != "" && s.Port > 0
}

// BaseURL returns the gateway's loopback HTTP base, e.g. "http://127.0.0.1:4780".
func (s *Spec) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", LoopbackHost, s.Port)
}

// Origin returns the Origin value the gateway expects for same-origin checks.
func (s *Spec) Origin() string { return s.BaseURL() }

// BuildCommand constructs the *exec.Cmd for the gateway with its fixed
// argument contract: bind loopback, the configured port, token auth mode and
// the token value. Spec.Args are appended verbatim after the fixed set.
func (s *Spec) BuildCommand() *exec.Cmd {
	args := []string{
		"--host", LoopbackHost,
		"--port", strconv.Itoa(s.Port),
		"--auth", "token",
		"--token", s.Token,
	}
	args = append(args, s.Args...)
	// #nosec G204 -- command comes from operator config, not request input
	return exec.Command(s.Command, args...)
}

// ProcessEnv returns the environment entries the gateway contract requires:
// state/workspace directories and the shared token, plus Spec.Env extras.
func (s *Spec) ProcessEnv() []string {
	env := []string{
		"GATEWAY_STATE_DIR=" + s.StateDir,
		"GATEWAY_WORKSPACE_DIR=" + s.WorkspaceDir,
		"GATEWAY_TOKEN=" + s.Token,
	}
	return append(env, s.Env...)
}

// DisplayName returns the name used in logs and metrics, defaulting when the
// spec does not set one.
func (s *Spec) DisplayName() string {
	if s != nil && s.Name != "" {
		return s.Name
	}
	return "gateway"
}
