package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/gatewarden/internal/auth"
	"github.com/loykin/gatewarden/internal/gateway"
	"github.com/loykin/gatewarden/internal/logger"
	"github.com/loykin/gatewarden/internal/supervisor"
	"github.com/loykin/gatewarden/internal/tls"
	"github.com/spf13/viper"
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Log        LogConfig         `toml:"log" mapstructure:"log"`
	Gateway    GatewayConfig     `toml:"gateway" mapstructure:"gateway"`
	Supervisor supervisor.Config `toml:"supervisor" mapstructure:"supervisor"`
	Server     ServerConfig      `toml:"server" mapstructure:"server"`
	Auth       auth.Config       `toml:"auth" mapstructure:"auth"`
	History    HistoryConfig     `toml:"history" mapstructure:"history"`
}

// LogConfig tunes the wrapper's own structured logging.
type LogConfig struct {
	Level   string `toml:"level" mapstructure:"level"`
	Colored bool   `toml:"colored" mapstructure:"colored"`
}

// GatewayConfig describes the supervised backend. TokenFile, when set, wins
// over the inline Token so the credential can stay out of the config file.
type GatewayConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Command      string        `toml:"command" mapstructure:"command"`
	Args         []string      `toml:"args" mapstructure:"args"`
	Port         int           `toml:"port" mapstructure:"port"`
	Token        string        `toml:"token" mapstructure:"token"`
	TokenFile    string        `toml:"token_file" mapstructure:"token_file"`
	StateDir     string        `toml:"state_dir" mapstructure:"state_dir"`
	WorkspaceDir string        `toml:"workspace_dir" mapstructure:"workspace_dir"`
	WorkDir      string        `toml:"workdir" mapstructure:"workdir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
}

// ServerConfig describes the wrapper's public listener.
type ServerConfig struct {
	Listen  string      `toml:"listen" mapstructure:"listen"`
	Verbose bool        `toml:"verbose" mapstructure:"verbose"`
	TLS     *tls.Config `toml:"tls" mapstructure:"tls"`
}

// HistoryConfig lists lifecycle event sink DSNs
// (sqlite://, postgres://, clickhouse://).
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

// Load reads and decodes a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// GatewaySpec materializes the gateway spec, resolving the token file when
// one is configured.
func (fc *FileConfig) GatewaySpec() (*gateway.Spec, error) {
	gc := fc.Gateway
	token := gc.Token
	if gc.TokenFile != "" {
		b, err := os.ReadFile(filepath.Clean(gc.TokenFile))
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(b))
	}
	return &gateway.Spec{
		Name:         gc.Name,
		Command:      gc.Command,
		Args:         gc.Args,
		Port:         gc.Port,
		Token:        token,
		StateDir:     gc.StateDir,
		WorkspaceDir: gc.WorkspaceDir,
		WorkDir:      gc.WorkDir,
		Env:          gc.Env,
		Log:          gc.Log,
	}, nil
}

// GlobalEnv merges the environment for spawned processes. Precedence: OS env
// (when enabled) provides the base, env_files apply next in order, and the
// top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
