package supervisor

import "time"

// Defaults for the crash-tracking and probing policy. MinLifetime is the
// heuristic line between a startup defect and a late failure; it is kept
// configurable rather than inferred.
const (
	DefaultMinLifetime    = 10 * time.Second
	DefaultCrashWindow    = 60 * time.Second
	DefaultCrashThreshold = 5
	DefaultCooldown       = 30 * time.Second
	DefaultBackoffBase    = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultReadyTimeout   = 60 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultHealthPath     = "/healthz"
	DefaultStopGrace      = 5 * time.Second
)

// Config tunes the supervisor. Zero values take the defaults above; a
// negative HealthInterval disables the periodic monitor.
type Config struct {
	MinLifetime    time.Duration `json:"min_lifetime" mapstructure:"min_lifetime"`
	CrashWindow    time.Duration `json:"crash_window" mapstructure:"crash_window"`
	CrashThreshold int           `json:"crash_threshold" mapstructure:"crash_threshold"`
	Cooldown       time.Duration `json:"cooldown" mapstructure:"cooldown"`
	BackoffBase    time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax     time.Duration `json:"backoff_max" mapstructure:"backoff_max"`
	ReadyTimeout   time.Duration `json:"ready_timeout" mapstructure:"ready_timeout"`
	ReadyPaths     []string      `json:"ready_paths" mapstructure:"ready_paths"`
	ProbeTimeout   time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	HealthInterval time.Duration `json:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `json:"health_timeout" mapstructure:"health_timeout"`
	HealthPath     string        `json:"health_path" mapstructure:"health_path"`
	StopGrace      time.Duration `json:"stop_grace" mapstructure:"stop_grace"`
}

func (c Config) withDefaults() Config {
	if c.MinLifetime == 0 {
		c.MinLifetime = DefaultMinLifetime
	}
	if c.CrashWindow <= 0 {
		c.CrashWindow = DefaultCrashWindow
	}
	if c.CrashThreshold <= 0 {
		c.CrashThreshold = DefaultCrashThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}
