// Package config owns the parsed configuration snapshot the rest of
// the core reads from. Loading the YAML document, merging
// CERTSTREAM_-prefixed environment overrides and watching the file
// for hot reload are external collaborators (spec.md §1); this
// package only defines the struct shape and the atomically-swapped
// snapshot pointer the teacher's watcher reads via config.AppConfig.
package config

import (
	"sync/atomic"
)

// Version is stamped at build time via -ldflags, matching the
// teacher's config.Version reference from the user-agent string.
var Version = "dev"

// Config is the fully parsed, defaulted configuration for one run.
type Config struct {
	General  General  `yaml:"general"`
	CTLogs   CTLogs   `yaml:"ct_logs"`
	Bus      Bus      `yaml:"bus"`
	Conn     Conn     `yaml:"connections"`
	Auth     Auth     `yaml:"auth"`
	Websocket Websocket `yaml:"websocket"`
}

type General struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	TCPPort   int    `yaml:"tcp_port"`
	LogLevel  string `yaml:"log_level"`
}

type CTLogs struct {
	StateFile           string        `yaml:"state_file"`
	RefreshIntervalHours int          `yaml:"refresh_interval_hours"`
	CheckpointInterval  int           `yaml:"checkpoint_interval_secs"`
	CheckpointEntries   int           `yaml:"checkpoint_entries"`
	BatchSize           int           `yaml:"batch_size"`
	PollIntervalMs      int           `yaml:"poll_interval_ms"`
	RequestTimeoutSecs  int           `yaml:"request_timeout_secs"`
	Retry               Retry         `yaml:"retry"`
	CircuitBreaker      CircuitBreaker `yaml:"circuit_breaker"`
	StartIndex          []string      `yaml:"start_index"`
	Custom              []CustomLog   `yaml:"custom_logs"`
}

type CustomLog struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Operator string `yaml:"operator"`
	MMD      int    `yaml:"mmd"`
}

type Retry struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialDelayMs   int `yaml:"initial_delay_ms"`
	MaxDelayMs       int `yaml:"max_delay_ms"`
}

type CircuitBreaker struct {
	UnhealthyThreshold      int `yaml:"unhealthy_threshold"`
	HealthyThreshold        int `yaml:"healthy_threshold"`
	HealthCheckIntervalSecs int `yaml:"health_check_interval_secs"`
}

type Bus struct {
	BufferSize       int `yaml:"buffer_size"`
	SubscriberQueue  int `yaml:"subscriber_queue"`
}

type Conn struct {
	MaxConnections int `yaml:"max_connections"`
	PerIPLimit     int `yaml:"per_ip_limit"`
}

type Auth struct {
	Enabled    bool     `yaml:"enabled"`
	HeaderName string   `yaml:"header_name"`
	Tokens     []string `yaml:"tokens"`
}

type Websocket struct {
	PingIntervalSecs int `yaml:"ping_interval_secs"`
	PongTimeoutSecs  int `yaml:"pong_timeout_secs"`
}

// Default returns a Config with the defaults named throughout
// spec.md §4.
func Default() *Config {
	return &Config{
		General: General{Host: "0.0.0.0", Port: 8080, TCPPort: 8081, LogLevel: "info"},
		CTLogs: CTLogs{
			RefreshIntervalHours: 6,
			CheckpointInterval:   1,
			CheckpointEntries:    1000,
			BatchSize:            256,
			PollIntervalMs:       500,
			RequestTimeoutSecs:   30,
			Retry:                Retry{MaxAttempts: 3, InitialDelayMs: 100, MaxDelayMs: 5000},
			CircuitBreaker:       CircuitBreaker{UnhealthyThreshold: 5, HealthyThreshold: 3, HealthCheckIntervalSecs: 60},
		},
		Bus:  Bus{BufferSize: 1000, SubscriberQueue: 1000},
		Conn: Conn{MaxConnections: 20000, PerIPLimit: 50},
		Websocket: Websocket{PingIntervalSecs: 30, PongTimeoutSecs: 60},
	}
}

var current atomic.Pointer[Config]

// AppConfig returns the current configuration snapshot. Components
// call this on every use rather than caching the pointer, so a hot
// reload (spec.md §5) is visible to new operations without affecting
// ones already in flight with the old snapshot.
func AppConfig() *Config {
	c := current.Load()
	if c == nil {
		c = Default()
		current.Store(c)
	}
	return c
}

// Set installs a new configuration snapshot, atomically, for
// subsequent reads. Called by the (external) loader/watcher on
// startup and on every hot-reload notification.
func Set(c *Config) {
	current.Store(c)
}
