// Package config loads agentmesh configuration: defaults, then a YAML
// file, then AGENTMESH_-prefixed environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Memory     MemoryConfig     `yaml:"memory"`
	Mailbox    MailboxConfig    `yaml:"mailbox"`
	Failure    FailureConfig    `yaml:"failure"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig shapes the HTTP adapter.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per second admitted by the API (0 = off).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the rate limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// MemoryConfig shapes the conversation store.
type MemoryConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxThreads int           `yaml:"max_threads"`
}

// MailboxConfig shapes per-agent queues.
type MailboxConfig struct {
	Capacity int `yaml:"capacity"`
}

// FailureConfig shapes breakers and the default retry policy.
type FailureConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// SupervisorConfig shapes restart behavior.
type SupervisorConfig struct {
	Strategy            string        `yaml:"strategy"`
	MaxRestarts         int           `yaml:"max_restarts"`
	RestartWindow       time.Duration `yaml:"restart_window"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// LogConfig shapes the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       0,
			RateBurst:       100,
		},
		Memory: MemoryConfig{
			TTL:        3 * time.Hour,
			MaxThreads: 10_000,
		},
		Mailbox: MailboxConfig{Capacity: 10_000},
		Failure: FailureConfig{
			FailureThreshold: 5,
			OpenTimeout:      60 * time.Second,
			SuccessThreshold: 2,
			MaxRetries:       3,
			RetryDelay:       time.Second,
		},
		Supervisor: SupervisorConfig{
			Strategy:            "one_for_one",
			MaxRestarts:         3,
			RestartWindow:       time.Minute,
			HealthCheckInterval: time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Loader builds a Config from defaults, an optional YAML file, and
// environment overrides.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the AGENTMESH env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "AGENTMESH"}
}

// WithConfigPath points the loader at a YAML file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration. Precedence: defaults → YAML → env.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides individual fields from the environment.
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("SERVER_ADDR", &cfg.Server.Addr)
	l.envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	l.envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	l.envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	l.envFloat("SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	l.envInt("SERVER_RATE_BURST", &cfg.Server.RateBurst)

	l.envDuration("MEMORY_TTL", &cfg.Memory.TTL)
	l.envInt("MEMORY_MAX_THREADS", &cfg.Memory.MaxThreads)

	l.envInt("MAILBOX_CAPACITY", &cfg.Mailbox.Capacity)

	l.envInt("FAILURE_THRESHOLD", &cfg.Failure.FailureThreshold)
	l.envDuration("FAILURE_OPEN_TIMEOUT", &cfg.Failure.OpenTimeout)
	l.envInt("FAILURE_SUCCESS_THRESHOLD", &cfg.Failure.SuccessThreshold)
	l.envInt("FAILURE_MAX_RETRIES", &cfg.Failure.MaxRetries)
	l.envDuration("FAILURE_RETRY_DELAY", &cfg.Failure.RetryDelay)

	l.envString("SUPERVISOR_STRATEGY", &cfg.Supervisor.Strategy)
	l.envInt("SUPERVISOR_MAX_RESTARTS", &cfg.Supervisor.MaxRestarts)
	l.envDuration("SUPERVISOR_RESTART_WINDOW", &cfg.Supervisor.RestartWindow)
	l.envDuration("SUPERVISOR_HEALTH_INTERVAL", &cfg.Supervisor.HealthCheckInterval)

	l.envString("LOG_LEVEL", &cfg.Log.Level)
	l.envBool("LOG_DEVELOPMENT", &cfg.Log.Development)
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func (l *Loader) envFloat(key string, dst *float64) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func (l *Loader) envDuration(key string, dst *time.Duration) {
	if v, ok := l.lookup(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
