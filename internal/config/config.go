// Package config provides configuration loading and management for the tracer.
package config

import "time"

// Disabled is the sentinel used by millisecond options to switch a feature off.
const Disabled = -1

// Config is the tracer configuration. The agent re-reads it through a
// Provider, so every field may change between polls.
type Config struct {
	Enabled bool `yaml:"enabled" env:"CORAL_TRACE_ENABLED"`

	// ThresholdMillis is the minimum duration for a completed operation to be
	// reported. Disabled reports every operation.
	ThresholdMillis int64 `yaml:"threshold_millis" env:"CORAL_TRACE_THRESHOLD_MILLIS"`

	// StuckThresholdMillis is the age after which a running operation is
	// reported as stuck. Disabled turns stuck detection off.
	StuckThresholdMillis int64 `yaml:"stuck_threshold_millis" env:"CORAL_TRACE_STUCK_THRESHOLD_MILLIS"`

	// StackTraceInitialDelayMillis is the age after which stack sampling
	// starts for a running operation. Disabled turns sampling off.
	StackTraceInitialDelayMillis int64 `yaml:"stack_trace_initial_delay_millis" env:"CORAL_TRACE_STACK_INITIAL_DELAY_MILLIS"`
	StackTracePeriodMillis       int64 `yaml:"stack_trace_period_millis" env:"CORAL_TRACE_STACK_PERIOD_MILLIS"`

	MaxTraceEventsPerOperation       int  `yaml:"max_trace_events_per_operation" env:"CORAL_TRACE_MAX_EVENTS"`
	WarnOnTraceEventOutsideOperation bool `yaml:"warn_on_trace_event_outside_operation" env:"CORAL_TRACE_WARN_OUTSIDE"`

	PollIntervalMillis int64 `yaml:"poll_interval_millis" env:"CORAL_TRACE_POLL_INTERVAL_MILLIS"`
	FlushRetainFirst   int   `yaml:"flush_retain_first" env:"CORAL_TRACE_FLUSH_RETAIN_FIRST"`
	FlushRetainLast    int   `yaml:"flush_retain_last" env:"CORAL_TRACE_FLUSH_RETAIN_LAST"`

	Logging LoggingConfig `yaml:"logging"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Admin   AdminConfig   `yaml:"admin"`
}

// LoggingConfig controls the tracer's own log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CORAL_TRACE_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"CORAL_TRACE_LOG_PRETTY"`
}

// SinksConfig selects where collected operations are sent. Empty paths
// disable the corresponding sink.
type SinksConfig struct {
	Log        bool   `yaml:"log" env:"CORAL_TRACE_SINK_LOG"`
	FilePath   string `yaml:"file_path" env:"CORAL_TRACE_SINK_FILE"`
	OTLPPath   string `yaml:"otlp_path" env:"CORAL_TRACE_SINK_OTLP"`
	DuckDBPath string `yaml:"duckdb_path" env:"CORAL_TRACE_SINK_DUCKDB"`
}

// AdminConfig configures the local admin HTTP server.
type AdminConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr" env:"CORAL_TRACE_ADMIN_ADDR"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:                      true,
		ThresholdMillis:              3000,
		StuckThresholdMillis:         180000,
		StackTraceInitialDelayMillis: 1000,
		StackTracePeriodMillis:       100,
		MaxTraceEventsPerOperation:   2000,
		PollIntervalMillis:           100,
		FlushRetainFirst:             100,
		FlushRetainLast:              20,
		Logging: LoggingConfig{
			Level: "info",
		},
		Sinks: SinksConfig{
			Log: true,
		},
	}
}

// Threshold returns the completion threshold, or false when disabled.
func (c *Config) Threshold() (time.Duration, bool) {
	return millis(c.ThresholdMillis)
}

// StuckThreshold returns the stuck threshold, or false when disabled.
func (c *Config) StuckThreshold() (time.Duration, bool) {
	return millis(c.StuckThresholdMillis)
}

// StackTraceInitialDelay returns the sampling start delay, or false when disabled.
func (c *Config) StackTraceInitialDelay() (time.Duration, bool) {
	return millis(c.StackTraceInitialDelayMillis)
}

// StackTracePeriod returns the interval between two samples of an operation.
func (c *Config) StackTracePeriod() time.Duration {
	return time.Duration(c.StackTracePeriodMillis) * time.Millisecond
}

// PollInterval returns the interval between two poller runs.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// Clone returns a copy that can be modified without affecting c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func millis(v int64) (time.Duration, bool) {
	if v < 0 {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}
