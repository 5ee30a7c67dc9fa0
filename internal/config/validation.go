package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
)

// Validate checks that option values are usable. Millisecond thresholds
// accept Disabled or any non-negative value.
func (c *Config) Validate() error {
	var errs []error

	checkThreshold := func(name string, v int64) {
		if v < 0 && v != Disabled {
			errs = append(errs, fmt.Errorf("%s must be >= 0 or %d, got %d", name, Disabled, v))
		}
	}
	checkThreshold("threshold_millis", c.ThresholdMillis)
	checkThreshold("stuck_threshold_millis", c.StuckThresholdMillis)
	checkThreshold("stack_trace_initial_delay_millis", c.StackTraceInitialDelayMillis)

	if c.StackTracePeriodMillis <= 0 {
		errs = append(errs, fmt.Errorf("stack_trace_period_millis must be > 0, got %d", c.StackTracePeriodMillis))
	}
	if c.PollIntervalMillis <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_millis must be > 0, got %d", c.PollIntervalMillis))
	}
	if c.MaxTraceEventsPerOperation <= 0 {
		errs = append(errs, fmt.Errorf("max_trace_events_per_operation must be > 0, got %d", c.MaxTraceEventsPerOperation))
	}
	if c.FlushRetainFirst < 0 {
		errs = append(errs, fmt.Errorf("flush_retain_first must be >= 0, got %d", c.FlushRetainFirst))
	}
	if c.FlushRetainLast < 0 {
		errs = append(errs, fmt.Errorf("flush_retain_last must be >= 0, got %d", c.FlushRetainLast))
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err))
		}
	}

	if c.Admin.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			errs = append(errs, fmt.Errorf("invalid admin.addr %q: %w", c.Admin.Addr, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
