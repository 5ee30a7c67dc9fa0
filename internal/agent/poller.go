package agent

import (
	"time"

	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/scheduler"
)

// PollStats reports what one poller run looked at and armed.
type PollStats struct {
	StackInspected int
	StackArmed     int
	StuckInspected int
	StuckArmed     int
}

// pollLoop returns the repeating poller task for the given interval. When
// the configured interval changes the task re-arms itself with the new one.
func (a *Agent) pollLoop(period time.Duration) func() (scheduler.Result, error) {
	return func() (scheduler.Result, error) {
		a.Poll()

		next := a.cfg.Config().PollInterval()
		if next == period {
			return scheduler.Continue, nil
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.stopped {
			return scheduler.StopRepeating, nil
		}
		a.logger.Info().Dur("from", period).Dur("to", next).Msg("Poll interval changed")
		a.pollTask = a.poller.ScheduleWithFixedDelay(next, next, a.pollLoop(next))
		return scheduler.StopRepeating, nil
	}
}

// Poll arms stack sampling and stuck detection for operations that will
// cross their thresholds before the next poll. Operations are visited
// oldest first, so each scan stops at the first operation that is still too
// young.
func (a *Agent) Poll() PollStats {
	began := time.Now()
	cfg := a.cfg.Config()
	interval := cfg.PollInterval()
	now := a.clock.Nanos()

	var stats PollStats
	if threshold, ok := cfg.StackTraceInitialDelay(); ok {
		period := cfg.StackTracePeriod()
		stats.StackInspected, stats.StackArmed = a.scan(now, threshold, interval,
			func(op *operation.Operation) bool { return op.StackTask() != nil },
			func(h Handle, op *operation.Operation, delay time.Duration) {
				op.SetStackTask(a.stack.ScheduleWithFixedDelay(delay, period, a.stackTask(h)))
			})
	}
	if threshold, ok := cfg.StuckThreshold(); ok {
		stats.StuckInspected, stats.StuckArmed = a.scan(now, threshold, interval,
			func(op *operation.Operation) bool { return op.StuckTask() != nil },
			func(h Handle, op *operation.Operation, delay time.Duration) {
				op.SetStuckTask(a.stuck.Schedule(delay, a.stuckTask(h)))
			})
	}

	a.metrics.ObservePoll(time.Since(began))
	return stats
}

func (a *Agent) scan(
	now int64,
	threshold, interval time.Duration,
	armed func(*operation.Operation) bool,
	arm func(Handle, *operation.Operation, time.Duration),
) (inspected, armedCount int) {
	horizon := now + int64(interval)
	a.registry.Scan(func(h Handle, op *operation.Operation) bool {
		inspected++
		deadline := op.StartTick() + int64(threshold)
		if nanoclock.Less(horizon, deadline) {
			return false
		}
		if op.IsCompleted() || armed(op) {
			return true
		}
		var delay time.Duration
		if nanoclock.Compare(deadline, now) > 0 {
			delay = nanoclock.Elapsed(now, deadline)
		}
		arm(h, op, delay)
		armedCount++
		return true
	})
	return inspected, armedCount
}
