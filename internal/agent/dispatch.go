package agent

import (
	"time"

	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/scheduler"
	"github.com/coral-mesh/coral-trace/internal/selfmetrics"
)

// shouldDispatch reports whether a completed operation goes to the sink:
// it was slow enough, the threshold is disabled, or part of it was (or is
// about to be) dispatched as stuck and the sink expects the rest.
func shouldDispatch(threshold time.Duration, enabled bool, duration time.Duration, stuck bool) bool {
	return !enabled || duration >= threshold || stuck
}

// complete runs on the owning goroutine once the root event is popped.
func (a *Agent) complete(s *scope, act *active) {
	s.current.CompareAndSwap(act, nil)
	op := act.op

	for _, task := range []*scheduler.Handle{op.StackTask(), op.StuckTask()} {
		if task == nil {
			continue
		}
		if !task.Cancel() {
			if err := task.Err(); err != nil {
				a.logger.Debug().Err(err).Msg("Background task of completed operation had failed")
			}
		}
	}

	a.registry.Remove(act.handle)
	a.metrics.OperationCompleted()

	threshold, enabled := a.cfg.Config().Threshold()
	// A stuck task that won GetAndSetStuck may not have flushed yet.
	if !shouldDispatch(threshold, enabled, op.Duration(), op.FlushCount() > 0 || op.IsStuck()) {
		return
	}
	a.dispatch.Submit(func() error {
		snap := op.CompletedSnapshot()
		a.metrics.Dispatched(selfmetrics.KindCompleted)
		if err := a.sink.Collect(a.ctx, snap); err != nil {
			a.metrics.SinkError()
			a.logger.Warn().Err(err).Str("description", snap.Description).Msg("Sink failed to collect operation")
			a.sink.CollectError("failed to collect completed operation", err)
		}
		return nil
	})
}

// stackTask samples the operation's goroutine until the operation is gone.
func (a *Agent) stackTask(h Handle) func() (scheduler.Result, error) {
	return func() (scheduler.Result, error) {
		op, ok := a.registry.Lookup(h)
		if !ok || op.IsCompleted() {
			return scheduler.StopRepeating, nil
		}
		if !op.CaptureStackTrace() {
			return scheduler.StopRepeating, nil
		}
		a.metrics.StackCaptured()
		return scheduler.Continue, nil
	}
}

func (a *Agent) stuckTask(h Handle) func() error {
	return func() error {
		op, ok := a.registry.Lookup(h)
		if !ok {
			return nil
		}
		a.fireStuck(op)
		return nil
	}
}

// fireStuck dispatches the first stuck view of op. Only the first caller
// for an operation does anything.
func (a *Agent) fireStuck(op *operation.Operation) bool {
	if op.IsCompleted() || op.GetAndSetStuck() {
		return false
	}
	a.dispatchStuck(op)
	return true
}

// dispatchStuck flushes op and hands the view to the sink. The operation may
// have completed since it was marked stuck.
func (a *Agent) dispatchStuck(op *operation.Operation) {
	snap := op.Flush()
	a.metrics.Dispatched(selfmetrics.KindStuck)
	a.logger.Debug().
		Str("id", snap.ID).
		Dur("duration", snap.Duration).
		Msg("Dispatching stuck operation")
	if err := a.sink.CollectFirstStuck(a.ctx, snap); err != nil {
		a.metrics.SinkError()
		a.sink.CollectError("failed to collect stuck operation", err)
	}
}
