// Package agent is the process-wide tracer: it routes probe pushes and pops
// to the current operation, keeps the registry of in-flight operations and
// runs the background poller, stack sampling, stuck detection and dispatch.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/calltree"
	"github.com/coral-mesh/coral-trace/internal/config"
	tracerrors "github.com/coral-mesh/coral-trace/internal/errors"
	"github.com/coral-mesh/coral-trace/internal/flushlist"
	"github.com/coral-mesh/coral-trace/internal/nanoclock"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/scheduler"
	"github.com/coral-mesh/coral-trace/internal/selfmetrics"
	"github.com/coral-mesh/coral-trace/internal/sink"
	"github.com/coral-mesh/coral-trace/internal/trace"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

// Options configures an Agent. Only Config and Sink are commonly set; the
// rest exist for tests.
type Options struct {
	Config  config.Provider
	Sink    sink.Sink
	Logger  zerolog.Logger
	Metrics *selfmetrics.Metrics

	Clock nanoclock.Clock
	Dump  calltree.DumpFunc
	Now   func() time.Time
}

// Agent owns the operation registry and the background schedulers.
type Agent struct {
	cfg     config.Provider
	sink    sink.Sink
	logger  zerolog.Logger
	metrics *selfmetrics.Metrics
	clock   nanoclock.Clock
	dump    calltree.DumpFunc
	now     func() time.Time

	registry *Registry

	poller   *scheduler.Scheduler
	stack    *scheduler.Scheduler
	stuck    *scheduler.Scheduler
	dispatch *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pollTask *scheduler.Handle
	started  bool
	stopped  bool
}

// New creates an agent. Background polling does not begin until Start.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		opts.Config = config.NewStaticProvider(config.DefaultConfig())
	}
	if err := opts.Config.Config().Validate(); err != nil {
		return nil, err
	}
	if opts.Sink == nil {
		opts.Sink = sink.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = nanoclock.System()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With().Str("component", "agent").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cfg:      opts.Config,
		sink:     opts.Sink,
		logger:   logger,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		dump:     opts.Dump,
		now:      opts.Now,
		registry: NewRegistry(),
		poller:   scheduler.New("poller", opts.Logger),
		stack:    scheduler.New("stack", opts.Logger),
		stuck:    scheduler.New("stuck", opts.Logger),
		dispatch: scheduler.New("dispatch", opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, s := range []*scheduler.Scheduler{a.poller, a.stack, a.stuck, a.dispatch} {
		s.OnFailure = a.taskFailed
	}
	return a, nil
}

// Start arms the poller.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return fmt.Errorf("agent already shut down")
	}
	if a.started {
		return nil
	}
	a.started = true
	period := a.cfg.Config().PollInterval()
	a.pollTask = a.poller.ScheduleWithFixedDelay(period, period, a.pollLoop(period))
	a.logger.Info().Dur("poll_interval", period).Msg("Agent started")
	return nil
}

// Shutdown stops polling and sampling and waits, until ctx expires, for
// queued completion dispatches to reach the sink.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	pollTask := a.pollTask
	a.mu.Unlock()

	if pollTask != nil {
		pollTask.Cancel()
	}
	a.poller.Stop()
	a.stack.Stop()
	a.stuck.Stop()

	var err error
	drained := a.dispatch.Submit(func() error { return nil })
	select {
	case <-drained.Done():
	case <-ctx.Done():
		err = fmt.Errorf("dispatch not drained: %w", ctx.Err())
	}
	a.cancel()
	a.dispatch.Stop()

	a.logger.Info().Int("in_flight", a.registry.Len()).Msg("Agent stopped")
	return err
}

// IsEnabled reports whether new operations are traced.
func (a *Agent) IsEnabled() bool {
	return a.cfg.Config().Enabled
}

// Config returns the configuration currently in effect.
func (a *Agent) Config() *config.Config {
	return a.cfg.Config()
}

// Metrics returns the agent's self metrics, possibly nil.
func (a *Agent) Metrics() *selfmetrics.Metrics {
	return a.metrics
}

// PushTraceEvent records the start of exec. Without a current operation on
// ctx a new operation is started and exec becomes its root. The returned
// context carries the current operation and must be used for nested pushes;
// the returned span must be ended exactly once. Tracer failures are logged
// and never reach the caller.
func (a *Agent) PushTraceEvent(ctx context.Context, exec probe.Execution) (context.Context, *Span) {
	var span *Span
	a.guard("push trace event", func() error {
		ctx, span = a.push(ctx, exec)
		return nil
	})
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, span
}

func (a *Agent) push(ctx context.Context, exec probe.Execution) (context.Context, *Span) {
	ctx, s := withScope(ctx)
	if s.disabled.Load() {
		return ctx, nil
	}

	cfg := a.cfg.Config()
	act := s.current.Load()
	if act == nil {
		if !cfg.Enabled {
			// Stays disabled until the root span ends, even if tracing is
			// re-enabled in between.
			s.disabled.Store(true)
			return ctx, &Span{agent: a, kind: spanDisabled, scope: s, clears: true}
		}
		return ctx, a.startOperation(s, exec, cfg)
	}

	op := act.op
	if op.GoroutineID() != calltree.CurrentGoroutineID() {
		a.logger.Debug().
			Str("description", exec.Description()).
			Int64("owner", op.GoroutineID()).
			Msg("Trace event pushed from a goroutine that does not own the operation, recording metric only")
		return ctx, a.metricOnly(s, act, exec)
	}
	if op.Trace().Size() >= cfg.MaxTraceEventsPerOperation {
		a.metrics.EventDropped()
		return ctx, a.metricOnly(s, act, exec)
	}

	tick := a.clock.Nanos()
	e := op.Trace().PushElement(exec, tick)
	if e == nil {
		return ctx, a.metricOnly(s, act, exec)
	}
	return ctx, &Span{agent: a, kind: spanEvent, scope: s, act: act, event: e, exec: exec, start: tick}
}

func (a *Agent) metricOnly(s *scope, act *active, exec probe.Execution) *Span {
	return &Span{agent: a, kind: spanMetricOnly, scope: s, act: act, exec: exec, start: a.clock.Nanos()}
}

func (a *Agent) startOperation(s *scope, exec probe.Execution, cfg *config.Config) *Span {
	if _, ok := exec.(probe.Root); !ok && cfg.WarnOnTraceEventOutsideOperation {
		a.logger.Warn().
			Str("description", exec.Description()).
			Msg("Trace event outside of an operation, starting a new operation")
	}

	op := operation.New(exec, operation.Options{
		Clock: a.clock,
		Trace: trace.Options{
			List: flushlist.Options{
				RetainFirst: cfg.FlushRetainFirst,
				RetainLast:  cfg.FlushRetainLast,
			},
			Logger:     a.logger,
			OnMismatch: a.metrics.PopMismatch,
		},
		Dump: a.dump,
		Now:  a.now,
	})
	act := &active{op: op, handle: a.registry.Add(op)}
	s.current.Store(act)
	a.metrics.OperationStarted()

	root := op.Trace().Root()
	return &Span{agent: a, kind: spanEvent, scope: s, act: act, event: root, exec: exec, start: root.StartTick()}
}

// PopTraceEvent ends span at endTick and records its duration under the
// execution's metric key. Popping the root completes the operation.
func (a *Agent) PopTraceEvent(span *Span, endTick int64) {
	if span == nil || !span.ended.CompareAndSwap(false, true) {
		return
	}
	a.guard("pop trace event", func() error {
		a.pop(span, endTick)
		return nil
	})
}

func (a *Agent) pop(span *Span, endTick int64) {
	switch span.kind {
	case spanDisabled:
		if span.clears {
			span.scope.disabled.Store(false)
		}
		return
	case spanMetricOnly:
		a.recordSpanMetric(span, endTick)
		return
	}

	op := span.act.op
	a.recordSpanMetric(span, endTick)
	op.Trace().PopElement(span.event, endTick)
	if op.IsCompleted() {
		a.complete(span.scope, span.act)
	}
}

func (a *Agent) recordSpanMetric(span *Span, endTick int64) {
	if span.exec == nil {
		return
	}
	if key := span.exec.MetricKey(); key != "" {
		span.act.op.RecordSummaryData(key, endTick-span.start)
	}
}

// RecordSummaryMetric adds a timing to the current operation's metrics. It
// does nothing outside an operation.
func (a *Agent) RecordSummaryMetric(ctx context.Context, key string, nanos int64) {
	if op := a.CurrentOperation(ctx); op != nil {
		op.RecordSummaryData(key, nanos)
	}
}

// CurrentOperation returns the operation carried by ctx, or nil.
func (a *Agent) CurrentOperation(ctx context.Context) *operation.Operation {
	s := scopeFrom(ctx)
	if s == nil {
		return nil
	}
	act := s.current.Load()
	if act == nil {
		return nil
	}
	return act.op
}

// IsCurrentOperationDisabled reports whether tracing was switched off for
// the call chain carried by ctx.
func (a *Agent) IsCurrentOperationDisabled(ctx context.Context) bool {
	s := scopeFrom(ctx)
	return s != nil && s.disabled.Load()
}

// SetCurrentOperationDisabled switches tracing off (or back on) for the call
// chain carried by the returned context. Disabling is sticky: pushes see it
// even if the agent is re-enabled meanwhile.
func (a *Agent) SetCurrentOperationDisabled(ctx context.Context, disabled bool) context.Context {
	if !disabled {
		if s := scopeFrom(ctx); s != nil {
			s.disabled.Store(false)
		}
		return ctx
	}
	ctx, s := withScope(ctx)
	s.disabled.Store(true)
	return ctx
}

// Operations returns all in-flight operations, oldest first.
func (a *Agent) Operations() []Entry {
	return a.registry.Snapshot()
}

// OperationsExcept returns the in-flight operations other than the one
// carried by ctx, so a request inspecting the tracer does not see itself.
func (a *Agent) OperationsExcept(ctx context.Context) []Entry {
	own := a.CurrentOperation(ctx)
	all := a.registry.Snapshot()
	out := all[:0]
	for _, e := range all {
		if e.Operation != own {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the in-flight operation registered under h.
func (a *Agent) Lookup(h Handle) (*operation.Operation, bool) {
	return a.registry.Lookup(h)
}

// Find returns the in-flight operation with the given id. Only operations
// flushed before completion have an id.
func (a *Agent) Find(id string) (*operation.Operation, bool) {
	return a.registry.Find(id)
}

// guard runs fn and reports a panic through the logger and the sink.
func (a *Agent) guard(what string, fn func() error) {
	if err := tracerrors.Contain(fn); err != nil {
		a.logger.Error().Err(err).Str("during", what).Msg("Tracer failure contained")
		a.sink.CollectError(what, err)
	}
}

func (a *Agent) taskFailed(name string, err error) {
	a.metrics.TaskFailed(name)
	a.sink.CollectError("background task failed on "+name+" scheduler", err)
}

// StartSpan adapts PushTraceEvent to probe.Tracer.
func (a *Agent) StartSpan(ctx context.Context, exec probe.Execution) (context.Context, probe.Span) {
	ctx, span := a.PushTraceEvent(ctx, exec)
	if span == nil {
		return ctx, nil
	}
	return ctx, span
}
