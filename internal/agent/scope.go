package agent

import (
	"context"
	"sync/atomic"

	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/trace"
	"github.com/coral-mesh/coral-trace/pkg/probe"
)

type scopeKey struct{}

// scope is the per-call-chain slot standing in for a thread-local: it holds
// the operation the goroutine is currently working on and the sticky
// "disabled" flag. A scope is created by the first push on a context that
// has none and travels down the call chain inside the returned context.
type scope struct {
	current  atomic.Pointer[active]
	disabled atomic.Bool
}

type active struct {
	op     *operation.Operation
	handle Handle
}

func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

func withScope(ctx context.Context) (context.Context, *scope) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s := scopeFrom(ctx); s != nil {
		return ctx, s
	}
	s := &scope{}
	return context.WithValue(ctx, scopeKey{}, s), s
}

type spanKind int

const (
	spanEvent spanKind = iota
	spanMetricOnly
	spanDisabled
)

// Span is returned by PushTraceEvent and must be ended exactly once, on
// every exit path, by the code that pushed it. A nil *Span is valid and
// ending it does nothing.
type Span struct {
	agent  *Agent
	kind   spanKind
	scope  *scope
	act    *active
	event  *trace.Event
	exec   probe.Execution
	start  int64
	ended  atomic.Bool
	clears bool
}

// Event returns the trace event the span records, or nil for spans that
// only record metrics.
func (s *Span) Event() *trace.Event {
	if s == nil {
		return nil
	}
	return s.event
}

// Operation returns the operation the span belongs to, if any.
func (s *Span) Operation() *operation.Operation {
	if s == nil || s.act == nil {
		return nil
	}
	return s.act.op
}

// End pops the span at the current clock tick.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.agent.PopTraceEvent(s, s.agent.clock.Nanos())
}
