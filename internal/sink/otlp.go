package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/safe"
	"github.com/coral-mesh/coral-trace/pkg/probe"
	"github.com/coral-mesh/coral-trace/pkg/version"
)

const scopeName = "github.com/coral-mesh/coral-trace"

// OTLPSink appends operations as OTLP/JSON trace documents, one per line,
// in the format accepted by the OpenTelemetry collector file receiver.
// Every trace event becomes a span; an operation flushed several times
// keeps the same trace id.
type OTLPSink struct {
	service string
	logger  zerolog.Logger
	marshal ptrace.JSONMarshaler

	mu sync.Mutex
	f  *os.File
}

// NewOTLPSink opens path for appending. service is reported as the
// service.name resource attribute.
func NewOTLPSink(path, service string, logger zerolog.Logger) (*OTLPSink, error) {
	f, err := safe.OpenAppend(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open otlp sink: %w", err)
	}
	return &OTLPSink{
		service: service,
		logger:  logger.With().Str("component", "sink.otlp").Str("path", path).Logger(),
		f:       f,
	}, nil
}

// Collect implements Sink.
func (s *OTLPSink) Collect(_ context.Context, snap *operation.Snapshot) error {
	return s.write(Traces(s.service, NewRecord(KindCompleted, snap)))
}

// CollectFirstStuck implements Sink.
func (s *OTLPSink) CollectFirstStuck(_ context.Context, snap *operation.Snapshot) error {
	return s.write(Traces(s.service, NewRecord(KindStuck, snap)))
}

// CollectError implements Sink. OTLP traces have no place for tracer errors.
func (s *OTLPSink) CollectError(msg string, err error) {
	s.logger.Debug().Err(err).Msg(msg)
}

func (s *OTLPSink) write(td ptrace.Traces) error {
	data, err := s.marshal.MarshalTraces(td)
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("otlp sink closed")
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("failed to write traces: %w", err)
	}
	return nil
}

// Close closes the file.
func (s *OTLPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Traces converts rec into OTLP trace data.
func Traces(service string, rec Record) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	rs.Resource().Attributes().PutStr("service.name", service)
	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(scopeName)
	ss.Scope().SetVersion(version.Version)

	traceID := traceIDFor(rec.ID)
	for _, e := range rec.Events {
		span := ss.Spans().AppendEmpty()
		span.SetTraceID(traceID)
		span.SetSpanID(spanIDFor(e.Index))
		if e.ParentIndex >= 0 {
			span.SetParentSpanID(spanIDFor(e.ParentIndex))
		}
		span.SetName(e.Description)

		start := rec.StartTime.Add(e.Offset)
		span.SetStartTimestamp(pcommon.NewTimestampFromTime(start))
		span.SetEndTimestamp(pcommon.NewTimestampFromTime(start.Add(e.Duration)))

		attrs := span.Attributes()
		attrs.PutInt("coral.trace.index", int64(e.Index))
		attrs.PutInt("coral.trace.level", int64(e.Level))
		attrs.PutBool("coral.trace.completed", e.Completed)
		if e.MetricKey != "" {
			attrs.PutStr("coral.trace.metric_key", e.MetricKey)
		}
		putContext(attrs, "coral.context", e.Context)

		if e.Index != 0 {
			span.SetKind(ptrace.SpanKindInternal)
			continue
		}

		span.SetKind(ptrace.SpanKindServer)
		if rec.Username != "" {
			attrs.PutStr("enduser.id", rec.Username)
		}
		if rec.Stuck {
			attrs.PutBool("coral.trace.stuck", true)
			span.Status().SetCode(ptrace.StatusCodeError)
			span.Status().SetMessage("operation stuck")
		}
		for _, m := range rec.Metrics {
			ev := span.Events().AppendEmpty()
			ev.SetName("coral.metric")
			ev.SetTimestamp(pcommon.NewTimestampFromTime(start.Add(rec.Duration)))
			ev.Attributes().PutStr("name", m.Name)
			ev.Attributes().PutInt("count", m.Count)
			ev.Attributes().PutInt("total_ns", m.Total)
			ev.Attributes().PutInt("min_ns", m.Min)
			ev.Attributes().PutInt("max_ns", m.Max)
		}
	}
	return td
}

func traceIDFor(id string) pcommon.TraceID {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.New()
	}
	return pcommon.TraceID(u)
}

func spanIDFor(index int) pcommon.SpanID {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(index)+1)
	return pcommon.SpanID(b)
}

func putContext(attrs pcommon.Map, prefix string, m probe.ContextMap) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := prefix + "." + k
		switch v := m[k].(type) {
		case probe.ContextMap:
			putContext(attrs, key, v)
		case map[string]any:
			putContext(attrs, key, probe.ContextMap(v))
		case string:
			attrs.PutStr(key, v)
		case bool:
			attrs.PutBool(key, v)
		case int:
			attrs.PutInt(key, int64(v))
		case int64:
			attrs.PutInt(key, v)
		case float64:
			attrs.PutDouble(key, v)
		default:
			attrs.PutStr(key, fmt.Sprint(v))
		}
	}
}
