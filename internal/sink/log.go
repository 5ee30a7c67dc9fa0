package sink

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/hoststats"
	"github.com/coral-mesh/coral-trace/internal/operation"
)

// LogSink writes a one-line summary per operation and, at debug level, the
// full rendered trace.
type LogSink struct {
	logger zerolog.Logger
	host   *hoststats.Collector
}

// NewLogSink creates a log sink. host may be nil.
func NewLogSink(logger zerolog.Logger, host *hoststats.Collector) *LogSink {
	return &LogSink{
		logger: logger.With().Str("component", "sink.log").Logger(),
		host:   host,
	}
}

// Collect implements Sink.
func (s *LogSink) Collect(_ context.Context, snap *operation.Snapshot) error {
	rec := NewRecord(KindCompleted, snap)
	s.summary(s.logger.Info(), rec).Msg("Slow operation")
	s.debugTrace(rec)
	return nil
}

// CollectFirstStuck implements Sink.
func (s *LogSink) CollectFirstStuck(ctx context.Context, snap *operation.Snapshot) error {
	rec := NewRecord(KindStuck, snap)
	ev := s.summary(s.logger.Warn(), rec)
	if s.host != nil {
		hs := s.host.Collect(ctx)
		ev = ev.Float64("process_cpu_percent", hs.ProcessCPUPercent).
			Int64("rss_bytes", hs.RSSBytes).
			Int("goroutines", hs.Goroutines)
	}
	if len(rec.Stacks) > 0 && len(rec.Stacks[0].Frames) > 0 {
		top := rec.Stacks[0]
		ev = ev.Str("hot_frame", top.Frames[len(top.Frames)-1].String()).Str("hot_state", top.State)
	}
	ev.Msg("Operation stuck")
	s.debugTrace(rec)
	return nil
}

// CollectError implements Sink.
func (s *LogSink) CollectError(msg string, err error) {
	s.logger.Error().Err(err).Msg(msg)
}

func (s *LogSink) summary(ev *zerolog.Event, rec Record) *zerolog.Event {
	return ev.
		Str("id", rec.ID).
		Str("description", rec.Description).
		Str("username", rec.Username).
		Dur("duration", rec.Duration).
		Int("events", rec.EventCount).
		Int64("samples", rec.Samples).
		Strs("goroutines", rec.Goroutines)
}

func (s *LogSink) debugTrace(rec Record) {
	if s.logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	var sb strings.Builder
	if err := WriteText(&sb, rec); err != nil {
		return
	}
	s.logger.Debug().Str("id", rec.ID).Msg(sb.String())
}
