// Package sink receives operation snapshots from the agent and delivers
// them to logs, files, OTLP/JSON exports and live websocket subscribers.
package sink

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/operation"
)

// Sink receives operation snapshots. Calls may arrive from several
// goroutines; implementations must be safe for concurrent use.
type Sink interface {
	// Collect receives a completed operation that met the dispatch policy.
	Collect(ctx context.Context, snap *operation.Snapshot) error
	// CollectFirstStuck receives a running operation the first time it
	// crosses the stuck threshold.
	CollectFirstStuck(ctx context.Context, snap *operation.Snapshot) error
	// CollectError reports a tracer-internal failure.
	CollectError(msg string, err error)
}

// Multi fans every call out to a list of sinks.
type Multi struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewMulti returns a sink forwarding to sinks in order.
func NewMulti(logger zerolog.Logger, sinks ...Sink) *Multi {
	return &Multi{
		sinks:  sinks,
		logger: logger.With().Str("component", "sink").Logger(),
	}
}

// Collect implements Sink. Every sink is called even if an earlier one fails.
func (m *Multi) Collect(ctx context.Context, snap *operation.Snapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Collect(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectFirstStuck implements Sink.
func (m *Multi) CollectFirstStuck(ctx context.Context, snap *operation.Snapshot) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.CollectFirstStuck(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectError implements Sink.
func (m *Multi) CollectError(msg string, err error) {
	for _, s := range m.sinks {
		s.CollectError(msg, err)
	}
}

// Close closes every sink that is an io.Closer.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Collect(context.Context, *operation.Snapshot) error           { return nil }
func (Discard) CollectFirstStuck(context.Context, *operation.Snapshot) error { return nil }
func (Discard) CollectError(string, error)                                   {}
