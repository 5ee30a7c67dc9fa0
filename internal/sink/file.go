package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-trace/internal/hoststats"
	"github.com/coral-mesh/coral-trace/internal/operation"
	"github.com/coral-mesh/coral-trace/internal/safe"
)

// FileSink appends one JSON Record per line to a file.
type FileSink struct {
	logger zerolog.Logger
	host   *hoststats.Collector

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFileSink opens path for appending. host may be nil.
func NewFileSink(path string, logger zerolog.Logger, host *hoststats.Collector) (*FileSink, error) {
	f, err := safe.OpenAppend(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open file sink: %w", err)
	}
	return &FileSink{
		logger: logger.With().Str("component", "sink.file").Str("path", path).Logger(),
		host:   host,
		f:      f,
		enc:    json.NewEncoder(f),
	}, nil
}

// Collect implements Sink.
func (s *FileSink) Collect(_ context.Context, snap *operation.Snapshot) error {
	return s.write(NewRecord(KindCompleted, snap))
}

// CollectFirstStuck implements Sink.
func (s *FileSink) CollectFirstStuck(ctx context.Context, snap *operation.Snapshot) error {
	rec := NewRecord(KindStuck, snap)
	if s.host != nil {
		hs := s.host.Collect(ctx)
		rec.Host = &hs
	}
	return s.write(rec)
}

// CollectError implements Sink. Errors are written as records of their own.
func (s *FileSink) CollectError(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return
	}
	line := struct {
		Kind    string    `json:"kind"`
		Time    time.Time `json:"time"`
		Message string    `json:"message"`
		Error   string    `json:"error,omitempty"`
	}{Kind: "error", Time: time.Now(), Message: msg}
	if err != nil {
		line.Error = err.Error()
	}
	if werr := s.enc.Encode(line); werr != nil {
		s.logger.Warn().Err(werr).Msg("Failed to write error record")
	}
}

func (s *FileSink) write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return fmt.Errorf("file sink closed")
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Close closes the file. Later writes fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.enc = nil, nil
	return err
}
