package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/coral-mesh/coral-trace/internal/operation"
)

// ErrSinkFailed is returned by a RecordingSink configured to fail.
var ErrSinkFailed = errors.New("sink failed")

// CollectedError is one CollectError call seen by a RecordingSink.
type CollectedError struct {
	Msg string
	Err error
}

// RecordingSink keeps everything it receives for later assertions.
type RecordingSink struct {
	mu        sync.Mutex
	completed []*operation.Snapshot
	stuck     []*operation.Snapshot
	errs      []CollectedError

	// Fail makes Collect and CollectFirstStuck return ErrSinkFailed after
	// recording.
	Fail bool
}

// Collect records a completed operation.
func (s *RecordingSink) Collect(_ context.Context, snap *operation.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, snap)
	if s.Fail {
		return ErrSinkFailed
	}
	return nil
}

// CollectFirstStuck records a stuck operation.
func (s *RecordingSink) CollectFirstStuck(_ context.Context, snap *operation.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck = append(s.stuck, snap)
	if s.Fail {
		return ErrSinkFailed
	}
	return nil
}

// CollectError records a tracer failure.
func (s *RecordingSink) CollectError(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, CollectedError{Msg: msg, Err: err})
}

// Completed returns the completed snapshots received so far.
func (s *RecordingSink) Completed() []*operation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*operation.Snapshot(nil), s.completed...)
}

// Stuck returns the stuck snapshots received so far.
func (s *RecordingSink) Stuck() []*operation.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*operation.Snapshot(nil), s.stuck...)
}

// Errors returns the reported failures.
func (s *RecordingSink) Errors() []CollectedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CollectedError(nil), s.errs...)
}
