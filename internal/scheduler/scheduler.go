// Package scheduler runs delayed and repeating tasks on a single worker
// goroutine per scheduler.
//
// Timers only enqueue work; every task of a scheduler runs on its worker, so
// a slow task delays the other tasks of the same scheduler but never those of
// another scheduler.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Result tells a repeating task's scheduler whether to fire it again.
type Result int

const (
	// Continue schedules the next firing after the period.
	Continue Result = iota
	// StopRepeating ends the task without treating it as a failure.
	StopRepeating
)

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler owns one worker goroutine and an unbounded run queue.
type Scheduler struct {
	name   string
	logger zerolog.Logger

	mu      sync.Mutex
	queue   []*Handle
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
	exited  chan struct{}

	// OnFailure, if set, is called for every task error or panic.
	OnFailure func(name string, err error)
}

// New starts a scheduler.
func New(name string, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		name:   name,
		logger: logger.With().Str("component", "scheduler").Str("scheduler", name).Logger(),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.work()
	return s
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// Submit runs fn on the worker as soon as possible.
func (s *Scheduler) Submit(fn func() error) *Handle {
	h := s.newHandle(func() (Result, error) { return StopRepeating, fn() }, 0, false)
	s.enqueue(h)
	return h
}

// Schedule runs fn once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func() error) *Handle {
	h := s.newHandle(func() (Result, error) { return StopRepeating, fn() }, 0, false)
	h.arm(delay)
	return h
}

// ScheduleWithFixedDelay runs fn after initial and then period after each
// run finishes, until fn returns StopRepeating, panics or the handle is
// cancelled. A returned error is logged and does not stop the repetition.
func (s *Scheduler) ScheduleWithFixedDelay(initial, period time.Duration, fn func() (Result, error)) *Handle {
	h := s.newHandle(fn, period, true)
	h.arm(initial)
	return h
}

// Stop discards queued work and waits for the running task, if any.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.exited
		return
	}
	s.stopped = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	close(s.quit)
	<-s.exited
	for _, h := range queued {
		h.abandon()
	}
	s.logger.Debug().Int("discarded", len(queued)).Msg("Scheduler stopped")
}

func (s *Scheduler) newHandle(fn func() (Result, error), period time.Duration, repeating bool) *Handle {
	return &Handle{
		s:         s,
		fn:        fn,
		period:    period,
		repeating: repeating,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) enqueue(h *Handle) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		h.abandon()
		return
	}
	s.queue = append(s.queue, h)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	h := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return h, true
}

func (s *Scheduler) work() {
	defer close(s.exited)
	for {
		for {
			h, ok := s.next()
			if !ok {
				break
			}
			h.run()
			select {
			case <-s.quit:
				return
			default:
			}
		}
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
	}
}

func (s *Scheduler) failed(err error) {
	if s.OnFailure != nil {
		s.OnFailure(s.name, err)
	}
}
