package scheduler

import (
	"errors"
	"sync"
	"time"

	tracerrors "github.com/coral-mesh/coral-trace/internal/errors"
)

type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateDone
	stateFailed
	stateCancelled
)

// Handle controls one scheduled task.
type Handle struct {
	s         *Scheduler
	fn        func() (Result, error)
	period    time.Duration
	repeating bool
	delay     time.Duration

	mu        sync.Mutex
	state     taskState
	cancelled bool
	timer     *time.Timer
	err       error
	runs      int
	done      chan struct{}
	doneOnce  sync.Once
}

func (h *Handle) arm(delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if delay < 0 {
		delay = 0
	}
	h.delay = delay
	h.timer = time.AfterFunc(delay, func() { h.s.enqueue(h) })
}

// Cancel prevents future runs. A run already in progress is allowed to
// finish. It returns false if the task had already finished, failed or been
// cancelled; Err then reports any failure.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.state == stateDone || h.state == stateFailed {
		return false
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.state == statePending {
		h.state = stateCancelled
		h.finish()
	}
	return true
}

// Err returns the failure of the task: the recovered panic, or the last
// error returned by a run.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the task will never run again.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Delay is the initial delay the task was armed with.
func (h *Handle) Delay() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delay
}

// Runs is the number of times the task has run.
func (h *Handle) Runs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

// Cancelled reports whether Cancel succeeded.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// abandon is used when the scheduler stops before the task runs.
func (h *Handle) abandon() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.state == statePending {
		h.state = stateCancelled
		h.finish()
	}
}

func (h *Handle) run() {
	h.mu.Lock()
	if h.cancelled || h.state != statePending {
		h.mu.Unlock()
		return
	}
	h.state = stateRunning
	h.mu.Unlock()

	res, panicked, err := h.invoke()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++

	switch {
	case panicked:
		h.err = err
		h.state = stateFailed
		h.s.logger.Error().Err(err).Msg("Scheduled task panicked, it will not run again")
		h.s.failed(err)
		h.finish()
		return
	case err != nil:
		h.err = err
		h.s.logger.Warn().Err(err).Bool("repeating", h.repeating).Msg("Scheduled task failed")
		h.s.failed(err)
		if !h.repeating {
			h.state = stateFailed
			h.finish()
			return
		}
	}

	if h.repeating && res == Continue && !h.cancelled {
		h.state = statePending
		h.timer = time.AfterFunc(h.period, func() { h.s.enqueue(h) })
		return
	}
	if h.cancelled {
		h.state = stateCancelled
	} else {
		h.state = stateDone
	}
	h.finish()
}

func (h *Handle) invoke() (Result, bool, error) {
	res := StopRepeating
	err := tracerrors.Contain(func() error {
		var err error
		res, err = h.fn()
		return err
	})
	var pe *tracerrors.PanicError
	return res, errors.As(err, &pe), err
}
