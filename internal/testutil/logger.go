package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a debug-level logger whose output is buffered and
// written to t.Log only if the test fails.
func NewTestLogger(t testing.TB) zerolog.Logger {
	w := &failureWriter{}
	t.Cleanup(func() {
		if t.Failed() {
			w.dump(t)
		}
	})
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Str("test", t.Name()).Logger()
}

// failureWriter collects log lines written from any goroutine.
type failureWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *failureWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *failureWriter) dump(t testing.TB) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		t.Logf("tracer log:\n%s", w.buf.String())
	}
}
