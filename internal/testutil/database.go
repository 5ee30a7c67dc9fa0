package testutil

import (
	"testing"

	"github.com/coral-mesh/coral-trace/internal/store"
)

// NewTestStore opens an in-memory trace store that is closed when the test
// completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open("", NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return s
}
