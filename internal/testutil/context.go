// Package testutil provides helpers shared by the coral-trace tests.
package testutil

import (
	"context"
	"time"
)

// DefaultTimeout bounds agent shutdown and store queries in tests.
const DefaultTimeout = 30 * time.Second

// NewTestContext returns a context bounded by DefaultTimeout.
func NewTestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultTimeout)
}
