// Package errors provides error handling helpers for the tracer.
package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose closes closer and logs a failure instead of dropping it.
// Use this in defer statements.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRollback rolls back tx and logs a failure. sql.ErrTxDone, returned
// after a successful commit, is ignored.
func DeferRollback(logger zerolog.Logger, tx *sql.Tx) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("Transaction rollback failed")
	}
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Contain runs fn and converts a panic into a *PanicError. Instrumentation
// hooks run inside application goroutines and must never crash them.
func Contain(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
