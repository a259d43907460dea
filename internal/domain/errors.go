package domain

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is returned when SQL fails the safety check. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "SQL validation failed: " + e.Reason
}

// TimeoutError is returned when a query exceeds its time limit.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query timed out after %s", e.Timeout)
}

// ExecutionError wraps a database error raised while running a query.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return "query execution failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// GenerationError is returned when the model output cannot be turned into SQL.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("SQL generation failed: %s: %v", e.Reason, e.Err)
	}
	return "SQL generation failed: " + e.Reason
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ConnectionError is returned when no database adapter can serve a key. Fatal for the turn.
type ConnectionError struct {
	Key string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("database %q unavailable: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("database %q unavailable", e.Key)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsRetryable reports whether the SQL loop may try again after err.
func IsRetryable(err error) bool {
	var (
		timeoutErr *TimeoutError
		execErr    *ExecutionError
		genErr     *GenerationError
	)
	return errors.As(err, &timeoutErr) || errors.As(err, &execErr) || errors.As(err, &genErr)
}
