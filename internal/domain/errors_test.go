package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", &ValidationError{Reason: "forbidden keyword: drop"}, false},
		{"connection", &ConnectionError{Key: "business"}, false},
		{"timeout", &TimeoutError{Timeout: time.Second}, true},
		{"execution", &ExecutionError{Err: errors.New("no such table: x")}, true},
		{"generation", &GenerationError{Reason: "empty sql"}, true},
		{"wrapped execution", fmt.Errorf("attempt 2: %w", &ExecutionError{Err: errors.New("boom")}), true},
		{"context canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentSQLQuery, ParseIntent("sql_query"))
	assert.Equal(t, IntentConfirmation, ParseIntent("confirmation"))
	assert.Equal(t, IntentChat, ParseIntent("weather"))
	assert.Equal(t, IntentChat, ParseIntent(""))
}

func TestExecutionErrorUnwrap(t *testing.T) {
	inner := errors.New("syntax error")
	err := error(&ExecutionError{Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "syntax error")
}
