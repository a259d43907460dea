// Package executor runs validated SQL against a registered database with a time limit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
	"github.com/xiaot623/gogo/sqlagent/internal/metrics"
	"github.com/xiaot623/gogo/sqlagent/internal/sqlguard"
)

// DefaultTimeout bounds a query when the caller passes zero.
const DefaultTimeout = 30 * time.Second

// Result is a normalized query result.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// Executor validates and runs queries.
type Executor struct {
	registry  *database.Registry
	validator *sqlguard.Validator
}

// New creates an executor.
func New(registry *database.Registry, validator *sqlguard.Validator) *Executor {
	return &Executor{registry: registry, validator: validator}
}

type outcome struct {
	rs  *database.ResultSet
	err error
}

// Execute runs sql against dbKey. The wait is abandoned after timeout; the same deadline is
// passed to the driver, which may or may not cancel the statement server-side.
func (e *Executor) Execute(ctx context.Context, dbKey, sql string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	adapter, err := e.registry.Adapter(dbKey)
	if err != nil {
		return nil, &domain.ConnectionError{Key: dbKey, Err: err}
	}
	if err := e.validator.Validate(ctx, sql, adapter.Type()); err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, &domain.ConnectionError{Key: dbKey, Err: err}
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		rs, err := adapter.ExecuteQuery(qctx, sql)
		done <- outcome{rs: rs, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		log.Warn().Str("db_key", dbKey).Dur("timeout", timeout).Msg("query abandoned after timeout")
		return nil, &domain.TimeoutError{Timeout: timeout}
	case out := <-done:
		metrics.QueryDuration.WithLabelValues(dbKey).Observe(time.Since(start).Seconds())
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, &domain.TimeoutError{Timeout: timeout}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &domain.ExecutionError{Err: out.err}
		}
		return toResult(out.rs), nil
	}
}

func toResult(rs *database.ResultSet) *Result {
	res := &Result{Columns: rs.Columns, Rows: make([]map[string]any, 0, len(rs.Rows))}
	if res.Columns == nil {
		res.Columns = []string{}
	}
	for _, r := range rs.Rows {
		res.Rows = append(res.Rows, map[string]any(r))
	}
	res.RowCount = len(res.Rows)
	return res
}

// EmptyResultText is what Format renders for a result with no rows.
const EmptyResultText = "Query returned no rows."

// Format renders at most maxRows rows as a markdown table.
func Format(res *Result, maxRows int) string {
	if res == nil || len(res.Rows) == 0 {
		return EmptyResultText
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(res.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(res.Columns)) + "\n")

	shown := res.Rows
	if maxRows > 0 && len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	for _, row := range shown {
		cells := make([]string, len(res.Columns))
		for i, c := range res.Columns {
			cells[i] = formatCell(row[c])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	if extra := len(res.Rows) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "\n... %d more rows not shown", extra)
	}
	return strings.TrimRight(b.String(), "\n")
}

// cellEscaper keeps each value on its table row.
var cellEscaper = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", "\\|")

func formatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return cellEscaper.Replace(fmt.Sprint(v))
}
