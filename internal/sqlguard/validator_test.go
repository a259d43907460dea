package sqlguard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

func TestCheckText(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		dbType database.Type
		ok     bool
	}{
		{"plain select", "SELECT * FROM orders", database.TypeSQLite, true},
		{"leading whitespace", "  \n select 1", database.TypeSQLite, true},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", database.TypePostgreSQL, true},
		{"show tables", "SHOW TABLES", database.TypeMySQL, true},
		{"describe", "DESCRIBE orders", database.TypeMySQL, true},
		{"drop", "DROP TABLE users", database.TypeSQLite, false},
		{"delete", "delete from users", database.TypeSQLite, false},
		{"non select", "VACUUM", database.TypeSQLite, false},
		{"empty", "   ", database.TypeSQLite, false},
		// Keyword matching is textual, so literals and identifiers trip it as well.
		{"keyword in literal", "SELECT * FROM t WHERE note = 'please update me'", database.TypeSQLite, false},
		{"keyword in identifier", "SELECT created_at FROM orders", database.TypeSQLite, false},
		{"mongo find", `{"find": "orders", "filter": {"status": "paid"}}`, database.TypeMongoDB, true},
		{"mongo aggregate", `{ "aggregate" : "orders", "pipeline": [] }`, database.TypeMongoDB, true},
		{"mongo out stage", `{"aggregate": "orders", "pipeline": [{"$out": "copy"}]}`, database.TypeMongoDB, false},
		{"mongo sql", "SELECT * FROM orders", database.TypeMongoDB, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckText(tt.sql, tt.dbType)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
		})
	}
}

func TestCheckTextReason(t *testing.T) {
	err := CheckText("DROP TABLE users", database.TypeSQLite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drop")

	err = CheckText("VACUUM", database.TypeSQLite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only SELECT")
}

func TestCountStatements(t *testing.T) {
	assert.Equal(t, 1, CountStatements("SELECT 1"))
	assert.Equal(t, 1, CountStatements("SELECT 1;"))
	assert.Equal(t, 1, CountStatements("SELECT 1;  \n"))
	assert.Equal(t, 2, CountStatements("SELECT 1; SELECT 2"))
	assert.Equal(t, 1, CountStatements("SELECT 'a;b' FROM t"))
	assert.Equal(t, 0, CountStatements(""))
}

func TestStatementKind(t *testing.T) {
	assert.Equal(t, "select", StatementKind("  SELECT * FROM t"))
	assert.Equal(t, "find", StatementKind(`{"find": "orders"}`))
	assert.Equal(t, "", StatementKind(""))
}

func TestValidatorWithPolicy(t *testing.T) {
	ctx := context.Background()
	policy, err := NewPolicy(ctx, DefaultPolicy)
	require.NoError(t, err)
	v := NewValidator(policy)

	assert.NoError(t, v.Validate(ctx, "SELECT name FROM orders", database.TypeSQLite))

	err = v.Validate(ctx, "SELECT 1; SELECT 2", database.TypeSQLite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple statements")

	err = v.Validate(ctx, "SELECT pg_sleep(100)", database.TypePostgreSQL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_sleep")

	err = v.Validate(ctx, "SELECT * INTO backup FROM orders", database.TypePostgreSQL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELECT INTO")

	// The textual layer still runs first.
	err = v.Validate(ctx, "DROP TABLE orders", database.TypeSQLite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden keyword")
}

func TestValidatorWithoutPolicy(t *testing.T) {
	v := NewValidator(nil)
	assert.NoError(t, v.Validate(context.Background(), "SELECT 1; SELECT 2", database.TypeSQLite))
}

func TestCustomPolicy(t *testing.T) {
	ctx := context.Background()
	module := `
package sql_policy

import rego.v1

default decision := {"allow": false, "reasons": ["read-only replica closed"]}
`
	policy, err := NewPolicy(ctx, module)
	require.NoError(t, err)

	d, err := policy.Evaluate(ctx, NewPolicyInput("SELECT 1", database.TypeSQLite))
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, []string{"read-only replica closed"}, d.Reasons)

	_, err = NewPolicy(ctx, "package broken\n this is not rego")
	assert.Error(t, err)
}
