package sqlguard

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
)

// Policy is a prepared rego statement policy.
type Policy struct {
	query rego.PreparedEvalQuery
}

// Decision is the policy outcome.
type Decision struct {
	Allow   bool
	Reasons []string
}

// PolicyInput is the document the policy evaluates.
type PolicyInput struct {
	SQL            string `json:"sql"`
	StatementKind  string `json:"statement_kind"`
	StatementCount int    `json:"statement_count"`
	DatabaseType   string `json:"database_type"`
}

// NewPolicyInput describes sql for policy evaluation.
func NewPolicyInput(sql string, dbType database.Type) PolicyInput {
	return PolicyInput{
		SQL:            sql,
		StatementKind:  StatementKind(sql),
		StatementCount: CountStatements(sql),
		DatabaseType:   string(dbType),
	}
}

// NewPolicy prepares a policy module that defines data.sql_policy.decision.
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	r := rego.New(
		rego.Query("data.sql_policy.decision"),
		rego.Module("sql_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Policy{query: query}, nil
}

// LoadPolicy prepares the policy at path, or DefaultPolicy when path is empty.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewPolicy(ctx, string(content))
}

// Evaluate runs the policy. The decision must be an object {allow: bool, reasons: [string]}.
func (p *Policy) Evaluate(ctx context.Context, input PolicyInput) (Decision, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	var d Decision
	d.Allow, _ = obj["allow"].(bool)
	if reasons, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range reasons {
			d.Reasons = append(d.Reasons, fmt.Sprint(r))
		}
	}
	return d, nil
}

// DefaultPolicy rejects multi-statement text and resource-abusing functions.
const DefaultPolicy = `
package sql_policy

import rego.v1

blocked_functions := [
	"pg_sleep",
	"sleep(",
	"benchmark(",
	"load_file",
	"pg_read_file",
	"into outfile",
	"into dumpfile",
]

deny contains "multiple statements are not allowed" if {
	input.statement_count > 1
}

deny contains msg if {
	some fn in blocked_functions
	contains(lower(input.sql), fn)
	msg := sprintf("use of %s is not allowed", [fn])
}

# SELECT ... INTO creates a table on postgres.
deny contains "SELECT INTO is not allowed" if {
	input.database_type == "postgresql"
	input.statement_kind == "select"
	regex.match("(?i)\\binto\\s+\\w", input.sql)
}

decision := {"allow": count(deny) == 0, "reasons": sort(deny)}
`
