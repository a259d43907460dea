// Package sqlguard decides whether generated SQL may run.
//
// The first layer is a lowercase textual check: forbidden keywords anywhere in the text reject
// the statement, then the statement must start with an allow-listed prefix. The check is
// deliberately blunt: a keyword inside a string literal or identifier (e.g. "created_at") is
// rejected too. The optional second layer is a rego statement policy.
package sqlguard

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xiaot623/gogo/sqlagent/internal/adapter/database"
	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// ForbiddenKeywords reject a statement when found anywhere in its lowercased text.
var ForbiddenKeywords = []string{"insert", "update", "delete", "drop", "alter", "create", "truncate", "replace"}

var mongoForbidden = []string{"$out", "$merge"}

var sqlPrefixes = []string{
	"select",
	"with",
	"show tables",
	"show columns",
	"describe",
	"desc ",
	"explain",
	"pragma table_info",
}

var mongoPrefixes = []string{`{"find"`, `{"aggregate"`, `{"count"`, `{"distinct"`}

// CheckText runs the textual check. It returns nil or a *domain.ValidationError.
func CheckText(sql string, dbType database.Type) error {
	lower := strings.ToLower(strings.TrimSpace(sql))
	if lower == "" {
		return &domain.ValidationError{Reason: "empty statement"}
	}

	for _, kw := range ForbiddenKeywords {
		if strings.Contains(lower, kw) {
			return &domain.ValidationError{Reason: fmt.Sprintf("forbidden keyword: %s", kw)}
		}
	}

	if dbType == database.TypeMongoDB {
		for _, kw := range mongoForbidden {
			if strings.Contains(lower, kw) {
				return &domain.ValidationError{Reason: fmt.Sprintf("forbidden stage: %s", kw)}
			}
		}
		compact := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, lower)
		if hasAnyPrefix(compact, mongoPrefixes) {
			return nil
		}
		return &domain.ValidationError{Reason: "only find, aggregate, count and distinct commands are allowed"}
	}

	if hasAnyPrefix(lower, sqlPrefixes) {
		return nil
	}
	return &domain.ValidationError{Reason: "only SELECT statements are allowed"}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Validator combines the textual check with an optional statement policy.
type Validator struct {
	policy *Policy
}

// NewValidator creates a validator. A nil policy disables the second layer.
func NewValidator(policy *Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate returns nil when sql may run against a backend of dbType.
func (v *Validator) Validate(ctx context.Context, sql string, dbType database.Type) error {
	if err := CheckText(sql, dbType); err != nil {
		return err
	}
	if v == nil || v.policy == nil {
		return nil
	}

	decision, err := v.policy.Evaluate(ctx, NewPolicyInput(sql, dbType))
	if err != nil {
		return &domain.ValidationError{Reason: err.Error()}
	}
	if !decision.Allow {
		return &domain.ValidationError{Reason: strings.Join(decision.Reasons, "; ")}
	}
	return nil
}

// StatementKind is the lowercased first word of sql.
func StatementKind(sql string) string {
	fields := strings.Fields(strings.ToLower(sql))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "{}\":,")
}

// CountStatements counts non-empty ';'-separated statements, ignoring separators inside quotes.
func CountStatements(sql string) int {
	var (
		count   int
		quote   rune
		pending bool
	)
	for _, r := range sql {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			pending = true
		case r == '\'' || r == '"' || r == '`':
			quote = r
			pending = true
		case r == ';':
			if pending {
				count++
			}
			pending = false
		case !unicode.IsSpace(r):
			pending = true
		}
	}
	if pending {
		count++
	}
	return count
}
