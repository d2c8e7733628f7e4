package rules

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidFilter is returned for filter expressions that fail to compile.
var ErrInvalidFilter = errors.New("invalid filter expression")

// Filter selects annotated transactions with a CEL expression, e.g.
//
//	suspicious && "IMPOSSIBLE_TRAVEL" in rules && amount > 100.0
type Filter struct {
	expression string
	program    cel.Program
}

var filterEnv = mustFilterEnv()

func mustFilterEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("latitude", cel.DoubleType),
		cel.Variable("longitude", cel.DoubleType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("suspicious", cel.BoolType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("rules", cel.ListType(cel.StringType)),
		cel.Variable("severities", cel.ListType(cel.StringType)),
		cel.Variable("has_label", cel.BoolType),
		cel.Variable("is_fraud", cel.BoolType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}

// NewFilter compiles expression; it must evaluate to a bool.
func NewFilter(expression string) (*Filter, error) {
	ast, issues := filterEnv.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, ast.OutputType())
	}

	program, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	return &Filter{expression: expression, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expression
}

// Match evaluates the filter against one annotated transaction.
func (f *Filter) Match(a *domain.AnnotatedTransaction) (bool, error) {
	out, _, err := f.program.Eval(activation(a))
	if err != nil {
		return false, fmt.Errorf("filter %q on %s: %w", f.expression, a.ID, err)
	}
	match, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("filter %q on %s: non-bool result %v", f.expression, a.ID, out)
	}
	return bool(match), nil
}

// Apply returns the matching transactions, preserving order.
func (f *Filter) Apply(items []domain.AnnotatedTransaction) ([]domain.AnnotatedTransaction, error) {
	out := make([]domain.AnnotatedTransaction, 0, len(items))
	for i := range items {
		ok, err := f.Match(&items[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, items[i])
		}
	}
	return out, nil
}

func activation(a *domain.AnnotatedTransaction) map[string]any {
	severities := make([]string, len(a.Violations))
	for i, v := range a.Violations {
		severities[i] = string(v.Severity)
	}

	return map[string]any{
		"id":         a.ID,
		"user_id":    a.UserID,
		"amount":     a.Amount.InexactFloat64(),
		"merchant":   a.Merchant,
		"location":   a.Location,
		"latitude":   a.Latitude,
		"longitude":  a.Longitude,
		"timestamp":  a.Timestamp,
		"hour":       int64(a.Timestamp.Hour()),
		"suspicious": a.Suspicious,
		"risk_score": int64(a.RiskScore),
		"rules":      a.RuleIDs(),
		"severities": severities,
		"has_label":  a.HasGroundTruth(),
		"is_fraud":   a.IsFraud(),
	}
}
