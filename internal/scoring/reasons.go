package scoring

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-retail/harrier/internal/domain"
)

// ReasonRule is a labelled CEL predicate over a user's feature vector.
// Rules evaluate in declaration order, so the resulting reason string is
// stable run to run.
type ReasonRule struct {
	// ID identifies the rule in logs.
	ID string

	// Engine restricts the rule to one scoring engine. Empty means the
	// rule applies regardless of which engine scored the user.
	Engine string

	// Label is the human-readable tag appended when the rule fires.
	Label string

	// Expression is a CEL predicate returning bool.
	Expression string
}

// BuiltinReasonRules returns the default reason catalog.
func BuiltinReasonRules() []ReasonRule {
	return []ReasonRule{
		{
			ID:         "first-order-payment-risk",
			Engine:     domain.EngineFirstOrder,
			Label:      "High Payment/Shipping Risk on New Account",
			Expression: "payment_risk > 50.0",
		},
		{
			ID:         "first-order-high-value",
			Engine:     domain.EngineFirstOrder,
			Label:      "High-Value First Order Return",
			Expression: "high_value_returns > 0",
		},
		{
			ID:         "first-order-full-refund",
			Engine:     domain.EngineFirstOrder,
			Label:      "Full Order Refund on First Purchase",
			Expression: "refund_ratio > 0.8",
		},
		{
			ID:         "serial-returner",
			Engine:     domain.EngineBehavioral,
			Label:      "Serial Returner",
			Expression: "return_rate > 0.8 && fast_returns > 0",
		},
		{
			ID:         "wardrobing",
			Engine:     domain.EngineBehavioral,
			Label:      "Wardrobing (Frequent fast returns < 48h)",
			Expression: "fast_returns >= 2",
		},
		{
			ID:         "high-value-abuse",
			Engine:     domain.EngineBehavioral,
			Label:      "High-Value Item Abuse",
			Expression: "high_value_returns >= 2",
		},
		{
			ID:         "category-abuse",
			Engine:     domain.EngineBehavioral,
			Label:      "Category-Specific Event Abuse",
			Expression: "category_risk > 50.0",
		},
		{
			ID:         "anomalous-pattern",
			Label:      "Highly Anomalous Pattern",
			Expression: "anomaly > 0.7",
		},
	}
}

// ReasonNormal is emitted when no rule fires.
const ReasonNormal = "Normal Pattern"

// compiledReason pairs a rule with its pre-compiled program.
type compiledReason struct {
	rule    ReasonRule
	program cel.Program
}

// ReasonEngine evaluates the reason catalog against feature vectors.
// Rules are compiled once at construction.
type ReasonEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []compiledReason
}

// NewReasonEngine creates an engine and compiles the given rules.
func NewReasonEngine(rules []ReasonRule) (*ReasonEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("return_rate", cel.DoubleType),
		cel.Variable("avg_return_days", cel.DoubleType),
		cel.Variable("fast_returns", cel.IntType),
		cel.Variable("high_value_returns", cel.IntType),
		cel.Variable("refund_ratio", cel.DoubleType),
		cel.Variable("category_risk", cel.DoubleType),
		cel.Variable("payment_risk", cel.DoubleType),
		cel.Variable("anomaly", cel.DoubleType),
		cel.Variable("txn_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &ReasonEngine{env: env}
	if err := e.Reload(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload replaces the loaded catalog with a freshly compiled one.
func (e *ReasonEngine) Reload(rules []ReasonRule) error {
	compiled := make([]compiledReason, 0, len(rules))
	for _, rule := range rules {
		program, err := e.compile(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledReason{rule: rule, program: program})
	}

	e.mu.Lock()
	e.compiled = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *ReasonEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Reasons evaluates the catalog for one scored user and returns the
// comma-joined reason string. Rules scoped to a different engine are
// skipped. Evaluation errors skip the rule rather than failing the score.
func (e *ReasonEngine) Reasons(fv *domain.FeatureVector, anomalyScore float64) string {
	activation := map[string]any{
		"return_rate":        fv.ReturnRate90d,
		"avg_return_days":    fv.AvgReturnTimeDays,
		"fast_returns":       int64(fv.FastReturnCount),
		"high_value_returns": int64(fv.HighValueReturnCount),
		"refund_ratio":       fv.RefundValueRatio,
		"category_risk":      fv.CategoryRiskScore,
		"payment_risk":       fv.PaymentRiskScore,
		"anomaly":            anomalyScore,
		"txn_count":          int64(fv.TxnCount),
	}

	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	var labels []string
	for _, c := range compiled {
		if c.rule.Engine != "" && c.rule.Engine != fv.EngineUsed {
			continue
		}
		out, _, err := c.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			labels = append(labels, c.rule.Label)
		}
	}

	if len(labels) == 0 {
		return ReasonNormal
	}
	return strings.Join(labels, ", ")
}

func (e *ReasonEngine) compile(rule ReasonRule) (cel.Program, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile reason rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("reason rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for reason rule %s: %w", rule.ID, err)
	}
	return program, nil
}
