// Package policy assigns a risk_level to each TaskPlan via an embedded
// OPA/Rego policy, grounded on the teacher's pkg/policy Engine (compiled
// Rego queries cached per policy, evaluated per resource).
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/rustlehq/rustle-plan/internal/model"
)

// Engine evaluates the risk-tagging policy against TaskPlans.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the built-in risk policy once; compilation failures
// are a programming error in the embedded Rego source, not a runtime
// condition callers need to recover from differently than any other
// construction failure.
func NewEngine(ctx context.Context) (*Engine, error) {
	r := rego.New(
		rego.Query("data.rustleplan.risk.level"),
		rego.Module("risk.rego", riskPolicy),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile risk policy: %w", err)
	}
	return &Engine{query: pq}, nil
}

// RiskLevel evaluates the policy for a single task and returns its
// classification. Evaluation failure degrades to Medium rather than
// aborting planning; risk tagging is advisory, not a plan invariant.
func (e *Engine) RiskLevel(ctx context.Context, t model.TaskPlan) model.RiskLevel {
	input := map[string]interface{}{
		"module": t.Module,
		"args":   t.Args,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return model.RiskMedium
	}

	level, ok := rs[0].Expressions[0].Value.(string)
	if !ok {
		return model.RiskMedium
	}

	switch level {
	case "critical":
		return model.RiskCritical
	case "high":
		return model.RiskHigh
	case "medium":
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// AnnotateTasks sets RiskLevel on every task in place.
func (e *Engine) AnnotateTasks(ctx context.Context, tasks []model.TaskPlan) {
	for i := range tasks {
		tasks[i].RiskLevel = e.RiskLevel(ctx, tasks[i])
	}
}
