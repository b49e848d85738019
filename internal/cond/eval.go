// Package cond evaluates static when-expressions at plan time. The grammar
// supports string equality/inequality, list membership, boolean
// and/or/not, grouping parentheses, and bare identifiers treated as
// booleans — intentionally not Turing-complete, so every expression that
// only touches recognized static facts can be fully resolved without
// executing anything at runtime.
package cond

import (
	"fmt"
	"strings"

	"github.com/rustlehq/rustle-plan/internal/model"
)

// staticFacts is the fixed set of identifiers the evaluator can resolve
// without runtime input.
var staticFacts = map[string]bool{
	"ansible_os_family":    true,
	"ansible_system":       true,
	"ansible_distribution": true,
	"ansible_architecture": true,
	"ansible_machine":      true,
}

// Outcome classifies how a when-expression resolved against a task's
// candidate hosts.
type Outcome int

const (
	// AlwaysTrue: the condition holds for every candidate host; drop the
	// condition from the emitted plan and retain the task everywhere.
	AlwaysTrue Outcome = iota

	// AlwaysFalse: the condition fails for every candidate host; drop the
	// task entirely.
	AlwaysFalse

	// StaticFiltered: every candidate host's facts are statically known
	// and the expression is fully resolvable, but hosts disagree — some
	// satisfy it, some don't. The task is retained only for the
	// satisfying subset; no Dynamic condition needs to survive into the
	// plan since nothing is deferred to runtime. (See DESIGN.md: an
	// extension of spec's three-way Outcome to cover per-host static
	// variance, since "AlwaysTrue/AlwaysFalse" alone can't express it and
	// the expression is fully resolved so it isn't truly Dynamic either.)
	StaticFiltered

	// Dynamic: the expression could not be fully resolved statically
	// (parse failure, or it references a non-static identifier, or it
	// looks like template syntax). The task is retained for all
	// candidate hosts with the expression preserved verbatim for runtime
	// evaluation.
	Dynamic
)

// Result is the outcome of partitioning a task's candidate hosts against
// its when-expression.
type Result struct {
	Outcome Outcome

	// SatisfyingHosts is populated for StaticFiltered and Dynamic: the
	// hosts the task is retained for. For AlwaysTrue it equals the full
	// candidate set; for AlwaysFalse it is empty.
	SatisfyingHosts []string

	// Warning is non-empty when a parse failure demoted the expression to
	// Dynamic; callers should log it and append it to plan metadata
	// warnings, per spec §4.3 (the planner never aborts solely on a
	// malformed condition).
	Warning string
}

// errNonStatic signals that evaluation touched an identifier outside the
// recognized static-fact set; it is never returned to the caller directly,
// only used to make Evaluate's per-host walk bail out.
type errNonStatic struct{ ident string }

func (e errNonStatic) Error() string {
	return fmt.Sprintf("identifier %q is not a recognized static fact", e.ident)
}

// Partition evaluates expr against every host in candidateHosts using
// hostFacts, and classifies the result per the Outcome variants above.
func Partition(expr string, candidateHosts []string, hostFacts map[string]model.HostFacts) Result {
	if strings.TrimSpace(expr) == "" {
		return Result{Outcome: AlwaysTrue, SatisfyingHosts: candidateHosts}
	}

	ast, err := parse(expr)
	if err != nil {
		return Result{
			Outcome:         Dynamic,
			SatisfyingHosts: append([]string(nil), candidateHosts...),
			Warning:         fmt.Sprintf("condition %q: invalid syntax, treated as dynamic: %v", expr, err),
		}
	}

	trueHosts := make([]string, 0, len(candidateHosts))
	falseCount := 0
	for _, host := range candidateHosts {
		facts := factsMap(hostFacts[host])
		v, err := evalNode(ast, facts)
		if err != nil {
			// Non-static identifier reached: the whole expression defers
			// to runtime for every candidate host.
			return Result{
				Outcome:         Dynamic,
				SatisfyingHosts: append([]string(nil), candidateHosts...),
			}
		}
		if v {
			trueHosts = append(trueHosts, host)
		} else {
			falseCount++
		}
	}

	switch {
	case falseCount == 0:
		return Result{Outcome: AlwaysTrue, SatisfyingHosts: candidateHosts}
	case len(trueHosts) == 0:
		return Result{Outcome: AlwaysFalse}
	default:
		return Result{Outcome: StaticFiltered, SatisfyingHosts: trueHosts}
	}
}

func factsMap(f model.HostFacts) map[string]string {
	return map[string]string{
		"ansible_os_family":    f.OSFamily,
		"ansible_system":       f.System,
		"ansible_distribution": f.Distribution,
		"ansible_architecture": f.Architecture,
		"ansible_machine":      f.Architecture,
	}
}

func evalNode(n *node, facts map[string]string) (bool, error) {
	switch n.kind {
	case nodeBinOp:
		l, err := evalNode(n.left, facts)
		if err != nil {
			return false, err
		}
		switch n.op {
		case tokAnd:
			if !l {
				return false, nil
			}
			return evalNode(n.right, facts)
		case tokOr:
			if l {
				return true, nil
			}
			return evalNode(n.right, facts)
		}
		return false, fmt.Errorf("unknown binary operator")
	case nodeNot:
		v, err := evalNode(n.operand, facts)
		if err != nil {
			return false, err
		}
		return !v, nil
	case nodeCompare:
		if !staticFacts[n.ident] {
			return false, errNonStatic{n.ident}
		}
		actual := facts[n.ident]
		switch n.cmpOp {
		case tokEq:
			return actual == n.value, nil
		case tokNeq:
			return actual != n.value, nil
		}
		return false, fmt.Errorf("unknown comparison operator")
	case nodeMembership:
		if !staticFacts[n.ident] {
			return false, errNonStatic{n.ident}
		}
		actual := facts[n.ident]
		found := false
		for _, v := range n.values {
			if v == actual {
				found = true
				break
			}
		}
		if n.negate {
			return !found, nil
		}
		return found, nil
	case nodeIdentifier:
		if !staticFacts[n.ident] {
			return false, errNonStatic{n.ident}
		}
		return facts[n.ident] != "", nil
	default:
		return false, fmt.Errorf("unknown node kind")
	}
}
