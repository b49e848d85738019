package cache

import (
	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/validate"
)

// ChangeKind tags why a task differs between two parses of the same play.
type ChangeKind string

const (
	ChangeAdded          ChangeKind = "added"
	ChangeRemoved        ChangeKind = "removed"
	ChangeArgsOnly       ChangeKind = "args_only"
	ChangeModuleChanged  ChangeKind = "module_changed"
)

// TaskChange describes one task's delta between the previous and current
// parse.
type TaskChange struct {
	Kind   ChangeKind
	TaskID string
	PlayID string
	Before *model.ParsedTask
	After  *model.ParsedTask
}

// Diff is the computed delta between two parses of a playbook, scoped per
// play so the incremental planner can replan only the plays that changed.
type Diff struct {
	Changes      []TaskChange
	HostsChanged map[string]bool // playID -> host set changed
	VarsChanged  map[string]bool // playID -> vars changed
	ImpactScore  float64
}

// impact weights: tuned so that any structural change (module swap, host
// set change, a removed task) alone crosses the default 0.3 threshold,
// while a lone arg-only edit stays comfortably under it.
const (
	weightAdded     = 0.15
	weightRemoved   = 0.35
	weightModule    = 0.35
	weightArgsOnly  = 0.05
	weightHosts     = 0.4
	weightVars      = 0.2
)

// ComputeDiff compares previous and current task sets for the plays they
// share (matched by play name). Plays present only in one side count as
// the whole play's tasks added or removed.
func ComputeDiff(previous, current []model.ParsedPlay) Diff {
	diff := Diff{HostsChanged: map[string]bool{}, VarsChanged: map[string]bool{}}

	prevByName := make(map[string]model.ParsedPlay, len(previous))
	for _, p := range previous {
		prevByName[p.Name] = p
	}
	curByName := make(map[string]model.ParsedPlay, len(current))
	for _, p := range current {
		curByName[p.Name] = p
	}

	var score float64

	for name, cur := range curByName {
		prev, existed := prevByName[name]
		if !existed {
			for i := range cur.Tasks {
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeAdded, TaskID: cur.Tasks[i].ID, PlayID: name, After: &cur.Tasks[i]})
				score += weightAdded
			}
			continue
		}

		prevTasks := make(map[string]model.ParsedTask, len(prev.Tasks))
		for _, t := range prev.Tasks {
			prevTasks[t.ID] = t
		}
		curTasks := make(map[string]bool, len(cur.Tasks))

		for i := range cur.Tasks {
			t := cur.Tasks[i]
			curTasks[t.ID] = true
			before, ok := prevTasks[t.ID]
			if !ok {
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeAdded, TaskID: t.ID, PlayID: name, After: &cur.Tasks[i]})
				score += weightAdded
				continue
			}
			if before.Module != t.Module {
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeModuleChanged, TaskID: t.ID, PlayID: name, Before: &before, After: &cur.Tasks[i]})
				score += weightModule
			} else if !argsEqual(before.Args, t.Args) {
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeArgsOnly, TaskID: t.ID, PlayID: name, Before: &before, After: &cur.Tasks[i]})
				score += weightArgsOnly
			}
		}

		for id, before := range prevTasks {
			if !curTasks[id] {
				b := before
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeRemoved, TaskID: id, PlayID: name, Before: &b})
				score += weightRemoved
			}
		}

		if !hostsEqual(prev.Hosts, cur.Hosts) {
			diff.HostsChanged[name] = true
			score += weightHosts
		}
		if !argsEqual(prev.Vars, cur.Vars) {
			diff.VarsChanged[name] = true
			score += weightVars
		}
	}

	for name, prev := range prevByName {
		if _, stillExists := curByName[name]; !stillExists {
			for i := range prev.Tasks {
				diff.Changes = append(diff.Changes, TaskChange{Kind: ChangeRemoved, TaskID: prev.Tasks[i].ID, PlayID: name, Before: &prev.Tasks[i]})
				score += weightRemoved
			}
		}
	}

	if score > 1 {
		score = 1
	}
	diff.ImpactScore = score
	return diff
}

func argsEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok {
			return false
		}
		if !deepEqual(v, ov) {
			return false
		}
	}
	return true
}

func deepEqual(a, b interface{}) bool {
	am, aok := a.(map[string]interface{})
	bm, bok := b.(map[string]interface{})
	if aok && bok {
		return argsEqual(am, bm)
	}
	as, aok2 := a.([]interface{})
	bs, bok2 := b.([]interface{})
	if aok2 && bok2 {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func hostsEqual(a, b interface{}) bool {
	return deepEqual(a, b)
}

// RequiresFullReplan reports whether diff's impact score meets or exceeds
// threshold, in which case the caller must fall back to full replanning
// and record a warning in plan metadata rather than apply targeted edits.
func RequiresFullReplan(diff Diff, threshold float64) bool {
	return diff.ImpactScore >= threshold
}

// ApplyArgsOnly performs the one targeted edit this package can safely
// make without re-running dependency analysis or strategy expansion: an
// in-place argument update on every TaskPlan instance of the changed task
// across all batches. Conditions and binary-group membership for the
// affected task's parallel group are left for the caller to re-evaluate,
// since that requires the conditional evaluator and parallel-group
// recomputation which live outside this package.
func ApplyArgsOnly(plan *model.ExecutionPlan, change TaskChange) {
	if change.Kind != ChangeArgsOnly || change.After == nil {
		return
	}
	for pi := range plan.Plays {
		for bi := range plan.Plays[pi].Batches {
			tasks := plan.Plays[pi].Batches[bi].Tasks
			for ti := range tasks {
				if tasks[ti].TaskID == change.TaskID {
					tasks[ti].Args = change.After.Args
				}
			}
		}
	}
}

// ApplyRemoval drops a removed task from every batch it appeared in and
// reports the ids of any tasks left depending on it. A non-empty result
// means the removal cannot be applied in place; the caller must fall back
// to full replanning for the owning play.
func ApplyRemoval(plan *model.ExecutionPlan, taskID string) []string {
	var remaining []model.TaskPlan
	for pi := range plan.Plays {
		for bi := range plan.Plays[pi].Batches {
			var kept []model.TaskPlan
			for _, t := range plan.Plays[pi].Batches[bi].Tasks {
				if t.TaskID == taskID {
					continue
				}
				kept = append(kept, t)
				remaining = append(remaining, t)
			}
			plan.Plays[pi].Batches[bi].Tasks = kept
		}
	}
	return validate.UnreachableDependents(remaining, []string{taskID})
}
