// Package validate enforces the §3 plan invariants over an assembled
// ExecutionPlan before it is emitted or returned from cache.
package validate

import (
	"fmt"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

// Plan runs every invariant check and returns the first violation found.
// Each check is a pure function over plan so it can run identically on a
// freshly computed plan or one retrieved from cache.
func Plan(plan *model.ExecutionPlan) error {
	checks := []func(*model.ExecutionPlan) error{
		disjointBinaryDeployments,
		dependenciesInSameOrEarlierBatch,
		executionOrderMonotonic,
		taskHostsWithinBatchHosts,
		binaryDeploymentHostCoverage,
	}
	for _, check := range checks {
		if err := check(plan); err != nil {
			return err
		}
	}
	return nil
}

// disjointBinaryDeployments asserts no task id appears in more than one
// BinaryDeployment.
func disjointBinaryDeployments(plan *model.ExecutionPlan) error {
	seen := make(map[string]string)
	for _, d := range plan.BinaryDeployments {
		for _, id := range d.TaskIDs {
			if owner, ok := seen[id]; ok {
				return perrors.Fatal(perrors.CodeValidationError,
					fmt.Sprintf("task %q claimed by both deployment %q and %q", id, owner, d.DeploymentID), nil).
					WithResource(id)
			}
			seen[id] = d.DeploymentID
		}
	}
	return nil
}

// dependenciesInSameOrEarlierBatch asserts each batch's tasks only depend
// on tasks in the same batch or an earlier batch of the same play. A task
// id that recurs in several batches (one sequence per shard or host)
// counts from the first batch it appears in.
func dependenciesInSameOrEarlierBatch(plan *model.ExecutionPlan) error {
	for _, play := range plan.Plays {
		batchIndex := make(map[string]int)
		taskBatch := make(map[string]int)
		for i, b := range play.Batches {
			batchIndex[b.BatchID] = i
			for _, t := range b.Tasks {
				if _, seen := taskBatch[t.TaskID]; !seen {
					taskBatch[t.TaskID] = i
				}
			}
		}
		for i, b := range play.Batches {
			for _, t := range b.Tasks {
				for _, dep := range t.Dependencies {
					depBatch, ok := taskBatch[dep.TaskID]
					if !ok {
						continue // cross-batch handler or out-of-scope dep checked elsewhere
					}
					if depBatch > i {
						return perrors.Fatal(perrors.CodeValidationError,
							fmt.Sprintf("task %q in batch %q depends on %q in later batch", t.TaskID, b.BatchID, dep.TaskID), nil).
							WithResource(t.TaskID)
					}
				}
			}
		}
	}
	return nil
}

// executionOrderMonotonic asserts execution_order strictly increases
// along any dependency chain within a batch.
func executionOrderMonotonic(plan *model.ExecutionPlan) error {
	for _, play := range plan.Plays {
		for _, b := range play.Batches {
			orderOf := make(map[string]uint32, len(b.Tasks))
			for _, t := range b.Tasks {
				orderOf[t.TaskID] = t.ExecutionOrder
			}
			for _, t := range b.Tasks {
				for _, dep := range t.Dependencies {
					depOrder, ok := orderOf[dep.TaskID]
					if !ok {
						continue
					}
					if depOrder >= t.ExecutionOrder {
						return perrors.Fatal(perrors.CodeValidationError,
							fmt.Sprintf("task %q execution_order %d does not exceed dependency %q's order %d",
								t.TaskID, t.ExecutionOrder, dep.TaskID, depOrder), nil).
							WithResource(t.TaskID)
					}
				}
			}
		}
	}
	return nil
}

// taskHostsWithinBatchHosts asserts every task's resolved host set is a
// subset of its batch's host set; this is the closest generically
// checkable proxy for "static when-evaluation never reintroduces a
// filtered host" — a reintroduced host would necessarily appear outside
// the batch's own host scope.
func taskHostsWithinBatchHosts(plan *model.ExecutionPlan) error {
	for _, play := range plan.Plays {
		for _, b := range play.Batches {
			batchHosts := make(map[string]bool, len(b.Hosts))
			for _, h := range b.Hosts {
				batchHosts[h] = true
			}
			for _, t := range b.Tasks {
				for _, h := range t.Hosts {
					if !batchHosts[h] {
						return perrors.Fatal(perrors.CodeValidationError,
							fmt.Sprintf("task %q references host %q outside batch %q's host set", t.TaskID, h, b.BatchID), nil).
							WithResource(t.TaskID)
					}
				}
			}
		}
	}
	return nil
}

// binaryDeploymentHostCoverage asserts every target host of a
// BinaryDeployment appears in the host set of every task it embeds.
func binaryDeploymentHostCoverage(plan *model.ExecutionPlan) error {
	taskHosts := make(map[string]map[string]bool)
	for _, play := range plan.Plays {
		for _, b := range play.Batches {
			for _, t := range b.Tasks {
				set, ok := taskHosts[t.TaskID]
				if !ok {
					set = make(map[string]bool)
					taskHosts[t.TaskID] = set
				}
				for _, h := range t.Hosts {
					set[h] = true
				}
			}
		}
	}

	for _, d := range plan.BinaryDeployments {
		for _, id := range d.TaskIDs {
			set := taskHosts[id]
			for _, h := range d.TargetHosts {
				if !set[h] {
					return perrors.Fatal(perrors.CodeValidationError,
						fmt.Sprintf("deployment %q target host %q missing from task %q's host set", d.DeploymentID, h, id), nil).
						WithResource(id)
				}
			}
		}
	}
	return nil
}

// UnreachableDependents returns the task ids that would become
// unreachable if removedIDs were dropped from the graph: any task still
// present whose dependency set references a removed id. Used by the
// incremental planner before committing a removed-task edit (spec §4.10).
func UnreachableDependents(remaining []model.TaskPlan, removedIDs []string) []string {
	removed := make(map[string]bool, len(removedIDs))
	for _, id := range removedIDs {
		removed[id] = true
	}
	var broken []string
	for _, t := range remaining {
		for _, dep := range t.Dependencies {
			if removed[dep.TaskID] {
				broken = append(broken, t.TaskID)
				break
			}
		}
	}
	sort.Strings(broken)
	return broken
}
