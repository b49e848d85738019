// Package estimate computes per-task, per-batch, and per-play duration
// estimates plus the plan's scalar scores (spec §4.8).
package estimate

import (
	"github.com/rustlehq/rustle-plan/internal/model"
)

// moduleDuration is the module-keyed lookup table of typical task
// durations in seconds, with a default for modules not listed.
var moduleDuration = map[string]float64{
	"package": 30,
	"service": 10,
	"command": 2,
	"shell":   2,
	"copy":    3,
	"template": 3,
}

const defaultDuration = 5.0

// coldCompile is the per-target compilation time constant; the estimator
// has no way to know cache warmth at plan time, so it always uses the
// conservative cold estimate.
const coldCompile = 90.0

// TaskDuration returns the estimated duration for a single task.
func TaskDuration(module string) float64 {
	if d, ok := moduleDuration[module]; ok {
		return d
	}
	return defaultDuration
}

// AnnotateTasks sets EstimatedDuration on every task in place.
func AnnotateTasks(tasks []model.TaskPlan) {
	for i := range tasks {
		d := TaskDuration(tasks[i].Module)
		tasks[i].EstimatedDuration = &d
	}
}

// BatchDuration is the longest parallel-group duration within the batch:
// tasks within one group run concurrently and the group finishes when its
// slowest task does. A batch with no parallel groups sums its tasks.
func BatchDuration(batch model.ExecutionBatch) float64 {
	durationOf := make(map[string]float64, len(batch.Tasks))
	for _, t := range batch.Tasks {
		durationOf[t.TaskID] = TaskDuration(t.Module)
	}

	if len(batch.ParallelGroups) == 0 {
		var total float64
		for _, d := range durationOf {
			total += d
		}
		return total
	}

	var total float64
	for _, g := range batch.ParallelGroups {
		var longest float64
		for _, id := range g.TaskIDs {
			if d := durationOf[id]; d > longest {
				longest = d
			}
		}
		if longest > total {
			total = longest
		}
	}
	return total
}

// PlayDuration sums batch durations; Rolling strategies have already
// expressed their shard count as one batch sequence per shard, so no
// further multiplication is needed here.
func PlayDuration(batches []model.ExecutionBatch) float64 {
	var total float64
	for _, b := range batches {
		total += BatchDuration(b)
	}
	return total
}

// CompilationTime estimates total cross-compilation time as the cold
// constant times the number of distinct compilation targets across the
// plan's binary deployments.
func CompilationTime(deployments []model.BinaryDeployment) float64 {
	seen := map[string]bool{}
	for _, d := range deployments {
		key := d.CompilationRequirements.TargetArch + "-" + d.CompilationRequirements.TargetOS
		seen[key] = true
	}
	return float64(len(seen)) * coldCompile
}

// ParallelismScore averages, over batches, the fraction of each batch's
// tasks that belong to a parallel group sized above 1 (i.e. actually ran
// concurrently with something), capped at 1.
func ParallelismScore(batches []model.ExecutionBatch) float64 {
	if len(batches) == 0 {
		return 0
	}
	var sum float64
	for _, b := range batches {
		total := len(b.Tasks)
		if total == 0 {
			continue
		}
		var parallel int
		for _, g := range b.ParallelGroups {
			if len(g.TaskIDs) > 1 {
				parallel += len(g.TaskIDs)
			}
		}
		ratio := float64(parallel) / float64(total)
		if ratio > 1 {
			ratio = 1
		}
		sum += ratio
	}
	return sum / float64(len(batches))
}

func networkWeight(module string) int {
	switch module {
	case "copy", "template":
		return 2
	case "shell", "command", "package", "service":
		return 1
	default:
		return 0
	}
}

// NetworkEfficiencyScore is the fraction of SSH operations avoided by
// routing tasks through binary deployments instead of per-task SSH.
func NetworkEfficiencyScore(allTasks []model.TaskPlan, deployments []model.BinaryDeployment) float64 {
	var totalOps int
	for _, t := range allTasks {
		totalOps += networkWeight(t.Module) * len(t.Hosts)
	}
	if totalOps == 0 {
		return 0
	}

	byID := make(map[string]model.TaskPlan, len(allTasks))
	for _, t := range allTasks {
		byID[t.TaskID] = t
	}

	var avoided int
	for _, d := range deployments {
		for _, id := range d.TaskIDs {
			t, ok := byID[id]
			if !ok {
				continue
			}
			avoided += networkWeight(t.Module) * len(t.Hosts)
		}
	}

	score := float64(avoided) / float64(totalOps)
	if score > 1 {
		score = 1
	}
	return score
}
