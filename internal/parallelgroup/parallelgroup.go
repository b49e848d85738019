// Package parallelgroup computes, within one execution batch, the sets of
// tasks cleared to run concurrently (spec §4.6).
package parallelgroup

import (
	"fmt"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/depgraph"
	"github.com/rustlehq/rustle-plan/internal/model"
)

// exclusiveModules cannot share a parallel group on the same host.
var exclusiveModules = map[string]bool{
	"package": true,
	"service": true,
	"reboot":  true,
}

// Compute greedily partitions batch's tasks into ParallelGroups: seed with
// the lowest-execution-order task, extend with every task unreachable from
// the seed's transitive dependency/dependent closure that shares no
// exclusive resource with it.
func Compute(batch model.ExecutionBatch, graph *depgraph.Graph, forks int) []model.ParallelGroup {
	tasks := append([]model.TaskPlan(nil), batch.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ExecutionOrder < tasks[j].ExecutionOrder })

	byID := make(map[string]model.TaskPlan, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	remaining := make([]string, len(tasks))
	for i, t := range tasks {
		remaining[i] = t.TaskID
	}

	var groups []model.ParallelGroup
	groupIndex := 0

	for len(remaining) > 0 {
		seedID := remaining[0]
		remaining = remaining[1:]

		closure := transitiveClosure(graph, seedID)
		members := []string{seedID}

		var stillRemaining []string
		for _, candID := range remaining {
			if closure[candID] {
				stillRemaining = append(stillRemaining, candID)
				continue
			}
			if conflicts(byID[candID], members, byID) {
				stillRemaining = append(stillRemaining, candID)
				continue
			}
			members = append(members, candID)
		}
		remaining = stillRemaining

		maxParallelism := len(members)
		if forks > 0 && forks < maxParallelism {
			maxParallelism = forks
		}

		groups = append(groups, model.ParallelGroup{
			GroupID:         fmt.Sprintf("%s-group-%d", batch.BatchID, groupIndex),
			TaskIDs:         members,
			MaxParallelism:  maxParallelism,
			SharedResources: sharedResources(members, byID),
		})
		groupIndex++
	}

	return groups
}

// transitiveClosure returns the set of task ids reachable from id in
// either direction (ancestors and descendants), including id itself.
func transitiveClosure(graph *depgraph.Graph, id string) map[string]bool {
	seen := map[string]bool{id: true}
	var walk func(string, func(string) []string)
	walk = func(cur string, neighbors func(string) []string) {
		for _, n := range neighbors(cur) {
			if !seen[n] {
				seen[n] = true
				walk(n, neighbors)
			}
		}
	}
	walk(id, graph.Dependents)
	walk(id, graph.Dependencies)
	return seen
}

// conflicts reports whether candidate shares an exclusive resource with
// any current group member on a host they both run on.
func conflicts(candidate model.TaskPlan, memberIDs []string, byID map[string]model.TaskPlan) bool {
	for _, mID := range memberIDs {
		member := byID[mID]
		if !sharesHost(candidate.Hosts, member.Hosts) {
			continue
		}
		if exclusiveModules[candidate.Module] && exclusiveModules[member.Module] {
			return true
		}
		if candDest, _ := candidate.Args["dest"].(string); candDest != "" {
			if memberDest, _ := member.Args["dest"].(string); memberDest == candDest {
				return true
			}
		}
	}
	return false
}

func sharesHost(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, h := range b {
		set[h] = true
	}
	for _, h := range a {
		if set[h] {
			return true
		}
	}
	return false
}

// sharedResources surfaces file paths, service names, and package names
// referenced by more than one task in the group, for downstream tooling.
func sharedResources(memberIDs []string, byID map[string]model.TaskPlan) []string {
	counts := make(map[string]int)
	for _, id := range memberIDs {
		t := byID[id]
		if dest, _ := t.Args["dest"].(string); dest != "" {
			counts["path:"+dest]++
		}
		if name, _ := t.Args["name"].(string); name != "" && (t.Module == "service" || t.Module == "package") {
			counts[t.Module+":"+name]++
		}
	}
	var shared []string
	for res, count := range counts {
		if count > 1 {
			shared = append(shared, res)
		}
	}
	sort.Strings(shared)
	return shared
}
