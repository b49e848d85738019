package parallelgroup

import (
	"testing"

	"github.com/rustlehq/rustle-plan/internal/depgraph"
	"github.com/rustlehq/rustle-plan/internal/model"
)

func TestCompute_IndependentTasksGroupTogether(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command"},
		{ID: "b", Module: "command"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 0},
			{TaskID: "b", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 1},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 1 {
		t.Fatalf("expected independent tasks to merge into 1 group, got %d", len(groups))
	}
	if len(groups[0].TaskIDs) != 2 {
		t.Fatalf("expected 2 tasks in the group, got %d", len(groups[0].TaskIDs))
	}
}

func TestCompute_DependentTasksSplit(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command"},
		{ID: "b", Module: "command", Dependencies: []string{"a"}},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 0},
			{TaskID: "b", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 1},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 2 {
		t.Fatalf("expected dependent tasks to split into 2 groups, got %d", len(groups))
	}
}

func TestCompute_ExclusiveModuleConflictOnSameHost(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "package"},
		{ID: "b", Module: "service"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "package", Hosts: []string{"h1"}, ExecutionOrder: 0},
			{TaskID: "b", Module: "service", Hosts: []string{"h1"}, ExecutionOrder: 1},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 2 {
		t.Fatalf("expected package/service exclusivity to force separate groups, got %d", len(groups))
	}
}

func TestCompute_ExclusiveModuleOnDifferentHostsCanShareGroup(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "package"},
		{ID: "b", Module: "service"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1", "h2"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "package", Hosts: []string{"h1"}, ExecutionOrder: 0},
			{TaskID: "b", Module: "service", Hosts: []string{"h2"}, ExecutionOrder: 1},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 1 {
		t.Fatalf("expected no host overlap to allow grouping, got %d groups", len(groups))
	}
}

func TestCompute_MaxParallelismCappedByForks(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command"},
		{ID: "b", Module: "command"},
		{ID: "c", Module: "command"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 0},
			{TaskID: "b", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 1},
			{TaskID: "c", Module: "command", Hosts: []string{"h1"}, ExecutionOrder: 2},
		},
	}
	groups := Compute(batch, g, 2)
	if groups[0].MaxParallelism != 2 {
		t.Fatalf("expected max_parallelism capped to forks=2, got %d", groups[0].MaxParallelism)
	}
}

func TestCompute_SameDestOnSameHostConflicts(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "copy"},
		{ID: "b", Module: "lineinfile"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "copy", Hosts: []string{"h1"}, ExecutionOrder: 0, Args: map[string]interface{}{"dest": "/etc/hosts"}},
			{TaskID: "b", Module: "lineinfile", Hosts: []string{"h1"}, ExecutionOrder: 1, Args: map[string]interface{}{"dest": "/etc/hosts"}},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 2 {
		t.Fatalf("same dest path on the same host should force separate groups, got %d groups", len(groups))
	}
}

func TestCompute_SharedResourceSurfacedAcrossHosts(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "service"},
		{ID: "b", Module: "service"},
	}
	g, err := depgraph.Build(tasks, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	batch := model.ExecutionBatch{
		BatchID: "b0",
		Hosts:   []string{"h1", "h2"},
		Tasks: []model.TaskPlan{
			{TaskID: "a", Module: "service", Hosts: []string{"h1"}, ExecutionOrder: 0, Args: map[string]interface{}{"name": "nginx"}},
			{TaskID: "b", Module: "service", Hosts: []string{"h2"}, ExecutionOrder: 1, Args: map[string]interface{}{"name": "nginx"}},
		},
	}
	groups := Compute(batch, g, 5)
	if len(groups) != 1 {
		t.Fatalf("expected no host overlap to allow grouping despite matching service name, got %d groups", len(groups))
	}
	found := false
	for _, r := range groups[0].SharedResources {
		if r == "service:nginx" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected shared_resources to surface service:nginx, got %v", groups[0].SharedResources)
	}
}
