package depgraph

import (
	"testing"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

func TestBuild_DeclaredEdge(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Name: "a", Module: "command"},
		{ID: "b", Name: "b", Module: "command", Dependencies: []string{"a"}},
	}
	g, err := Build(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopologicalOrder()
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected [a b], got %v", order)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command", Dependencies: []string{"missing"}},
	}
	_, err := Build(tasks, nil)
	if err == nil {
		t.Fatalf("expected error for unknown dependency")
	}
	code, ok := perrors.Code(err)
	if !ok || code != perrors.CodeUnknownTaskDependency {
		t.Fatalf("expected CodeUnknownTaskDependency, got %v", code)
	}
}

func TestBuild_SelfDependencyCycle(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command", Dependencies: []string{"a"}},
	}
	_, err := Build(tasks, nil)
	code, ok := perrors.Code(err)
	if !ok || code != perrors.CodeCircularDependency {
		t.Fatalf("expected CodeCircularDependency for self-dependency, got %v", code)
	}
}

func TestBuild_ThreeNodeCycle(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command", Dependencies: []string{"c"}},
		{ID: "b", Module: "command", Dependencies: []string{"a"}},
		{ID: "c", Module: "command", Dependencies: []string{"b"}},
	}
	_, err := Build(tasks, nil)
	code, ok := perrors.Code(err)
	if !ok || code != perrors.CodeCircularDependency {
		t.Fatalf("expected CodeCircularDependency, got %v", code)
	}
}

func TestBuild_ServiceDependsOnPackage(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "svc", Module: "service", Args: map[string]interface{}{"name": "nginx"}},
		{ID: "pkg", Module: "package", Args: map[string]interface{}{"name": "nginx"}},
	}
	g, err := Build(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopologicalOrder()
	if order[0] != "pkg" || order[1] != "svc" {
		t.Fatalf("expected package before service, got %v", order)
	}
}

func TestBuild_FileOutputInputEdge(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "consume", Module: "template", Args: map[string]interface{}{"src": "/tmp/generated.conf"}},
		{ID: "produce", Module: "copy", Args: map[string]interface{}{"dest": "/tmp/generated.conf"}},
	}
	g, err := Build(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopologicalOrder()
	if order[0] != "produce" || order[1] != "consume" {
		t.Fatalf("expected produce before consume, got %v", order)
	}
}

func TestBuild_NotifyEdgeToHandler(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "t1", Module: "copy", Notify: []string{"restart nginx"}},
	}
	handlers := []model.ParsedTask{
		{ID: "restart nginx", Module: "service"},
	}
	g, err := Build(tasks, handlers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.IsHandler("restart nginx") {
		t.Fatalf("expected handler to be tagged as such")
	}
	deps := g.Dependencies("restart nginx")
	if len(deps) != 1 || deps[0] != "t1" {
		t.Fatalf("expected handler to depend on notifying task, got %v", deps)
	}
}

func TestBuild_DeterministicTieBreak(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "zeta", Module: "command"},
		{ID: "alpha", Module: "command"},
		{ID: "mu", Module: "command"},
	}
	g, err := Build(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	order := g.TopologicalOrder()
	want := []string{"alpha", "mu", "zeta"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("expected sorted tie-break order %v, got %v", want, order)
		}
	}
}

func TestToDOT_ContainsEdgesAndLevels(t *testing.T) {
	tasks := []model.ParsedTask{
		{ID: "a", Module: "command"},
		{ID: "b", Module: "command", Dependencies: []string{"a"}},
	}
	g, err := Build(tasks, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dot := g.ToDOT()
	if dot == "" {
		t.Fatalf("expected non-empty DOT output")
	}
}
