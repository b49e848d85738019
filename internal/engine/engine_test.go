package engine

import (
	"context"
	"testing"

	"github.com/rustlehq/rustle-plan/internal/cache"
	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/options"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

func linearDoc() model.ParsedDocument {
	return model.ParsedDocument{
		Plays: []model.ParsedPlay{
			{
				Name:  "configure web",
				Hosts: []string{"web1", "web2"},
				Tasks: []model.ParsedTask{
					{ID: "t1", Name: "install nginx", Module: "package", Args: map[string]interface{}{"name": "nginx"}},
					{ID: "t2", Name: "start nginx", Module: "service", Args: map[string]interface{}{"name": "nginx"}, Dependencies: []string{"t1"}},
				},
			},
		},
	}
}

func testOpts() options.PlanningOptions {
	o := options.Defaults()
	o.Forks = 5
	return o
}

func TestPlan_LinearPlayProducesOrderedDependencies(t *testing.T) {
	p := New(nil, nil, nil, nil)
	plan, err := p.Plan(context.Background(), linearDoc(), testOpts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Plays) != 1 {
		t.Fatalf("expected 1 play, got %d", len(plan.Plays))
	}

	var t1, t2 *model.TaskPlan
	for bi := range plan.Plays[0].Batches {
		for i := range plan.Plays[0].Batches[bi].Tasks {
			tp := &plan.Plays[0].Batches[bi].Tasks[i]
			switch tp.TaskID {
			case "t1":
				t1 = tp
			case "t2":
				t2 = tp
			}
		}
	}
	if t1 == nil || t2 == nil {
		t.Fatalf("expected both tasks present in batches")
	}
	if len(t2.Dependencies) != 1 || t2.Dependencies[0].TaskID != "t1" {
		t.Fatalf("expected t2 to depend on t1, got %+v", t2.Dependencies)
	}
	if t2.Dependencies[0].Kind != model.DependencyExplicit {
		t.Fatalf("expected explicit dependency kind, got %v", t2.Dependencies[0].Kind)
	}
	if t2.ExecutionOrder <= t1.ExecutionOrder {
		t.Fatalf("expected t2 execution order after t1: t1=%d t2=%d", t1.ExecutionOrder, t2.ExecutionOrder)
	}
}

func TestPlan_UnknownDependencyPropagatesError(t *testing.T) {
	doc := linearDoc()
	doc.Plays[0].Tasks[1].Dependencies = []string{"missing"}

	p := New(nil, nil, nil, nil)
	_, err := p.Plan(context.Background(), doc, testOpts())
	if err == nil {
		t.Fatalf("expected error for unknown dependency")
	}
	code, ok := perrors.Code(err)
	if !ok || code != perrors.CodeUnknownTaskDependency {
		t.Fatalf("expected CodeUnknownTaskDependency, got %v", code)
	}
}

func TestPlan_EmptyHostPatternPropagatesError(t *testing.T) {
	doc := linearDoc()
	doc.Plays[0].Hosts = []string{}

	p := New(nil, nil, nil, nil)
	_, err := p.Plan(context.Background(), doc, testOpts())
	if err == nil {
		t.Fatalf("expected error for empty host pattern")
	}
	code, ok := perrors.Code(err)
	if !ok || code != perrors.CodeInvalidHostPattern {
		t.Fatalf("expected CodeInvalidHostPattern, got %v", code)
	}
}

func TestPlan_ForceBinaryProducesDeployments(t *testing.T) {
	doc := model.ParsedDocument{
		Plays: []model.ParsedPlay{
			{
				Name:  "bulk deploy",
				Hosts: []string{"h1", "h2", "h3", "h4"},
				Tasks: []model.ParsedTask{
					{ID: "a", Name: "copy config", Module: "copy", Args: map[string]interface{}{"dest": "/etc/app.conf"}},
					{ID: "b", Name: "restart app", Module: "service", Args: map[string]interface{}{"name": "app"}, Dependencies: []string{"a"}},
					{ID: "c", Name: "run migration", Module: "command", Args: map[string]interface{}{"cmd": "migrate"}, Dependencies: []string{"b"}},
				},
			},
		},
	}
	opts := testOpts()
	opts.ForceBinary = true
	opts.BinaryThreshold = 0

	p := New(nil, nil, nil, nil)
	plan, err := p.Plan(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.BinaryDeployments) == 0 {
		t.Fatalf("expected at least one binary deployment under --force-binary")
	}
	for _, d := range plan.BinaryDeployments {
		if d.ExecutionMode != model.ModeHybrid {
			t.Fatalf("expected hybrid execution mode, got %v", d.ExecutionMode)
		}
	}
}

func TestPlan_ForceSSHSuppressesDeployments(t *testing.T) {
	doc := model.ParsedDocument{
		Plays: []model.ParsedPlay{
			{
				Name:  "bulk deploy",
				Hosts: []string{"h1", "h2", "h3", "h4"},
				Tasks: []model.ParsedTask{
					{ID: "a", Name: "copy config", Module: "copy", Args: map[string]interface{}{"dest": "/etc/app.conf"}},
				},
			},
		},
	}
	opts := testOpts()
	opts.ForceBinary = true
	opts.ForceSSH = true
	opts.BinaryThreshold = 0

	p := New(nil, nil, nil, nil)
	plan, err := p.Plan(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.BinaryDeployments) != 0 {
		t.Fatalf("expected no binary deployments under --force-ssh, got %d", len(plan.BinaryDeployments))
	}
}

func TestPlan_CacheHitReturnsStoredEntryUnchanged(t *testing.T) {
	ctx := context.Background()
	c, err := cache.New(ctx, cache.Options{MemoryMaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	defer c.Close()

	key := cache.Key{PlaybookHash: "ph", InventoryHash: "ih", OptionsHash: "oh", PlannerVersion: PlannerVersion}
	sentinel := &model.ExecutionPlan{TotalTasks: 42}

	calls := 0
	compute := func() (*model.ExecutionPlan, error) {
		calls++
		return sentinel, nil
	}

	first, err := c.GetOrCompute(ctx, key, compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.GetOrCompute(ctx, key, compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected compute to run once, ran %d times", calls)
	}
	if first.TotalTasks != 42 || second.TotalTasks != 42 {
		t.Fatalf("expected cached sentinel plan to be returned on both calls")
	}
}

func TestPlan_CheckModeAnnotatesEveryTaskWithCheckCondition(t *testing.T) {
	p := New(nil, nil, nil, nil)
	opts := testOpts()
	opts.Check = true

	plan, err := p.Plan(context.Background(), linearDoc(), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, batch := range plan.Plays[0].Batches {
		for _, tp := range batch.Tasks {
			found := false
			for _, c := range tp.Conditions {
				if c.Kind == model.ConditionCheck {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected task %s to carry a check-mode condition", tp.TaskID)
			}
		}
	}
}

func TestPlan_TagsFilterMarksNonMatchingTasksSkipped(t *testing.T) {
	doc := linearDoc()
	doc.Plays[0].Tasks[0].Tags = []string{"install"}
	doc.Plays[0].Tasks[1].Tags = []string{"service"}

	p := New(nil, nil, nil, nil)
	opts := testOpts()
	opts.Tags = []string{"service"}

	plan, err := p.Plan(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawSkip, sawUnskipped bool
	for _, batch := range plan.Plays[0].Batches {
		for _, tp := range batch.Tasks {
			skipped := false
			for _, c := range tp.Conditions {
				if c.Kind == model.ConditionSkip {
					skipped = true
				}
			}
			if tp.TaskID == "t1" && skipped {
				sawSkip = true
			}
			if tp.TaskID == "t2" && !skipped {
				sawUnskipped = true
			}
		}
	}
	if !sawSkip {
		t.Fatalf("expected t1 (non-matching tag) to be marked skipped")
	}
	if !sawUnskipped {
		t.Fatalf("expected t2 (matching tag) to stay unskipped")
	}
}

func TestPlan_RepeatedCallsWithUnchangedInputAreDeterministic(t *testing.T) {
	p := New(nil, nil, nil, nil)
	doc := linearDoc()
	opts := testOpts()

	first, err := p.Plan(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error on first plan: %v", err)
	}
	second, err := p.Plan(context.Background(), doc, opts)
	if err != nil {
		t.Fatalf("unexpected error on second plan: %v", err)
	}
	if first.Metadata.PlaybookHash != second.Metadata.PlaybookHash {
		t.Fatalf("expected identical playbook hash across repeated calls")
	}
	if first.TotalTasks != second.TotalTasks {
		t.Fatalf("expected identical task counts across repeated calls")
	}
}
