package strategy

import (
	"testing"

	"github.com/rustlehq/rustle-plan/internal/model"
)

func taskInputs(ids ...string) map[string]TaskInput {
	m := make(map[string]TaskInput)
	for _, id := range ids {
		m[id] = TaskInput{
			Plan:          model.TaskPlan{TaskID: id, Name: id, Module: "command"},
			EligibleHosts: []string{"h1", "h2", "h3"},
		}
	}
	return m
}

func TestExpand_LinearOneBatchPerLevel(t *testing.T) {
	levels := [][]string{{"a"}, {"b"}, {"c"}}
	batches, err := Expand("play1", model.StrategyLinear, []string{"h1", "h2", "h3"}, levels, taskInputs("a", "b", "c"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	for i, b := range batches {
		if len(b.Hosts) != 3 {
			t.Fatalf("expected linear batches unsharded, got %d hosts at batch %d", len(b.Hosts), i)
		}
	}
	if len(batches[1].Dependencies) != 1 || batches[1].Dependencies[0] != batches[0].BatchID {
		t.Fatalf("expected batch 1 to depend on batch 0")
	}
}

func TestExpand_FreeSingleBatch(t *testing.T) {
	levels := [][]string{{"a", "b"}, {"c"}}
	batches, err := Expand("play1", model.StrategyFree, []string{"h1"}, levels, taskInputs("a", "b", "c"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected exactly 1 batch for Free strategy, got %d", len(batches))
	}
	if len(batches[0].Tasks) != 3 {
		t.Fatalf("expected all 3 tasks in the single batch, got %d", len(batches[0].Tasks))
	}
}

func TestExpand_HostPinnedIndependentSequences(t *testing.T) {
	levels := [][]string{{"a"}, {"b"}}
	batches, err := Expand("play1", model.StrategyHostPinned, []string{"h1", "h2"}, levels, taskInputs("a", "b"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 4 {
		t.Fatalf("expected 2 hosts * 2 levels = 4 batches, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b.Hosts) != 1 {
			t.Fatalf("expected host-pinned batches to have exactly one host, got %v", b.Hosts)
		}
	}
}

func TestExpand_RollingShardsHosts(t *testing.T) {
	levels := [][]string{{"a"}}
	serial := 2
	batches, err := Expand("play1", model.StrategyRolling, []string{"h1", "h2", "h3", "h4"}, levels, taskInputs("a"), &serial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 shards of 2 hosts each, got %d batches", len(batches))
	}
	if len(batches[0].Hosts) != 2 || len(batches[1].Hosts) != 2 {
		t.Fatalf("expected each shard to contain 2 hosts")
	}
	if len(batches[1].Dependencies) == 0 {
		t.Fatalf("expected second shard to depend on first (at most one shard active at a time)")
	}
}

func TestExpand_RollingSerialExceedsHostCountIsSingleBatch(t *testing.T) {
	levels := [][]string{{"a"}}
	serial := 100
	batches, err := Expand("play1", model.StrategyRolling, []string{"h1", "h2"}, levels, taskInputs("a"), &serial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected a single batch when serial exceeds host count, got %d", len(batches))
	}
	if len(batches[0].Hosts) != 2 {
		t.Fatalf("expected the single batch to contain all hosts")
	}
}

func TestExpand_ExecutionOrderMonotonicWithinBatch(t *testing.T) {
	levels := [][]string{{"a", "b", "c"}}
	batches, err := Expand("play1", model.StrategyFree, []string{"h1"}, levels, taskInputs("a", "b", "c"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, task := range batches[0].Tasks {
		if int(task.ExecutionOrder) != i {
			t.Fatalf("expected monotonic execution order, got %d at position %d", task.ExecutionOrder, i)
		}
	}
}
