// Package strategy expands a play's task graph into ordered execution
// batches according to the chosen strategy (spec §4.5).
package strategy

import (
	"fmt"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

// TaskInput is a task ready for batching: its plan skeleton (args, module,
// conditions, dependencies already resolved by earlier phases) plus the
// full set of hosts it is eligible to run on, before any batch/shard
// narrows that set further.
type TaskInput struct {
	Plan          model.TaskPlan
	EligibleHosts []string
}

// Expand converts levels (the play's topological levels, task ids only,
// handlers excluded) plus per-task eligibility into ExecutionBatches.
func Expand(playID string, strategy model.Strategy, playHosts []string, levels [][]string, tasks map[string]TaskInput, serial *int) ([]model.ExecutionBatch, error) {
	shardSize := len(playHosts)
	if serial != nil && *serial > 0 && *serial < shardSize {
		shardSize = *serial
	}
	if shardSize <= 0 {
		shardSize = len(playHosts)
	}

	switch strategy {
	case model.StrategyRolling:
		return shardedLevelBatches(playID, playHosts, shardSize, levels, tasks)
	case model.StrategyLinear:
		if shardSize < len(playHosts) {
			return shardedLevelBatches(playID, playHosts, shardSize, levels, tasks)
		}
		return levelBatches(playID, "batch", playHosts, levels, tasks, 0)
	case model.StrategyFree, model.StrategyBinaryHybrid, model.StrategyBinaryOnly:
		if shardSize < len(playHosts) {
			return shardedFreeBatches(playID, playHosts, shardSize, levels, tasks)
		}
		order := flatten(levels)
		b, err := freeBatch(playID, "batch-0", playHosts, order, tasks, 0)
		if err != nil {
			return nil, err
		}
		return []model.ExecutionBatch{b}, nil
	case model.StrategyHostPinned:
		return hostPinnedBatches(playID, playHosts, levels, tasks)
	default:
		return nil, perrors.Fatal(perrors.CodeStrategyConflict, fmt.Sprintf("unknown strategy %q", strategy), nil)
	}
}

func flatten(levels [][]string) []string {
	var out []string
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}

// chunkHosts splits hosts into ceil(len/size) chunks of at most size,
// preserving order. A Rolling "batch_size=N" with N > len(hosts) yields a
// single chunk containing every host (spec §8 boundary behavior).
func chunkHosts(hosts []string, size int) [][]string {
	if size <= 0 || size >= len(hosts) {
		return [][]string{append([]string(nil), hosts...)}
	}
	var chunks [][]string
	for i := 0; i < len(hosts); i += size {
		end := i + size
		if end > len(hosts) {
			end = len(hosts)
		}
		chunks = append(chunks, append([]string(nil), hosts[i:end]...))
	}
	return chunks
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, h := range b {
		set[h] = true
	}
	var out []string
	for _, h := range a {
		if set[h] {
			out = append(out, h)
		}
	}
	return out
}

// levelBatches produces one batch per topological level, scoped to
// shardHosts. Tasks whose eligible-host intersection with the shard is
// empty are omitted from that level's batch entirely (they simply don't
// run on this shard).
func levelBatches(playID, prefix string, shardHosts []string, levels [][]string, tasks map[string]TaskInput, startIndex int) ([]model.ExecutionBatch, error) {
	var batches []model.ExecutionBatch
	var prevBatchID string

	for levelIdx, level := range levels {
		sortedIDs := append([]string(nil), level...)
		sort.Strings(sortedIDs)

		var batchTasks []model.TaskPlan
		var order uint32
		for _, id := range sortedIDs {
			in, ok := tasks[id]
			if !ok {
				continue
			}
			hosts := intersect(in.EligibleHosts, shardHosts)
			if len(hosts) == 0 {
				continue
			}
			tp := in.Plan
			tp.Hosts = hosts
			tp.ExecutionOrder = order
			order++
			batchTasks = append(batchTasks, tp)
		}
		if len(batchTasks) == 0 {
			continue
		}

		batchID := fmt.Sprintf("%s-%s-%d", playID, prefix, startIndex+levelIdx)
		var deps []string
		if prevBatchID != "" {
			deps = []string{prevBatchID}
		}
		batches = append(batches, model.ExecutionBatch{
			BatchID:      batchID,
			Hosts:        shardHosts,
			Tasks:        batchTasks,
			Dependencies: deps,
		})
		prevBatchID = batchID
	}

	return batches, nil
}

// shardedLevelBatches runs levelBatches once per host shard, chaining
// shard N's first batch onto shard N-1's last batch so at most one shard
// is active at a time (Rolling's defining property, and the generic
// "serial overrides the batch host-size cap" behavior for Linear).
func shardedLevelBatches(playID string, playHosts []string, shardSize int, levels [][]string, tasks map[string]TaskInput) ([]model.ExecutionBatch, error) {
	shards := chunkHosts(playHosts, shardSize)
	var all []model.ExecutionBatch
	var prevLastID string

	for shardIdx, shard := range shards {
		prefix := fmt.Sprintf("shard%d", shardIdx)
		shardBatches, err := levelBatches(playID, prefix, shard, levels, tasks, 0)
		if err != nil {
			return nil, err
		}
		if len(shardBatches) == 0 {
			continue
		}
		if prevLastID != "" {
			shardBatches[0].Dependencies = append(shardBatches[0].Dependencies, prevLastID)
		}
		all = append(all, shardBatches...)
		prevLastID = shardBatches[len(shardBatches)-1].BatchID
	}
	return all, nil
}

func freeBatch(playID, batchID string, shardHosts []string, order []string, tasks map[string]TaskInput, execOffset uint32) (model.ExecutionBatch, error) {
	var batchTasks []model.TaskPlan
	var execOrder uint32 = execOffset
	for _, id := range order {
		in, ok := tasks[id]
		if !ok {
			continue
		}
		hosts := intersect(in.EligibleHosts, shardHosts)
		if len(hosts) == 0 {
			continue
		}
		tp := in.Plan
		tp.Hosts = hosts
		tp.ExecutionOrder = execOrder
		execOrder++
		batchTasks = append(batchTasks, tp)
	}
	return model.ExecutionBatch{
		BatchID: fmt.Sprintf("%s-%s", playID, batchID),
		Hosts:   shardHosts,
		Tasks:   batchTasks,
	}, nil
}

func shardedFreeBatches(playID string, playHosts []string, shardSize int, levels [][]string, tasks map[string]TaskInput) ([]model.ExecutionBatch, error) {
	shards := chunkHosts(playHosts, shardSize)
	order := flatten(levels)
	var all []model.ExecutionBatch
	var prevID string
	for i, shard := range shards {
		b, err := freeBatch(playID, fmt.Sprintf("shard%d-batch-0", i), shard, order, tasks, 0)
		if err != nil {
			return nil, err
		}
		if len(b.Tasks) == 0 {
			continue
		}
		if prevID != "" {
			b.Dependencies = append(b.Dependencies, prevID)
		}
		all = append(all, b)
		prevID = b.BatchID
	}
	return all, nil
}

// hostPinnedBatches gives each host its own independent batch sequence;
// hosts never depend on each other.
func hostPinnedBatches(playID string, playHosts []string, levels [][]string, tasks map[string]TaskInput) ([]model.ExecutionBatch, error) {
	var all []model.ExecutionBatch
	for _, host := range playHosts {
		hostBatches, err := levelBatches(playID, fmt.Sprintf("host-%s", host), []string{host}, levels, tasks, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, hostBatches...)
	}
	return all, nil
}
