// Package engine is the composition root: it wires the hasher, target
// resolver, conditional evaluator, dependency analyzer, strategy
// expander, parallel-group analyzer, binary deployment planner,
// estimator, validator, and cache into the single Plan() operation,
// grounded on the teacher's pkg/engine.DefaultPlanner composition.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/binplan"
	"github.com/rustlehq/rustle-plan/internal/cache"
	"github.com/rustlehq/rustle-plan/internal/cond"
	"github.com/rustlehq/rustle-plan/internal/depgraph"
	"github.com/rustlehq/rustle-plan/internal/estimate"
	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/options"
	"github.com/rustlehq/rustle-plan/internal/parallelgroup"
	"github.com/rustlehq/rustle-plan/internal/perrors"
	"github.com/rustlehq/rustle-plan/internal/planhash"
	"github.com/rustlehq/rustle-plan/internal/policy"
	"github.com/rustlehq/rustle-plan/internal/strategy"
	"github.com/rustlehq/rustle-plan/internal/target"
	"github.com/rustlehq/rustle-plan/internal/telemetry"
	"github.com/rustlehq/rustle-plan/internal/validate"
)

// PlannerVersion is bumped whenever the hasher's field registry changes
// (spec §4.1): a cache entry computed under a different version is never
// reused.
const PlannerVersion = "rustle-plan/1"

// HandlerFlushPolicy resolves the Rolling-strategy handler-flush Open
// Question (spec §9): handlers notified by a rolling shard run once that
// shard finishes, not once per play. This keeps a shard's remediation
// self-contained and avoids holding every handler until the last shard
// lands, which could be many batches later on a large inventory.
const HandlerFlushPolicy = "per_shard"

// Planner composes every phase behind the single Plan entrypoint.
type Planner struct {
	risk    *policy.Engine
	cache   *cache.Cache
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// New constructs a Planner. cache may be nil: Plan then runs uncached
// (useful for --dry-run and tests). metrics and tracer are held on the
// Planner, but Plan records no metrics and starts no spans, so either may
// be nil.
func New(risk *policy.Engine, c *cache.Cache, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Planner {
	return &Planner{risk: risk, cache: c, metrics: metrics, tracer: tracer}
}

// Plan runs the full pipeline over doc under opts and returns the
// assembled, validated ExecutionPlan.
func (p *Planner) Plan(ctx context.Context, doc model.ParsedDocument, opts options.PlanningOptions) (*model.ExecutionPlan, error) {
	playbookHash, err := planhash.HashPlaybook(doc.Plays)
	if err != nil {
		return nil, err
	}
	inventoryHash, err := planhash.HashInventory(doc.Inventory)
	if err != nil {
		return nil, err
	}
	optionsHash := planhash.HashOptions(opts)

	key := cache.Key{
		PlaybookHash:   string(playbookHash),
		InventoryHash:  string(inventoryHash),
		OptionsHash:    string(optionsHash),
		PlannerVersion: PlannerVersion,
	}

	compute := func() (*model.ExecutionPlan, error) {
		return p.computePlan(ctx, doc, opts, key)
	}

	if p.cache == nil {
		return compute()
	}
	return p.cache.GetOrCompute(ctx, key, compute)
}

func (p *Planner) computePlan(ctx context.Context, doc model.ParsedDocument, opts options.PlanningOptions, key cache.Key) (*model.ExecutionPlan, error) {
	resolver := target.New(doc.Inventory, target.Overrides{Arch: opts.TargetArch, OS: opts.TargetOS})

	var warnings []string
	var playPlans []model.PlayPlan
	var binaryDeployments []model.BinaryDeployment
	var allTaskPlans []model.TaskPlan

	for _, play := range doc.Plays {
		pp, deployments, taskPlans, playWarnings, err := p.planPlay(ctx, play, doc.Inventory, opts, resolver)
		if err != nil {
			return nil, err
		}
		playPlans = append(playPlans, pp)
		binaryDeployments = append(binaryDeployments, deployments...)
		allTaskPlans = append(allTaskPlans, taskPlans...)
		warnings = append(warnings, playWarnings...)
	}

	hosts := uniqueSorted(collectHosts(playPlans))

	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}

	plan := &model.ExecutionPlan{
		Metadata: model.PlanMetadata{
			PlannerVersion:     PlannerVersion,
			PlaybookHash:       key.PlaybookHash,
			InventoryHash:      key.InventoryHash,
			OptionsHash:        key.OptionsHash,
			Options:            string(optionsJSON),
			Warnings:           warnings,
			HandlerFlushPolicy: HandlerFlushPolicy,
		},
		Plays:             playPlans,
		BinaryDeployments: binaryDeployments,
		Hosts:             hosts,
		TotalTasks:        len(allTaskPlans),
	}

	var playDuration float64
	for _, pp := range playPlans {
		d := estimate.PlayDuration(pp.Batches)
		playDuration += d
	}
	plan.EstimatedDuration = &playDuration

	compileTime := estimate.CompilationTime(binaryDeployments)
	plan.EstimatedCompilationTime = &compileTime

	var allBatches []model.ExecutionBatch
	for _, pp := range playPlans {
		allBatches = append(allBatches, pp.Batches...)
	}
	plan.ParallelismScore = estimate.ParallelismScore(allBatches)
	plan.NetworkEfficiencyScore = estimate.NetworkEfficiencyScore(allTaskPlans, binaryDeployments)

	if err := validate.Plan(plan); err != nil {
		return nil, err
	}

	return plan, nil
}

func (p *Planner) planPlay(ctx context.Context, play model.ParsedPlay, inv *model.ParsedInventory, opts options.PlanningOptions, resolver *target.Resolver) (model.PlayPlan, []model.BinaryDeployment, []model.TaskPlan, []string, error) {
	playHosts := resolveHosts(play.Hosts, inv)
	if len(playHosts) == 0 {
		return model.PlayPlan{}, nil, nil, nil, perrors.Fatal(perrors.CodeInvalidHostPattern,
			fmt.Sprintf("play %q resolved to no hosts", play.Name), nil).WithResource(play.Name)
	}

	graph, err := depgraph.Build(play.Tasks, nil)
	if err != nil {
		return model.PlayPlan{}, nil, nil, nil, err
	}

	hostFacts := map[string]model.HostFacts{}
	if inv != nil {
		hostFacts = inv.HostFacts
	}

	depsByTask := make(map[string][]model.Dependency)
	for _, e := range graph.Edges() {
		depsByTask[e.To] = append(depsByTask[e.To], model.Dependency{TaskID: e.From, Kind: e.Kind})
	}

	var warnings []string
	taskInputs := make(map[string]strategy.TaskInput, len(play.Tasks))
	delegateOf := make(map[string]string, len(play.Tasks))

	for _, task := range play.Tasks {
		tp, eligibleHosts, taskWarnings := buildTaskPlan(task, playHosts, hostFacts)
		tp.Dependencies = depsByTask[task.ID]
		if opts.Check || opts.Diff {
			tp.Conditions = append(tp.Conditions, model.Condition{Kind: model.ConditionCheck})
		}
		if skip, reason := tagSkip(task.Tags, opts.Tags, opts.SkipTags); skip {
			tp.Conditions = append(tp.Conditions, model.Condition{Kind: model.ConditionSkip, Expression: reason})
		}
		warnings = append(warnings, taskWarnings...)
		delegateOf[task.ID] = task.DelegateTo
		taskInputs[task.ID] = strategy.TaskInput{Plan: tp, EligibleHosts: eligibleHosts}
	}

	strat := play.Strategy
	if strat == "" {
		strat = opts.Strategy
	}

	batches, err := strategy.Expand(play.Name, strat, playHosts, graph.Levels(), taskInputs, play.Serial)
	if err != nil {
		return model.PlayPlan{}, nil, nil, nil, err
	}

	var allTasks []model.TaskPlan
	for bi := range batches {
		groups := parallelgroup.Compute(batches[bi], graph, opts.Forks)
		batches[bi].ParallelGroups = groups
		annotateParallel(batches[bi].Tasks, groups)
		estimate.AnnotateTasks(batches[bi].Tasks)
		if p.risk != nil {
			p.risk.AnnotateTasks(ctx, batches[bi].Tasks)
		}
		bd := estimate.BatchDuration(batches[bi])
		batches[bi].EstimatedDuration = &bd
		allTasks = append(allTasks, batches[bi].Tasks...)
	}

	var deployments []model.BinaryDeployment
	if strat == model.StrategyBinaryHybrid || strat == model.StrategyBinaryOnly || opts.ForceBinary {
		mode := model.ModeHybrid
		if strat == model.StrategyBinaryOnly {
			mode = model.ModeStandalone
		}
		ordered := append([]model.TaskPlan(nil), allTasks...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].ExecutionOrder < ordered[j].ExecutionOrder })
		deployments = binplan.Plan(ordered, delegateOf, binplan.Options{
			PlayID:          play.Name,
			BinaryThreshold: opts.BinaryThreshold,
			ForceBinary:      opts.ForceBinary,
			ForceSSH:         opts.ForceSSH,
			Mode:             mode,
			PlanScopeHosts:   playHosts,
			Vars:             play.Vars,
			Resolver:         resolver,
		})
	}

	var handlers []model.TaskPlan
	for _, h := range play.Handlers {
		tp, _, _ := buildTaskPlan(h, playHosts, hostFacts)
		estimate.AnnotateTasks([]model.TaskPlan{tp})
		handlers = append(handlers, tp)
	}

	playDuration := estimate.PlayDuration(batches)

	pp := model.PlayPlan{
		PlayID:            play.Name,
		Name:              play.Name,
		Strategy:          strat,
		Serial:            play.Serial,
		Hosts:             playHosts,
		Batches:           batches,
		Handlers:          handlers,
		EstimatedDuration: &playDuration,
	}

	return pp, deployments, allTasks, warnings, nil
}

func buildTaskPlan(task model.ParsedTask, playHosts []string, hostFacts map[string]model.HostFacts) (model.TaskPlan, []string, []string) {
	result := cond.Partition(task.When, playHosts, hostFacts)

	var eligibleHosts []string
	var conditions []model.Condition
	var warnings []string

	switch result.Outcome {
	case cond.AlwaysFalse:
		eligibleHosts = nil
	case cond.AlwaysTrue:
		eligibleHosts = playHosts
	case cond.StaticFiltered:
		eligibleHosts = result.SatisfyingHosts
	case cond.Dynamic:
		eligibleHosts = playHosts
		if task.When != "" {
			conditions = append(conditions, model.Condition{Kind: model.ConditionWhen, Expression: task.When})
		}
		if result.Warning != "" {
			warnings = append(warnings, result.Warning)
		}
	}

	if task.DelegateTo != "" {
		conditions = append(conditions, model.Condition{Kind: model.ConditionHost, Expression: task.DelegateTo})
	}

	tp := model.TaskPlan{
		TaskID:     task.ID,
		Name:       task.Name,
		Module:     task.Module,
		Args:       task.Args,
		Hosts:      eligibleHosts,
		Conditions: conditions,
		Tags:       task.Tags,
		Notify:     task.Notify,
	}
	return tp, eligibleHosts, warnings
}

func annotateParallel(tasks []model.TaskPlan, groups []model.ParallelGroup) {
	inGroup := make(map[string]bool)
	for _, g := range groups {
		if len(g.TaskIDs) > 1 {
			for _, id := range g.TaskIDs {
				inGroup[id] = true
			}
		}
	}
	for i := range tasks {
		tasks[i].CanRunParallel = inGroup[tasks[i].TaskID]
	}
}

func resolveHosts(pattern interface{}, inv *model.ParsedInventory) []string {
	switch v := pattern.(type) {
	case string:
		return expandHostPattern(v, inv)
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, expandHostPattern(s, inv)...)
			}
		}
		return uniqueSorted(out)
	default:
		return nil
	}
}

func expandHostPattern(pattern string, inv *model.ParsedInventory) []string {
	if inv == nil {
		return []string{pattern}
	}
	if pattern == "all" {
		var hosts []string
		for h := range inv.Hosts {
			hosts = append(hosts, h)
		}
		sort.Strings(hosts)
		return hosts
	}
	if g, ok := inv.Groups[pattern]; ok {
		return append([]string(nil), g.Hosts...)
	}
	if _, ok := inv.Hosts[pattern]; ok {
		return []string{pattern}
	}
	return []string{pattern}
}

func collectHosts(plays []model.PlayPlan) []string {
	var hosts []string
	for _, p := range plays {
		hosts = append(hosts, p.Hosts...)
	}
	return hosts
}

func uniqueSorted(in []string) []string {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// tagSkip reports whether a task is skipped by --tags/--skip-tags
// filtering. Skipped tasks stay in the graph and keep their execution
// order and dependency edges (spec §3's dependencies[] still links
// across them); the condition records why an executor should skip it
// rather than removing it, which would otherwise orphan dependents.
func tagSkip(taskTags, includeTags, excludeTags []string) (bool, string) {
	if len(excludeTags) > 0 && tagsIntersect(taskTags, excludeTags) {
		return true, "skip-tags"
	}
	if len(includeTags) > 0 && !tagsIntersect(taskTags, includeTags) {
		return true, "tags"
	}
	return false, ""
}

func tagsIntersect(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	for _, t := range a {
		if set[t] {
			return true
		}
	}
	return false
}
