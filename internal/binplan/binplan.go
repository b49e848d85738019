// Package binplan identifies spans of binary-eligible tasks worth
// compiling into a native binary to amortize network overhead, and
// assembles the BinaryDeployment records for them (spec §4.7).
package binplan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/target"
)

// compatibleModules is the static policy table of modules worth
// compiling; see spec §4.7.
var compatibleModules = map[string]bool{
	"file": true, "copy": true, "template": true, "shell": true,
	"command": true, "package": true, "service": true, "user": true,
	"group": true, "lineinfile": true,
}

// interactiveModules require a human or the controller and can never be
// embedded in a compiled binary.
var interactiveModules = map[string]bool{
	"pause": true, "prompt": true, "fetch": true,
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

// Eligible reports whether a task may be part of a binary deployment.
// Delegated tasks are conservatively excluded (spec §9 Open Question:
// delegate_to's effect on binary host-intersection is underspecified, so
// delegated tasks never enter a compiled span).
func Eligible(t model.TaskPlan, delegateTo string) bool {
	return compatibleModules[t.Module] && !interactiveModules[t.Module] && delegateTo == ""
}

// group is an internal accumulator before threshold/force decisions and
// target partitioning are applied.
type group struct {
	tasks      []model.TaskPlan
	hosts      []string
	networkOps int
}

// buildGroups runs the grouping algorithm from spec §4.7 steps 1-5 over
// tasks already ordered by execution_order. delegateOf maps task id to its
// delegate_to host, if any.
func buildGroups(tasks []model.TaskPlan, delegateOf map[string]string) []group {
	var groups []group
	i := 0
	for i < len(tasks) {
		t := tasks[i]
		if !Eligible(t, delegateOf[t.TaskID]) {
			i++
			continue
		}
		g := group{tasks: []model.TaskPlan{t}, hosts: append([]string(nil), t.Hosts...)}
		g.networkOps += networkWeight(t.Module)

		j := i + 1
		for j < len(tasks) {
			cand := tasks[j]
			if !Eligible(cand, delegateOf[cand.TaskID]) {
				break
			}
			overlap := intersectHosts(g.hosts, cand.Hosts)
			if len(overlap) == 0 {
				break
			}
			if conflictsExclusive(g.tasks, cand) {
				break
			}
			g.hosts = overlap
			g.tasks = append(g.tasks, cand)
			g.networkOps += networkWeight(cand.Module)
			j++
		}
		groups = append(groups, g)
		i = j
	}
	return groups
}

var exclusiveModules = map[string]bool{"package": true, "service": true, "reboot": true}

func conflictsExclusive(members []model.TaskPlan, cand model.TaskPlan) bool {
	if !exclusiveModules[cand.Module] {
		return false
	}
	for _, m := range members {
		if exclusiveModules[m.Module] && sharesHost(m.Hosts, cand.Hosts) {
			return true
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

func intersectHosts(a, b []string) []string {
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

// Options configures emission policy and target resolution for Plan.
type Options struct {
	PlayID          string
	BinaryThreshold int
	ForceBinary     bool
	ForceSSH        bool
	Mode            model.ExecutionMode
	PlanScopeHosts  []string
	Vars            map[string]interface{}
	Resolver        *target.Resolver
	ToolchainVersion string
}

// Plan groups tasks (already ordered by execution_order across the play's
// batches) into BinaryDeployments. delegateOf maps task id to delegate_to.
func Plan(tasks []model.TaskPlan, delegateOf map[string]string, opts Options) []model.BinaryDeployment {
	if opts.ForceSSH {
		return nil
	}

	groups := buildGroups(tasks, delegateOf)

	var deployments []model.BinaryDeployment
	idx := 0
	for _, g := range groups {
		emit := opts.ForceBinary || (len(g.tasks) >= opts.BinaryThreshold && g.networkOps >= 3)
		if !emit {
			continue
		}

		targetHosts := intersectHosts(g.hosts, opts.PlanScopeHosts)
		if len(targetHosts) == 0 {
			targetHosts = g.hosts
		}

		partitions := partitionByTarget(targetHosts, opts.Resolver)
		var partitionKeys []string
		for k := range partitions {
			partitionKeys = append(partitionKeys, k)
		}
		sort.Strings(partitionKeys)

		for _, key := range partitionKeys {
			hosts := partitions[key]
			t := opts.Resolver.ResolveForHosts(hosts)
			deployments = append(deployments, buildDeployment(opts.PlayID, idx, g, hosts, t, opts))
			idx++
		}
	}
	return deployments
}

func partitionByTarget(hosts []string, resolver *target.Resolver) map[string][]string {
	out := make(map[string][]string)
	for _, h := range hosts {
		t := resolver.Resolve(h)
		out[t.Key()] = append(out[t.Key()], h)
	}
	return out
}

func buildDeployment(playID string, idx int, g group, hosts []string, t target.Target, opts Options) model.BinaryDeployment {
	taskIDs := make([]string, len(g.tasks))
	moduleSet := map[string]bool{}
	for i, tp := range g.tasks {
		taskIDs[i] = tp.TaskID
		moduleSet[tp.Module] = true
	}
	modules := make([]string, 0, len(moduleSet))
	for m := range moduleSet {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	staticFiles := embeddedStaticFiles(g.tasks)
	requiredFacts := requiredFactsOf(g.tasks)
	vars := embeddedVars(g.tasks, opts.Vars)

	subplan := buildSubplan(playID, g.tasks, hosts)

	toolchain := opts.ToolchainVersion
	if toolchain == "" {
		toolchain = "go1.25"
	}

	return model.BinaryDeployment{
		DeploymentID: fmt.Sprintf("%s-binary-%03d", playID, idx),
		TargetHosts:  hosts,
		BinaryName:   fmt.Sprintf("%s-bin-%03d", playID, idx),
		TaskIDs:      taskIDs,
		Modules:      modules,
		EmbeddedData: model.EmbeddedData{
			Subplan:       subplan,
			StaticFiles:   staticFiles,
			RequiredFacts: requiredFacts,
			Vars:          vars,
		},
		ExecutionMode: opts.Mode,
		EstimatedSize: estimateSize(g.tasks, staticFiles),
		CompilationRequirements: model.CompilationRequirements{
			TargetArch:       t.Arch,
			TargetOS:         t.OS,
			TargetTriple:     t.Triple,
			ToolchainVersion: toolchain,
			CrossCompilation: opts.Resolver.IsCrossCompilation(t),
			StaticLinking:    true,
		},
	}
}

func buildSubplan(playID string, tasks []model.TaskPlan, hosts []string) *model.ExecutionPlan {
	batch := model.ExecutionBatch{
		BatchID: fmt.Sprintf("%s-embedded", playID),
		Hosts:   hosts,
		Tasks:   tasks,
	}
	return &model.ExecutionPlan{
		Plays: []model.PlayPlan{
			{
				PlayID:  playID,
				Name:    playID,
				Hosts:   hosts,
				Batches: []model.ExecutionBatch{batch},
			},
		},
		Hosts:      hosts,
		TotalTasks: len(tasks),
	}
}

func embeddedStaticFiles(tasks []model.TaskPlan) []model.EmbeddedStaticFile {
	var files []model.EmbeddedStaticFile
	for _, t := range tasks {
		if t.Module != "copy" && t.Module != "template" {
			continue
		}
		src, _ := t.Args["src"].(string)
		dest, _ := t.Args["dest"].(string)
		if src == "" {
			continue
		}
		checksum, size := fileFingerprint(src)
		files = append(files, model.EmbeddedStaticFile{Src: src, Dest: dest, Checksum: checksum, Size: size})
	}
	return files
}

// fileFingerprint reads a local source file available at plan time to
// compute its checksum and size. A missing file is not a planning error
// (the upstream parser may reference a path relative to an execution
// context the planner doesn't share); it is recorded with a zero
// fingerprint rather than aborting the plan.
func fileFingerprint(path string) (checksum string, size int64) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data))
}

func requiredFactsOf(tasks []model.TaskPlan) []string {
	facts := map[string]bool{}
	staticFactNames := []string{"ansible_os_family", "ansible_system", "ansible_distribution", "ansible_architecture", "ansible_machine"}
	for _, t := range tasks {
		for _, c := range t.Conditions {
			if c.Kind != model.ConditionWhen {
				continue
			}
			for _, name := range staticFactNames {
				if containsIdentifier(c.Expression, name) {
					facts[name] = true
				}
			}
		}
	}
	var out []string
	for f := range facts {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

var identBoundary = regexp.MustCompile(`[A-Za-z0-9_]+`)

func containsIdentifier(expr, ident string) bool {
	for _, m := range identBoundary.FindAllString(expr, -1) {
		if m == ident {
			return true
		}
	}
	return false
}

var templateVarRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// embeddedVars computes the transitive closure of variable references in
// the group's task args: every {{ name }} reference found in a string arg
// value, plus any variables those values themselves reference, up to a
// bounded depth to guard against self-referential cycles.
func embeddedVars(tasks []model.TaskPlan, vars map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	queue := []string{}
	seen := map[string]bool{}

	for _, t := range tasks {
		for _, v := range t.Args {
			if s, ok := v.(string); ok {
				for _, m := range templateVarRe.FindAllStringSubmatch(s, -1) {
					name := m[1]
					if !seen[name] {
						seen[name] = true
						queue = append(queue, name)
					}
				}
			}
		}
	}

	for depth := 0; depth < 5 && len(queue) > 0; depth++ {
		var next []string
		for _, name := range queue {
			val, ok := vars[name]
			if !ok {
				continue
			}
			out[name] = val
			if s, ok := val.(string); ok {
				for _, m := range templateVarRe.FindAllStringSubmatch(s, -1) {
					inner := m[1]
					if !seen[inner] {
						seen[inner] = true
						next = append(next, inner)
					}
				}
			}
		}
		queue = next
	}

	return out
}

func estimateSize(tasks []model.TaskPlan, files []model.EmbeddedStaticFile) int64 {
	var size int64 = int64(len(tasks)) * 2048 // per-task code + metadata overhead heuristic
	for _, f := range files {
		size += f.Size
	}
	return size
}
