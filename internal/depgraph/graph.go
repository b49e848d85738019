// Package depgraph builds the directed acyclic task graph for a play:
// declared dependency edges, notify-to-handler edges, and a small set of
// best-effort inferred edges (file output/input, package/service), then
// exposes a deterministic topological order and level assignment.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

// Edge is one resolved dependency edge, tagged with the rule that produced
// it.
type Edge struct {
	From string // the dependency (must run first)
	To   string // the dependent
	Kind model.DependencyKind
}

// Node is one task's position in the graph.
type Node struct {
	ID           string
	Level        int
	Dependencies []string // tasks this node depends on
	Dependents   []string // tasks that depend on this node
}

// Graph is the built task graph for a single play scope.
type Graph struct {
	tasks                map[string]model.ParsedTask
	order                []string // insertion order, for stable iteration pre-sort
	adjacency            map[string][]string // dep -> dependents
	reverseAdjacency     map[string][]string // task -> its deps
	inDegree             map[string]int
	levels               [][]string
	edges                []Edge
	handlerIDs           map[string]bool
}

// Build constructs a Graph over tasks and handlers (handlers are nodes too,
// reachable only via notify edges). Unknown dependency ids are reported as
// PlanError(UnknownTaskDependency); cycles as PlanError(CircularDependency).
func Build(tasks []model.ParsedTask, handlers []model.ParsedTask) (*Graph, error) {
	g := &Graph{
		tasks:            make(map[string]model.ParsedTask),
		adjacency:        make(map[string][]string),
		reverseAdjacency: make(map[string][]string),
		inDegree:         make(map[string]int),
		handlerIDs:       make(map[string]bool),
	}

	allNodes := make([]model.ParsedTask, 0, len(tasks)+len(handlers))
	allNodes = append(allNodes, tasks...)
	allNodes = append(allNodes, handlers...)

	for _, t := range allNodes {
		if _, exists := g.tasks[t.ID]; exists {
			return nil, perrors.Fatal(perrors.CodeValidationError, fmt.Sprintf("duplicate task id: %s", t.ID), nil)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
		g.adjacency[t.ID] = nil
		g.reverseAdjacency[t.ID] = nil
		g.inDegree[t.ID] = 0
	}
	for _, h := range handlers {
		g.handlerIDs[h.ID] = true
	}

	if err := g.addDeclaredEdges(); err != nil {
		return nil, err
	}
	g.addNotifyEdges()
	g.addInferredEdges()

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.computeLevels()

	return g, nil
}

func (g *Graph) addEdge(from, to string, kind model.DependencyKind) {
	g.adjacency[from] = append(g.adjacency[from], to)
	g.reverseAdjacency[to] = append(g.reverseAdjacency[to], from)
	g.inDegree[to]++
	g.edges = append(g.edges, Edge{From: from, To: to, Kind: kind})
}

func (g *Graph) addDeclaredEdges() error {
	for _, id := range g.order {
		t := g.tasks[id]
		for _, dep := range t.Dependencies {
			if _, ok := g.tasks[dep]; !ok {
				return perrors.Fatal(perrors.CodeUnknownTaskDependency,
					fmt.Sprintf("task %s depends on unknown task %s", t.ID, dep), nil).
					WithResource(t.ID).WithDetail("dependency", dep)
			}
			g.addEdge(dep, t.ID, model.DependencyExplicit)
		}
	}
	return nil
}

// addNotifyEdges wires task → handler edges in notify-declaration order.
// Handlers run after every notifying task in the play; see spec §4.4 and
// the handler-flush-policy decision recorded in DESIGN.md.
func (g *Graph) addNotifyEdges() {
	for _, id := range g.order {
		t := g.tasks[id]
		for _, handlerName := range t.Notify {
			if _, ok := g.tasks[handlerName]; !ok {
				continue // notify target not found among handlers; nothing to wire
			}
			g.addEdge(t.ID, handlerName, model.DependencyNotify)
		}
	}
}

// addInferredEdges wires the two best-effort rules from spec §4.4: file
// output→input, and package→service on matching name. Never speculative
// across unrelated tasks — both rules key strictly off argument equality.
func (g *Graph) addInferredEdges() {
	for _, aID := range g.order {
		a := g.tasks[aID]
		aDest, _ := a.Args["dest"].(string)
		aName, _ := a.Args["name"].(string)

		for _, bID := range g.order {
			if aID == bID {
				continue
			}
			b := g.tasks[bID]

			if aDest != "" {
				if bSrc, _ := b.Args["src"].(string); bSrc != "" && bSrc == aDest {
					g.addEdge(aID, bID, model.DependencyFileOutput)
				}
			}

			if a.Module == "package" && b.Module == "service" && aName != "" {
				if bName, _ := b.Args["name"].(string); bName == aName {
					g.addEdge(aID, bID, model.DependencyServicePackage)
				}
			}
		}
	}
}

// detectCycles runs a DFS with recursion-stack coloring over every node.
func (g *Graph) detectCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		path = append(path, id)

		for _, next := range g.adjacency[id] {
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				cycleStart := -1
				for i, p := range path {
					if p == next {
						cycleStart = i
						break
					}
				}
				cycle := append(append([]string(nil), path[cycleStart:]...), next)
				return perrors.Fatal(perrors.CodeCircularDependency,
					fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, "→")), nil).
					WithDetail("cycle", cycle)
			}
		}

		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	sorted := g.sortedIDs()
	for _, id := range sorted {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	sort.Strings(ids)
	return ids
}

// computeLevels assigns topological levels via Kahn's algorithm; ties
// within a level are broken by sorted task id for determinism.
func (g *Graph) computeLevels() {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, id := range g.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	for len(current) > 0 {
		sort.Strings(current)
		g.levels = append(g.levels, current)

		seen := map[string]bool{}
		var next []string
		for _, id := range current {
			for _, dependent := range g.adjacency[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 && !seen[dependent] {
					seen[dependent] = true
					next = append(next, dependent)
				}
			}
		}
		current = next
	}
}

// Levels returns the computed topological levels; each inner slice can run
// in parallel relative to the others given only graph-edge constraints.
func (g *Graph) Levels() [][]string {
	return g.levels
}

// TopologicalOrder flattens Levels into a single deterministic sequence.
func (g *Graph) TopologicalOrder() []string {
	var out []string
	for _, level := range g.levels {
		out = append(out, level...)
	}
	return out
}

// Node returns the resolved node info for a task id.
func (g *Graph) Node(id string) Node {
	level := 0
	for l, ids := range g.levels {
		for _, i := range ids {
			if i == id {
				level = l
			}
		}
	}
	return Node{
		ID:           id,
		Level:        level,
		Dependencies: g.reverseAdjacency[id],
		Dependents:   g.adjacency[id],
	}
}

// Task returns the underlying ParsedTask for an id.
func (g *Graph) Task(id string) model.ParsedTask {
	return g.tasks[id]
}

// IsHandler reports whether id belongs to the handlers set rather than the
// play's ordinary task list.
func (g *Graph) IsHandler(id string) bool {
	return g.handlerIDs[id]
}

// Edges returns every resolved edge (declared, notify, and inferred).
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Dependents returns the direct dependents of id (tasks with id as a
// prerequisite).
func (g *Graph) Dependents(id string) []string {
	return g.adjacency[id]
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	return g.reverseAdjacency[id]
}

// ToDOT renders the graph as Graphviz DOT source, clustered by level, with
// edge styles keyed by dependency kind.
func (g *Graph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			t := g.tasks[id]
			label := fmt.Sprintf("%s\\n%s", t.Name, t.Module)
			fillColor := "white"
			if g.handlerIDs[id] {
				fillColor = "lightyellow"
			}
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n", id, label, fillColor))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", e.From, e.To, dotEdgeStyle(e.Kind)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotEdgeStyle(kind model.DependencyKind) string {
	switch kind {
	case model.DependencyExplicit:
		return "style=solid, color=black"
	case model.DependencyNotify:
		return "style=dashed, color=blue"
	case model.DependencyFileOutput:
		return "style=dotted, color=darkgreen"
	case model.DependencyServicePackage:
		return "style=dotted, color=orange"
	default:
		return "style=solid, color=black"
	}
}
