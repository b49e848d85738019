package model

// Dependency is one edge in a task's resolved dependency list, tagged with
// the rule that produced it.
type Dependency struct {
	TaskID string         `json:"task_id"`
	Kind   DependencyKind `json:"kind"`
}

// Condition is a single retained or informational condition on a TaskPlan.
// Static AlwaysTrue whens are dropped entirely rather than retained as a
// Condition (spec §4.3); only Dynamic, tag, host, skip, and check-mode
// conditions survive into the emitted plan.
type Condition struct {
	Kind       ConditionKind `json:"kind"`
	Expression string        `json:"expression,omitempty"`
}

// TaskPlan is a single task resolved against its candidate hosts, with
// dependencies rewritten to task-graph edges and execution order assigned.
type TaskPlan struct {
	TaskID            string       `json:"task_id"`
	Name              string       `json:"name"`
	Module            string       `json:"module"`
	Args              map[string]interface{} `json:"args"`
	Hosts             []string     `json:"hosts"`
	Dependencies      []Dependency `json:"dependencies,omitempty"`
	Conditions        []Condition  `json:"conditions,omitempty"`
	Tags              []string     `json:"tags,omitempty"`
	Notify            []string     `json:"notify,omitempty"`
	ExecutionOrder    uint32       `json:"execution_order"`
	CanRunParallel    bool         `json:"can_run_parallel"`
	EstimatedDuration *float64     `json:"estimated_duration,omitempty"`
	RiskLevel         RiskLevel    `json:"risk_level"`
}

// ParallelGroup is a set of tasks within one batch cleared to run
// concurrently.
type ParallelGroup struct {
	GroupID         string   `json:"group_id"`
	TaskIDs         []string `json:"tasks"`
	MaxParallelism  int      `json:"max_parallelism"`
	SharedResources []string `json:"shared_resources,omitempty"`
}

// ExecutionBatch is one scheduling unit within a play: a set of tasks over
// a set of hosts, with parallel groups computed within it.
type ExecutionBatch struct {
	BatchID           string          `json:"batch_id"`
	Hosts             []string        `json:"hosts"`
	Tasks             []TaskPlan      `json:"tasks"`
	ParallelGroups    []ParallelGroup `json:"parallel_groups,omitempty"`
	Dependencies      []string        `json:"dependencies,omitempty"`
	EstimatedDuration *float64        `json:"estimated_duration,omitempty"`
}

// CompilationRequirements describes the cross-compilation target for a
// BinaryDeployment.
type CompilationRequirements struct {
	TargetArch       string `json:"target_arch"`
	TargetOS         string `json:"target_os"`
	TargetTriple     string `json:"target_triple,omitempty"`
	ToolchainVersion string `json:"toolchain_version"`
	CrossCompilation bool   `json:"cross_compilation"`
	StaticLinking    bool   `json:"static_linking"`
}

// EmbeddedStaticFile is one file-copy/template source bundled into a
// BinaryDeployment's embedded data.
type EmbeddedStaticFile struct {
	Src      string `json:"src"`
	Dest     string `json:"dest"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// EmbeddedData is everything a BinaryDeployment's compiled artifact needs
// to run without contacting the controller.
type EmbeddedData struct {
	Subplan       *ExecutionPlan         `json:"subplan"`
	StaticFiles   []EmbeddedStaticFile   `json:"static_files,omitempty"`
	RequiredFacts []string               `json:"required_facts,omitempty"`
	Vars          map[string]interface{} `json:"vars,omitempty"`
}

// BinaryDeployment is a compilable bundle of binary-eligible tasks targeting
// one (arch, os) partition of a host group.
type BinaryDeployment struct {
	DeploymentID            string                  `json:"deployment_id"`
	TargetHosts             []string                `json:"target_hosts"`
	BinaryName              string                  `json:"binary_name"`
	TaskIDs                 []string                `json:"tasks"`
	Modules                 []string                `json:"modules"`
	EmbeddedData            EmbeddedData            `json:"embedded_data"`
	ExecutionMode           ExecutionMode           `json:"execution_mode"`
	EstimatedSize           int64                   `json:"estimated_size"`
	CompilationRequirements CompilationRequirements `json:"compilation_requirements"`
}

// PlayPlan is the fully expanded plan for a single play.
type PlayPlan struct {
	PlayID            string           `json:"play_id"`
	Name              string           `json:"name"`
	Strategy          Strategy         `json:"strategy"`
	Serial            *int             `json:"serial,omitempty"`
	Hosts             []string         `json:"hosts"`
	Batches           []ExecutionBatch `json:"batches"`
	Handlers          []TaskPlan       `json:"handlers,omitempty"`
	EstimatedDuration *float64         `json:"estimated_duration,omitempty"`
}

// PlanMetadata carries provenance, cache keys, and non-fatal warnings.
type PlanMetadata struct {
	CreatedAt      string   `json:"created_at"`
	PlannerVersion string   `json:"planner_version"`
	PlaybookHash   string   `json:"playbook_hash"`
	InventoryHash  string   `json:"inventory_hash"`
	OptionsHash    string   `json:"options_hash"`
	Options        string   `json:"options"`
	Warnings       []string `json:"warnings,omitempty"`
	// HandlerFlushPolicy records the chosen resolution of the Open Question
	// on handler flush timing under the rolling strategy: "per_play" or
	// "per_shard". See DESIGN.md.
	HandlerFlushPolicy string `json:"handler_flush_policy,omitempty"`
}

// ExecutionPlan is the root output document.
type ExecutionPlan struct {
	Metadata                 PlanMetadata       `json:"metadata"`
	Plays                     []PlayPlan         `json:"plays"`
	BinaryDeployments         []BinaryDeployment `json:"binary_deployments,omitempty"`
	Hosts                     []string           `json:"hosts"`
	TotalTasks                int                `json:"total_tasks"`
	EstimatedDuration         *float64           `json:"estimated_duration,omitempty"`
	EstimatedCompilationTime  *float64           `json:"estimated_compilation_time,omitempty"`
	ParallelismScore          float64            `json:"parallelism_score"`
	NetworkEfficiencyScore    float64            `json:"network_efficiency_score"`
}
