package model

// Strategy selects how a play's task graph is expanded into execution
// batches. See spec §4.5.
type Strategy string

const (
	StrategyLinear       Strategy = "linear"
	StrategyFree         Strategy = "free"
	StrategyRolling      Strategy = "rolling"
	StrategyHostPinned   Strategy = "host-pinned"
	StrategyBinaryHybrid Strategy = "binary-hybrid"
	StrategyBinaryOnly   Strategy = "binary-only"
)

// DependencyKind tags the origin of a dependency edge in the task graph.
type DependencyKind string

const (
	// DependencyExplicit comes from a task's declared dependencies[] list.
	DependencyExplicit DependencyKind = "explicit"

	// DependencyFileOutput links a file-producing task to a file-consuming one.
	DependencyFileOutput DependencyKind = "file_output"

	// DependencyServicePackage links a package task to the service task managing it.
	DependencyServicePackage DependencyKind = "service_package"

	// DependencyNotify links a notifying task to the handler it triggers.
	DependencyNotify DependencyKind = "notify"
)

// ConditionKind tags the variant of a TaskPlan condition.
type ConditionKind string

const (
	ConditionTag   ConditionKind = "tag"
	ConditionWhen  ConditionKind = "when"
	ConditionHost  ConditionKind = "host"
	ConditionSkip  ConditionKind = "skip"
	ConditionCheck ConditionKind = "check_mode"
)

// RiskLevel is the risk classification attached to a TaskPlan by the policy
// linting pass.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ExecutionMode describes how a BinaryDeployment's compiled artifact runs
// relative to the SSH executor.
type ExecutionMode string

const (
	// ModeStandalone means the binary runs entirely independently once deployed.
	ModeStandalone ExecutionMode = "standalone"

	// ModeController means the binary reports status back to the controller.
	ModeController ExecutionMode = "controller"

	// ModeHybrid means the binary handles a task span while the controller
	// still drives SSH for the rest of the play.
	ModeHybrid ExecutionMode = "hybrid"
)
