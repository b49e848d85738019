// Package options defines PlanningOptions, the validated configuration
// struct threaded through every planning phase, and the CLI > env >
// dotfile > default priority ladder used to assemble it.
package options

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rustlehq/rustle-plan/internal/model"
)

// PlanningOptions is the full set of planner-affecting options from
// spec §6's CLI table. Field order is the declared hash order used by
// internal/planhash.HashOptions.
type PlanningOptions struct {
	Limit           string          `yaml:"limit"`
	Tags            []string        `yaml:"tags"`
	SkipTags        []string        `yaml:"skip_tags"`
	Strategy        model.Strategy  `yaml:"strategy" validate:"omitempty,oneof=linear rolling free host-pinned binary-hybrid binary-only"`
	Serial          int             `yaml:"serial" validate:"omitempty,gt=0"`
	Forks           int             `yaml:"forks" validate:"required,gt=0"`
	Check           bool            `yaml:"check"`
	Diff            bool            `yaml:"diff"`
	BinaryThreshold int             `yaml:"binary_threshold" validate:"gte=0"`
	ForceBinary     bool            `yaml:"force_binary"`
	ForceSSH        bool            `yaml:"force_ssh"`
	ListTasks       bool            `yaml:"list_tasks"`
	ListHosts       bool            `yaml:"list_hosts"`
	ListBinaries    bool            `yaml:"list_binaries"`
	Visualize       bool            `yaml:"visualize"`
	Output          string          `yaml:"output" validate:"omitempty,oneof=dot json binary"`
	Optimize        bool            `yaml:"optimize"`
	EstimateTime    bool            `yaml:"estimate_time"`
	DryRun          bool            `yaml:"dry_run"`
	TargetArch      string          `yaml:"target_arch"`
	TargetOS        string          `yaml:"target_os"`
	FactCachePath   string          `yaml:"fact_cache"`
}

// Defaults returns the built-in fallback options (lowest priority tier).
func Defaults() PlanningOptions {
	return PlanningOptions{
		Strategy:        model.StrategyLinear,
		Forks:           5,
		BinaryThreshold: 5,
		Output:          "json",
	}
}

var validate = validator.New()

// Validate runs struct-tag validation, mirroring pkg/config/types.go's use
// of go-playground/validator.
func (o PlanningOptions) Validate() error {
	if o.ForceBinary && o.ForceSSH {
		return fmt.Errorf("--force-binary and --force-ssh are mutually exclusive")
	}
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid planning options: %w", err)
	}
	return nil
}

// HashFields implements planhash.OptionsHashable: every field in its
// declared struct order, stringified.
func (o PlanningOptions) HashFields() []string {
	return []string{
		o.Limit,
		strings.Join(o.Tags, ","),
		strings.Join(o.SkipTags, ","),
		string(o.Strategy),
		strconv.Itoa(o.Serial),
		strconv.Itoa(o.Forks),
		strconv.FormatBool(o.Check),
		strconv.FormatBool(o.Diff),
		strconv.Itoa(o.BinaryThreshold),
		strconv.FormatBool(o.ForceBinary),
		strconv.FormatBool(o.ForceSSH),
		strconv.FormatBool(o.ListTasks),
		strconv.FormatBool(o.ListHosts),
		strconv.FormatBool(o.ListBinaries),
		strconv.FormatBool(o.Visualize),
		o.Output,
		strconv.FormatBool(o.Optimize),
		strconv.FormatBool(o.EstimateTime),
		strconv.FormatBool(o.DryRun),
		o.TargetArch,
		o.TargetOS,
		o.FactCachePath,
	}
}

// dotfile mirrors PlanningOptions' yaml-tagged fields but with everything
// optional, since a dotfile may set only a subset of defaults.
type dotfile struct {
	Limit           *string         `yaml:"limit"`
	Tags            []string        `yaml:"tags"`
	SkipTags        []string        `yaml:"skip_tags"`
	Strategy        *model.Strategy `yaml:"strategy"`
	Serial          *int            `yaml:"serial"`
	Forks           *int            `yaml:"forks"`
	BinaryThreshold *int            `yaml:"binary_threshold"`
	Output          *string         `yaml:"output"`
	TargetArch      *string         `yaml:"target_arch"`
	TargetOS        *string         `yaml:"target_os"`
	FactCachePath   *string         `yaml:"fact_cache"`
}

// LoadDotfile parses a .rustle-plan.yaml file; a missing file is not an
// error, it simply contributes no overrides.
func LoadDotfile(path string) (*dotfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &dotfile{}, nil
		}
		return nil, fmt.Errorf("reading dotfile %s: %w", path, err)
	}
	var df dotfile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parsing dotfile %s: %w", path, err)
	}
	return &df, nil
}

// envOverrides reads the RUSTLE_* environment variables from spec §6.
type envOverrides struct {
	Forks      *int
	Strategy   *model.Strategy
	TargetArch *string
	TargetOS   *string
	FactCache  *string
}

func readEnvOverrides() envOverrides {
	var e envOverrides
	if v := os.Getenv("RUSTLE_DEFAULT_FORKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			e.Forks = &n
		}
	}
	if v := os.Getenv("RUSTLE_STRATEGY"); v != "" {
		s := model.Strategy(v)
		e.Strategy = &s
	}
	if v := os.Getenv("RUSTLE_TARGET_ARCH"); v != "" {
		e.TargetArch = &v
	}
	if v := os.Getenv("RUSTLE_TARGET_OS"); v != "" {
		e.TargetOS = &v
	}
	if v := os.Getenv("RUSTLE_FACT_CACHE"); v != "" {
		e.FactCache = &v
	}
	return e
}

// Resolve assembles PlanningOptions following the priority ladder
// CLI > env > dotfile > default. cli carries only the fields the user
// explicitly passed on the command line; cliSet names which of those
// fields were actually set (cobra's Changed() flag set).
func Resolve(cli PlanningOptions, cliSet map[string]bool, dotfilePath string) (PlanningOptions, error) {
	opts := Defaults()

	df, err := LoadDotfile(dotfilePath)
	if err != nil {
		return opts, err
	}
	applyDotfile(&opts, df)

	env := readEnvOverrides()
	applyEnv(&opts, env)

	applyCLI(&opts, cli, cliSet)

	return opts, nil
}

func applyDotfile(o *PlanningOptions, df *dotfile) {
	if df.Limit != nil {
		o.Limit = *df.Limit
	}
	if df.Tags != nil {
		o.Tags = df.Tags
	}
	if df.SkipTags != nil {
		o.SkipTags = df.SkipTags
	}
	if df.Strategy != nil {
		o.Strategy = *df.Strategy
	}
	if df.Serial != nil {
		o.Serial = *df.Serial
	}
	if df.Forks != nil {
		o.Forks = *df.Forks
	}
	if df.BinaryThreshold != nil {
		o.BinaryThreshold = *df.BinaryThreshold
	}
	if df.Output != nil {
		o.Output = *df.Output
	}
	if df.TargetArch != nil {
		o.TargetArch = *df.TargetArch
	}
	if df.TargetOS != nil {
		o.TargetOS = *df.TargetOS
	}
	if df.FactCachePath != nil {
		o.FactCachePath = *df.FactCachePath
	}
}

func applyEnv(o *PlanningOptions, e envOverrides) {
	if e.Forks != nil {
		o.Forks = *e.Forks
	}
	if e.Strategy != nil {
		o.Strategy = *e.Strategy
	}
	if e.TargetArch != nil {
		o.TargetArch = *e.TargetArch
	}
	if e.TargetOS != nil {
		o.TargetOS = *e.TargetOS
	}
	if e.FactCache != nil {
		o.FactCachePath = *e.FactCache
	}
}

func applyCLI(o *PlanningOptions, cli PlanningOptions, set map[string]bool) {
	if set["limit"] {
		o.Limit = cli.Limit
	}
	if set["tags"] {
		o.Tags = cli.Tags
	}
	if set["skip-tags"] {
		o.SkipTags = cli.SkipTags
	}
	if set["strategy"] {
		o.Strategy = cli.Strategy
	}
	if set["serial"] {
		o.Serial = cli.Serial
	}
	if set["forks"] {
		o.Forks = cli.Forks
	}
	if set["check"] {
		o.Check = cli.Check
	}
	if set["diff"] {
		o.Diff = cli.Diff
	}
	if set["binary-threshold"] {
		o.BinaryThreshold = cli.BinaryThreshold
	}
	if set["force-binary"] {
		o.ForceBinary = cli.ForceBinary
	}
	if set["force-ssh"] {
		o.ForceSSH = cli.ForceSSH
	}
	if set["list-tasks"] {
		o.ListTasks = cli.ListTasks
	}
	if set["list-hosts"] {
		o.ListHosts = cli.ListHosts
	}
	if set["list-binaries"] {
		o.ListBinaries = cli.ListBinaries
	}
	if set["visualize"] {
		o.Visualize = cli.Visualize
	}
	if set["output"] {
		o.Output = cli.Output
	}
	if set["optimize"] {
		o.Optimize = cli.Optimize
	}
	if set["estimate-time"] {
		o.EstimateTime = cli.EstimateTime
	}
	if set["dry-run"] {
		o.DryRun = cli.DryRun
	}
	if set["target-arch"] {
		o.TargetArch = cli.TargetArch
	}
	if set["target-os"] {
		o.TargetOS = cli.TargetOS
	}
	if set["fact-cache"] {
		o.FactCachePath = cli.FactCachePath
	}
}
