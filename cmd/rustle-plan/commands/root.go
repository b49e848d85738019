// Package commands implements the rustle-plan CLI surface (spec.md §6):
// a single filter command, not a teacher-style subcommand tree, since
// rustle-plan reads one parsed-playbook document and emits one plan.
package commands

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustlehq/rustle-plan/internal/depgraph"
	"github.com/rustlehq/rustle-plan/internal/engine"
	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/options"
	"github.com/rustlehq/rustle-plan/internal/perrors"
	"github.com/rustlehq/rustle-plan/internal/policy"
	"github.com/rustlehq/rustle-plan/internal/schema"
	"github.com/rustlehq/rustle-plan/internal/telemetry"

	"github.com/rustlehq/rustle-plan/internal/cache"
)

// Exit codes from spec.md §6.
const (
	exitSuccess      = 0
	exitPlanningErr  = 1
	exitInputParse   = 2
	exitIO           = 3
)

// cliOptionNames lists every flag that participates in the CLI > env >
// dotfile > default priority ladder (options.Resolve's cliSet keys).
var cliOptionNames = []string{
	"limit", "tags", "skip-tags", "strategy", "serial", "forks",
	"check", "diff", "binary-threshold", "force-binary", "force-ssh",
	"list-tasks", "list-hosts", "list-binaries", "visualize", "output",
	"optimize", "estimate-time", "dry-run", "target-arch", "target-os",
	"fact-cache",
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	cmd := newRootCommand(ctx)
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if code, ok := exitCodeFor(err); ok {
			return code
		}
		return exitPlanningErr
	}
	return exitSuccess
}

// exitErr carries a concrete exit code alongside the error cobra prints.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCodeFor(err error) (int, bool) {
	var ee *exitErr
	if ok := asExitErr(err, &ee); ok {
		return ee.code, true
	}
	return 0, false
}

func asExitErr(err error, target **exitErr) bool {
	for err != nil {
		if e, ok := err.(*exitErr); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newRootCommand(ctx context.Context) *cobra.Command {
	var (
		cli        options.PlanningOptions
		watch      bool
		dotfile    string
		cacheDir   string
		cacheSize  int
		cacheOff   bool
	)

	cmd := &cobra.Command{
		Use:   "rustle-plan [FILE]",
		Short: "Compute a deterministic, optimized execution plan from a parsed playbook",
		Long: `rustle-plan is the execution-planning stage of a configuration-management
pipeline: it reads a parsed, inventory-enriched playbook document (stdin or a
named file) and emits a deterministic execution plan for a binary
compiler/deployer and an SSH executor to consume verbatim.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := "-"
			if len(args) == 1 {
				inputPath = args[0]
			}

			cliSet := map[string]bool{}
			for _, name := range cliOptionNames {
				cliSet[name] = cmd.Flags().Changed(name)
			}
			opts, err := options.Resolve(cli, cliSet, dotfilePath(dotfile))
			if err != nil {
				return &exitErr{exitInputParse, err}
			}
			if err := opts.Validate(); err != nil {
				return &exitErr{exitInputParse, err}
			}

			eng, err := buildPlanner(ctx, cacheOpts(cacheOff, cacheDir, cacheSize))
			if err != nil {
				return &exitErr{exitIO, err}
			}
			defer eng.close()

			if watch {
				if inputPath == "-" {
					return &exitErr{exitInputParse, fmt.Errorf("--watch requires a named input file, not stdin")}
				}
				return runWatch(ctx, cmd, inputPath, opts, eng)
			}

			return runOnce(ctx, cmd, inputPath, opts, eng)
		},
	}

	cmd.Flags().StringVar(&cli.Limit, "limit", "", "restrict to hosts matching pattern")
	cmd.Flags().StringSliceVar(&cli.Tags, "tags", nil, "task filtering: only run these tags")
	cmd.Flags().StringSliceVar(&cli.SkipTags, "skip-tags", nil, "task filtering: skip these tags")
	cmd.Flags().StringVar((*string)(&cli.Strategy), "strategy", "", "linear|rolling|free|host-pinned|binary-hybrid|binary-only")
	cmd.Flags().IntVar(&cli.Serial, "serial", 0, "host shard size")
	cmd.Flags().IntVar(&cli.Forks, "forks", 0, "max parallelism per parallel group")
	cmd.Flags().BoolVar(&cli.Check, "check", false, "planning-only mode; emits check_mode conditions")
	cmd.Flags().BoolVar(&cli.Diff, "diff", false, "planning-only mode; emits check_mode conditions")
	cmd.Flags().IntVar(&cli.BinaryThreshold, "binary-threshold", 0, "minimum task count for binary emission")
	cmd.Flags().BoolVar(&cli.ForceBinary, "force-binary", false, "override binary-planner decisions: always emit")
	cmd.Flags().BoolVar(&cli.ForceSSH, "force-ssh", false, "override binary-planner decisions: never emit")
	cmd.Flags().BoolVar(&cli.ListTasks, "list-tasks", false, "dump the task list instead of a full plan")
	cmd.Flags().BoolVar(&cli.ListHosts, "list-hosts", false, "dump the resolved host list instead of a full plan")
	cmd.Flags().BoolVar(&cli.ListBinaries, "list-binaries", false, "dump binary deployments instead of a full plan")
	cmd.Flags().BoolVar(&cli.Visualize, "visualize", false, "shorthand for -o dot")
	cmd.Flags().StringVarP(&cli.Output, "output", "o", "", "json|dot|binary")
	cmd.Flags().BoolVar(&cli.Optimize, "optimize", false, "enable aggressive grouping and reordering")
	cmd.Flags().BoolVar(&cli.EstimateTime, "estimate-time", false, "include duration fields")
	cmd.Flags().BoolVar(&cli.DryRun, "dry-run", false, "compute but do not emit")
	cmd.Flags().StringVar(&cli.TargetArch, "target-arch", "", "global target arch override")
	cmd.Flags().StringVar(&cli.TargetOS, "target-os", "", "global target OS override")
	cmd.Flags().StringVar(&cli.FactCachePath, "fact-cache", "", "alternate host-fact source")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-plan when the input file changes")
	cmd.Flags().StringVar(&dotfile, "config", "", "dotfile path (default .rustle-plan.yaml in cwd)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "plan cache directory (default $RUSTLE_CACHE_DIR)")
	cmd.Flags().IntVar(&cacheSize, "cache-size-mb", 0, "plan cache disk quota in MB (default $RUSTLE_CACHE_SIZE_MB)")
	cmd.Flags().BoolVar(&cacheOff, "no-cache", false, "disable the plan cache for this run")
	cmd.Flags().CountP("verbose", "v", "increase log verbosity (-v debug, -vv trace)")

	return cmd
}

func dotfilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ".rustle-plan.yaml"
}

// planner bundles the engine with the resources Execute must close.
type planner struct {
	eng    *engine.Planner
	cache  *cache.Cache
	tracer *telemetry.Tracer
}

func (p *planner) close() {
	if p.cache != nil {
		_ = p.cache.Close()
	}
	if p.tracer != nil {
		_ = p.tracer.Shutdown(context.Background())
	}
}

type cacheSettings struct {
	disabled bool
	dir      string
	sizeMB   int
}

func cacheOpts(disabled bool, dir string, sizeMB int) cacheSettings {
	if !disabled {
		if v := os.Getenv("RUSTLE_CACHE_ENABLED"); v == "false" || v == "0" {
			disabled = true
		}
	}
	if dir == "" {
		dir = os.Getenv("RUSTLE_CACHE_DIR")
	}
	if dir == "" {
		if ucd, err := os.UserCacheDir(); err == nil {
			dir = filepath.Join(ucd, "rustle-plan")
		}
	}
	if sizeMB == 0 {
		if v := os.Getenv("RUSTLE_CACHE_SIZE_MB"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				sizeMB = n
			}
		}
	}
	if sizeMB == 0 {
		sizeMB = 256
	}
	return cacheSettings{disabled: disabled, dir: dir, sizeMB: sizeMB}
}

func buildPlanner(ctx context.Context, cs cacheSettings) (*planner, error) {
	riskEngine, err := policy.NewEngine(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("risk policy engine unavailable, planning without risk tagging")
		riskEngine = nil
	}

	var c *cache.Cache
	if !cs.disabled && cs.dir != "" {
		c, err = cache.New(ctx, cache.Options{
			MemoryMaxBytes: 64 << 20,
			DiskDir:        cs.dir,
			DiskMaxBytes:   int64(cs.sizeMB) << 20,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing plan cache at %s: %w", cs.dir, err)
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	tracerCfg := telemetry.TracingConfig{Enabled: false}
	if endpoint := os.Getenv("RUSTLE_OTLP_ENDPOINT"); endpoint != "" {
		tracerCfg = telemetry.TracingConfig{Enabled: true, Exporter: "otlp", OTLPEndpoint: endpoint, SamplingRate: 1.0}
	}
	tracer, err := telemetry.NewTracer(ctx, tracerCfg, engine.PlannerVersion)
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	return &planner{eng: engine.New(riskEngine, c, metrics, tracer), cache: c, tracer: tracer}, nil
}

func runOnce(ctx context.Context, cmd *cobra.Command, inputPath string, opts options.PlanningOptions, p *planner) error {
	doc, err := loadDocument(inputPath, opts.FactCachePath)
	if err != nil {
		return err
	}

	plan, err := p.eng.Plan(ctx, *doc, opts)
	if err != nil {
		return planErrToExit(err)
	}

	if !opts.EstimateTime {
		stripDurations(plan)
	}

	if opts.DryRun {
		fmt.Fprintf(cmd.ErrOrStderr(), "dry run: %d tasks across %d plays, %d binary deployments (not emitted)\n",
			plan.TotalTasks, len(plan.Plays), len(plan.BinaryDeployments))
		return nil
	}

	if opts.ListTasks || opts.ListHosts || opts.ListBinaries {
		return writeLists(cmd.OutOrStdout(), plan, opts)
	}

	return writePlan(cmd.OutOrStdout(), doc, plan, opts)
}

func runWatch(ctx context.Context, cmd *cobra.Command, inputPath string, opts options.PlanningOptions, p *planner) error {
	if err := runOnce(ctx, cmd, inputPath, opts, p); err != nil {
		log.Error().Err(err).Msg("initial plan failed, watching for changes anyway")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &exitErr{exitIO, fmt.Errorf("starting file watcher: %w", err)}
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(inputPath)); err != nil {
		return &exitErr{exitIO, fmt.Errorf("watching %s: %w", inputPath, err)}
	}

	target := filepath.Clean(inputPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Info().Str("file", inputPath).Msg("input changed, replanning")
			if err := runOnce(ctx, cmd, inputPath, opts, p); err != nil {
				log.Error().Err(err).Msg("replan failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		}
	}
}

func loadDocument(inputPath, factCachePath string) (*model.ParsedDocument, error) {
	raw, err := readInput(inputPath)
	if err != nil {
		return nil, &exitErr{exitIO, err}
	}

	var doc model.ParsedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &exitErr{exitInputParse, fmt.Errorf("parsing input document: %w", err)}
	}

	if err := validateDocument(doc); err != nil {
		return nil, &exitErr{exitInputParse, err}
	}

	if factCachePath != "" {
		if err := applyFactCache(&doc, factCachePath); err != nil {
			return nil, &exitErr{exitIO, err}
		}
	}

	return &doc, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(bufio.NewReader(os.Stdin))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func validateDocument(doc model.ParsedDocument) error {
	registry, err := schema.NewRegistry()
	if err != nil {
		return fmt.Errorf("initializing schema registry: %w", err)
	}
	for _, play := range doc.Plays {
		if err := registry.Validate("play", play); err != nil {
			return fmt.Errorf("play %q: %w", play.Name, err)
		}
	}
	if doc.Inventory != nil {
		if err := registry.Validate("inventory", doc.Inventory); err != nil {
			return fmt.Errorf("inventory: %w", err)
		}
	}
	return nil
}

func applyFactCache(doc *model.ParsedDocument, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fact cache %s: %w", path, err)
	}
	var facts map[string]model.HostFacts
	if err := json.Unmarshal(data, &facts); err != nil {
		return fmt.Errorf("parsing fact cache %s: %w", path, err)
	}
	if doc.Inventory == nil {
		doc.Inventory = &model.ParsedInventory{}
	}
	if doc.Inventory.HostFacts == nil {
		doc.Inventory.HostFacts = map[string]model.HostFacts{}
	}
	for host, f := range facts {
		doc.Inventory.HostFacts[host] = f
	}
	return nil
}

// planErrToExit classifies a Plan() error for the exit-code ladder and
// prints the one-line summary plus detail block spec.md §6 requires.
// Plan() never returns a warning-class PlanError: warnings are recorded
// on plan metadata and do not abort, so anything reaching here is fatal.
func planErrToExit(err error) error {
	fmt.Fprintln(os.Stderr, err.Error())
	if code, ok := perrors.Code(err); ok {
		fmt.Fprintf(os.Stderr, "  code: %s\n", code)
	}
	return &exitErr{exitPlanningErr, err}
}

func stripDurations(plan *model.ExecutionPlan) {
	plan.EstimatedDuration = nil
	plan.EstimatedCompilationTime = nil
	for pi := range plan.Plays {
		plan.Plays[pi].EstimatedDuration = nil
		for bi := range plan.Plays[pi].Batches {
			plan.Plays[pi].Batches[bi].EstimatedDuration = nil
			for ti := range plan.Plays[pi].Batches[bi].Tasks {
				plan.Plays[pi].Batches[bi].Tasks[ti].EstimatedDuration = nil
			}
		}
	}
}

func writeLists(w io.Writer, plan *model.ExecutionPlan, opts options.PlanningOptions) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if opts.ListHosts {
		if err := enc.Encode(plan.Hosts); err != nil {
			return &exitErr{exitIO, err}
		}
	}
	if opts.ListTasks {
		var tasks []model.TaskPlan
		for _, pp := range plan.Plays {
			for _, b := range pp.Batches {
				tasks = append(tasks, b.Tasks...)
			}
		}
		if err := enc.Encode(tasks); err != nil {
			return &exitErr{exitIO, err}
		}
	}
	if opts.ListBinaries {
		if err := enc.Encode(plan.BinaryDeployments); err != nil {
			return &exitErr{exitIO, err}
		}
	}
	return nil
}

func writePlan(w io.Writer, doc *model.ParsedDocument, plan *model.ExecutionPlan, opts options.PlanningOptions) error {
	format := opts.Output
	if opts.Visualize {
		format = "dot"
	}
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plan); err != nil {
			return &exitErr{exitIO, err}
		}
	case "dot":
		dot, err := taskGraphDOT(doc)
		if err != nil {
			return &exitErr{exitPlanningErr, err}
		}
		if _, err := io.WriteString(w, dot); err != nil {
			return &exitErr{exitIO, err}
		}
	case "binary":
		if err := writeBinary(w, plan); err != nil {
			return &exitErr{exitIO, err}
		}
	default:
		return &exitErr{exitInputParse, fmt.Errorf("unsupported output format %q", format)}
	}
	return nil
}

// taskGraphDOT renders the first play's dependency graph as Graphviz DOT.
// Only the first play is rendered when a document carries more than one;
// a single DOT document cannot cleanly represent multiple independent
// graphs, and --visualize is a human-inspection aid rather than a
// machine-consumed plan variant.
func taskGraphDOT(doc *model.ParsedDocument) (string, error) {
	if len(doc.Plays) == 0 {
		return "", fmt.Errorf("document has no plays to visualize")
	}
	play := doc.Plays[0]
	g, err := depgraph.Build(play.Tasks, play.Handlers)
	if err != nil {
		return "", err
	}
	if len(doc.Plays) > 1 {
		log.Warn().Str("play", play.Name).Msg("--visualize renders only the first play")
	}
	return g.ToDOT(), nil
}

// writeBinary is the compact binary output variant exposed as -o binary:
// gzip-compressed JSON of the plan. internal/cache's disk tier stores
// plain, uncompressed JSON, so the two encodings differ.
func writeBinary(w io.Writer, plan *model.ExecutionPlan) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(plan); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
