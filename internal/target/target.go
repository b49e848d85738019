// Package target resolves per-host compilation targets: architecture,
// operating system, and (when known) the compiler triple, following the
// priority ladder in spec §4.2.
package target

import (
	"fmt"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/model"
)

// Target is a resolved (arch, os, triple?) tuple.
type Target struct {
	Arch   string
	OS     string
	Triple string // empty when the (arch, os) pair has no known triple
}

// Key is the deterministic tie-break key for a target: "{arch}-{os}".
func (t Target) Key() string {
	return fmt.Sprintf("%s-%s", t.Arch, t.OS)
}

// defaultTarget is returned when no other tier of the priority ladder
// resolves anything for a host.
var defaultTarget = Target{Arch: "x86_64", OS: "linux"}

var archAliases = map[string]string{
	"amd64":  "x86_64",
	"arm64":  "aarch64",
	"armv7l": "armv7",
	"i386":   "i686",
}

var osAliases = map[string]string{
	"macos":   "darwin",
	"osx":     "darwin",
	"darwin":  "darwin",
	"win32":   "windows",
	"windows": "windows",
	"linux":   "linux",
}

var tripleTable = map[string]string{
	"x86_64-linux":   "x86_64-unknown-linux-gnu",
	"aarch64-linux":  "aarch64-unknown-linux-gnu",
	"armv7-linux":    "armv7-unknown-linux-gnueabihf",
	"i686-linux":     "i686-unknown-linux-gnu",
	"x86_64-darwin":  "x86_64-apple-darwin",
	"aarch64-darwin": "aarch64-apple-darwin",
	"x86_64-windows": "x86_64-pc-windows-msvc",
}

// NormalizeArch maps a raw arch string onto its canonical spelling
// (case-insensitively); unrecognized values pass through lowercased.
func NormalizeArch(raw string) string {
	lower := lowerASCII(raw)
	if canon, ok := archAliases[lower]; ok {
		return canon
	}
	return lower
}

// NormalizeOS maps a raw OS string onto its canonical spelling
// (case-insensitively); unrecognized values pass through lowercased.
func NormalizeOS(raw string) string {
	lower := lowerASCII(raw)
	if canon, ok := osAliases[lower]; ok {
		return canon
	}
	return lower
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// withTriple fills in Triple from the triple table; unknown (arch, os)
// pairs are left with an empty triple ("SSH-only" downstream).
func withTriple(arch, os string) Target {
	t := Target{Arch: arch, OS: os}
	if triple, ok := tripleTable[t.Key()]; ok {
		t.Triple = triple
	}
	return t
}

// Overrides carries CLI/options-level global target overrides (tier 3 of
// the priority ladder) plus the planner's own build target, used to flag
// cross-compilation.
type Overrides struct {
	Arch       string
	OS         string
	BuildArch  string
	BuildOS    string
}

// Resolver resolves targets from inventory vars, group inheritance, CLI
// overrides, and a fact cache, falling back to the default target.
type Resolver struct {
	inv       *model.ParsedInventory
	overrides Overrides
}

// New constructs a Resolver over an (optionally nil) inventory.
func New(inv *model.ParsedInventory, overrides Overrides) *Resolver {
	return &Resolver{inv: inv, overrides: overrides}
}

// Resolve returns the target for a single host, following the priority
// ladder: host vars, group vars (through child inheritance), CLI
// overrides, fact cache, default.
func (r *Resolver) Resolve(host string) Target {
	if r.inv != nil {
		if hr, ok := r.inv.Hosts[host]; ok {
			if arch, os, ok := varsTarget(hr.Vars); ok {
				return withTriple(arch, os)
			}
		}
		if arch, os, ok := r.groupVarsTarget(host); ok {
			return withTriple(arch, os)
		}
	}

	if r.overrides.Arch != "" || r.overrides.OS != "" {
		arch, os := r.overrides.Arch, r.overrides.OS
		if arch == "" {
			arch = defaultTarget.Arch
		}
		if os == "" {
			os = defaultTarget.OS
		}
		return withTriple(NormalizeArch(arch), NormalizeOS(os))
	}

	if r.inv != nil {
		if hf, ok := r.inv.HostFacts[host]; ok && (hf.Architecture != "" || hf.System != "") {
			arch := hf.Architecture
			os := hf.System
			if arch == "" {
				arch = defaultTarget.Arch
			}
			if os == "" {
				os = defaultTarget.OS
			}
			return withTriple(NormalizeArch(arch), NormalizeOS(os))
		}
	}

	return withTriple(defaultTarget.Arch, defaultTarget.OS)
}

// groupVarsTarget walks every group the host belongs to (and those
// groups' children, transitively) looking for arch/os vars. Groups are
// visited in sorted name order so ties resolve deterministically.
func (r *Resolver) groupVarsTarget(host string) (arch, os string, ok bool) {
	if r.inv == nil {
		return "", "", false
	}

	var memberGroups []string
	for name, g := range r.inv.Groups {
		if containsHost(g.Hosts, host) || groupContainsHostTransitively(r.inv.Groups, name, host, map[string]bool{}) {
			memberGroups = append(memberGroups, name)
		}
	}
	sort.Strings(memberGroups)

	for _, name := range memberGroups {
		g := r.inv.Groups[name]
		if a, o, found := varsTarget(g.Vars); found {
			return a, o, true
		}
	}
	return "", "", false
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}

func groupContainsHostTransitively(groups map[string]model.GroupRecord, name, host string, seen map[string]bool) bool {
	if seen[name] {
		return false
	}
	seen[name] = true
	g, ok := groups[name]
	if !ok {
		return false
	}
	for _, child := range g.Children {
		if cg, ok := groups[child]; ok {
			if containsHost(cg.Hosts, host) {
				return true
			}
			if groupContainsHostTransitively(groups, child, host, seen) {
				return true
			}
		}
	}
	return false
}

func varsTarget(vars map[string]interface{}) (arch, os string, ok bool) {
	if vars == nil {
		return "", "", false
	}
	rawArch, hasArch := vars["target_arch"]
	rawOS, hasOS := vars["target_os"]
	if !hasArch && !hasOS {
		return "", "", false
	}
	a, _ := rawArch.(string)
	o, _ := rawOS.(string)
	if a == "" {
		a = defaultTarget.Arch
	}
	if o == "" {
		o = defaultTarget.OS
	}
	return NormalizeArch(a), NormalizeOS(o), true
}

// IsCrossCompilation reports whether t differs from the planner's own
// build target.
func (r *Resolver) IsCrossCompilation(t Target) bool {
	buildArch := r.overrides.BuildArch
	buildOS := r.overrides.BuildOS
	if buildArch == "" {
		buildArch = defaultTarget.Arch
	}
	if buildOS == "" {
		buildOS = defaultTarget.OS
	}
	return t.Arch != NormalizeArch(buildArch) || t.OS != NormalizeOS(buildOS)
}

// ResolveForHosts returns the modal (arch, os) pair across hosts; ties are
// broken by sorted order of the target key for determinism.
func (r *Resolver) ResolveForHosts(hosts []string) Target {
	counts := make(map[string]int)
	targets := make(map[string]Target)
	for _, h := range hosts {
		t := r.Resolve(h)
		counts[t.Key()]++
		targets[t.Key()] = t
	}

	var keys []string
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	bestCount := -1
	for _, k := range keys {
		if counts[k] > bestCount {
			bestCount = counts[k]
			best = k
		}
	}
	if best == "" {
		return withTriple(defaultTarget.Arch, defaultTarget.OS)
	}
	return targets[best]
}
