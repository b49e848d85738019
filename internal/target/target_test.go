package target

import (
	"testing"

	"github.com/rustlehq/rustle-plan/internal/model"
)

func TestNormalizeArch(t *testing.T) {
	cases := map[string]string{
		"amd64":   "x86_64",
		"AMD64":   "x86_64",
		"arm64":   "aarch64",
		"armv7l":  "armv7",
		"i386":    "i686",
		"x86_64":  "x86_64",
		"riscv64": "riscv64",
	}
	for in, want := range cases {
		if got := NormalizeArch(in); got != want {
			t.Errorf("NormalizeArch(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeOS(t *testing.T) {
	cases := map[string]string{
		"macos":   "darwin",
		"osx":     "darwin",
		"win32":   "windows",
		"Windows": "windows",
		"linux":   "linux",
	}
	for in, want := range cases {
		if got := NormalizeOS(in); got != want {
			t.Errorf("NormalizeOS(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolve_DefaultFallback(t *testing.T) {
	r := New(nil, Overrides{})
	got := r.Resolve("unknown-host")
	if got.Arch != "x86_64" || got.OS != "linux" {
		t.Fatalf("expected default target, got %+v", got)
	}
	if got.Triple != "x86_64-unknown-linux-gnu" {
		t.Fatalf("expected known triple for default target, got %q", got.Triple)
	}
}

func TestResolve_HostVarsWinOverGroupVars(t *testing.T) {
	inv := &model.ParsedInventory{
		Hosts: map[string]model.HostRecord{
			"h1": {Groups: []string{"g1"}, Vars: map[string]interface{}{"target_arch": "arm64", "target_os": "linux"}},
		},
		Groups: map[string]model.GroupRecord{
			"g1": {Hosts: []string{"h1"}, Vars: map[string]interface{}{"target_arch": "amd64", "target_os": "windows"}},
		},
	}
	r := New(inv, Overrides{})
	got := r.Resolve("h1")
	if got.Arch != "aarch64" || got.OS != "linux" {
		t.Fatalf("expected host vars to win, got %+v", got)
	}
}

func TestResolve_GroupVarsInheritedFromChild(t *testing.T) {
	inv := &model.ParsedInventory{
		Hosts: map[string]model.HostRecord{
			"h1": {},
		},
		Groups: map[string]model.GroupRecord{
			"parent": {Children: []string{"child"}, Vars: map[string]interface{}{"target_arch": "amd64", "target_os": "linux"}},
			"child":  {Hosts: []string{"h1"}},
		},
	}
	r := New(inv, Overrides{})
	got := r.Resolve("h1")
	if got.Arch != "x86_64" || got.OS != "linux" {
		t.Fatalf("expected inherited parent group vars, got %+v", got)
	}
}

func TestResolve_FactCacheFallback(t *testing.T) {
	inv := &model.ParsedInventory{
		HostFacts: map[string]model.HostFacts{
			"h1": {Architecture: "aarch64", System: "darwin"},
		},
	}
	r := New(inv, Overrides{})
	got := r.Resolve("h1")
	if got.Arch != "aarch64" || got.OS != "darwin" {
		t.Fatalf("expected fact cache target, got %+v", got)
	}
	if got.Triple != "aarch64-apple-darwin" {
		t.Fatalf("expected known darwin triple, got %q", got.Triple)
	}
}

func TestResolve_UnknownPairHasNoTriple(t *testing.T) {
	inv := &model.ParsedInventory{
		HostFacts: map[string]model.HostFacts{
			"h1": {Architecture: "riscv64", System: "linux"},
		},
	}
	r := New(inv, Overrides{})
	got := r.Resolve("h1")
	if got.Triple != "" {
		t.Fatalf("expected empty triple for unknown pair, got %q", got.Triple)
	}
}

func TestResolveForHosts_ModalTieBreak(t *testing.T) {
	inv := &model.ParsedInventory{
		HostFacts: map[string]model.HostFacts{
			"h1": {Architecture: "x86_64", System: "linux"},
			"h2": {Architecture: "aarch64", System: "linux"},
		},
	}
	r := New(inv, Overrides{})
	got := r.ResolveForHosts([]string{"h1", "h2"})
	if got.Key() != "aarch64-linux" {
		t.Fatalf("expected sorted-key tie-break to pick aarch64-linux, got %s", got.Key())
	}
}

func TestIsCrossCompilation(t *testing.T) {
	r := New(nil, Overrides{BuildArch: "x86_64", BuildOS: "linux"})
	if r.IsCrossCompilation(Target{Arch: "x86_64", OS: "linux"}) {
		t.Fatalf("expected same-arch target to not be cross-compilation")
	}
	if !r.IsCrossCompilation(Target{Arch: "aarch64", OS: "linux"}) {
		t.Fatalf("expected differing arch to be cross-compilation")
	}
}
