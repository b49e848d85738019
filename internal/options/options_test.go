package options

import (
	"os"
	"testing"

	"github.com/rustlehq/rustle-plan/internal/model"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestValidate_ForksMustBePositive(t *testing.T) {
	o := Defaults()
	o.Forks = 0
	if err := o.Validate(); err == nil {
		t.Fatalf("expected validation error for zero forks")
	}
}

func TestValidate_ForceFlagsMutuallyExclusive(t *testing.T) {
	o := Defaults()
	o.ForceBinary = true
	o.ForceSSH = true
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error when both force flags set")
	}
}

func TestValidate_UnknownStrategyRejected(t *testing.T) {
	o := Defaults()
	o.Strategy = model.Strategy("bogus")
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestResolve_PriorityLadder(t *testing.T) {
	os.Unsetenv("RUSTLE_DEFAULT_FORKS")
	os.Setenv("RUSTLE_DEFAULT_FORKS", "7")
	defer os.Unsetenv("RUSTLE_DEFAULT_FORKS")

	cli := PlanningOptions{Forks: 12}
	opts, err := Resolve(cli, map[string]bool{"forks": true}, "/nonexistent/.rustle-plan.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Forks != 12 {
		t.Fatalf("expected CLI forks (12) to win over env (7), got %d", opts.Forks)
	}
}

func TestResolve_EnvBeatsDefault(t *testing.T) {
	os.Setenv("RUSTLE_DEFAULT_FORKS", "9")
	defer os.Unsetenv("RUSTLE_DEFAULT_FORKS")

	opts, err := Resolve(PlanningOptions{}, map[string]bool{}, "/nonexistent/.rustle-plan.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Forks != 9 {
		t.Fatalf("expected env forks (9) to beat default, got %d", opts.Forks)
	}
}

func TestHashFields_DeclaredOrderStable(t *testing.T) {
	o := Defaults()
	fields := o.HashFields()
	if len(fields) == 0 {
		t.Fatalf("expected non-empty hash fields")
	}
	again := o.HashFields()
	for i := range fields {
		if fields[i] != again[i] {
			t.Fatalf("expected stable field order at index %d", i)
		}
	}
}
