package cond

import (
	"testing"

	"github.com/rustlehq/rustle-plan/internal/model"
)

func TestPartition_AlwaysTrue(t *testing.T) {
	facts := map[string]model.HostFacts{
		"localhost": {System: "Darwin"},
	}
	res := Partition(`ansible_system != "Windows"`, []string{"localhost"}, facts)
	if res.Outcome != AlwaysTrue {
		t.Fatalf("expected AlwaysTrue, got %v", res.Outcome)
	}
}

func TestPartition_AlwaysFalse(t *testing.T) {
	facts := map[string]model.HostFacts{
		"win1": {System: "Windows", Distribution: "Windows Server 2022"},
	}
	res := Partition(`ansible_system == "Windows" and not ansible_distribution`, []string{"win1"}, facts)
	if res.Outcome != AlwaysFalse {
		t.Fatalf("expected AlwaysFalse, got %v", res.Outcome)
	}
}

func TestPartition_StaticFilteredMixedHosts(t *testing.T) {
	facts := map[string]model.HostFacts{
		"h1": {OSFamily: "Debian"},
		"h2": {OSFamily: "RedHat"},
	}
	res := Partition(`ansible_os_family == "Debian"`, []string{"h1", "h2"}, facts)
	if res.Outcome != StaticFiltered {
		t.Fatalf("expected StaticFiltered, got %v", res.Outcome)
	}
	if len(res.SatisfyingHosts) != 1 || res.SatisfyingHosts[0] != "h1" {
		t.Fatalf("expected only h1 to satisfy, got %v", res.SatisfyingHosts)
	}
}

func TestPartition_Membership(t *testing.T) {
	facts := map[string]model.HostFacts{
		"h1": {OSFamily: "Debian"},
	}
	res := Partition(`ansible_os_family in ["Debian", "RedHat"]`, []string{"h1"}, facts)
	if res.Outcome != AlwaysTrue {
		t.Fatalf("expected AlwaysTrue for membership match, got %v", res.Outcome)
	}

	res2 := Partition(`ansible_os_family not in ["Debian", "RedHat"]`, []string{"h1"}, facts)
	if res2.Outcome != AlwaysFalse {
		t.Fatalf("expected AlwaysFalse for negated membership match, got %v", res2.Outcome)
	}
}

func TestPartition_NonStaticIdentifierIsDynamic(t *testing.T) {
	facts := map[string]model.HostFacts{
		"h1": {OSFamily: "Debian"},
	}
	res := Partition(`some_runtime_var == "yes"`, []string{"h1"}, facts)
	if res.Outcome != Dynamic {
		t.Fatalf("expected Dynamic for non-static identifier, got %v", res.Outcome)
	}
	if len(res.SatisfyingHosts) != 1 {
		t.Fatalf("expected Dynamic to retain all candidate hosts, got %v", res.SatisfyingHosts)
	}
}

func TestPartition_ParseFailureIsDynamicWithWarning(t *testing.T) {
	res := Partition(`ansible_system == `, []string{"h1"}, nil)
	if res.Outcome != Dynamic {
		t.Fatalf("expected Dynamic for malformed expression, got %v", res.Outcome)
	}
	if res.Warning == "" {
		t.Fatalf("expected a warning to be recorded for the parse failure")
	}
}

func TestPartition_EmptyExpressionIsAlwaysTrue(t *testing.T) {
	res := Partition("", []string{"h1", "h2"}, nil)
	if res.Outcome != AlwaysTrue {
		t.Fatalf("expected empty when to be AlwaysTrue, got %v", res.Outcome)
	}
}

func TestPartition_ParenthesesAndPrecedence(t *testing.T) {
	facts := map[string]model.HostFacts{
		"h1": {OSFamily: "Debian", System: "Linux"},
	}
	res := Partition(`(ansible_os_family == "Debian" or ansible_os_family == "RedHat") and ansible_system == "Linux"`, []string{"h1"}, facts)
	if res.Outcome != AlwaysTrue {
		t.Fatalf("expected AlwaysTrue, got %v", res.Outcome)
	}
}

func TestPartition_BareIdentifierAsBoolean(t *testing.T) {
	facts := map[string]model.HostFacts{
		"h1": {Distribution: "Ubuntu"},
		"h2": {},
	}
	res := Partition(`ansible_distribution`, []string{"h1", "h2"}, facts)
	if res.Outcome != StaticFiltered {
		t.Fatalf("expected StaticFiltered, got %v", res.Outcome)
	}
	if len(res.SatisfyingHosts) != 1 || res.SatisfyingHosts[0] != "h1" {
		t.Fatalf("expected only h1 (non-empty distribution), got %v", res.SatisfyingHosts)
	}
}
