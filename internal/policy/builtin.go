package policy

// riskPolicy is the built-in Rego module used to assign a TaskPlan's
// risk_level (spec SPEC_FULL.md supplemented feature: plan linting /
// risk tagging). Grounded on the teacher's resource-naming and
// state-drift builtin policies in style (deny-rule package per concern),
// adapted here into a single rule set producing a risk classification
// instead of pass/fail violations.
const riskPolicy = `package rustleplan.risk

import rego.v1

default level := "low"

critical_modules := {"reboot", "filesystem", "lvg"}
high_modules := {"shell", "command", "package"}
medium_modules := {"service", "user", "group", "file"}

level := "critical" if {
	input.module in critical_modules
}

level := "critical" if {
	input.module in high_modules
	contains(lower(object.get(input.args, "cmd", "")), "rm -rf")
}

level := "high" if {
	input.module in high_modules
	not contains(lower(object.get(input.args, "cmd", "")), "rm -rf")
}

level := "medium" if {
	input.module in medium_modules
}
`
