package schema

// builtinSchemas are the CUE shapes the planner validates parsed input
// against before dependency analysis begins. Fields absent from the
// parser's output model are intentionally left open (CUE's default
// "..." is not used; every field validated here is one §3 declares).
var builtinSchemas = map[string]string{
	"task": `{
	id:             string & !=""
	name?:          string
	module:         string & !=""
	args?:          {...}
	when?:          string
	loop_items?:    [...]
	tags?:          [...string]
	notify?:        [...string]
	changed_when?:  string
	failed_when?:   string
	ignore_errors?: bool
	delegate_to?:   string
	dependencies?:  [...string]
}`,

	"play": `{
	name:                 string & !=""
	hosts:                string | [...string]
	vars?:                {...}
	tasks:                [...{...}]
	handlers?:            [...{...}]
	roles?:               [...string]
	strategy?:            "linear" | "free" | "rolling" | "host_pinned" | "binary_hybrid" | "binary_only"
	serial?:              int & >0
	max_fail_percentage?: number & >=0 & <=100
}`,

	"inventory": `{
	hosts?:     {[string]: {...}}
	groups?:    {[string]: {...}}
	variables?: {...}
}`,
}
