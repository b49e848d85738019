// Package planhash computes stable, content-addressed digests of
// playbooks, inventories, options, and individual tasks. Every digest is a
// SHA-256 sum over a canonical encoding, so identical input always yields
// an identical hash regardless of map iteration order.
//
// crypto/sha256 is used instead of a third-party hash because the only
// non-cryptographic hash in reach, cespare/xxhash, is 64-bit; the contract
// calls for a 256-bit digest.
package planhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/rustlehq/rustle-plan/internal/model"
	"github.com/rustlehq/rustle-plan/internal/perrors"
)

// ignoredTaskFields are stripped before hashing a task: free-form notes and
// timestamps that do not affect planning semantics. Registered here so
// that adding a new ParsedTask field is a deliberate, reviewable change
// (and, per contract, a planner-version bump) rather than a silent hash
// drift.
var ignoredTaskFields = map[string]bool{
	"notes":      true,
	"created_at": true,
	"updated_at": true,
}

// Digest is a hex-encoded SHA-256 sum.
type Digest string

func sumHex(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// HashTaskStable hashes a single task over sorted arg keys, canonical
// values, and sorted tags/notify/dependencies.
func HashTaskStable(t model.ParsedTask) (Digest, error) {
	enc, err := canonicalTask(t)
	if err != nil {
		return "", err
	}
	return sumHex(enc), nil
}

// HashPlaybook hashes the full set of plays, independent of map iteration
// order and of absent-vs-default optional fields.
func HashPlaybook(plays []model.ParsedPlay) (Digest, error) {
	var buf []byte
	for _, p := range plays {
		enc, err := canonicalPlay(p)
		if err != nil {
			return "", err
		}
		buf = append(buf, enc...)
		buf = append(buf, 0)
	}
	return sumHex(buf), nil
}

// HashInventory hashes an inventory with host and group order normalized by
// sorted name.
func HashInventory(inv *model.ParsedInventory) (Digest, error) {
	if inv == nil {
		return sumHex([]byte("null")), nil
	}
	var buf []byte

	hostNames := make([]string, 0, len(inv.Hosts))
	for name := range inv.Hosts {
		hostNames = append(hostNames, name)
	}
	sort.Strings(hostNames)
	for _, name := range hostNames {
		h := inv.Hosts[name]
		enc, err := canonicalValue(map[string]interface{}{
			"name":    name,
			"address": h.Address,
			"groups":  sortedCopy(h.Groups),
			"vars":    h.Vars,
		})
		if err != nil {
			return "", err
		}
		buf = append(buf, enc...)
		buf = append(buf, 0)
	}

	groupNames := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		g := inv.Groups[name]
		enc, err := canonicalValue(map[string]interface{}{
			"name":     name,
			"hosts":    sortedCopy(g.Hosts),
			"children": sortedCopy(g.Children),
			"vars":     g.Vars,
		})
		if err != nil {
			return "", err
		}
		buf = append(buf, enc...)
		buf = append(buf, 0)
	}

	factHosts := make([]string, 0, len(inv.HostFacts))
	for name := range inv.HostFacts {
		factHosts = append(factHosts, name)
	}
	sort.Strings(factHosts)
	for _, name := range factHosts {
		f := inv.HostFacts[name]
		enc, err := canonicalValue(map[string]interface{}{
			"name":         name,
			"architecture": f.Architecture,
			"system":       f.System,
			"os_family":    f.OSFamily,
			"distribution": f.Distribution,
		})
		if err != nil {
			return "", err
		}
		buf = append(buf, enc...)
		buf = append(buf, 0)
	}

	varsEnc, err := canonicalValue(inv.Variables)
	if err != nil {
		return "", err
	}
	buf = append(buf, varsEnc...)

	return sumHex(buf), nil
}

// OptionsHashable is implemented by internal/options.PlanningOptions; kept
// as a narrow interface here to avoid an import cycle between options and
// planhash.
type OptionsHashable interface {
	// HashFields returns option fields in the declared, stable order
	// (spec §4.1: "all option fields hashed in a declared order").
	HashFields() []string
}

// HashOptions hashes planning options in their declared field order.
func HashOptions(o OptionsHashable) Digest {
	var buf []byte
	for _, f := range o.HashFields() {
		buf = append(buf, []byte(f)...)
		buf = append(buf, 0)
	}
	return sumHex(buf)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func canonicalTask(t model.ParsedTask) ([]byte, error) {
	m := map[string]interface{}{
		"id":            t.ID,
		"name":          t.Name,
		"module":        t.Module,
		"args":          t.Args,
		"when":          t.When,
		"tags":          sortedCopy(t.Tags),
		"notify":        sortedCopy(t.Notify),
		"changed_when":  t.ChangedWhen,
		"failed_when":   t.FailedWhen,
		"ignore_errors": t.IgnoreErrors,
		"delegate_to":   t.DelegateTo,
		"dependencies":  sortedCopy(t.Dependencies),
	}
	return canonicalValue(m)
}

func canonicalPlay(p model.ParsedPlay) ([]byte, error) {
	tasks := make([]interface{}, len(p.Tasks))
	for i, t := range p.Tasks {
		tasks[i] = canonicalTaskValue(t)
	}
	handlers := make([]interface{}, len(p.Handlers))
	for i, h := range p.Handlers {
		handlers[i] = canonicalTaskValue(h)
	}
	serial := 0
	if p.Serial != nil {
		serial = *p.Serial
	}
	m := map[string]interface{}{
		"name":     p.Name,
		"hosts":    p.Hosts,
		"vars":     p.Vars,
		"tasks":    tasks,
		"handlers": handlers,
		"roles":    sortedCopy(p.Roles),
		"strategy": string(p.Strategy),
		"serial":   serial,
	}
	return canonicalValue(m)
}

func canonicalTaskValue(t model.ParsedTask) map[string]interface{} {
	return map[string]interface{}{
		"id":            t.ID,
		"name":          t.Name,
		"module":        t.Module,
		"args":          t.Args,
		"when":          t.When,
		"tags":          sortedCopy(t.Tags),
		"notify":        sortedCopy(t.Notify),
		"changed_when":  t.ChangedWhen,
		"failed_when":   t.FailedWhen,
		"ignore_errors": t.IgnoreErrors,
		"delegate_to":   t.DelegateTo,
		"dependencies":  sortedCopy(t.Dependencies),
	}
}

// canonicalValue encodes v deterministically: map keys are visited in
// sorted order at every nesting level, and every float is checked for
// non-finite values that cannot be represented in canonical JSON.
func canonicalValue(v interface{}) ([]byte, error) {
	var buf []byte
	if err := encodeValue(v, &buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeValue(v interface{}, buf *[]byte) error {
	switch val := v.(type) {
	case nil:
		*buf = append(*buf, "null"...)
	case string:
		*buf = append(*buf, fmt.Sprintf("%q", val)...)
	case bool:
		if val {
			*buf = append(*buf, "true"...)
		} else {
			*buf = append(*buf, "false"...)
		}
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return perrors.Fatal(perrors.CodeHashUnsupportedValue, "non-finite float in hashed value", nil)
		}
		*buf = append(*buf, fmt.Sprintf("%v", val)...)
	case int:
		*buf = append(*buf, fmt.Sprintf("%d", val)...)
	case int64:
		*buf = append(*buf, fmt.Sprintf("%d", val)...)
	case []string:
		*buf = append(*buf, '[')
		for i, s := range val {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			if err := encodeValue(s, buf); err != nil {
				return err
			}
		}
		*buf = append(*buf, ']')
	case []interface{}:
		*buf = append(*buf, '[')
		for i, item := range val {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			if err := encodeValue(item, buf); err != nil {
				return err
			}
		}
		*buf = append(*buf, ']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		*buf = append(*buf, '{')
		for i, k := range keys {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			*buf = append(*buf, fmt.Sprintf("%q:", k)...)
			if err := encodeValue(val[k], buf); err != nil {
				return err
			}
		}
		*buf = append(*buf, '}')
	default:
		return perrors.Fatal(perrors.CodeHashUnsupportedValue, fmt.Sprintf("unrepresentable value type %T", v), nil)
	}
	return nil
}
