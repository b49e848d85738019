package cache

import "fmt"

// Key identifies a cached plan; equal inputs under an unchanged planner
// version always produce an equal Key (spec §3 lifecycle).
type Key struct {
	PlaybookHash   string
	InventoryHash  string
	OptionsHash    string
	PlannerVersion string
}

// String is the flattened form used as the map/index key.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.PlaybookHash, k.InventoryHash, k.OptionsHash, k.PlannerVersion)
}

// HasPrefix reports whether k was produced by the same playbook and
// inventory as prefix, ignoring options and planner version. Used for
// explicit prefix invalidation (e.g. "drop everything for this playbook").
func (k Key) HasPrefix(prefix Key) bool {
	if prefix.PlaybookHash != "" && prefix.PlaybookHash != k.PlaybookHash {
		return false
	}
	if prefix.InventoryHash != "" && prefix.InventoryHash != k.InventoryHash {
		return false
	}
	return true
}
