package dispatch

import (
	"github.com/kova-lang/kova/internal/typesystem"
)

// addMissingBackedge records that caller observed "no method applicable"
// for a call whose callee belongs to fam. Any later definition on fam's
// ancestry chain retires the record and invalidates the caller. No-op once
// new worlds are disabled.
func (t *Table) addMissingBackedge(fam *typesystem.Name, caller *CodeInstance) {
	if !t.allowNewWorlds.Load() {
		return
	}
	t.tfBackedgesMu.Lock()
	defer t.tfBackedgesMu.Unlock()
	if !t.allowNewWorlds.Load() {
		return
	}
	t.tfBackedges[fam] = append(t.tfBackedges[fam], Edge{Caller: caller})
}

// MissingBackedgeCount reports how many negative resolutions are being
// tracked, for tests and diagnostics.
func (t *Table) MissingBackedgeCount() int {
	t.tfBackedgesMu.Lock()
	defer t.tfBackedgesMu.Unlock()
	n := 0
	for _, edges := range t.tfBackedges {
		n += len(edges)
	}
	return n
}
