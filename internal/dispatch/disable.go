package dispatch

import (
	"fmt"

	"github.com/kova-lang/kova/internal/world"
)

// Disable retires a definition: a fresh world is minted in which m no
// longer exists, its derived status clears, and every compiled artifact
// depending on it (directly or through backedges) is capped at the old
// world. Prior worlds keep dispatching to m.
func (t *Table) Disable(m *Method) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkMutable(); err != nil {
		return err
	}
	entry := t.defEntry(m)
	if entry == nil {
		return ErrMethodNotFound
	}
	if entry.MaxWorld.Load() != world.Open {
		return ErrMethodDisabled
	}

	t.World.Lock()
	defer t.World.Unlock()
	newWorld := t.World.Current() + 1
	maxValid := newWorld - 1

	entry.MaxWorld.Store(maxValid)
	m.dispatchStatus.Store(0)

	for _, mi := range t.Specializations(m) {
		t.invalidateInstance(mi, maxValid, 0)
		t.invalidateBackedgesFor(mi, m.Sig, maxValid)
	}
	if un := m.unspecialized.Load(); un != nil {
		t.invalidateInstance(un, maxValid, 0)
	}

	// cache entries resolving to m must stop answering
	narrow := func(e *Entry) bool {
		if e.Contains(maxValid) && entryMethod(e) == m {
			e.Narrow(maxValid)
		}
		return true
	}
	t.leafVisitAll(narrow)
	t.cache.Load().visitAll(narrow)

	// a survivor that shared overlap with m may be sole match again
	for _, other := range m.Interferences().Slice() {
		if t.defEntry(other) != nil && other.DispatchStatus()&StatusLatestWhich != 0 {
			t.recomputeDispatchStatusAt(other, newWorld)
		}
	}

	t.logInvalidation(fmt.Sprintf("disabled %s %s at world %d", m.Name, m.Sig, newWorld))
	t.World.Bump(newWorld)
	return nil
}

func entryMethod(e *Entry) *Method {
	if e.Method != nil {
		return e.Method
	}
	if e.Instance != nil {
		return e.Instance.Method
	}
	return nil
}
