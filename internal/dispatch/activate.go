package dispatch

import (
	"fmt"

	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// Activate makes a stored definition visible: a fresh world is minted, the
// entry's interval becomes [newWorld, Open], and everything the definition
// shadows (intersecting cache entries, dependent compiled code, negative
// resolutions) is capped at newWorld-1. Existing worlds observe nothing;
// the counter publishes the new world only after all narrowing is done.
func (t *Table) Activate(m *Method) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkMutable(); err != nil {
		return err
	}
	entry := t.defEntry(m)
	if entry == nil {
		return ErrMethodNotFound
	}
	// only the stored-but-invisible sentinel [Open, 1] may be activated
	if entry.MinWorld.Load() != world.Open {
		return ErrMethodActivated
	}

	t.World.Lock()
	defer t.World.Unlock()
	newWorld := t.World.Current() + 1
	maxValid := newWorld - 1

	entry.MinWorld.Store(newWorld)
	entry.MaxWorld.Store(world.Open)
	m.primaryWorld.Store(newWorld)

	invalidated := false
	if replaced := t.findReplaced(m, maxValid); replaced != nil {
		invalidated = t.overwrite(m, replaced, maxValid)
	} else {
		invalidated = t.shadowIntersections(m, maxValid)
	}

	t.invalidateNegativeResolutions(m, maxValid)
	t.narrowShadowedCacheEntries(m, maxValid)

	if invalidated {
		t.logInvalidation(fmt.Sprintf("activating %s %s invalidated dependents at world %d",
			m.Name, m.Sig, newWorld))
	}

	t.World.Bump(newWorld)
	return nil
}

// findReplaced returns the live definition with a signature equal to m's,
// if any. Equal signatures make the new definition a plain overwrite.
func (t *Table) findReplaced(m *Method, atWorld uint64) *Entry {
	var found *Entry
	t.defs.Load().visitAll(func(e *Entry) bool {
		if e.Method == nil || e.Method == m || !e.Contains(atWorld) {
			return true
		}
		if t.Oracle.Equal(e.Method.Sig, m.Sig) {
			found = e
			return false
		}
		return true
	})
	return found
}

// overwrite retires the replaced definition wholesale: its entry closes at
// maxValid, its derived status clears, its interference memo transfers to
// the new definition, and every one of its specializations is invalidated.
// The new definition inherits the replaced one's dispatch standing over the
// shared signature.
func (t *Table) overwrite(m *Method, replaced *Entry, maxValid uint64) bool {
	old := replaced.Method
	replaced.MaxWorld.Store(maxValid)
	oldStatus := old.DispatchStatus()
	old.dispatchStatus.Store(0)
	m.takeOverInterferences(old)
	// the signatures are equal, so whoever recorded the replaced
	// definition must record its replacement under the same condition
	t.defs.Load().visitAll(func(e *Entry) bool {
		if x := e.Method; x != nil && x != m && x.interferesWith(old) {
			x.addInterference(m)
		}
		return true
	})
	m.dispatchStatus.Store(oldStatus)

	invalidated := false
	for _, mi := range t.Specializations(old) {
		if t.invalidateInstance(mi, maxValid, 0) {
			invalidated = true
		}
	}
	if un := old.unspecialized.Load(); un != nil {
		if t.invalidateInstance(un, maxValid, 0) {
			invalidated = true
		}
	}
	ev := trace.NewEvent(trace.KindOverwrite, old.Sig.String())
	ev.Reason = fmt.Sprintf("replaced by definition at %s:%d", m.File, m.Line)
	ev.World = maxValid + 1
	t.Sink.Record(ev)
	return invalidated
}

// shadowIntersections handles a genuinely new signature: every live
// definition it intersects gets interference edges, loses sole-match
// standing where the newcomer can now win, and has the specializations the
// newcomer shadows invalidated.
func (t *Table) shadowIntersections(m *Method, maxValid uint64) bool {
	var status uint32 = StatusLatestWhich | StatusLatestOnly
	invalidated := false
	t.visitIntersecting(t.defs.Load(), m.Sig, func(e *Entry) bool {
		old := e.Method
		if old == nil || old == m || !e.Contains(maxValid) {
			return true
		}
		newOverOld := t.Oracle.MoreSpecific(m.Sig, old.Sig)
		oldOverNew := t.Oracle.MoreSpecific(old.Sig, m.Sig)
		if !newOverOld {
			m.addInterference(old)
			status &^= StatusLatestOnly
		}
		if !oldOverNew {
			old.addInterference(m)
		}
		if oldOverNew {
			// the old definition still wins its entire signature
			return true
		}
		old.dispatchStatus.Store(old.DispatchStatus() &^ StatusLatestOnly)
		for _, mi := range t.Specializations(old) {
			if mi.SpecSig == nil {
				continue
			}
			if typesystem.IsBottom(t.Oracle.Intersect(mi.SpecSig, m.Sig)) {
				continue
			}
			if t.invalidateInstance(mi, maxValid, 0) {
				invalidated = true
			}
		}
		return true
	})
	m.dispatchStatus.Store(status)
	return invalidated
}

// invalidateInstance caps every compiled artifact of mi at maxValid and
// recursively invalidates recorded callers. Backedges are walked even when
// mi itself has no code instances; an instance whose resolution was only
// ever cached still transmits the change to its compiled callers. The seen
// set bounds the walk on cyclic or converging backedge graphs. Returns true
// when anything actually narrowed.
func (t *Table) invalidateInstance(mi *Instance, maxValid uint64, depth int) bool {
	return t.invalidateWalk(mi, maxValid, depth, make(map[*Instance]bool))
}

func (t *Table) invalidateWalk(mi *Instance, maxValid uint64, depth int, seen map[*Instance]bool) bool {
	if seen[mi] {
		return false
	}
	seen[mi] = true
	mi.clearDispatchStatus()
	narrowed := false
	for ci := mi.cache.Load(); ci != nil; ci = ci.next.Load() {
		if ci.Narrow(maxValid) {
			narrowed = true
		}
	}
	if narrowed {
		if t.Opts != nil && t.Opts.DebugInvalidation {
			t.logInvalidation(fmt.Sprintf("%*sinvalidated %s", depth*2, "", mi.SpecSig))
		}
		ev := trace.NewEvent(trace.KindInvalidate, sigString(mi))
		ev.Reason = "dependent of changed definition"
		ev.World = maxValid + 1
		ev.Depth = depth
		t.Sink.Record(ev)
	}
	for _, edge := range mi.snapshotBackedges() {
		if edge.Caller == nil || edge.Caller.Def == nil {
			continue
		}
		edge.Caller.Narrow(maxValid)
		if t.invalidateWalk(edge.Caller.Def, maxValid, depth+1, seen) {
			narrowed = true
		}
	}
	return narrowed
}

// invalidateBackedgesFor invalidates only the callers of mi whose recorded
// invoke signature still selects a changed resolution. Ordinary calls (nil
// invoke signature) always invalidate; pinned invokes survive unless the
// changed signature intersects the pin.
func (t *Table) invalidateBackedgesFor(mi *Instance, changedSig typesystem.Type, maxValid uint64) {
	for _, edge := range mi.snapshotBackedges() {
		if edge.InvokeSig != nil &&
			typesystem.IsBottom(t.Oracle.Intersect(edge.InvokeSig, changedSig)) {
			continue
		}
		if edge.Caller == nil {
			continue
		}
		edge.Caller.Narrow(maxValid)
		if edge.Caller.Def != nil {
			t.invalidateInstance(edge.Caller.Def, maxValid, 1)
		}
	}
}

// narrowShadowedCacheEntries caps leaf and general cache entries the new
// definition can now answer differently. An entry survives when its cached
// definition is still strictly more specific than the newcomer over the
// entry's signature.
func (t *Table) narrowShadowedCacheEntries(m *Method, maxValid uint64) {
	narrow := func(e *Entry) bool {
		if !e.Contains(maxValid) {
			return true
		}
		cached := e.Method
		if cached == nil && e.Instance != nil {
			cached = e.Instance.Method
		}
		if cached == m {
			return true
		}
		if typesystem.IsBottom(t.Oracle.Intersect(e.Sig, m.Sig)) {
			return true
		}
		if cached != nil && t.Oracle.MoreSpecific(cached.Sig, m.Sig) {
			return true
		}
		e.Narrow(maxValid)
		if e.Instance != nil {
			e.Instance.clearDispatchStatus()
		}
		return true
	}
	t.leafVisitAll(narrow)
	t.cache.Load().visitAll(narrow)
}

// invalidateNegativeResolutions retires "no method applicable" outcomes
// recorded against any type family the new signature could answer for.
func (t *Table) invalidateNegativeResolutions(m *Method, maxValid uint64) {
	tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	if !ok {
		return
	}
	fam, ok := t.Interner.FirstFamily(tt, t.splitSlot(tt))
	t.tfBackedgesMu.Lock()
	defer t.tfBackedgesMu.Unlock()
	for recorded, edges := range t.tfBackedges {
		if ok && !familyRelated(recorded, fam) {
			continue
		}
		for _, edge := range edges {
			if edge.Caller != nil {
				edge.Caller.Narrow(maxValid)
				if edge.Caller.Def != nil {
					t.invalidateInstance(edge.Caller.Def, maxValid, 1)
				}
			}
		}
		delete(t.tfBackedges, recorded)
	}
}

// familyRelated reports whether a and b are on one ancestry chain.
func familyRelated(a, b *typesystem.Name) bool {
	for f := a; f != nil; f = f.Super {
		if f == b {
			return true
		}
	}
	for f := b; f != nil; f = f.Super {
		if f == a {
			return true
		}
	}
	return false
}

func sigString(mi *Instance) string {
	if mi.SpecSig != nil {
		return mi.SpecSig.String()
	}
	return mi.Method.Sig.String()
}
