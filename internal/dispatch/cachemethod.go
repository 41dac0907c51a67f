package dispatch

import (
	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// cacheMethod materializes a resolved dispatch as a shared cache entry: the
// specialization instance is created (or found), the cache signature is
// widened per the compilation-signature policy, guard signatures are
// collected for everything the widened signature would wrongly swallow,
// and the entry lands in the leaf or general tier. minWorld/maxWorld is
// the validity interval the match query produced; an interval ending at
// the current world is promoted to open-ended under the counter lock.
func (t *Table) cacheMethod(m *Method, args *typesystem.Tuple, sparams []typesystem.Binding, minWorld, maxWorld uint64) *Instance {
	compSig, widened := t.compilationSig(m, args)

	cacheSig := typesystem.Type(compSig)
	var guards []typesystem.Type
	var simple *typesystem.Tuple
	fellBack := false
	if widened {
		var ok bool
		guards, simple, ok = t.guardEntries(m, compSig, maxWorld)
		if !ok {
			// the widened signature swallows too many other definitions;
			// fall back to the exact concrete key
			cacheSig = args
			compSig = args
			guards, simple = nil, nil
			fellBack = true
		}
	}
	mi := t.Specialization(m, compSig, sparams)
	if fellBack {
		mi.cacheWithOrig.Store(true)
	}

	e := newEntry(cacheSig, minWorld, maxWorld)
	e.Instance = mi
	e.Method = m
	e.GuardSigs = guards
	e.SimpleSig = simple

	t.mu.Lock()
	t.World.Lock()
	if maxWorld == t.World.Current() {
		e.MaxWorld.Store(world.Open)
		if m.DispatchStatus()&StatusLatestOnly != 0 {
			mi.dispatchStatus.Store(StatusLatestOnly)
		}
	}
	t.World.Unlock()

	if ct, ok := cacheSig.(*typesystem.Tuple); ok && ct.IsDispatch() && len(guards) == 0 {
		t.leafInsert(ct, e)
	} else {
		t.cache.Store(t.cache.Load().insert(t, e))
		if fam, ok := t.Interner.FirstFamily(args, t.splitSlot(args)); ok {
			fam.NoteCacheEntry(config.NCallCache)
		}
	}
	t.mu.Unlock()

	if leafSig(e) == args {
		t.callCache.insert(args, e)
	}
	return mi
}

// guardEntries collects the signatures of other live definitions the
// widened signature intersects but the selected definition does not
// dominate; a concrete call hitting one of them must miss this entry.
// ok is false past the conflict cap, telling the caller to stop widening.
func (t *Table) guardEntries(m *Method, widened *typesystem.Tuple, w uint64) ([]typesystem.Type, *typesystem.Tuple, bool) {
	var guards []typesystem.Type
	overflow := false
	t.visitIntersecting(t.defs.Load(), widened, func(e *Entry) bool {
		other := e.Method
		if other == nil || other == m || !e.Contains(w) {
			return true
		}
		if t.Oracle.MoreSpecific(m.Sig, other.Sig) {
			return true
		}
		guards = append(guards, other.Sig)
		if len(guards) > config.MaxUnspecializedConflicts {
			overflow = true
			return false
		}
		return true
	})
	if overflow {
		return nil, nil, false
	}
	return guards, t.simpleSig(widened), true
}

// simpleSig builds the cheap pre-filter for a widened entry: each widened
// slot relaxed to Any, concrete slots kept. Nil when no slot is concrete
// (the filter would reject nothing).
func (t *Table) simpleSig(widened *typesystem.Tuple) *typesystem.Tuple {
	anyConcrete := false
	elems := make([]typesystem.Type, len(widened.Elems))
	for i, e := range widened.Elems {
		if n, ok := e.(*typesystem.Nominal); ok && n.Concrete() {
			elems[i] = e
			anyConcrete = true
		} else {
			elems[i] = t.Interner.Any()
		}
	}
	if !anyConcrete {
		return nil
	}
	return t.Interner.Tuple(elems...)
}
