package dispatch

import (
	"github.com/kova-lang/kova/internal/typesystem"
)

// specCache is the copy-on-write snapshot of one method's specialization
// collection. The collection starts empty, and the snapshot is replaced
// whole under Method.mu; readers take the pointer without locking. Keys are
// interned tuples, so map lookup is the structural-hash index and pointer
// comparison is exact type equality.
type specCache struct {
	index map[*typesystem.Tuple]*Instance
	list  []*Instance
}

func (sc *specCache) lookup(sig *typesystem.Tuple) *Instance {
	if sc == nil {
		return nil
	}
	return sc.index[sig]
}

func (sc *specCache) insert(mi *Instance) *specCache {
	n := 0
	if sc != nil {
		n = len(sc.list)
	}
	next := &specCache{
		index: make(map[*typesystem.Tuple]*Instance, n+1),
		list:  make([]*Instance, 0, n+1),
	}
	if sc != nil {
		for _, old := range sc.list {
			next.index[old.SpecSig] = old
			next.list = append(next.list, old)
		}
	}
	next.index[mi.SpecSig] = mi
	next.list = append(next.list, mi)
	return next
}

// Specialization finds or creates the Instance of m for the exact
// instantiation type specSig. Two-phase optimistic protocol: an unlocked
// snapshot probe first, then a locked re-check before constructing, so
// concurrent callers always converge on one instance.
func (t *Table) Specialization(m *Method, specSig *typesystem.Tuple, sparams []typesystem.Binding) *Instance {
	if mi := m.specs.Load().lookup(specSig); mi != nil {
		return mi
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi := m.specs.Load().lookup(specSig); mi != nil {
		return mi
	}
	mi := newInstance(m, specSig, sparams)
	m.specs.Store(m.specs.Load().insert(mi))
	return mi
}

// SpecializationLookup probes for an existing instance without creating one.
func (t *Table) SpecializationLookup(m *Method, specSig *typesystem.Tuple) *Instance {
	return m.specs.Load().lookup(specSig)
}

// Specializations snapshots m's instances.
func (t *Table) Specializations(m *Method) []*Instance {
	sc := m.specs.Load()
	if sc == nil {
		return nil
	}
	return sc.list
}

// Unspecialized returns m's shared fallback instance, creating it on first
// use. Its signature is the declared tuple with every unresolvable slot
// widened to Any, so one artifact serves every concrete instantiation.
func (t *Table) Unspecialized(m *Method) *Instance {
	if mi := m.unspecialized.Load(); mi != nil {
		return mi
	}
	tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	if !ok {
		return nil
	}
	elems := make([]typesystem.Type, len(tt.Elems))
	for i, e := range tt.Elems {
		if va, isVa := e.(*typesystem.Vararg); isVa {
			inner := va.Elem
			if len(typesystem.FreeVars(inner)) != 0 {
				inner = t.Interner.Any()
			}
			elems[i] = t.Interner.Vararg(inner)
			continue
		}
		if len(typesystem.FreeVars(e)) != 0 {
			elems[i] = t.Interner.Any()
		} else {
			elems[i] = e
		}
	}
	sig := t.Interner.Tuple(elems...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi := m.unspecialized.Load(); mi != nil {
		return mi
	}
	mi := newInstance(m, sig, nil)
	m.unspecialized.Store(mi)
	return mi
}
