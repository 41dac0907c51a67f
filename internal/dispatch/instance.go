package dispatch

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kova-lang/kova/internal/typesystem"
)

// instance flag bits.
const (
	// flagDispatched marks that a first-dispatch trace record was already
	// emitted for this instance.
	flagDispatched uint32 = 1 << 0
)

// Instance is a method bound to one concrete argument-type instantiation
// (a specialization). At most one Instance exists per (method, exact
// instantiation type) pair; concurrent creators converge through the
// method's lock-protected re-check.
type Instance struct {
	ID      uuid.UUID
	Method  *Method
	SpecSig *typesystem.Tuple
	SParams []typesystem.Binding

	dispatchStatus atomic.Uint32
	flags          atomic.Uint32

	// cacheWithOrig latches "widening this instance's signature for the
	// cache went wrong once, don't try again".
	cacheWithOrig atomic.Bool

	// cache is the head of the newest-first singly-linked list of compiled
	// artifacts. Prepends happen under Method.mu or through a CAS;
	// traversal is lock-free.
	cache atomic.Pointer[CodeInstance]

	// backedges records (invoke-signature?, calling code instance) pairs
	// that depend on this instance staying the dispatch winner. Guarded by
	// Method.mu for both append and destructive consumption.
	backedges []Edge
}

// Edge is one recorded dependency from a caller onto this instance's
// dispatch resolution. InvokeSig is non-nil for invoke-style calls pinned
// to a declared signature narrower than the method's.
type Edge struct {
	InvokeSig typesystem.Type
	Caller    *CodeInstance
}

func newInstance(m *Method, specSig *typesystem.Tuple, sparams []typesystem.Binding) *Instance {
	return &Instance{
		ID:      uuid.New(),
		Method:  m,
		SpecSig: specSig,
		SParams: sparams,
	}
}

// DispatchStatus returns the instance's status bits (LatestOnly mirror).
func (mi *Instance) DispatchStatus() uint32 { return mi.dispatchStatus.Load() }

func (mi *Instance) clearDispatchStatus() { mi.dispatchStatus.Store(0) }

// markDispatched returns true the first time it is called.
func (mi *Instance) markDispatched() bool {
	for {
		old := mi.flags.Load()
		if old&flagDispatched != 0 {
			return false
		}
		if mi.flags.CompareAndSwap(old, old|flagDispatched) {
			return true
		}
	}
}

// AddBackedge records caller as depending on this instance's dispatch
// outcome. invokeSig is nil for ordinary calls. No-op once new worlds are
// disabled (nothing can invalidate anymore).
func (t *Table) AddBackedge(mi *Instance, invokeSig typesystem.Type, caller *CodeInstance) {
	if !t.allowNewWorlds.Load() {
		return
	}
	m := mi.Method
	m.mu.Lock()
	defer m.mu.Unlock()
	if !t.allowNewWorlds.Load() {
		return
	}
	mi.backedges = append(mi.backedges, Edge{InvokeSig: invokeSig, Caller: caller})
}

// dropBackedges erases the edge list under the method lock.
func (mi *Instance) dropBackedges() {
	m := mi.Method
	m.mu.Lock()
	mi.backedges = nil
	m.mu.Unlock()
}

// snapshotBackedges copies the edge list under the method lock.
func (mi *Instance) snapshotBackedges() []Edge {
	m := mi.Method
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Edge, len(mi.backedges))
	copy(out, mi.backedges)
	return out
}
