package dispatch

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// InvokeKind is the state of a code instance's entry point.
type InvokeKind int

const (
	// InvokeNone: created uninitialized, needs compilation.
	InvokeNone InvokeKind = iota
	// InvokeWait: some other thread is compiling; spin or help.
	InvokeWait
	// InvokeInterpret: run through the interpreting fallback.
	InvokeInterpret
	// InvokeConst: the unit was folded to a constant return value.
	InvokeConst
	// InvokeCompiled: Fn is a callable compiled entry point.
	InvokeCompiled
)

// InvokeFn is a callable entry point produced by the backend.
type InvokeFn func(fn typesystem.Value, args []typesystem.Value) (typesystem.Value, error)

// invokeCell is the single published unit of entry-point state; replaced
// whole so readers never see a torn (kind, fn) pair.
type invokeCell struct {
	kind  InvokeKind
	fn    InvokeFn
	konst typesystem.Value
}

// Purity/effect bits on a code instance.
const (
	PurityConsistent uint8 = 1 << 0
	PurityEffectFree uint8 = 1 << 1
	PurityTerminates uint8 = 1 << 2
)

// CodeInstance is one compiled or inferred artifact for an Instance, valid
// over a world range. Its interval can only shrink, except for the
// promote-to-current transition taken under the world-counter lock. The
// invoke cell makes the one-way trip InvokeNone -> (wait) -> terminal state;
// specptr is set at most once then frozen.
type CodeInstance struct {
	ID    uuid.UUID
	Def   *Instance
	Owner any // opaque cache discriminant; nil for the native owner

	RetType typesystem.Type
	Purity  uint8
	Debug   string

	world.Interval

	// Edges lists the code instances this unit's correctness depends on.
	// Written once when the instance is filled, read-only after.
	Edges []*CodeInstance

	invoke  atomic.Pointer[invokeCell]
	specptr atomic.Pointer[InvokeFn]

	next atomic.Pointer[CodeInstance]
}

// NewCodeInstance creates an uninitialized unit for mi covering
// [minWorld, maxWorld].
func NewCodeInstance(mi *Instance, owner any, minWorld, maxWorld uint64) *CodeInstance {
	ci := &CodeInstance{ID: uuid.New(), Def: mi, Owner: owner}
	ci.MinWorld.Store(minWorld)
	ci.MaxWorld.Store(maxWorld)
	ci.invoke.Store(&invokeCell{kind: InvokeNone})
	return ci
}

// Invoke returns the current entry-point state.
func (ci *CodeInstance) Invoke() (InvokeKind, InvokeFn, typesystem.Value) {
	cell := ci.invoke.Load()
	return cell.kind, cell.fn, cell.konst
}

// BeginCompile claims the instance for compilation: InvokeNone -> InvokeWait.
// Returns false when someone else already claimed or finished it.
func (ci *CodeInstance) BeginCompile() bool {
	cur := ci.invoke.Load()
	if cur.kind != InvokeNone {
		return false
	}
	return ci.invoke.CompareAndSwap(cur, &invokeCell{kind: InvokeWait})
}

// Fill publishes the terminal entry-point state. Filling twice is an
// invariant violation and is ignored outside debug builds.
func (ci *CodeInstance) Fill(kind InvokeKind, fn InvokeFn, konst typesystem.Value, ret typesystem.Type, edges []*CodeInstance) {
	ci.RetType = ret
	ci.Edges = edges
	ci.invoke.Store(&invokeCell{kind: kind, fn: fn, konst: konst})
}

// SetSpecPtr installs the optimized direct entry point. First write wins.
func (ci *CodeInstance) SetSpecPtr(fn InvokeFn) bool {
	return ci.specptr.CompareAndSwap(nil, &fn)
}

// SpecPtr returns the optimized entry point if one was installed.
func (ci *CodeInstance) SpecPtr() InvokeFn {
	p := ci.specptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// InsertCodeInstance prepends ci to mi's compiled-unit list under the
// method lock. Iteration order is newest-first.
func InsertCodeInstance(mi *Instance, ci *CodeInstance) {
	m := mi.Method
	m.mu.Lock()
	ci.next.Store(mi.cache.Load())
	mi.cache.Store(ci)
	m.mu.Unlock()
}

// TryInsertCodeInstance conditionally prepends ci if the list head is still
// expectedHead, for lock-free racing producers compiling outside the method
// lock. Returns false (and installs nothing) when the head moved.
func TryInsertCodeInstance(mi *Instance, expectedHead, ci *CodeInstance) bool {
	ci.next.Store(expectedHead)
	return mi.cache.CompareAndSwap(expectedHead, ci)
}

// CodeInstanceHead returns the newest compiled unit, or nil.
func CodeInstanceHead(mi *Instance) *CodeInstance {
	return mi.cache.Load()
}

// LookupCodeInstance scans mi's compiled units (newest first, lists are
// short) for one whose interval contains w and whose owner matches.
func LookupCodeInstance(mi *Instance, owner any, w uint64) *CodeInstance {
	for ci := mi.cache.Load(); ci != nil; ci = ci.next.Load() {
		if ci.Owner == owner && ci.Contains(w) {
			return ci
		}
	}
	return nil
}

// PromoteToCurrent widens ci's interval back to open-ended, but only when no
// world advanced past validatedWorld since the caller validated it. The
// check and the widening happen under the world-counter lock; the walk
// recurses over ci's edges with a visited set, so shared or cyclic edge
// structures terminate.
func (t *Table) PromoteToCurrent(cis []*CodeInstance, validatedWorld uint64) {
	if t.World.Current() > validatedWorld {
		return
	}
	t.World.Lock()
	defer t.World.Unlock()
	if t.World.Current() != validatedWorld {
		return
	}
	seen := make(map[*CodeInstance]struct{})
	for _, ci := range cis {
		promote(ci, validatedWorld, seen)
	}
}

func promote(ci *CodeInstance, validatedWorld uint64, seen map[*CodeInstance]struct{}) {
	if _, ok := seen[ci]; ok {
		return
	}
	seen[ci] = struct{}{}
	if ci.MaxWorld.Load() != validatedWorld {
		return
	}
	ci.MaxWorld.Store(world.Open)
	for _, e := range ci.Edges {
		promote(e, validatedWorld, seen)
	}
}

// PromoteInstanceToCurrent restores the LatestOnly mirror bit on mi when its
// resolution validated at validatedWorld is still current.
func (t *Table) PromoteInstanceToCurrent(mi *Instance, minWorld, validatedWorld uint64) {
	if t.World.Current() > validatedWorld {
		return
	}
	def := mi.Method
	if def.DispatchStatus()&StatusLatestOnly != 0 ||
		minWorld != def.PrimaryWorld() ||
		mi.DispatchStatus()&StatusLatestOnly != 0 {
		return
	}
	t.World.Lock()
	defer t.World.Unlock()
	if t.World.Current() == validatedWorld {
		mi.dispatchStatus.Store(StatusLatestOnly)
	}
}
