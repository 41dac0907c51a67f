package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-set/v3"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// Dispatch status bits, maintained on both methods and instances. They are
// derived, recomputable state: a warm cache over "is this definition
// currently uniquely/most recently selected", never authoritative.
const (
	// StatusLatestWhich marks the newest definition on record for anything
	// matching its signature.
	StatusLatestWhich uint32 = 1 << 0
	// StatusLatestOnly marks a definition that is presently the unique
	// match for its signature, enabling the O(1) dispatch fast path.
	StatusLatestOnly uint32 = 1 << 1
)

// Method is one named, typed implementation of a generic function.
// Identity is (signature, module, source location).
type Method struct {
	Name   string
	Sig    typesystem.Type // *Tuple, possibly wrapped in Where quantifiers
	Module string
	File   string
	Line   int

	// NArgs is the number of declared positional slots (the vararg counts
	// as one). IsVa marks a trailing vararg.
	NArgs int
	IsVa  bool

	// NoSpecialize and Called are bitmasks over argument positions:
	// positions exempted from specialization, and positions known to be
	// invoked as functions.
	NoSpecialize uint32
	Called       uint32

	// MaxVarargs caps vararg specialization; config.UnsetMaxVarargs means
	// "use the per-family heuristic".
	MaxVarargs uint8

	primaryWorld   atomic.Uint64
	dispatchStatus atomic.Uint32

	// interferences memoizes the set of other definitions whose signature
	// overlaps this one without this one strictly dominating them. Guarded
	// by the owning table's structural lock for writes; reads take the
	// snapshot pointer.
	interferences atomic.Pointer[set.Set[*Method]]

	// mu is the per-method structural writelock: it guards the
	// specialization collection, every instance's backedge list, and
	// prepends to code-instance lists.
	mu sync.Mutex

	// specs is a copy-on-write snapshot of the specialization collection.
	specs atomic.Pointer[specCache]

	// unspecialized is the shared fallback instance used when
	// specialization is suppressed.
	unspecialized atomic.Pointer[Instance]
}

// NewMethod builds a definition ready for Table.Insert: not yet activated
// (primary world open), empty interference set.
func NewMethod(name string, sig typesystem.Type, module string) *Method {
	tt, _ := typesystem.Unwrap(sig).(*typesystem.Tuple)
	m := &Method{
		Name:       name,
		Sig:        sig,
		Module:     module,
		MaxVarargs: config.UnsetMaxVarargs,
	}
	if tt != nil {
		m.NArgs = len(tt.Elems)
		m.IsVa = tt.Va()
	}
	m.primaryWorld.Store(world.Open)
	m.interferences.Store(set.New[*Method](0))
	return m
}

// PrimaryWorld is the world at which the definition became live, or
// world.Open while not yet activated.
func (m *Method) PrimaryWorld() uint64 { return m.primaryWorld.Load() }

// DispatchStatus returns the current status bit pair.
func (m *Method) DispatchStatus() uint32 { return m.dispatchStatus.Load() }

// Interferences returns the current interference snapshot. The returned set
// must not be mutated.
func (m *Method) Interferences() *set.Set[*Method] { return m.interferences.Load() }

func (m *Method) interferesWith(other *Method) bool {
	return m.interferences.Load().Contains(other)
}

// addInterference records other in m's interference set (copy-on-write;
// caller holds the table's structural lock).
func (m *Method) addInterference(other *Method) {
	cur := m.interferences.Load()
	if cur.Contains(other) {
		return
	}
	next := cur.Copy()
	next.Insert(other)
	m.interferences.Store(next)
}

// takeOverInterferences merges the replaced method's interference set into
// m's, used on the exact-overwrite fast path.
func (m *Method) takeOverInterferences(replaced *Method) {
	cur := m.interferences.Load()
	next := cur.Copy()
	next.InsertSlice(replaced.interferences.Load().Slice())
	m.interferences.Store(next)
}

// declaredSlot returns the declared type of positional argument i, rewrapped
// in the signature's quantifiers.
func (m *Method) declaredSlot(i int) (typesystem.Type, bool) {
	tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	if !ok {
		return nil, false
	}
	slot, ok := tt.Slot(i)
	if !ok {
		return nil, false
	}
	return typesystem.Rewrap(slot, m.Sig), true
}

// nospecialized reports whether argument position i (0-based) is exempted
// from specialization.
func (m *Method) nospecialized(i int) bool {
	return i > 0 && i <= 32 && m.NoSpecialize&(1<<(i-1)) != 0
}

// calledAt reports whether argument position i (0-based) is known to be
// invoked by the method body.
func (m *Method) calledAt(i int) bool {
	return i > 0 && i <= 8 && m.Called&(1<<(i-1)) != 0
}
