package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// Backend compiles one method instance to an executable code instance
// covering the requested world. Implementations must be safe for concurrent
// use.
type Backend interface {
	Compile(t *Table, mi *Instance, w uint64) (*CodeInstance, error)
}

// Table is the method table: the definition store plus both shared cache
// tiers, bound to one world counter, one type universe and one trace sink.
//
// Lock ordering: the world-counter lock is the innermost lock in the
// system; nothing else is acquired while holding it. The table's structural
// lock (mu) guards copy-on-write replacement of the definition and cache
// snapshots; per-method locks nest inside it.
type Table struct {
	Interner *typesystem.Interner
	Oracle   typesystem.Oracle
	World    *world.Counter
	Backend  Backend
	Sink     trace.Sink
	Opts     *config.Options

	mu sync.Mutex

	// defs is the definition store snapshot; cache is the general
	// (abstract-capable) cache tier snapshot.
	defs  atomic.Pointer[typeMap]
	cache atomic.Pointer[typeMap]

	// leaf is the exact-type cache tier: interned concrete dispatch tuple
	// to the head of an entry chain (one link per disjoint world range).
	leaf atomic.Pointer[leafCache]

	// callCache is the thread-shared direct-mapped call-site cache.
	callCache callCache

	// tfBackedges records callers that resolved to "no method" for a type
	// family, awaiting a definition that could change the answer.
	tfBackedges   map[*typesystem.Name][]Edge
	tfBackedgesMu sync.Mutex

	allowNewWorlds atomic.Bool
	snapshotting   atomic.Bool

	// invalLog collects human-readable invalidation records when
	// Opts.DebugInvalidation is set.
	invalLog   []string
	invalLogMu sync.Mutex
}

// NewTable builds an empty table over its own world counter.
func NewTable(in *typesystem.Interner, o typesystem.Oracle, opts *config.Options, sink trace.Sink) *Table {
	if sink == nil {
		sink = trace.Nop{}
	}
	if opts == nil {
		opts = &config.Options{}
	}
	t := &Table{
		Interner:    in,
		Oracle:      o,
		World:       world.NewCounter(),
		Sink:        sink,
		Opts:        opts,
		tfBackedges: make(map[*typesystem.Name][]Edge),
	}
	t.defs.Store(newTypeMap())
	t.cache.Store(newTypeMap())
	t.leaf.Store(newLeafCache())
	t.allowNewWorlds.Store(true)
	return t
}

// DisableNewWorlds permanently freezes the world counter: every cached
// resolution valid in the current world stays valid forever, and all
// subsequent structural changes fail with ErrWorldsFrozen. Backedges exist
// only to carry invalidations, so every recorded edge, positive and
// negative, is erased.
func (t *Table) DisableNewWorlds() {
	t.mu.Lock()
	t.allowNewWorlds.Store(false)
	t.defs.Load().visitAll(func(e *Entry) bool {
		m := e.Method
		if m == nil {
			return true
		}
		for _, mi := range t.Specializations(m) {
			mi.dropBackedges()
		}
		if un := m.unspecialized.Load(); un != nil {
			un.dropBackedges()
		}
		return true
	})
	t.mu.Unlock()

	t.tfBackedgesMu.Lock()
	t.tfBackedges = make(map[*typesystem.Name][]Edge)
	t.tfBackedgesMu.Unlock()
}

// NewWorldsAllowed reports whether the table still accepts definitions.
func (t *Table) NewWorldsAllowed() bool { return t.allowNewWorlds.Load() }

// BeginSnapshot blocks structural changes while the table is serialized.
// Returns ErrSnapshotInProgress if a snapshot is already running.
func (t *Table) BeginSnapshot() error {
	if !t.snapshotting.CompareAndSwap(false, true) {
		return ErrSnapshotInProgress
	}
	return nil
}

// EndSnapshot re-enables structural changes.
func (t *Table) EndSnapshot() { t.snapshotting.Store(false) }

// checkMutable is called with t.mu held by every structural mutation.
func (t *Table) checkMutable() error {
	if !t.allowNewWorlds.Load() {
		return ErrWorldsFrozen
	}
	if t.snapshotting.Load() {
		return ErrSnapshotInProgress
	}
	return nil
}

// Insert adds a definition and makes it live: the entry is first stored
// with the inverted sentinel interval (invisible to every world query),
// then activated under a fresh world. The two steps mirror deserialization,
// which stores many entries before activating them in one batch.
func (t *Table) Insert(m *Method) error {
	if err := t.add(m); err != nil {
		return err
	}
	return t.Activate(m)
}

// add stores m in the definition store without making it visible: the
// sentinel interval [Open, 1] contains no world.
func (t *Table) add(m *Method) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkMutable(); err != nil {
		return err
	}
	e := newEntry(m.Sig, world.Open, 1)
	e.Method = m
	t.defs.Store(t.defs.Load().insert(t, e))
	t.noteArgCounts(m)
	return nil
}

// noteArgCounts feeds the per-family argument-count watermark used by the
// vararg specialization heuristic.
func (t *Table) noteArgCounts(m *Method) {
	tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	if !ok || len(tt.Elems) == 0 {
		return
	}
	if fam, ok := t.Interner.FirstFamily(tt, 0); ok {
		n := m.NArgs
		if !m.IsVa && n <= config.MaxArgsTrackLimit {
			fam.ObserveArgCount(n)
		}
	}
}

// defEntry finds the definition-store entry owning m.
func (t *Table) defEntry(m *Method) *Entry {
	var found *Entry
	t.defs.Load().visitAll(func(e *Entry) bool {
		if e.Method == m {
			found = e
			return false
		}
		return true
	})
	return found
}

// RecomputeDispatchStatus rebuilds m's derived status bits from the
// definition store at the current world: LatestWhich if no live definition
// newer than m intersects it, plus LatestOnly if additionally no older live
// definition intersects it ambiguously. Used after deserialization and by
// the debug checker.
func (t *Table) RecomputeDispatchStatus(m *Method) uint32 {
	return t.recomputeDispatchStatusAt(m, t.World.Current())
}

func (t *Table) recomputeDispatchStatusAt(m *Method, w uint64) uint32 {
	var status uint32 = StatusLatestWhich | StatusLatestOnly
	t.visitIntersecting(t.defs.Load(), m.Sig, func(e *Entry) bool {
		other := e.Method
		if other == m || other == nil || !e.Contains(w) {
			return true
		}
		if other.PrimaryWorld() > m.PrimaryWorld() {
			status = 0
			return false
		}
		if !t.Oracle.MoreSpecific(m.Sig, other.Sig) {
			status &^= StatusLatestOnly
		}
		return true
	})
	m.dispatchStatus.Store(status)
	return status
}

// logInvalidation records one debug line when invalidation tracing is on.
func (t *Table) logInvalidation(s string) {
	if t.Opts == nil || !t.Opts.DebugInvalidation {
		return
	}
	t.invalLogMu.Lock()
	t.invalLog = append(t.invalLog, s)
	t.invalLogMu.Unlock()
}

// InvalidationLog returns the accumulated debug records.
func (t *Table) InvalidationLog() []string {
	t.invalLogMu.Lock()
	defer t.invalLogMu.Unlock()
	out := make([]string, len(t.invalLog))
	copy(out, t.invalLog)
	return out
}
