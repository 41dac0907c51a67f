package dispatch

import (
	"sync/atomic"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/typesystem"
)

// leafCache is the exact-type cache tier: interned concrete dispatch tuple
// to the head of an entry chain (newest first, one link per world range).
// The map is copy-on-write under the table's structural lock; the chains
// are append-at-head and traversed lock-free.
type leafCache struct {
	index map[*typesystem.Tuple]*Entry
}

func newLeafCache() *leafCache {
	return &leafCache{index: make(map[*typesystem.Tuple]*Entry)}
}

func (lc *leafCache) lookup(tt *typesystem.Tuple, w uint64) *Entry {
	for e := lc.index[tt]; e != nil; e = e.next.Load() {
		if e.Contains(w) {
			return e
		}
	}
	return nil
}

// leafInsert stores e in the leaf tier under key. Caller holds t.mu.
func (t *Table) leafInsert(key *typesystem.Tuple, e *Entry) {
	old := t.leaf.Load()
	next := &leafCache{index: make(map[*typesystem.Tuple]*Entry, len(old.index)+1)}
	for k, v := range old.index {
		next.index[k] = v
	}
	e.next.Store(old.index[key])
	next.index[key] = e
	t.leaf.Store(next)
}

// leafVisitAll walks every chained entry in the leaf tier.
func (t *Table) leafVisitAll(visit func(e *Entry) bool) bool {
	for _, head := range t.leaf.Load().index {
		for e := head; e != nil; e = e.next.Load() {
			if !visit(e) {
				return false
			}
		}
	}
	return true
}

// callCache is the outermost dispatch tier: a fixed-size direct-mapped
// table probed at four consecutive slots, shared by all goroutines. Slots
// hold entries from the other tiers; a miss falls through, a stale hit is
// filtered by the world check. Eviction picks a probe slot round-robin,
// so hot call sites with colliding hashes still keep distinct entries.
type callCache struct {
	slots  [config.NCallCache]atomic.Pointer[Entry]
	which  atomic.Uint32
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (c *callCache) lookup(tt *typesystem.Tuple, w uint64) *Entry {
	base := tt.Hash()
	for i := uint64(0); i < config.CallCacheProbes; i++ {
		e := c.slots[(base+i)&(config.NCallCache-1)].Load()
		if e == nil {
			continue
		}
		if leafSig(e) == tt && e.Contains(w) {
			c.hits.Add(1)
			return e
		}
	}
	c.misses.Add(1)
	return nil
}

func (c *callCache) insert(tt *typesystem.Tuple, e *Entry) {
	base := tt.Hash()
	pick := uint64(c.which.Add(1)) % config.CallCacheProbes
	c.slots[(base+pick)&(config.NCallCache-1)].Store(e)
}

// leafSig is the exact dispatch tuple a call-cache slot is keyed on: the
// instance's specialization signature when concrete, else the entry
// signature itself.
func leafSig(e *Entry) *typesystem.Tuple {
	if e.Instance != nil && e.Instance.SpecSig != nil && e.Instance.SpecSig.IsDispatch() {
		return e.Instance.SpecSig
	}
	tt, _ := e.Sig.(*typesystem.Tuple)
	return tt
}

// CallCacheStats reports hit and miss counters for the call-site tier.
func (t *Table) CallCacheStats() (hits, misses uint64) {
	return t.callCache.hits.Load(), t.callCache.misses.Load()
}
