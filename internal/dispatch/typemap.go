package dispatch

import (
	"sync/atomic"

	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// Entry is one binding in a type-indexed map: either a definition entry
// (Method set) in the definition store, or a cache entry (Instance set) in
// the general/leaf cache tiers. Cache entries may carry a simple-signature
// refinement and guard signatures per the widening policy.
type Entry struct {
	Sig typesystem.Type

	// SimpleSig, when set, is a cheap refinement the concrete argument
	// tuple must also satisfy before this entry may hit.
	SimpleSig *typesystem.Tuple

	// GuardSigs are signatures of other definitions the widened Sig would
	// incorrectly also cover; an argument tuple matching a guard must miss
	// this entry.
	GuardSigs []typesystem.Type

	world.Interval

	Method   *Method
	Instance *Instance

	// next chains leaf-cache entries that share one dispatch tuple.
	next atomic.Pointer[Entry]
}

func newEntry(sig typesystem.Type, minWorld, maxWorld uint64) *Entry {
	e := &Entry{Sig: sig}
	e.MinWorld.Store(minWorld)
	e.MaxWorld.Store(maxWorld)
	return e
}

// typeMap is the interval-aware index used for the definition store and the
// general cache tier: entries are bucketed by the nominal family of their
// dispatch-relevant argument slot, newest first within a bucket, with an
// overflow list for signatures too abstract to pin to one family. The whole
// structure is copy-on-write under the table's structural lock; readers
// take the snapshot pointer and never lock.
type typeMap struct {
	byFamily map[*typesystem.Name][]*Entry
	rest     []*Entry
	count    int
}

func newTypeMap() *typeMap {
	return &typeMap{byFamily: make(map[*typesystem.Name][]*Entry)}
}

// splitSlot is the argument index whose family buckets a signature: slot 0,
// except for keyword-call wrapper signatures, where the dispatch-relevant
// argument is shifted to slot 2.
func (t *Table) splitSlot(sig typesystem.Type) int {
	tt, ok := typesystem.Unwrap(sig).(*typesystem.Tuple)
	if !ok || len(tt.Elems) == 0 {
		return 0
	}
	if n, ok := tt.Elems[0].(*typesystem.Nominal); ok && n == t.Interner.KwCall() {
		return 2
	}
	return 0
}

// insert returns a new snapshot with e prepended to its bucket.
func (tm *typeMap) insert(t *Table, e *Entry) *typeMap {
	fam, ok := t.Interner.FirstFamily(e.Sig, t.splitSlot(e.Sig))
	next := &typeMap{
		byFamily: make(map[*typesystem.Name][]*Entry, len(tm.byFamily)+1),
		count:    tm.count + 1,
	}
	for k, v := range tm.byFamily {
		next.byFamily[k] = v
	}
	if ok {
		bucket := next.byFamily[fam]
		next.byFamily[fam] = append([]*Entry{e}, bucket...)
		next.rest = tm.rest
	} else {
		next.rest = append([]*Entry{e}, tm.rest...)
	}
	return next
}

// buckets yields the entry slices a query with the given family might match:
// the family's own bucket, every ancestor family's bucket, and the overflow
// list. A nil family scans everything.
func (tm *typeMap) buckets(fam *typesystem.Name, visit func([]*Entry) bool) {
	if fam == nil {
		for _, b := range tm.byFamily {
			if !visit(b) {
				return
			}
		}
		if len(tm.rest) > 0 {
			visit(tm.rest)
		}
		return
	}
	for f := fam; f != nil; f = f.Super {
		if b, ok := tm.byFamily[f]; ok {
			if !visit(b) {
				return
			}
		}
	}
	if len(tm.rest) > 0 {
		visit(tm.rest)
	}
}

// assocByType finds the newest entry whose interval contains w and whose
// signature covers query (subtype containment). Guard signatures are
// honored: a query covered by a guard misses the entry.
func (t *Table) assocByType(tm *typeMap, query *typesystem.Tuple, w uint64) *Entry {
	fam, _ := t.Interner.FirstFamily(query, t.splitSlot(query))
	var found *Entry
	tm.buckets(fam, func(bucket []*Entry) bool {
		for _, e := range bucket {
			if !e.Contains(w) {
				continue
			}
			if e.SimpleSig != nil && !t.Oracle.Subtype(query, e.SimpleSig) {
				continue
			}
			if !t.Oracle.Subtype(query, e.Sig) {
				continue
			}
			if e.guardedAgainst(t, query) {
				continue
			}
			found = e
			return false
		}
		return true
	})
	return found
}

// guardedAgainst reports whether query falls under one of e's guard
// signatures, meaning e must not answer for it.
func (e *Entry) guardedAgainst(t *Table, query *typesystem.Tuple) bool {
	for _, g := range e.GuardSigs {
		if t.Oracle.Subtype(query, g) {
			return true
		}
	}
	return false
}

// visitIntersecting calls visit for every entry (any world) whose signature
// intersects query. Returning false stops the walk early; the final return
// mirrors the last visit result.
func (t *Table) visitIntersecting(tm *typeMap, query typesystem.Type, visit func(e *Entry) bool) bool {
	qt, _ := typesystem.Unwrap(query).(*typesystem.Tuple)
	var fam *typesystem.Name
	if qt != nil {
		// an abstract query slot yields no family and scans all buckets
		fam, _ = t.Interner.FirstFamily(qt, t.splitSlot(qt))
	}
	cont := true
	scan := func(bucket []*Entry) bool {
		for _, e := range bucket {
			ti := t.Oracle.Intersect(query, e.Sig)
			if typesystem.IsBottom(ti) {
				continue
			}
			if !visit(e) {
				cont = false
				return false
			}
		}
		return true
	}
	if fam == nil {
		tm.buckets(nil, scan)
		return cont
	}
	// the query's family bucket and every ancestor bucket can intersect;
	// so can buckets of descendant families when the query slot is
	// abstract, which FirstFamily only reports for concrete-enough slots.
	seen := make(map[*typesystem.Name]struct{})
	for f := fam; f != nil; f = f.Super {
		seen[f] = struct{}{}
		if b, ok := tm.byFamily[f]; ok {
			if !scan(b) {
				return cont
			}
		}
	}
	if fam.Abstract {
		for other, b := range tm.byFamily {
			if _, done := seen[other]; done {
				continue
			}
			for f := other.Super; f != nil; f = f.Super {
				if f == fam {
					if !scan(b) {
						return cont
					}
					break
				}
			}
		}
	}
	if len(tm.rest) > 0 {
		scan(tm.rest)
	}
	return cont
}

// visitAll walks every entry in the snapshot.
func (tm *typeMap) visitAll(visit func(e *Entry) bool) bool {
	for _, b := range tm.byFamily {
		for _, e := range b {
			if !visit(e) {
				return false
			}
		}
	}
	for _, e := range tm.rest {
		if !visit(e) {
			return false
		}
	}
	return true
}
