package dispatch

import (
	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

// Match is one applicable definition for a query signature.
type Match struct {
	// Sig is the intersection of the query with the definition signature.
	Sig typesystem.Type
	// Method is the applicable definition.
	Method *Method
	// SParams are the static-parameter bindings the query implies.
	SParams []typesystem.Binding
	// FullyCovers means the query is entirely inside the definition
	// signature, so this match applies to every call the query describes.
	FullyCovers bool
}

// MatchResult is the full answer to a match query, with the world interval
// over which the answer stays valid. Anything cached from this result must
// carry the interval.
type MatchResult struct {
	Matches  []*Match
	MinWorld uint64
	MaxWorld uint64
	// Ambiguous reports that at least two fully-covering matches are
	// mutually unordered.
	Ambiguous bool
}

// Matches finds every definition applicable to query at world w, most
// specific first. lim bounds the answer size: when more matches exist the
// result is nil and the error is ErrTooManyMatches (partial answers are
// never returned, so callers cannot cache one by mistake). A negative lim
// means unlimited.
func (t *Table) Matches(query typesystem.Type, w uint64, lim int) (*MatchResult, error) {
	defs := t.defs.Load()

	// unique fast path: a dispatch tuple answered by a definition holding
	// the sole-match bit needs no intersection scan
	if qt, ok := typesystem.Unwrap(query).(*typesystem.Tuple); ok && qt.IsDispatch() {
		if e := t.assocByType(defs, qt, w); e != nil && e.Method != nil &&
			e.Method.DispatchStatus()&StatusLatestOnly != 0 {
			sparams, _ := typesystem.BindStaticParams(t.Oracle, t.Interner, e.Method.Sig, qt)
			return &MatchResult{
				Matches: []*Match{{
					Sig:         qt,
					Method:      e.Method,
					SParams:     sparams,
					FullyCovers: true,
				}},
				MinWorld: e.MinWorld.Load(),
				MaxWorld: e.MaxWorld.Load(),
			}, nil
		}
	}

	res := &MatchResult{MinWorld: 1, MaxWorld: world.Open}
	overflow := false
	t.visitIntersecting(defs, query, func(e *Entry) bool {
		if e.Method == nil {
			return true
		}
		min, max := e.MinWorld.Load(), e.MaxWorld.Load()
		if !e.Contains(w) {
			// out-of-world definitions still bound the answer's validity
			if min > w {
				if min-1 < res.MaxWorld {
					res.MaxWorld = min - 1
				}
			} else if max < w && max+1 > res.MinWorld {
				res.MinWorld = max + 1
			}
			return true
		}
		ti := t.Oracle.Intersect(query, e.Method.Sig)
		if typesystem.IsBottom(ti) {
			return true
		}
		if min > res.MinWorld {
			res.MinWorld = min
		}
		if max < res.MaxWorld {
			res.MaxWorld = max
		}
		canon := t.Interner.Canon(ti)
		var sparams []typesystem.Binding
		if bt, isTuple := typesystem.Unwrap(canon).(*typesystem.Tuple); isTuple {
			sparams, _ = typesystem.BindStaticParams(t.Oracle, t.Interner, e.Method.Sig, bt)
		}
		res.Matches = append(res.Matches, &Match{
			Sig:         canon,
			Method:      e.Method,
			SParams:     sparams,
			FullyCovers: t.Oracle.Subtype(query, e.Method.Sig),
		})
		if lim >= 0 && len(res.Matches) > lim {
			overflow = true
			return false
		}
		return true
	})
	if overflow {
		return nil, ErrTooManyMatches
	}
	if len(res.Matches) < 2 {
		return res, nil
	}

	// minmax shortcut: a fully-covering match strictly more specific than
	// every other shadows them all
	if best := t.minmax(query, res.Matches); best != nil {
		res.Matches = []*Match{best}
		return res, nil
	}

	res.Matches = t.sortBySpecificity(res.Matches)
	res.Ambiguous = t.hasAmbiguity(res.Matches)
	return res, nil
}

// minmax returns the fully-covering match strictly more specific than every
// other match, or nil when no such unique winner exists.
func (t *Table) minmax(query typesystem.Type, ms []*Match) *Match {
	var best *Match
	for _, m := range ms {
		if !m.FullyCovers {
			continue
		}
		if best == nil || t.Oracle.MoreSpecific(m.Method.Sig, best.Method.Sig) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	for _, m := range ms {
		if m == best {
			continue
		}
		if !t.Oracle.MoreSpecific(best.Method.Sig, m.Method.Sig) {
			return nil
		}
	}
	return best
}

// hasAmbiguity reports whether two fully-covering matches are mutually
// unordered. Pairs whose definitions never interfere are skipped: no
// interference means one side strictly dominates or they are disjoint.
func (t *Table) hasAmbiguity(ms []*Match) bool {
	for i, a := range ms {
		if !a.FullyCovers {
			continue
		}
		for _, b := range ms[i+1:] {
			if !b.FullyCovers {
				continue
			}
			if !a.Method.interferesWith(b.Method) && !b.Method.interferesWith(a.Method) {
				continue
			}
			if !t.Oracle.MoreSpecific(a.Method.Sig, b.Method.Sig) &&
				!t.Oracle.MoreSpecific(b.Method.Sig, a.Method.Sig) {
				return true
			}
		}
	}
	return false
}
