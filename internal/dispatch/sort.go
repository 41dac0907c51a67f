package dispatch

// sortBySpecificity orders matches most specific first. Specificity is a
// partial order that can contain cycles through mutually ambiguous
// definitions, so the sort runs Tarjan's strongly-connected-components
// walk over the "must precede" relation: an edge from a to b means b is
// strictly more specific than a and has to land earlier. Components are
// emitted dependencies-first, which is exactly most-specific-first; a
// component with more than one member is a mutual-ambiguity group and
// keeps its insertion order (newest definition first).
func (t *Table) sortBySpecificity(ms []*Match) []*Match {
	n := len(ms)
	if n < 2 {
		return ms
	}
	morespec := func(a, b *Match) bool {
		if a.Method == b.Method {
			return false
		}
		// a strictly more specific than b implies b recorded a in its
		// interference set at activation, so the memo prunes the oracle
		// query for every unordered pair
		if !b.Method.interferesWith(a.Method) {
			return false
		}
		return t.Oracle.MoreSpecific(a.Method.Sig, b.Method.Sig)
	}

	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var stack []int
	var out []*Match
	counter := 0

	var connect func(v int)
	connect = func(v int) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		for w := 0; w < n; w++ {
			if w == v || !morespec(ms[w], ms[v]) {
				continue
			}
			if index[w] < 0 {
				connect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}
		if lowlink[v] == index[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// members come off the stack in reverse insertion order
			for i := len(scc) - 1; i >= 0; i-- {
				out = append(out, ms[scc[i]])
			}
		}
	}
	for v := 0; v < n; v++ {
		if index[v] < 0 {
			connect(v)
		}
	}
	return out
}
