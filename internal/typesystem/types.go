// Package typesystem defines the type descriptors the dispatch core operates
// on, the canonicalizing factory that interns them, and the Oracle interface
// the matcher consults for subtyping and intersection.
//
// Concrete descriptors are hash-consed: two structurally equal concrete types
// are always the same pointer. The call-site cache's pointer-identity check
// (sig match fast path) is only safe because of that invariant.
package typesystem

import (
	"strings"
)

// Type is the interface for all type descriptors.
type Type interface {
	String() string
}

// Name identifies a nominal type family (all instantiations of List share one
// Name). It also carries the per-family dispatch bookkeeping that must not
// live on individual instantiations.
type Name struct {
	Name     string
	Super    *Name // nil only for the root family (Any)
	Abstract bool

	// maxArgs tracks the largest positional argument count seen across
	// method definitions whose first argument belongs to this family.
	// Advisory input to the max-varargs heuristic; grows over time.
	maxArgs atomicCounter

	// cacheEntryCount approximates how many general-tier cache entries key
	// on this family, used to decide whether hashing the argument tuple for
	// a leaf lookup is worth the cost.
	cacheEntryCount atomicCounter
}

func (n *Name) String() string { return n.Name }

// IsKindFamily reports whether this family is the kind of types themselves
// (the family every Type{T} descriptor belongs to).
func (n *Name) IsKindFamily() bool { return n.Name == KindFamilyName }

// MaxArgs returns the advisory per-family argument-count high-water mark.
func (n *Name) MaxArgs() int { return n.maxArgs.load() }

// ObserveArgCount raises the family's argument-count high-water mark.
func (n *Name) ObserveArgCount(nargs int) { n.maxArgs.raiseTo(nargs) }

// CacheEntryCount returns the approximate general-cache entry count.
func (n *Name) CacheEntryCount() int { return n.cacheEntryCount.load() }

// NoteCacheEntry bumps the approximate general-cache entry count.
func (n *Name) NoteCacheEntry(limit int) { n.cacheEntryCount.bumpCapped(limit) }

// Nominal is an instantiation of a nominal family: Int64, List{Int64}, IO.
// Parameters are invariant. Interned.
type Nominal struct {
	Family *Name
	Params []Type
}

func (t *Nominal) String() string {
	if len(t.Params) == 0 {
		return t.Family.Name
	}
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	return t.Family.Name + "{" + strings.Join(parts, ", ") + "}"
}

// Concrete reports whether values can have exactly this type at runtime.
func (t *Nominal) Concrete() bool { return !t.Family.Abstract }

// Tuple is an argument-signature type: covariant elements, optionally ending
// in a Vararg. Interned. A Tuple whose every element is concrete and
// vararg-free is a "dispatch tuple": the exact runtime signature of a call.
type Tuple struct {
	Elems []Type

	// id is the interner-assigned sequence number, the cheap hash input
	// for direct-mapped caches keyed on interned tuples.
	id uint64
}

// Hash returns the interner-assigned identity hash.
func (t *Tuple) Hash() uint64 { return t.id * 0x9e3779b97f4a7c15 }

func (t *Tuple) String() string {
	parts := make([]string, len(t.Elems))
	for i, p := range t.Elems {
		parts[i] = p.String()
	}
	return "Tuple{" + strings.Join(parts, ", ") + "}"
}

// Va reports whether the tuple ends in a vararg element.
func (t *Tuple) Va() bool {
	if len(t.Elems) == 0 {
		return false
	}
	_, ok := t.Elems[len(t.Elems)-1].(*Vararg)
	return ok
}

// VarargElem returns the element type of the trailing vararg, or nil.
func (t *Tuple) VarargElem() Type {
	if len(t.Elems) == 0 {
		return nil
	}
	if va, ok := t.Elems[len(t.Elems)-1].(*Vararg); ok {
		return va.Elem
	}
	return nil
}

// IsDispatch reports whether this is a fully concrete dispatch tuple.
func (t *Tuple) IsDispatch() bool {
	for _, e := range t.Elems {
		switch e := e.(type) {
		case *Nominal:
			if !e.Concrete() {
				return false
			}
		case *TypeOf:
			// Type{T} is a concrete singleton when T has no free vars.
			if _, free := e.Arg.(*Var); free {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Slot returns the declared type at positional argument i, looking through a
// trailing vararg. Reports false past the end of a vararg-free tuple.
func (t *Tuple) Slot(i int) (Type, bool) {
	n := len(t.Elems)
	if n == 0 {
		return nil, false
	}
	if va, ok := t.Elems[n-1].(*Vararg); ok && i >= n-1 {
		return va.Elem, true
	}
	if i >= n {
		return nil, false
	}
	return t.Elems[i], true
}

// Vararg is the trailing repeat element of a Tuple. Elem is the element
// type; a zero Bound means unbounded repetition.
type Vararg struct {
	Elem  Type
	Bound int
}

func (t *Vararg) String() string {
	if t.Bound > 0 {
		return "Vararg{" + t.Elem.String() + ", bound}"
	}
	return "Vararg{" + t.Elem.String() + "}"
}

// TypeOf is the singleton type of a type value: Type{T}. Invariant in T.
// Interned; belongs to the kind family.
type TypeOf struct {
	Arg Type
}

func (t *TypeOf) String() string { return "Type{" + t.Arg.String() + "}" }

// Union is a finite union of types. Interned with sorted, deduplicated
// elements; the empty Union is Bottom.
type Union struct {
	Elems []Type
}

func (t *Union) String() string {
	if len(t.Elems) == 0 {
		return "Union{}"
	}
	parts := make([]string, len(t.Elems))
	for i, p := range t.Elems {
		parts[i] = p.String()
	}
	return "Union{" + strings.Join(parts, ", ") + "}"
}

// Var is a type variable with bounds, bound by an enclosing Where.
type Var struct {
	Name string
	Lb   Type // nil means Bottom
	Ub   Type // nil means Any
}

func (t *Var) String() string { return t.Name }

// Where universally quantifies one variable over a body signature:
// Tuple{T, T} where T <: Number. Not interned (identity of the Var matters).
type Where struct {
	Body Type
	Var  *Var
}

func (t *Where) String() string {
	s := t.Body.String() + " where " + t.Var.Name
	if t.Var.Ub != nil {
		s += " <: " + t.Var.Ub.String()
	}
	return s
}

// Unwrap strips Where wrappers off a signature.
func Unwrap(t Type) Type {
	for {
		w, ok := t.(*Where)
		if !ok {
			return t
		}
		t = w.Body
	}
}

// Rewrap re-applies the quantifiers of src (outermost first) around body.
func Rewrap(body Type, src Type) Type {
	var vars []*Var
	for {
		w, ok := src.(*Where)
		if !ok {
			break
		}
		vars = append(vars, w.Var)
		src = w.Body
	}
	for i := len(vars) - 1; i >= 0; i-- {
		if hasVar(body, vars[i]) {
			body = &Where{Body: body, Var: vars[i]}
		}
	}
	return body
}

func hasVar(t Type, v *Var) bool {
	switch t := t.(type) {
	case *Var:
		return t == v
	case *Nominal:
		for _, p := range t.Params {
			if hasVar(p, v) {
				return true
			}
		}
	case *Tuple:
		for _, p := range t.Elems {
			if hasVar(p, v) {
				return true
			}
		}
	case *Vararg:
		return hasVar(t.Elem, v)
	case *TypeOf:
		return hasVar(t.Arg, v)
	case *Union:
		for _, p := range t.Elems {
			if hasVar(p, v) {
				return true
			}
		}
	case *Where:
		return t.Var != v && hasVar(t.Body, v)
	}
	return false
}

// FreeVars collects the variables in t not bound by an enclosing Where.
func FreeVars(t Type) []*Var {
	var out []*Var
	var walk func(t Type, bound []*Var)
	walk = func(t Type, bound []*Var) {
		switch t := t.(type) {
		case *Var:
			for _, b := range bound {
				if b == t {
					return
				}
			}
			for _, o := range out {
				if o == t {
					return
				}
			}
			out = append(out, t)
		case *Nominal:
			for _, p := range t.Params {
				walk(p, bound)
			}
		case *Tuple:
			for _, p := range t.Elems {
				walk(p, bound)
			}
		case *Vararg:
			walk(t.Elem, bound)
		case *TypeOf:
			walk(t.Arg, bound)
		case *Union:
			for _, p := range t.Elems {
				walk(p, bound)
			}
		case *Where:
			walk(t.Body, append(bound, t.Var))
		}
	}
	walk(t, nil)
	return out
}
