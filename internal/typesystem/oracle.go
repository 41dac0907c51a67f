package typesystem

// Oracle is the type-lattice black box the dispatch core is parameterized
// over. The core assumes these four queries are correct and terminating and
// places no contract on how they are computed.
//
// MoreSpecific is the specificity partial order used to sort matches. It is
// not total: two signatures can intersect with neither more specific than
// the other (an ambiguity).
type Oracle interface {
	// Subtype reports a <: b.
	Subtype(a, b Type) bool
	// Intersect computes a type containing exactly the common values of a
	// and b. Returns the interner's Bottom when the intersection is empty.
	Intersect(a, b Type) Type
	// Equal reports that a and b describe the same set of values.
	Equal(a, b Type) bool
	// HasFreeVars reports whether t mentions an unbound type variable.
	HasFreeVars(t Type) bool
	// MoreSpecific reports that a is strictly more specific than b.
	MoreSpecific(a, b Type) bool
}

// NominalOracle is the default Oracle over the interned nominal lattice:
// single-inheritance families, invariant parameters, covariant tuples with
// varargs, finite unions, and invariant Type{T} singletons. Universally
// quantified signatures are compared through their variables' upper bounds,
// which is sound for the covering checks dispatch performs.
type NominalOracle struct {
	in *Interner
}

func NewNominalOracle(in *Interner) *NominalOracle {
	return &NominalOracle{in: in}
}

func (o *NominalOracle) Equal(a, b Type) bool {
	if a == b {
		return true
	}
	return a.String() == b.String()
}

func (o *NominalOracle) HasFreeVars(t Type) bool {
	return len(FreeVars(t)) > 0
}

func (o *NominalOracle) MoreSpecific(a, b Type) bool {
	if o.Equal(a, b) {
		return false
	}
	return o.Subtype(a, b) && !o.Subtype(b, a)
}

func (o *NominalOracle) Subtype(a, b Type) bool {
	a = o.stripVars(a)
	b = o.stripVars(b)
	return o.subtype(a, b)
}

// stripVars replaces quantified variables by their upper bounds.
func (o *NominalOracle) stripVars(t Type) Type {
	for {
		w, ok := t.(*Where)
		if !ok {
			break
		}
		ub := w.Var.Ub
		if ub == nil {
			ub = Type(o.in.Any())
		}
		t = substVar(w.Body, w.Var, ub)
	}
	if v, ok := t.(*Var); ok {
		if v.Ub != nil {
			return o.stripVars(v.Ub)
		}
		return o.in.Any()
	}
	return t
}

func substVar(t Type, v *Var, with Type) Type {
	switch t := t.(type) {
	case *Var:
		if t == v {
			return with
		}
		return t
	case *Nominal:
		if len(t.Params) == 0 {
			return t
		}
		params := make([]Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = substVar(p, v, with)
		}
		return &Nominal{Family: t.Family, Params: params}
	case *Tuple:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = substVar(e, v, with)
		}
		return &Tuple{Elems: elems}
	case *Vararg:
		return &Vararg{Elem: substVar(t.Elem, v, with), Bound: t.Bound}
	case *TypeOf:
		return &TypeOf{Arg: substVar(t.Arg, v, with)}
	case *Union:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = substVar(e, v, with)
		}
		return &Union{Elems: elems}
	case *Where:
		if t.Var == v {
			return t
		}
		return &Where{Body: substVar(t.Body, v, with), Var: t.Var}
	default:
		return t
	}
}

func (o *NominalOracle) subtype(a, b Type) bool {
	if a == b {
		return true
	}
	if n, ok := b.(*Nominal); ok && n.Family == o.in.Any().Family {
		return true
	}
	switch a := a.(type) {
	case *Union:
		for _, e := range a.Elems {
			if !o.subtype(e, b) {
				return false
			}
		}
		return true
	case *Var:
		ub := a.Ub
		if ub == nil {
			ub = o.in.Any()
		}
		return o.subtype(ub, b)
	}
	if bu, ok := b.(*Union); ok {
		for _, e := range bu.Elems {
			if o.subtype(a, e) {
				return true
			}
		}
		return false
	}
	switch a := a.(type) {
	case *Nominal:
		bn, ok := b.(*Nominal)
		if !ok {
			return false
		}
		if a.Family == bn.Family {
			if len(a.Params) != len(bn.Params) {
				return false
			}
			for i := range a.Params {
				// invariant parameters, modulo an unconstrained variable slot
				if v, ok := bn.Params[i].(*Var); ok && v.Ub == nil && v.Lb == nil {
					continue
				}
				if !o.Equal(a.Params[i], bn.Params[i]) {
					return false
				}
			}
			return true
		}
		// single-inheritance chain; super families are unparameterized
		for fam := a.Family.Super; fam != nil; fam = fam.Super {
			if fam == bn.Family {
				return len(bn.Params) == 0
			}
		}
		return false
	case *TypeOf:
		switch b := b.(type) {
		case *TypeOf:
			if v, ok := b.Arg.(*Var); ok {
				ub := v.Ub
				if ub == nil {
					ub = o.in.Any()
				}
				return o.subtype(a.Arg, ub)
			}
			return o.Equal(a.Arg, b.Arg)
		case *Nominal:
			// Type{T} is an instance of the kind family
			for fam := o.in.Kind().Family; fam != nil; fam = fam.Super {
				if fam == b.Family {
					return len(b.Params) == 0
				}
			}
			return false
		}
		return false
	case *Tuple:
		bt, ok := b.(*Tuple)
		if !ok {
			return false
		}
		return o.subtypeTuple(a, bt)
	case *Vararg:
		if bv, ok := b.(*Vararg); ok {
			return o.subtype(a.Elem, bv.Elem)
		}
		return false
	}
	return false
}

func (o *NominalOracle) subtypeTuple(a, b *Tuple) bool {
	an, bn := len(a.Elems), len(b.Elems)
	ava, bva := a.Va(), b.Va()
	afix, bfix := an, bn
	if ava {
		afix--
	}
	if bva {
		bfix--
	}
	if !bva {
		// fixed-length target: lengths must agree exactly and a must not be
		// open-ended
		if ava || an != bn {
			return false
		}
	} else {
		if afix < bfix {
			return false
		}
	}
	slotB := func(i int) Type {
		if i < bfix {
			return b.Elems[i]
		}
		return b.Elems[bn-1].(*Vararg).Elem
	}
	for i := 0; i < afix; i++ {
		if !o.subtype(a.Elems[i], slotB(i)) {
			return false
		}
	}
	if ava {
		ae := a.Elems[an-1].(*Vararg).Elem
		// the repeated element must fit every remaining target slot
		for i := afix; i < bfix; i++ {
			if !o.subtype(ae, slotB(i)) {
				return false
			}
		}
		if !o.subtype(ae, b.Elems[bn-1].(*Vararg).Elem) {
			return false
		}
	}
	return true
}

func (o *NominalOracle) Intersect(a, b Type) Type {
	a2 := o.stripVars(a)
	b2 := o.stripVars(b)
	ti := o.intersect(a2, b2)
	return o.in.Canon(ti)
}

func (o *NominalOracle) intersect(a, b Type) Type {
	if o.subtype(a, b) {
		return a
	}
	if o.subtype(b, a) {
		return b
	}
	if au, ok := a.(*Union); ok {
		parts := make([]Type, 0, len(au.Elems))
		for _, e := range au.Elems {
			ti := o.intersect(e, b)
			if !o.isBottom(ti) {
				parts = append(parts, ti)
			}
		}
		return o.in.Union(parts...)
	}
	if bu, ok := b.(*Union); ok {
		return o.intersect(bu, a)
	}
	at, aok := a.(*Tuple)
	bt, bok := b.(*Tuple)
	if aok && bok {
		return o.intersectTuple(at, bt)
	}
	if aok != bok {
		return o.in.Bottom()
	}
	// distinct nominal families with no subtype relation cannot share values
	return o.in.Bottom()
}

func (o *NominalOracle) intersectTuple(a, b *Tuple) Type {
	an, bn := len(a.Elems), len(b.Elems)
	ava, bva := a.Va(), b.Va()
	afix, bfix := an, bn
	if ava {
		afix--
	}
	if bva {
		bfix--
	}
	// reconcile lengths: without a vararg the fixed lengths must be able to
	// agree
	if !ava && !bva && an != bn {
		return o.in.Bottom()
	}
	if !ava && afix < bfix {
		return o.in.Bottom()
	}
	if !bva && bfix < afix {
		return o.in.Bottom()
	}
	n := afix
	if bfix > n {
		n = bfix
	}
	slot := func(t *Tuple, fix int, i int) (Type, bool) {
		if i < fix {
			return t.Elems[i], true
		}
		if t.Va() {
			return t.Elems[len(t.Elems)-1].(*Vararg).Elem, true
		}
		return nil, false
	}
	elems := make([]Type, 0, n+1)
	for i := 0; i < n; i++ {
		ae, aok := slot(a, afix, i)
		be, bok := slot(b, bfix, i)
		if !aok || !bok {
			return o.in.Bottom()
		}
		ti := o.intersect(ae, be)
		if o.isBottom(ti) {
			return o.in.Bottom()
		}
		elems = append(elems, ti)
	}
	if ava && bva {
		ti := o.intersect(a.Elems[an-1].(*Vararg).Elem, b.Elems[bn-1].(*Vararg).Elem)
		if !o.isBottom(ti) {
			elems = append(elems, o.in.Vararg(ti))
		}
	}
	return o.in.Tuple(elems...)
}

func (o *NominalOracle) isBottom(t Type) bool {
	u, ok := t.(*Union)
	return ok && len(u.Elems) == 0
}

// IsBottom reports whether t is the empty type.
func IsBottom(t Type) bool {
	u, ok := t.(*Union)
	return ok && len(u.Elems) == 0
}
