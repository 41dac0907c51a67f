package typesystem

// Binding assigns a concrete type to one quantified variable of a signature.
type Binding struct {
	Var  *Var
	Type Type
}

// BindStaticParams computes the static-parameter bindings of a quantified
// signature sig against a query tuple already known to intersect it. The
// bindings come back in quantifier order (outermost first). Variables the
// query does not pin down stay bound to their upper bound; ok is false only
// when the shapes cannot be reconciled at all.
func BindStaticParams(o Oracle, in *Interner, sig Type, query *Tuple) ([]Binding, bool) {
	var vars []*Var
	body := sig
	for {
		w, ok := body.(*Where)
		if !ok {
			break
		}
		vars = append(vars, w.Var)
		body = w.Body
	}
	if len(vars) == 0 {
		return nil, true
	}
	env := make(map[*Var]Type)
	if !bindWalk(o, body, query, env) {
		return nil, false
	}
	out := make([]Binding, len(vars))
	for i, v := range vars {
		t, ok := env[v]
		if !ok {
			if v.Ub != nil {
				t = v.Ub
			} else {
				t = in.Any()
			}
		}
		out[i] = Binding{Var: v, Type: t}
	}
	return out, true
}

func bindWalk(o Oracle, decl, actual Type, env map[*Var]Type) bool {
	switch decl := decl.(type) {
	case *Var:
		if prev, ok := env[decl]; ok {
			return o.Equal(prev, actual)
		}
		env[decl] = actual
		return true
	case *Tuple:
		at, ok := actual.(*Tuple)
		if !ok {
			return false
		}
		dn := len(decl.Elems)
		dfix := dn
		if decl.Va() {
			dfix--
		}
		for i, ae := range at.Elems {
			de, ok := decl.Slot(i)
			if !ok {
				if i >= dfix {
					break
				}
				return false
			}
			if va, isVa := ae.(*Vararg); isVa {
				ae = va.Elem
			}
			if !bindWalk(o, de, ae, env) {
				return false
			}
		}
		return true
	case *Nominal:
		an, ok := actual.(*Nominal)
		if !ok || len(decl.Params) != len(an.Params) {
			// abstract declared slot against a concrete subtype pins nothing
			return true
		}
		for i := range decl.Params {
			if !bindWalk(o, decl.Params[i], an.Params[i], env) {
				return false
			}
		}
		return true
	case *TypeOf:
		if at, ok := actual.(*TypeOf); ok {
			return bindWalk(o, decl.Arg, at.Arg, env)
		}
		return true
	case *Vararg:
		if av, ok := actual.(*Vararg); ok {
			return bindWalk(o, decl.Elem, av.Elem, env)
		}
		return bindWalk(o, decl.Elem, actual, env)
	default:
		return true
	}
}
