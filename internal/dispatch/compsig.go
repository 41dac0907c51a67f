package dispatch

import (
	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/typesystem"
)

// maxVarargs returns how many trailing vararg slots of m are worth
// specializing exactly. An explicit declaration on the method wins;
// otherwise the per-family argument-count watermark bounds it: siblings
// with more positional arguments suggest the vararg will be peeled that
// far anyway. The watermark only grows, so the answer can rise over time;
// already-cached specializations stay valid.
func (t *Table) maxVarargs(m *Method) int {
	if m.MaxVarargs != config.UnsetMaxVarargs {
		return int(m.MaxVarargs)
	}
	tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	if !ok || len(tt.Elems) == 0 {
		return config.DefaultMaxVarargs
	}
	fam, ok := t.Interner.FirstFamily(tt, t.splitSlot(tt))
	if !ok {
		return config.DefaultMaxVarargs
	}
	n := fam.MaxArgs() - (m.NArgs - 1)
	if n < config.DefaultMaxVarargs {
		return config.DefaultMaxVarargs
	}
	return n
}

// compilationSig derives the signature a call with dispatch tuple args
// should be compiled under: the dispatch tuple with over-specific slots
// widened so one compiled artifact covers a family of equivalent calls.
// Widened slots:
//
//   - positions the method marks nospecialize collapse to the declared
//     slot type (free variables widened to Any);
//   - type-valued arguments collapse to the kind unless the declared slot
//     specifically asks for Type{...};
//   - function-typed arguments the body never calls collapse to the
//     abstract function type;
//   - vararg tails longer than the specialization threshold compress into
//     a single Vararg slot.
//
// The second result is false when no slot changed, meaning the dispatch
// tuple itself is the right specialization key.
func (t *Table) compilationSig(m *Method, args *typesystem.Tuple) (*typesystem.Tuple, bool) {
	nspec := m.NArgs
	if m.IsVa {
		nspec = m.NArgs - 1 + t.maxVarargs(m)
	}
	widened := false
	limit := len(args.Elems)
	if m.IsVa && limit > nspec {
		limit = nspec
	}
	elems := make([]typesystem.Type, 0, limit+1)
	for i := 0; i < limit; i++ {
		elt := args.Elems[i]
		decl, haveDecl := m.declaredSlot(i)
		out := elt
		switch {
		case m.nospecialized(i) && haveDecl:
			out = t.widenDeclared(decl)
		case isKindValue(elt) && !declWantsType(decl):
			out = t.Interner.Kind()
		case t.isFunctionValue(elt) && !m.calledAt(i) && !declPinsFunction(t, decl):
			out = t.Interner.FunctionType()
		}
		if out != elt {
			widened = true
		}
		elems = append(elems, out)
	}
	if m.IsVa && len(args.Elems) > nspec {
		// compress the tail into one vararg of the declared element type
		va := typesystem.Type(t.Interner.Any())
		if tt, ok := typesystem.Unwrap(m.Sig).(*typesystem.Tuple); ok {
			if e := tt.VarargElem(); e != nil && len(typesystem.FreeVars(e)) == 0 {
				va = e
			}
		}
		elems = append(elems, t.Interner.Vararg(va))
		widened = true
	}
	if !widened {
		return args, false
	}
	return t.Interner.Tuple(elems...), true
}

// widenDeclared strips quantifiers from a declared slot and replaces any
// remaining free variables with Any.
func (t *Table) widenDeclared(decl typesystem.Type) typesystem.Type {
	stripped := typesystem.Unwrap(decl)
	if len(typesystem.FreeVars(stripped)) != 0 {
		return t.Interner.Any()
	}
	return t.Interner.Canon(stripped)
}

// isKindValue reports whether a dispatch-tuple slot is the type of a type
// value (the argument at that position is itself a type).
func isKindValue(elt typesystem.Type) bool {
	_, ok := elt.(*typesystem.TypeOf)
	return ok
}

// declWantsType reports whether the declared slot constrains the argument
// to specific type values, so kind collapse would lose dispatch precision.
func declWantsType(decl typesystem.Type) bool {
	if decl == nil {
		return false
	}
	_, ok := typesystem.Unwrap(decl).(*typesystem.TypeOf)
	return ok
}

// isFunctionValue reports whether elt belongs to the function family.
func (t *Table) isFunctionValue(elt typesystem.Type) bool {
	n, ok := elt.(*typesystem.Nominal)
	if !ok {
		return false
	}
	fn := t.Interner.FunctionType().Family
	for f := n.Family; f != nil; f = f.Super {
		if f == fn {
			return n.Family != fn
		}
	}
	return false
}

// declPinsFunction reports whether the declared slot already names a
// specific callable type, so widening to Function would under-specialize.
func declPinsFunction(t *Table, decl typesystem.Type) bool {
	if decl == nil {
		return false
	}
	n, ok := typesystem.Unwrap(decl).(*typesystem.Nominal)
	if !ok {
		return false
	}
	return n != t.Interner.FunctionType() && n != t.Interner.Any()
}
