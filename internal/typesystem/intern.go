package typesystem

import (
	"fmt"
	"sort"
	"sync"
)

// Names of the built-in families every universe starts with.
const (
	AnyFamilyName      = "Any"
	KindFamilyName     = "DataType"
	FunctionFamilyName = "Function"
	KwCallFamilyName   = "typeof(kwcall)"
)

// Interner is the canonicalizing factory for type descriptors. All concrete
// descriptors used in dispatch must come from one Interner so that pointer
// equality coincides with type equality on concrete types.
type Interner struct {
	mu       sync.Mutex
	names    map[string]*Name
	nominals map[string]*Nominal
	tuples   map[string]*Tuple
	varargs  map[string]*Vararg
	typeofs  map[string]*TypeOf
	unions   map[string]*Union
	tupleSeq uint64

	anyType    *Nominal
	bottom     *Union
	kind       *Nominal
	functional *Nominal
	kwcall     *Nominal
}

func NewInterner() *Interner {
	in := &Interner{
		names:    make(map[string]*Name),
		nominals: make(map[string]*Nominal),
		tuples:   make(map[string]*Tuple),
		varargs:  make(map[string]*Vararg),
		typeofs:  make(map[string]*TypeOf),
		unions:   make(map[string]*Union),
	}
	anyName := &Name{Name: AnyFamilyName, Abstract: true}
	in.names[AnyFamilyName] = anyName
	in.anyType = &Nominal{Family: anyName}
	in.nominals[AnyFamilyName] = in.anyType
	in.bottom = &Union{}
	in.unions[in.bottom.String()] = in.bottom
	in.kind = in.mustDeclare(KindFamilyName, anyName, false)
	in.functional = in.mustDeclare(FunctionFamilyName, anyName, true)
	in.kwcall = in.mustDeclare(KwCallFamilyName, in.functional.Family, false)
	return in
}

func (in *Interner) mustDeclare(name string, super *Name, abstract bool) *Nominal {
	n := &Name{Name: name, Super: super, Abstract: abstract}
	in.names[name] = n
	t := &Nominal{Family: n}
	in.nominals[name] = t
	return t
}

// Any returns the top type.
func (in *Interner) Any() *Nominal { return in.anyType }

// Bottom returns the empty union, the bottom type.
func (in *Interner) Bottom() *Union { return in.bottom }

// Kind returns the type of type values (every Type{T} is a subtype of it).
func (in *Interner) Kind() *Nominal { return in.kind }

// Function returns the abstract supertype of all callables.
func (in *Interner) FunctionType() *Nominal { return in.functional }

// KwCall returns the keyword-call wrapper's singleton function type.
func (in *Interner) KwCall() *Nominal { return in.kwcall }

// DeclareFamily registers a new nominal family. super defaults to Any.
// Redeclaring an existing name with a different shape is an error.
func (in *Interner) DeclareFamily(name string, super *Name, abstract bool) (*Name, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if super == nil {
		super = in.anyType.Family
	}
	if existing, ok := in.names[name]; ok {
		if existing.Super != super || existing.Abstract != abstract {
			return nil, fmt.Errorf("type family %s already declared with a different shape", name)
		}
		return existing, nil
	}
	n := &Name{Name: name, Super: super, Abstract: abstract}
	in.names[name] = n
	return n, nil
}

// Family looks up a declared family by name.
func (in *Interner) Family(name string) (*Name, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	n, ok := in.names[name]
	return n, ok
}

// Nominal interns an instantiation of a family.
func (in *Interner) Nominal(family *Name, params ...Type) *Nominal {
	t := &Nominal{Family: family, Params: params}
	key := t.String()
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.nominals[key]; ok {
		return existing
	}
	in.nominals[key] = t
	return t
}

// Tuple interns an argument-signature tuple.
func (in *Interner) Tuple(elems ...Type) *Tuple {
	t := &Tuple{Elems: elems}
	key := t.String()
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.tuples[key]; ok {
		return existing
	}
	in.tupleSeq++
	t.id = in.tupleSeq
	in.tuples[key] = t
	return t
}

// Vararg interns a trailing repeat element.
func (in *Interner) Vararg(elem Type) *Vararg {
	return in.varargN(elem, 0)
}

// VarargBound interns a length-bounded repeat element.
func (in *Interner) VarargBound(elem Type, bound int) *Vararg {
	return in.varargN(elem, bound)
}

func (in *Interner) varargN(elem Type, bound int) *Vararg {
	t := &Vararg{Elem: elem, Bound: bound}
	key := fmt.Sprintf("%s#%d", t.String(), bound)
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.varargs[key]; ok {
		return existing
	}
	in.varargs[key] = t
	return t
}

// TypeOf interns Type{arg}.
func (in *Interner) TypeOf(arg Type) *TypeOf {
	t := &TypeOf{Arg: arg}
	key := t.String()
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.typeofs[key]; ok {
		return existing
	}
	in.typeofs[key] = t
	return t
}

// Union interns a union, flattening nested unions, deduplicating and sorting
// elements so structurally equal unions share one descriptor. A single
// element collapses to that element; zero elements is Bottom.
func (in *Interner) Union(elems ...Type) Type {
	var flat []Type
	var add func(t Type)
	add = func(t Type) {
		if u, ok := t.(*Union); ok {
			for _, e := range u.Elems {
				add(e)
			}
			return
		}
		for _, e := range flat {
			if e == t || e.String() == t.String() {
				return
			}
		}
		flat = append(flat, t)
	}
	for _, e := range elems {
		add(e)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].String() < flat[j].String() })
	t := &Union{Elems: flat}
	key := t.String()
	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.unions[key]; ok {
		return existing
	}
	in.unions[key] = t
	return t
}

// Canon returns the interned descriptor structurally equal to t, interning
// it if needed. Used to re-canonicalize types built by substitution.
func (in *Interner) Canon(t Type) Type {
	switch t := t.(type) {
	case *Nominal:
		params := make([]Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = in.Canon(p)
		}
		return in.Nominal(t.Family, params...)
	case *Tuple:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = in.Canon(e)
		}
		return in.Tuple(elems...)
	case *Vararg:
		return in.varargN(in.Canon(t.Elem), t.Bound)
	case *TypeOf:
		return in.TypeOf(in.Canon(t.Arg))
	case *Union:
		elems := make([]Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = in.Canon(e)
		}
		return in.Union(elems...)
	default:
		return t
	}
}

// FirstFamily extracts the nominal family of tuple slot i, looking through
// Type{T} (which belongs to the kind family) and unions (common super).
// Reports false when the slot is too abstract to pin to one family.
func (in *Interner) FirstFamily(sig Type, i int) (*Name, bool) {
	tt, ok := Unwrap(sig).(*Tuple)
	if !ok {
		return nil, false
	}
	slot, ok := tt.Slot(i)
	if !ok {
		return nil, false
	}
	return in.slotFamily(slot)
}

func (in *Interner) slotFamily(slot Type) (*Name, bool) {
	switch slot := slot.(type) {
	case *Nominal:
		return slot.Family, true
	case *TypeOf:
		return in.kind.Family, true
	case *Var:
		if slot.Ub != nil {
			return in.slotFamily(slot.Ub)
		}
	case *Union:
		if len(slot.Elems) == 0 {
			return nil, false
		}
		first, ok := in.slotFamily(slot.Elems[0])
		if !ok {
			return nil, false
		}
		for _, e := range slot.Elems[1:] {
			f, ok := in.slotFamily(e)
			if !ok || f != first {
				return nil, false
			}
		}
		return first, true
	}
	return nil, false
}
