package dispatch

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
)

// ArgTypeTuple builds the exact dispatch tuple of a call fn(args...): the
// callee's own type in slot zero, then each argument's runtime type.
func (t *Table) ArgTypeTuple(fn typesystem.Value, args []typesystem.Value) *typesystem.Tuple {
	elems := make([]typesystem.Type, 0, len(args)+1)
	elems = append(elems, fn.TypeOf())
	for _, a := range args {
		elems = append(elems, a.TypeOf())
	}
	return t.Interner.Tuple(elems...)
}

// Lookup resolves the applicable specialization for a dispatch tuple at
// world w, walking the three cache tiers before falling back to the full
// matcher. A miss that resolves populates all tiers on the way out.
func (t *Table) Lookup(args *typesystem.Tuple, w uint64) (*Instance, error) {
	if e := t.callCache.lookup(args, w); e != nil && e.Instance != nil {
		return e.Instance, nil
	}
	if e := t.leaf.Load().lookup(args, w); e != nil && e.Instance != nil {
		t.callCache.insert(args, e)
		return e.Instance, nil
	}
	if e := t.assocByType(t.cache.Load(), args, w); e != nil && e.Instance != nil {
		// only an entry keyed on the exact dispatch tuple can ever hit in
		// the call cache; a widened entry would just evict a useful slot
		if leafSig(e) == args {
			t.callCache.insert(args, e)
		}
		return e.Instance, nil
	}
	return t.lookupSlow(args, w)
}

func (t *Table) lookupSlow(args *typesystem.Tuple, w uint64) (*Instance, error) {
	res, err := t.Matches(args, w, -1)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) == 0 {
		return nil, &MethodError{World: w}
	}
	best := res.Matches[0]
	if len(res.Matches) > 1 &&
		!t.Oracle.MoreSpecific(best.Method.Sig, res.Matches[1].Method.Sig) {
		return nil, &MethodError{World: w, Ambiguous: true}
	}
	return t.cacheMethod(best.Method, args, best.SParams, res.MinWorld, res.MaxWorld), nil
}

// LookupForCaller is Lookup plus negative-result tracking: when no method
// applies, the caller is recorded against the callee's type family so a
// later definition that could change the answer invalidates it.
func (t *Table) LookupForCaller(args *typesystem.Tuple, w uint64, caller *CodeInstance) (*Instance, error) {
	mi, err := t.Lookup(args, w)
	var me *MethodError
	if errors.As(err, &me) && !me.Ambiguous && caller != nil {
		if fam, ok := t.Interner.FirstFamily(args, t.splitSlot(args)); ok {
			t.addMissingBackedge(fam, caller)
		}
	}
	return mi, err
}

// Apply performs a full dynamic call at world w: resolve, compile if
// needed, execute.
func (t *Table) Apply(fn typesystem.Value, args []typesystem.Value, w uint64) (typesystem.Value, error) {
	tt := t.ArgTypeTuple(fn, args)
	mi, err := t.Lookup(tt, w)
	if err != nil {
		var me *MethodError
		if errors.As(err, &me) {
			me.Func = fn
			me.Args = args
		}
		return nil, err
	}
	t.traceFirstDispatch(mi, w)
	return t.run(mi, fn, args, w)
}

// InvokeWithin dispatches fn(args...) restricted to the definition whose
// signature is sig: the argument types must fall inside sig, and the
// selected definition is the one sig alone picks, even if a more specific
// one matches the concrete arguments.
func (t *Table) InvokeWithin(sig typesystem.Type, fn typesystem.Value, args []typesystem.Value, w uint64) (typesystem.Value, error) {
	tt := t.ArgTypeTuple(fn, args)
	if !t.Oracle.Subtype(tt, sig) {
		return nil, &MethodError{Func: fn, Args: args, World: w}
	}
	res, err := t.Matches(sig, w, -1)
	if err != nil {
		return nil, err
	}
	// the pin selects the most specific definition covering the whole
	// declared signature, not the best match for the concrete arguments
	var m *Method
	for _, match := range res.Matches {
		if match.FullyCovers {
			m = match.Method
			break
		}
	}
	if m == nil {
		return nil, &MethodError{Func: fn, Args: args, World: w}
	}
	compSig, _ := t.compilationSig(m, tt)
	sparams, _ := typesystem.BindStaticParams(t.Oracle, t.Interner, m.Sig, tt)
	mi := t.Specialization(m, compSig, sparams)
	t.traceFirstDispatch(mi, w)
	return t.run(mi, fn, args, w)
}

// run executes a resolved specialization: find a code instance valid at w,
// compiling through the backend on a miss, then enter it.
func (t *Table) run(mi *Instance, fn typesystem.Value, args []typesystem.Value, w uint64) (typesystem.Value, error) {
	ci := LookupCodeInstance(mi, nil, w)
	if ci == nil {
		if t.Backend == nil {
			return nil, fmt.Errorf("no executable code for %s and no backend configured", sigString(mi))
		}
		var err error
		ci, err = t.Backend.Compile(t, mi, w)
		if err != nil {
			return nil, err
		}
	}
	for {
		kind, entry, konst := ci.Invoke()
		switch kind {
		case InvokeConst:
			return konst, nil
		case InvokeCompiled:
			if spec := ci.SpecPtr(); spec != nil {
				return spec(fn, args)
			}
			return entry(fn, args)
		case InvokeInterpret:
			return entry(fn, args)
		case InvokeWait:
			runtime.Gosched()
		default:
			return nil, fmt.Errorf("code instance for %s was never filled", sigString(mi))
		}
	}
}

func (t *Table) traceFirstDispatch(mi *Instance, w uint64) {
	if t.Opts == nil || t.Opts.TraceDispatch == "" {
		return
	}
	if !mi.markDispatched() {
		return
	}
	ev := trace.NewEvent(trace.KindDispatch, sigString(mi))
	ev.World = w
	t.Sink.Record(ev)
}
