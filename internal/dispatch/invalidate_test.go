package dispatch

import (
	"errors"
	"testing"

	"github.com/kova-lang/kova/internal/typesystem"
	"github.com/kova-lang/kova/internal/world"
)

func TestBackedgeInvalidation(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")

	callee := e.define(t, "inner", "v1", num)
	w1 := e.table.World.Current()

	// resolve and compile a callee specialization, then record a caller
	// depending on it
	args := e.table.ArgTypeTuple(e.fnValue("inner"), []typesystem.Value{e.val("Int64")})
	mi, err := e.table.Lookup(args, w1)
	if err != nil {
		t.Fatal(err)
	}
	calleeCI, err := e.backend.Compile(e.table, mi, w1)
	if err != nil {
		t.Fatal(err)
	}

	callerM := e.define(t, "outer", "caller", e.in.Any())
	w2 := e.table.World.Current()
	callerMI := e.table.Specialization(callerM, e.sig("outer", e.in.Any()), nil)
	callerCI := NewCodeInstance(callerMI, nil, w2, world.Open)
	callerCI.BeginCompile()
	callerCI.Fill(InvokeInterpret, func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
		return nil, nil
	}, nil, nil, nil)
	InsertCodeInstance(callerMI, callerCI)
	e.table.AddBackedge(mi, nil, callerCI)

	// refining the callee must cap both the callee's code and the caller's
	e.define(t, "inner", "v2", i64)
	w3 := e.table.World.Current()
	if calleeCI.Contains(w3) {
		t.Fatal("callee code instance survived the refinement")
	}
	if !calleeCI.Contains(w2) {
		t.Fatal("callee code instance lost its old validity")
	}
	if callerCI.Contains(w3) {
		t.Fatal("caller code instance survived the refinement")
	}
	_ = callee
}

func TestBackedgeOnUncompiledResolution(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")

	e.define(t, "inner", "v1", num)
	w1 := e.table.World.Current()

	// resolve the callee without ever compiling it; the backedge must
	// still carry the invalidation to the compiled caller
	args := e.table.ArgTypeTuple(e.fnValue("inner"), []typesystem.Value{e.val("Int64")})
	mi, err := e.table.Lookup(args, w1)
	if err != nil {
		t.Fatal(err)
	}

	callerM := e.define(t, "outer", "caller", e.in.Any())
	w2 := e.table.World.Current()
	callerMI := e.table.Specialization(callerM, e.sig("outer", e.in.Any()), nil)
	callerCI := NewCodeInstance(callerMI, nil, w2, world.Open)
	callerCI.BeginCompile()
	callerCI.Fill(InvokeInterpret, func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
		return nil, nil
	}, nil, nil, nil)
	InsertCodeInstance(callerMI, callerCI)
	e.table.AddBackedge(mi, nil, callerCI)

	e.define(t, "inner", "v2", i64)
	w3 := e.table.World.Current()
	if callerCI.Contains(w3) {
		t.Fatal("caller of an uncompiled resolution survived the refinement")
	}
	if !callerCI.Contains(w2) {
		t.Fatal("caller lost its old validity")
	}
}

func TestInvokeSigBackedgeFiltering(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")
	f64 := e.nominal("Float64")

	m := e.define(t, "inner", "v1", num)
	w := e.table.World.Current()
	mi := e.table.Specialization(m, e.sig("inner", f64), nil)

	pinned := NewCodeInstance(e.table.Specialization(m, e.sig("inner", i64), nil), nil, w, world.Open)
	e.table.AddBackedge(mi, e.sig("inner", f64), pinned)
	free := NewCodeInstance(e.table.Specialization(m, e.sig("inner", i64), nil), nil, w, world.Open)
	e.table.AddBackedge(mi, nil, free)

	// a change touching only Int64 leaves the Float64-pinned invoke alone
	e.table.invalidateBackedgesFor(mi, e.sig("inner", i64), w)
	if pinned.MaxWorld.Load() != world.Open {
		t.Fatal("invoke pinned to a disjoint signature was invalidated")
	}
	if free.MaxWorld.Load() == world.Open {
		t.Fatal("unpinned backedge survived")
	}
}

func TestDisableMethod(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")

	e.define(t, "f", "number", num)
	refined := e.define(t, "f", "int", i64)
	w1 := e.table.World.Current()
	if got := e.apply(t, "f", w1, e.val("Int64")); got != "int" {
		t.Fatalf("got %q, want int", got)
	}

	if err := e.table.Disable(refined); err != nil {
		t.Fatal(err)
	}
	w2 := e.table.World.Current()
	if w2 <= w1 {
		t.Fatal("disable did not mint a world")
	}
	// the fallback answers in the new world, the disabled method in the old
	if got := e.apply(t, "f", w2, e.val("Int64")); got != "number" {
		t.Fatalf("after disable: got %q, want number", got)
	}
	if got := e.apply(t, "f", w1, e.val("Int64")); got != "int" {
		t.Fatalf("old world after disable: got %q, want int", got)
	}

	if err := e.table.Disable(refined); !errors.Is(err, ErrMethodDisabled) {
		t.Fatalf("double disable: err = %v", err)
	}
	other := NewMethod("f", e.sig("f", e.nominal("Float64")), "Main")
	if err := e.table.Disable(other); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("disable of unknown method: err = %v", err)
	}
}

func TestMissingMethodBackedge(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")

	caller := e.define(t, "outer", "caller", e.in.Any())
	w := e.table.World.Current()
	callerMI := e.table.Specialization(caller, e.sig("outer", e.in.Any()), nil)
	callerCI := NewCodeInstance(callerMI, nil, w, world.Open)

	// "no method" answer, recorded against the callee's family
	args := e.table.ArgTypeTuple(e.fnValue("f"), []typesystem.Value{e.val("Int64")})
	if _, err := e.table.LookupForCaller(args, w, callerCI); err == nil {
		t.Fatal("expected a method error")
	}
	if n := e.table.MissingBackedgeCount(); n != 1 {
		t.Fatalf("tracked misses = %d, want 1", n)
	}

	// a definition that could answer the call retires the record
	e.define(t, "f", "number", num)
	if n := e.table.MissingBackedgeCount(); n != 0 {
		t.Fatalf("tracked misses after definition = %d, want 0", n)
	}
	if callerCI.MaxWorld.Load() == world.Open {
		t.Fatal("negative caller survived the new definition")
	}
}

func TestPromoteToCurrent(t *testing.T) {
	e := newTestEnv(t)
	m := e.define(t, "f", "number", e.nominal("Number"))
	w := e.table.World.Current()
	mi := e.table.Specialization(m, e.sig("f", e.nominal("Int64")), nil)

	ci := NewCodeInstance(mi, nil, w, w)
	dep := NewCodeInstance(mi, nil, w, w)
	ci.Edges = []*CodeInstance{dep}
	e.table.PromoteToCurrent([]*CodeInstance{ci}, w)
	if ci.MaxWorld.Load() != world.Open || dep.MaxWorld.Load() != world.Open {
		t.Fatal("validated instances were not promoted")
	}

	// once a newer world exists the promotion must refuse
	e.define(t, "g", "one", e.nominal("Int64"))
	stale := NewCodeInstance(mi, nil, w, w)
	e.table.PromoteToCurrent([]*CodeInstance{stale}, w)
	if stale.MaxWorld.Load() == world.Open {
		t.Fatal("stale validation was promoted past a newer world")
	}
}
