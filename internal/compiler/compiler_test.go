package compiler

import (
	"errors"
	"sync"
	"testing"

	"github.com/petermattis/goid"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/dispatch"
	"github.com/kova-lang/kova/internal/typesystem"
)

type fixture struct {
	in    *typesystem.Interner
	table *dispatch.Table
	comp  *Compiler
	sym   *typesystem.Nominal
}

func newFixture(t *testing.T, opts *config.Options) *fixture {
	t.Helper()
	in := typesystem.NewInterner()
	for _, f := range []struct {
		name     string
		abstract bool
	}{{"Number", true}, {"Symbol", false}} {
		if _, err := in.DeclareFamily(f.name, nil, f.abstract); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := in.DeclareFamily("Int64", mustFamily(t, in, "Number"), false); err != nil {
		t.Fatal(err)
	}
	if opts == nil {
		opts = &config.Options{}
	}
	comp := New(opts, nil)
	table := dispatch.NewTable(in, typesystem.NewNominalOracle(in), opts, nil)
	table.Backend = comp
	symFam, _ := in.Family("Symbol")
	return &fixture{in: in, table: table, comp: comp, sym: in.Nominal(symFam)}
}

func mustFamily(t *testing.T, in *typesystem.Interner, name string) *typesystem.Name {
	t.Helper()
	f, ok := in.Family(name)
	if !ok {
		t.Fatalf("missing family %s", name)
	}
	return f
}

func (f *fixture) method(t *testing.T, name string, slots ...typesystem.Type) *dispatch.Method {
	t.Helper()
	fam, err := f.in.DeclareFamily("typeof("+name+")", f.in.FunctionType().Family, false)
	if err != nil {
		t.Fatal(err)
	}
	elems := append([]typesystem.Type{f.in.Nominal(fam)}, slots...)
	m := dispatch.NewMethod(name, f.in.Tuple(elems...), "Main")
	if err := f.table.Insert(m); err != nil {
		t.Fatal(err)
	}
	return m
}

func (f *fixture) instance(m *dispatch.Method) *dispatch.Instance {
	tt, _ := typesystem.Unwrap(m.Sig).(*typesystem.Tuple)
	return f.table.Specialization(m, tt, nil)
}

func TestCompileFillsAndPromotes(t *testing.T) {
	f := newFixture(t, nil)
	m := f.method(t, "f", f.in.Nominal(mustFamily(t, f.in, "Int64")))
	ret := typesystem.Box(f.sym, "ok")
	f.comp.Register(m, Body{
		Fn: func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
			return ret, nil
		},
		RetType: f.sym,
	})

	w := f.table.World.Current()
	mi := f.instance(m)
	ci, err := f.comp.Compile(f.table, mi, w)
	if err != nil {
		t.Fatal(err)
	}
	kind, fn, _ := ci.Invoke()
	if kind != dispatch.InvokeCompiled || fn == nil {
		t.Fatalf("invoke state = %v", kind)
	}
	if !ci.Contains(w + 100) {
		t.Fatal("validated instance was not promoted to open-ended")
	}
	if ci.SpecPtr() == nil {
		t.Fatal("no optimized entry point installed")
	}

	again, err := f.comp.Compile(f.table, mi, w)
	if err != nil {
		t.Fatal(err)
	}
	if again != ci {
		t.Fatal("second compile produced a second instance")
	}
}

func TestCompileConstFold(t *testing.T) {
	f := newFixture(t, nil)
	m := f.method(t, "k")
	konst := typesystem.Box(f.sym, "folded")
	f.comp.Register(m, Body{Const: konst, RetType: f.sym})

	ci, err := f.comp.Compile(f.table, f.instance(m), f.table.World.Current())
	if err != nil {
		t.Fatal(err)
	}
	kind, _, got := ci.Invoke()
	if kind != dispatch.InvokeConst || got != typesystem.Value(konst) {
		t.Fatalf("const fold state = %v value = %v", kind, got)
	}
}

func TestInterpretOnlyMode(t *testing.T) {
	f := newFixture(t, &config.Options{InterpretOnly: true})
	m := f.method(t, "f")
	f.comp.Register(m, Body{
		Fn: func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
			return typesystem.Box(f.sym, "interp"), nil
		},
		RetType: f.sym,
	})

	ci, err := f.comp.Compile(f.table, f.instance(m), f.table.World.Current())
	if err != nil {
		t.Fatal(err)
	}
	kind, _, _ := ci.Invoke()
	if kind != dispatch.InvokeInterpret {
		t.Fatalf("invoke state = %v, want interpret", kind)
	}
	if ci.SpecPtr() != nil {
		t.Fatal("interpret-only mode installed an optimized entry point")
	}
}

func TestCompileUnregisteredBody(t *testing.T) {
	f := newFixture(t, nil)
	m := f.method(t, "f")
	_, err := f.comp.Compile(f.table, f.instance(m), f.table.World.Current())
	if !errors.Is(err, ErrCompilationFailed) {
		t.Fatalf("err = %v, want ErrCompilationFailed", err)
	}
}

func TestConcurrentCompileShareOneFlight(t *testing.T) {
	f := newFixture(t, nil)
	m := f.method(t, "f")

	f.comp.Register(m, Body{
		Fn: func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
			return typesystem.Box(f.sym, "x"), nil
		},
		RetType: f.sym,
	})

	mi := f.instance(m)
	w := f.table.World.Current()
	results := make([]*dispatch.CodeInstance, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ci, err := f.comp.Compile(f.table, mi, w)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = ci
		}()
	}
	wg.Wait()
	for _, ci := range results {
		if ci != results[0] {
			t.Fatal("concurrent compiles produced distinct instances")
		}
	}
	if dispatch.CodeInstanceHead(mi) != results[0] {
		t.Fatal("shared list head is not the single compiled instance")
	}
}

func TestReentrantCompileFallsBackToInterpreter(t *testing.T) {
	f := newFixture(t, nil)
	m := f.method(t, "f")
	mi := f.instance(m)
	w := f.table.World.Current()

	var inner *dispatch.CodeInstance
	f.comp.Register(m, Body{
		Fn: func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
			return typesystem.Box(f.sym, "x"), nil
		},
		RetType: f.sym,
	})
	// simulate the body of the compile step re-entering for the same
	// instance on the same goroutine
	gid := goid.Get()
	f.comp.enter(gid, mi)
	var err error
	inner, err = f.comp.Compile(f.table, mi, w)
	f.comp.leave(gid, mi)
	if err != nil {
		t.Fatal(err)
	}
	kind, _, _ := inner.Invoke()
	if kind != dispatch.InvokeInterpret {
		t.Fatalf("reentrant compile state = %v, want interpret fallback", kind)
	}
	if dispatch.CodeInstanceHead(mi) != nil {
		t.Fatal("fallback instance leaked into the shared list")
	}
}
