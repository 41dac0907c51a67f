package dispatch

import (
	"sync"
	"testing"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
)

// recordingSink counts events per kind.
type recordingSink struct {
	mu     sync.Mutex
	events []trace.Event
}

func (s *recordingSink) Record(ev trace.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count(kind trace.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// testEnv is the shared fixture: a small numeric tower, one table, and a
// stub backend that compiles every method to a symbol-returning closure.
type testEnv struct {
	in      *typesystem.Interner
	table   *Table
	backend *stubBackend
	symbol  *typesystem.Nominal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	in := typesystem.NewInterner()
	declare := func(name, super string, abstract bool) {
		var sup *typesystem.Name
		if super != "" {
			s, ok := in.Family(super)
			if !ok {
				t.Fatalf("missing super %s", super)
			}
			sup = s
		}
		if _, err := in.DeclareFamily(name, sup, abstract); err != nil {
			t.Fatalf("declare %s: %v", name, err)
		}
	}
	declare("Number", "", true)
	declare("Real", "Number", true)
	declare("Integer", "Real", true)
	declare("Int64", "Integer", false)
	declare("Int32", "Integer", false)
	declare("Float64", "Real", false)
	declare("String", "", false)
	declare("Symbol", "", false)

	table := NewTable(in, typesystem.NewNominalOracle(in), &config.Options{}, nil)
	env := &testEnv{in: in, table: table}
	env.symbol = env.nominal("Symbol")
	env.backend = &stubBackend{symbol: env.symbol, results: make(map[*Method]string)}
	table.Backend = env.backend
	return env
}

func (e *testEnv) nominal(name string) *typesystem.Nominal {
	fam, ok := e.in.Family(name)
	if !ok {
		panic("unknown family " + name)
	}
	return e.in.Nominal(fam)
}

// fnType returns (declaring on first use) the singleton callable type for
// a function name.
func (e *testEnv) fnType(name string) *typesystem.Nominal {
	fam, err := e.in.DeclareFamily("typeof("+name+")", e.in.FunctionType().Family, false)
	if err != nil {
		panic(err)
	}
	return e.in.Nominal(fam)
}

func (e *testEnv) sig(fn string, slots ...typesystem.Type) *typesystem.Tuple {
	elems := append([]typesystem.Type{e.fnType(fn)}, slots...)
	return e.in.Tuple(elems...)
}

func (e *testEnv) fnValue(name string) typesystem.Value {
	return typesystem.Box(e.fnType(name), name)
}

func (e *testEnv) val(family string) typesystem.Value {
	return typesystem.Box(e.nominal(family), family)
}

// define inserts a method fn(slots...) whose body returns result.
func (e *testEnv) define(t *testing.T, fn, result string, slots ...typesystem.Type) *Method {
	t.Helper()
	m := NewMethod(fn, e.sig(fn, slots...), "Main")
	e.backend.register(m, result)
	if err := e.table.Insert(m); err != nil {
		t.Fatalf("insert %s: %v", fn, err)
	}
	return m
}

// apply runs fn(args...) at w and returns the result symbol.
func (e *testEnv) apply(t *testing.T, fn string, w uint64, args ...typesystem.Value) string {
	t.Helper()
	got, err := e.table.Apply(e.fnValue(fn), args, w)
	if err != nil {
		t.Fatalf("apply %s at world %d: %v", fn, w, err)
	}
	b, ok := got.(*typesystem.Boxed)
	if !ok {
		t.Fatalf("apply %s: unexpected result %v", fn, got)
	}
	return b.V.(string)
}

// stubBackend compiles each instance to a closure returning the symbol
// registered for its method.
type stubBackend struct {
	symbol *typesystem.Nominal

	mu       sync.Mutex
	results  map[*Method]string
	compiles int
}

func (b *stubBackend) register(m *Method, result string) {
	b.mu.Lock()
	b.results[m] = result
	b.mu.Unlock()
}

func (b *stubBackend) compileCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compiles
}

func (b *stubBackend) Compile(t *Table, mi *Instance, w uint64) (*CodeInstance, error) {
	b.mu.Lock()
	result := b.results[mi.Method]
	b.compiles++
	b.mu.Unlock()

	ret := typesystem.Box(b.symbol, result)
	ci := NewCodeInstance(mi, nil, w, w)
	ci.BeginCompile()
	ci.Fill(InvokeCompiled, func(typesystem.Value, []typesystem.Value) (typesystem.Value, error) {
		return ret, nil
	}, nil, b.symbol, nil)
	InsertCodeInstance(mi, ci)
	t.PromoteToCurrent([]*CodeInstance{ci}, w)
	return ci, nil
}
