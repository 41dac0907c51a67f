package dispatch

import (
	"testing"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/typesystem"
)

func TestCallCacheHitAfterFirstDispatch(t *testing.T) {
	e := newTestEnv(t)
	e.define(t, "f", "number", e.nominal("Number"))
	w := e.table.World.Current()

	e.apply(t, "f", w, e.val("Int64"))
	_, missesAfterFirst := e.table.CallCacheStats()
	e.apply(t, "f", w, e.val("Int64"))
	hits, misses := e.table.CallCacheStats()
	if hits == 0 {
		t.Fatal("second identical call missed the call-site cache")
	}
	if misses != missesAfterFirst {
		t.Fatalf("second call added misses: %d -> %d", missesAfterFirst, misses)
	}
	// one specialization served both calls
	if n := e.backend.compileCount(); n != 1 {
		t.Fatalf("compiled %d times, want 1", n)
	}
}

func TestLeafCacheWorldChains(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")

	e.define(t, "f", "number", num)
	w1 := e.table.World.Current()
	e.apply(t, "f", w1, e.val("Int64"))

	e.define(t, "f", "int", i64)
	w2 := e.table.World.Current()
	e.apply(t, "f", w2, e.val("Int64"))

	key := e.table.ArgTypeTuple(e.fnValue("f"), []typesystem.Value{e.val("Int64")})
	lc := e.table.leaf.Load()
	oldE := lc.lookup(key, w1)
	newE := lc.lookup(key, w2)
	if oldE == nil || newE == nil {
		t.Fatal("leaf tier lost one of the world ranges")
	}
	if oldE == newE {
		t.Fatal("one leaf entry claims both worlds")
	}
	if oldE.Instance.Method == newE.Instance.Method {
		t.Fatal("both leaf entries resolve to the same definition")
	}
}

func TestSpecializationConverges(t *testing.T) {
	e := newTestEnv(t)
	m := e.define(t, "f", "number", e.nominal("Number"))
	spec := e.sig("f", e.nominal("Int64"))

	a := e.table.Specialization(m, spec, nil)
	b := e.table.Specialization(m, spec, nil)
	if a != b {
		t.Fatal("same instantiation produced two instances")
	}
	if got := len(e.table.Specializations(m)); got != 1 {
		t.Fatalf("specialization count = %d, want 1", got)
	}
	if e.table.SpecializationLookup(m, spec) != a {
		t.Fatal("lookup missed the existing instance")
	}
}

func TestFirstSpecializationOnFreshMethod(t *testing.T) {
	e := newTestEnv(t)
	i64 := e.nominal("Int64")
	// the collection starts empty; the first insert builds it from nothing
	m := NewMethod("g", e.sig("g", i64), "Main")
	mi := e.table.Specialization(m, e.sig("g", i64), nil)
	if mi == nil {
		t.Fatal("no instance for the first instantiation")
	}
	if got := len(e.table.Specializations(m)); got != 1 {
		t.Fatalf("specialization count = %d, want 1", got)
	}
	if e.table.SpecializationLookup(m, e.sig("g", i64)) != mi {
		t.Fatal("lookup missed the freshly created instance")
	}
}

func TestUnspecializedWidensToAny(t *testing.T) {
	e := newTestEnv(t)
	m := e.define(t, "f", "number", e.nominal("Number"))
	un := e.table.Unspecialized(m)
	if un == nil {
		t.Fatal("no unspecialized instance")
	}
	if again := e.table.Unspecialized(m); again != un {
		t.Fatal("unspecialized instance not shared")
	}
	if got, want := un.SpecSig, e.sig("f", e.nominal("Number")); got != want {
		t.Fatalf("unspecialized sig = %s, want %s", got, want)
	}
}

func TestCompilationSigVarargCompression(t *testing.T) {
	e := newTestEnv(t)
	any := e.in.Any()
	m := NewMethod("f", e.sig("f", e.in.Vararg(any)), "Main")
	m.MaxVarargs = 2
	e.backend.register(m, "va")
	if err := e.table.Insert(m); err != nil {
		t.Fatal(err)
	}

	i64 := e.nominal("Int64")
	long := e.in.Tuple(e.fnType("f"), i64, i64, i64, i64, i64)
	comp, widened := e.table.compilationSig(m, long)
	if !widened {
		t.Fatal("long vararg call was not widened")
	}
	if !comp.Va() {
		t.Fatalf("compressed signature lost the vararg: %s", comp)
	}
	if len(comp.Elems) != 4 {
		// callee slot, two exact slots, then the vararg
		t.Fatalf("compressed to %d slots, want 4: %s", len(comp.Elems), comp)
	}

	short := e.in.Tuple(e.fnType("f"), i64, i64)
	if _, w := e.table.compilationSig(m, short); w {
		t.Fatal("short call below the threshold was widened")
	}
}

func TestMaxVarargsHeuristic(t *testing.T) {
	e := newTestEnv(t)
	any := e.in.Any()
	va := NewMethod("f", e.sig("f", e.in.Vararg(any)), "Main")
	e.backend.register(va, "va")
	if err := e.table.Insert(va); err != nil {
		t.Fatal(err)
	}
	if got := e.table.maxVarargs(va); got != config.DefaultMaxVarargs {
		t.Fatalf("lone vararg method threshold = %d, want %d", got, config.DefaultMaxVarargs)
	}

	// a fixed-arity sibling raises the family watermark and the threshold
	i64 := e.nominal("Int64")
	sib := e.define(t, "f", "three", i64, i64, i64)
	_ = sib
	if got := e.table.maxVarargs(va); got != 3 {
		t.Fatalf("threshold after 4-slot sibling = %d, want 3", got)
	}

	va.MaxVarargs = 7
	if got := e.table.maxVarargs(va); got != 7 {
		t.Fatalf("explicit declaration ignored: %d", got)
	}
}

func TestNospecializeUsesDeclaredSlot(t *testing.T) {
	e := newTestEnv(t)
	num := e.nominal("Number")
	i64 := e.nominal("Int64")

	m := NewMethod("f", e.sig("f", num, i64), "Main")
	m.NoSpecialize = 1 << 0 // first positional argument
	e.backend.register(m, "x")
	if err := e.table.Insert(m); err != nil {
		t.Fatal(err)
	}

	args := e.in.Tuple(e.fnType("f"), i64, i64)
	comp, widened := e.table.compilationSig(m, args)
	if !widened {
		t.Fatal("nospecialize slot was not widened")
	}
	if comp.Elems[1] != typesystem.Type(num) {
		t.Fatalf("slot 1 = %s, want Number", comp.Elems[1])
	}
	if comp.Elems[2] != typesystem.Type(i64) {
		t.Fatalf("slot 2 = %s, want Int64", comp.Elems[2])
	}
}

func TestKindCollapse(t *testing.T) {
	e := newTestEnv(t)
	i64 := e.nominal("Int64")
	any := e.in.Any()

	// declared Any: a type argument collapses to the kind
	m := NewMethod("f", e.sig("f", any), "Main")
	e.backend.register(m, "x")
	if err := e.table.Insert(m); err != nil {
		t.Fatal(err)
	}
	args := e.in.Tuple(e.fnType("f"), e.in.TypeOf(i64))
	comp, widened := e.table.compilationSig(m, args)
	if !widened || comp.Elems[1] != typesystem.Type(e.in.Kind()) {
		t.Fatalf("kind collapse failed: widened=%v sig=%s", widened, comp)
	}

	// declared Type{Int64}: the exact type value is dispatch-relevant
	g := NewMethod("g", e.sig("g", e.in.TypeOf(i64)), "Main")
	e.backend.register(g, "y")
	if err := e.table.Insert(g); err != nil {
		t.Fatal(err)
	}
	gargs := e.in.Tuple(e.fnType("g"), e.in.TypeOf(i64))
	if _, widened := e.table.compilationSig(g, gargs); widened {
		t.Fatal("Type{...} declaration must suppress kind collapse")
	}
}

func TestWidenedEntrySkipsCallCache(t *testing.T) {
	e := newTestEnv(t)
	i64 := e.nominal("Int64")
	m := NewMethod("f", e.sig("f", e.in.Any()), "Main")
	e.backend.register(m, "generic")
	if err := e.table.Insert(m); err != nil {
		t.Fatal(err)
	}
	w := e.table.World.Current()

	tv := typesystem.TypeValue(e.in, i64)
	got, err := e.table.Apply(e.fnValue("f"), []typesystem.Value{tv}, w)
	if err != nil {
		t.Fatal(err)
	}
	if b := got.(*typesystem.Boxed); b.V.(string) != "generic" {
		t.Fatalf("f(Type{Int64}) = %v", b)
	}

	args := e.in.Tuple(e.fnType("f"), e.in.TypeOf(i64))
	mi, err := e.table.Lookup(args, w)
	if err != nil {
		t.Fatal(err)
	}
	if mi.SpecSig == args {
		t.Fatalf("expected a kind-collapsed specialization, got %s", mi.SpecSig)
	}
	// the entry is keyed on the widened signature, which the call cache's
	// exact-tuple check can never hit; holding a slot would only evict
	for i := range e.table.callCache.slots {
		if s := e.table.callCache.slots[i].Load(); s != nil && s.Instance == mi {
			t.Fatal("widened entry occupies a call-cache slot")
		}
	}
}

func TestGuardEntriesOnWidenedCache(t *testing.T) {
	e := newTestEnv(t)
	i64 := e.nominal("Int64")
	any := e.in.Any()

	m := NewMethod("f", e.sig("f", any), "Main")
	e.backend.register(m, "generic")
	if err := e.table.Insert(m); err != nil {
		t.Fatal(err)
	}
	spec := NewMethod("f", e.sig("f", e.in.TypeOf(i64)), "Main")
	e.backend.register(spec, "for-int-type")
	if err := e.table.Insert(spec); err != nil {
		t.Fatal(err)
	}

	w := e.table.World.Current()
	widened := e.in.Tuple(e.fnType("f"), e.in.Kind())
	guards, _, ok := e.table.guardEntries(m, widened, w)
	if !ok {
		t.Fatal("guard collection overflowed unexpectedly")
	}
	if len(guards) != 1 {
		t.Fatalf("got %d guards, want 1", len(guards))
	}
	if !e.table.Oracle.Equal(guards[0], spec.Sig) {
		t.Fatalf("wrong guard: %s", guards[0])
	}
}
