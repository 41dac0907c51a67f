package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kova-lang/kova/internal/compiler"
	"github.com/kova-lang/kova/internal/dispatch"
	"github.com/kova-lang/kova/internal/typesystem"
)

// runner executes scenario steps against one table.
type runner struct {
	in    *typesystem.Interner
	table *dispatch.Table
	comp  *compiler.Compiler
	out   io.Writer

	symbolFam *typesystem.Name
	methods   map[string][]*dispatch.Method
	fnValues  map[string]typesystem.Value
}

func newRunner(in *typesystem.Interner, table *dispatch.Table, comp *compiler.Compiler, out io.Writer) (*runner, error) {
	sym, err := in.DeclareFamily("Symbol", nil, false)
	if err != nil {
		return nil, err
	}
	return &runner{
		in:        in,
		table:     table,
		comp:      comp,
		out:       out,
		symbolFam: sym,
		methods:   make(map[string][]*dispatch.Method),
		fnValues:  make(map[string]typesystem.Value),
	}, nil
}

func (r *runner) Run(sc *Scenario) error {
	for _, f := range sc.Families {
		var super *typesystem.Name
		if f.Super != "" {
			s, ok := r.in.Family(f.Super)
			if !ok {
				return fmt.Errorf("family %s: unknown super %s", f.Name, f.Super)
			}
			super = s
		}
		if _, err := r.in.DeclareFamily(f.Name, super, f.Abstract); err != nil {
			return err
		}
	}
	for i, st := range sc.Steps {
		if err := r.step(st); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *runner) step(st Step) error {
	switch {
	case st.Define != nil:
		return r.define(st.Define)
	case st.Call != nil:
		return r.call(st.Call)
	case st.Invoke != nil:
		return r.invoke(st.Invoke)
	case st.Disable != nil:
		return r.disable(st.Disable)
	case st.Freeze:
		r.table.DisableNewWorlds()
		fmt.Fprintf(r.out, "worlds frozen at %d\n", r.table.World.Current())
		return nil
	case st.Stats:
		r.printStats()
		return nil
	}
	return nil
}

// fnValue returns (creating on first use) the singleton callable value for
// a function name. Each function gets its own concrete family under
// Function, so slot zero of every signature dispatches on the callee.
func (r *runner) fnValue(name string) (typesystem.Value, error) {
	if v, ok := r.fnValues[name]; ok {
		return v, nil
	}
	fam, err := r.in.DeclareFamily("typeof("+name+")", r.in.FunctionType().Family, false)
	if err != nil {
		return nil, err
	}
	v := typesystem.Box(r.in.Nominal(fam), name)
	r.fnValues[name] = v
	return v, nil
}

func (r *runner) define(d *DefineStep) error {
	fv, err := r.fnValue(d.Name)
	if err != nil {
		return err
	}
	sig, err := r.signature(fv, d.Args)
	if err != nil {
		return err
	}
	module := d.Module
	if module == "" {
		module = "Main"
	}
	m := dispatch.NewMethod(d.Name, sig, module)
	result := typesystem.Box(r.in.Nominal(r.symbolFam), d.Result)
	r.comp.Register(m, compiler.Body{
		Fn: func(_ typesystem.Value, _ []typesystem.Value) (typesystem.Value, error) {
			return result, nil
		},
		RetType: r.in.Nominal(r.symbolFam),
	})
	if err := r.table.Insert(m); err != nil {
		return err
	}
	r.methods[d.Name] = append(r.methods[d.Name], m)
	fmt.Fprintf(r.out, "defined %s%s -> world %d\n", d.Name, fmtArgs(d.Args), r.table.World.Current())
	return nil
}

func (r *runner) call(c *CallStep) error {
	fv, err := r.fnValue(c.Fn)
	if err != nil {
		return err
	}
	args, err := r.argValues(c.Args)
	if err != nil {
		return err
	}
	w := c.World
	if w == 0 {
		w = r.table.World.Current()
	}
	got, err := r.table.Apply(fv, args, w)
	return r.checkOutcome(fmt.Sprintf("%s%s @%d", c.Fn, fmtArgs(c.Args), w), got, err, c.Expect, c.ExpectError)
}

func (r *runner) invoke(iv *InvokeStep) error {
	fv, err := r.fnValue(iv.Fn)
	if err != nil {
		return err
	}
	sig, err := r.signature(fv, iv.Sig)
	if err != nil {
		return err
	}
	args, err := r.argValues(iv.Args)
	if err != nil {
		return err
	}
	w := r.table.World.Current()
	got, err := r.table.InvokeWithin(sig, fv, args, w)
	return r.checkOutcome(fmt.Sprintf("invoke %s%s", iv.Fn, fmtArgs(iv.Args)), got, err, iv.Expect, iv.ExpectError)
}

func (r *runner) disable(d *DisableStep) error {
	fv, err := r.fnValue(d.Fn)
	if err != nil {
		return err
	}
	sig, err := r.signature(fv, d.Args)
	if err != nil {
		return err
	}
	for _, m := range r.methods[d.Fn] {
		if r.table.Oracle.Equal(m.Sig, sig) {
			if err := r.table.Disable(m); err != nil {
				return err
			}
			fmt.Fprintf(r.out, "disabled %s%s -> world %d\n", d.Fn, fmtArgs(d.Args), r.table.World.Current())
			return nil
		}
	}
	return fmt.Errorf("no definition %s%s to disable", d.Fn, fmtArgs(d.Args))
}

func (r *runner) checkOutcome(desc string, got typesystem.Value, err error, expect, expectError string) error {
	if expectError != "" {
		var me *dispatch.MethodError
		if !errors.As(err, &me) {
			return fmt.Errorf("%s: expected a method error, got value %v err %v", desc, got, err)
		}
		if expectError == "ambiguous" != me.Ambiguous {
			return fmt.Errorf("%s: wrong method error kind: %v", desc, me)
		}
		fmt.Fprintf(r.out, "%s => error(%s)\n", desc, expectError)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", desc, err)
	}
	sym := ""
	if b, ok := got.(*typesystem.Boxed); ok {
		sym, _ = b.V.(string)
	}
	if expect != "" && sym != expect {
		return fmt.Errorf("%s: got %q, want %q", desc, sym, expect)
	}
	fmt.Fprintf(r.out, "%s => %s\n", desc, sym)
	return nil
}

// signature builds the full dispatch signature: callee type then declared
// slots.
func (r *runner) signature(fn typesystem.Value, slots []string) (typesystem.Type, error) {
	elems := []typesystem.Type{fn.TypeOf()}
	for _, s := range slots {
		t, err := r.parseSlot(s)
		if err != nil {
			return nil, err
		}
		elems = append(elems, t)
	}
	return r.in.Tuple(elems...), nil
}

// parseSlot understands family names, "A|B" unions, "Type{A}" kinds and a
// trailing "A..." vararg.
func (r *runner) parseSlot(s string) (typesystem.Type, error) {
	s = strings.TrimSpace(s)
	if inner, ok := strings.CutSuffix(s, "..."); ok {
		elem, err := r.parseSlot(inner)
		if err != nil {
			return nil, err
		}
		return r.in.Vararg(elem), nil
	}
	if inner, ok := strings.CutPrefix(s, "Type{"); ok {
		inner, ok = strings.CutSuffix(inner, "}")
		if !ok {
			return nil, fmt.Errorf("malformed type expression %q", s)
		}
		arg, err := r.parseSlot(inner)
		if err != nil {
			return nil, err
		}
		return r.in.TypeOf(arg), nil
	}
	if strings.Contains(s, "|") {
		var elems []typesystem.Type
		for _, part := range strings.Split(s, "|") {
			t, err := r.parseSlot(part)
			if err != nil {
				return nil, err
			}
			elems = append(elems, t)
		}
		return r.in.Union(elems...), nil
	}
	fam, ok := r.in.Family(s)
	if !ok {
		return nil, fmt.Errorf("unknown type family %q", s)
	}
	return r.in.Nominal(fam), nil
}

// argValues builds runtime values of the named concrete types.
func (r *runner) argValues(exprs []string) ([]typesystem.Value, error) {
	out := make([]typesystem.Value, len(exprs))
	for i, s := range exprs {
		t, err := r.parseSlot(s)
		if err != nil {
			return nil, err
		}
		if to, ok := t.(*typesystem.TypeOf); ok {
			out[i] = typesystem.TypeValue(r.in, to.Arg)
			continue
		}
		n, ok := t.(*typesystem.Nominal)
		if !ok || !n.Concrete() {
			return nil, fmt.Errorf("argument type %q is not concrete", s)
		}
		out[i] = typesystem.Box(n, s)
	}
	return out, nil
}

func (r *runner) printStats() {
	hits, misses := r.table.CallCacheStats()
	fmt.Fprintf(r.out, "world=%d call_cache_hits=%d call_cache_misses=%d\n",
		r.table.World.Current(), hits, misses)
	for name, ms := range r.methods {
		n := 0
		for _, m := range ms {
			n += len(r.table.Specializations(m))
		}
		fmt.Fprintf(r.out, "  %s: %d definition(s), %d specialization(s)\n", name, len(ms), n)
	}
	for _, line := range r.table.InvalidationLog() {
		fmt.Fprintf(r.out, "  inval: %s\n", line)
	}
}

func fmtArgs(args []string) string {
	return "(" + strings.Join(args, ", ") + ")"
}
