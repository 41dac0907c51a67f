// Package compiler turns method instances into executable code instances.
// Bodies are registered per definition; "compilation" binds a body to one
// specialization, const-folds where the body declares it is foldable, and
// publishes the result through the dispatch table's code-instance lists.
// Concurrent requests for the same specialization are deduplicated; a
// goroutine that re-enters the compiler for an instance it is already
// compiling gets an interpreting fallback instead of a deadlock.
package compiler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petermattis/goid"
	"golang.org/x/sync/singleflight"

	"github.com/kova-lang/kova/internal/config"
	"github.com/kova-lang/kova/internal/dispatch"
	"github.com/kova-lang/kova/internal/trace"
	"github.com/kova-lang/kova/internal/typesystem"
)

// ErrCompilationFailed is returned when no executable form can be produced
// for an instance. Callers fall back to the unspecialized path or surface
// the error, depending on configuration.
var ErrCompilationFailed = errors.New("compilation failed")

// Body is the executable definition of one method, registered before any
// call can reach it.
type Body struct {
	Fn      dispatch.InvokeFn
	RetType typesystem.Type
	Purity  uint8

	// Const, when non-nil, marks the body as foldable to this value for
	// every specialization.
	Const typesystem.Value
}

// Compiler implements dispatch.Backend.
type Compiler struct {
	opts *config.Options
	sink trace.Sink

	mu     sync.Mutex
	bodies map[*dispatch.Method]Body

	// group collapses concurrent compiles of one instance into one flight.
	group singleflight.Group

	// active tracks, per goroutine, which instances that goroutine is
	// currently compiling, to catch compile-time reentrancy.
	activeMu sync.Mutex
	active   map[int64]map[*dispatch.Instance]struct{}
}

func New(opts *config.Options, sink trace.Sink) *Compiler {
	if sink == nil {
		sink = trace.Nop{}
	}
	if opts == nil {
		opts = &config.Options{}
	}
	return &Compiler{
		opts:   opts,
		sink:   sink,
		bodies: make(map[*dispatch.Method]Body),
		active: make(map[int64]map[*dispatch.Instance]struct{}),
	}
}

// Register binds an executable body to a definition. Re-registering
// replaces the body for future compilations only; existing code instances
// keep the old one.
func (c *Compiler) Register(m *dispatch.Method, b Body) {
	c.mu.Lock()
	c.bodies[m] = b
	c.mu.Unlock()
}

func (c *Compiler) body(m *dispatch.Method) (Body, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.bodies[m]
	return b, ok
}

// Compile produces a code instance for mi valid at world w. Safe for
// concurrent use; all callers racing on one instance share one result.
func (c *Compiler) Compile(t *dispatch.Table, mi *dispatch.Instance, w uint64) (*dispatch.CodeInstance, error) {
	if ci := dispatch.LookupCodeInstance(mi, nil, w); ci != nil {
		return ci, nil
	}
	gid := goid.Get()
	if c.isCompiling(gid, mi) {
		return c.interpretFallback(t, mi, w)
	}

	key := mi.ID.String()
	v, err, _ := c.group.Do(key, func() (any, error) {
		if ci := dispatch.LookupCodeInstance(mi, nil, w); ci != nil {
			return ci, nil
		}
		c.enter(gid, mi)
		defer c.leave(gid, mi)
		return c.compileOne(t, mi, w)
	})
	if err != nil {
		return nil, err
	}
	return v.(*dispatch.CodeInstance), nil
}

func (c *Compiler) compileOne(t *dispatch.Table, mi *dispatch.Instance, w uint64) (*dispatch.CodeInstance, error) {
	start := time.Now()
	body, ok := c.body(mi.Method)
	if !ok {
		if config.DebugChecks {
			panic(fmt.Sprintf("no body registered for %s", mi.Method.Name))
		}
		return nil, fmt.Errorf("%w: no body registered for %s", ErrCompilationFailed, mi.Method.Name)
	}

	recompile := dispatch.CodeInstanceHead(mi) != nil
	ci := dispatch.NewCodeInstance(mi, nil, w, w)
	if !ci.BeginCompile() {
		return nil, fmt.Errorf("%w: fresh code instance already claimed", ErrCompilationFailed)
	}
	switch {
	case body.Const != nil:
		ci.Fill(dispatch.InvokeConst, nil, body.Const, body.Const.TypeOf(), nil)
	case c.opts.InterpretOnly:
		ci.Fill(dispatch.InvokeInterpret, body.Fn, nil, body.RetType, nil)
	default:
		ci.Fill(dispatch.InvokeCompiled, body.Fn, nil, body.RetType, nil)
		ci.SetSpecPtr(body.Fn)
	}
	ci.Purity = body.Purity

	dispatch.InsertCodeInstance(mi, ci)
	t.PromoteToCurrent([]*dispatch.CodeInstance{ci}, w)

	if c.opts.TraceSpecialize != "" || c.opts.TraceSpecializeTiming {
		ev := trace.NewEvent(trace.KindSpecialize, specName(mi))
		ev.World = w
		ev.Recompile = recompile
		if c.opts.TraceSpecializeTiming {
			ev.Elapsed = time.Since(start)
		}
		c.sink.Record(ev)
	}
	return ci, nil
}

// interpretFallback serves a reentrant compile request without blocking:
// a throwaway interpreting instance valid only at w, never promoted and
// never inserted into the shared lists.
func (c *Compiler) interpretFallback(t *dispatch.Table, mi *dispatch.Instance, w uint64) (*dispatch.CodeInstance, error) {
	body, ok := c.body(mi.Method)
	if !ok {
		return nil, fmt.Errorf("%w: no body registered for %s", ErrCompilationFailed, mi.Method.Name)
	}
	ci := dispatch.NewCodeInstance(mi, reentrantOwner{}, w, w)
	ci.BeginCompile()
	if body.Const != nil {
		ci.Fill(dispatch.InvokeConst, nil, body.Const, body.Const.TypeOf(), nil)
	} else {
		ci.Fill(dispatch.InvokeInterpret, body.Fn, nil, body.RetType, nil)
	}
	return ci, nil
}

// reentrantOwner keys fallback instances so shared-cache lookups with a nil
// owner never return them.
type reentrantOwner struct{}

func (c *Compiler) isCompiling(gid int64, mi *dispatch.Instance) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	_, ok := c.active[gid][mi]
	return ok
}

func (c *Compiler) enter(gid int64, mi *dispatch.Instance) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	set, ok := c.active[gid]
	if !ok {
		set = make(map[*dispatch.Instance]struct{})
		c.active[gid] = set
	}
	set[mi] = struct{}{}
}

func (c *Compiler) leave(gid int64, mi *dispatch.Instance) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	set := c.active[gid]
	delete(set, mi)
	if len(set) == 0 {
		delete(c.active, gid)
	}
}

func specName(mi *dispatch.Instance) string {
	if mi.SpecSig != nil {
		return mi.SpecSig.String()
	}
	return mi.Method.Sig.String()
}
