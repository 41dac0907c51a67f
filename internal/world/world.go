// Package world implements the global version counter ("world age") and the
// validity intervals stamped onto definitions and cached resolutions.
//
// Every observation of "which definitions exist" is a snapshot at some world
// w <= Counter.Current(). Intervals only ever narrow: once a max bound is
// finalized it never re-opens.
package world

import (
	"math"
	"sync"
	"sync/atomic"
)

// Open is the sentinel for an open-ended (still current) upper bound, and for
// a not-yet-activated lower bound.
const Open = uint64(math.MaxUint64)

// Counter is the process-wide monotonically increasing world number for one
// dispatch universe. It starts at 1; world 0 is never observable.
//
// Bumping the counter and any promote-to-current decision must hold Lock, so
// that "no world advanced since I validated" can be checked race-free.
type Counter struct {
	n  atomic.Uint64
	mu sync.Mutex
}

func NewCounter() *Counter {
	c := &Counter{}
	c.n.Store(1)
	return c
}

// Current returns the newest world (acquire load).
func (c *Counter) Current() uint64 {
	return c.n.Load()
}

// Bump publishes world w. The caller must hold Lock and have made all
// definitions for world w visible first; the store is the release that makes
// the new world observable.
func (c *Counter) Bump(w uint64) {
	c.n.Store(w)
}

// Lock serializes world advancement and open-ended widening decisions.
// Never acquire a table structural lock while holding it.
func (c *Counter) Lock() { c.mu.Lock() }

func (c *Counter) Unlock() { c.mu.Unlock() }

// Interval is a [Min, Max] validity window over worlds, both bounds
// inclusive. Max is atomically narrowable, never widenable except by the
// promote-to-current path under the counter lock.
type Interval struct {
	MinWorld atomic.Uint64
	MaxWorld atomic.Uint64
}

// Contains reports whether w falls inside the interval.
func (iv *Interval) Contains(w uint64) bool {
	return iv.MinWorld.Load() <= w && w <= iv.MaxWorld.Load()
}

// Narrow lowers MaxWorld to max if it is currently Open. Returns true if
// this call performed the narrowing; a second narrowing of an already-closed
// interval is a no-op, which is what makes recursive invalidation walks
// terminate.
func (iv *Interval) Narrow(max uint64) bool {
	return iv.MaxWorld.CompareAndSwap(Open, max)
}
