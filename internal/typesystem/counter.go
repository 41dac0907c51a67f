package typesystem

import "sync/atomic"

// atomicCounter is a small monotone counter used for per-family bookkeeping.
type atomicCounter struct {
	n atomic.Int64
}

func (c *atomicCounter) load() int { return int(c.n.Load()) }

func (c *atomicCounter) raiseTo(v int) {
	for {
		cur := c.n.Load()
		if int64(v) <= cur {
			return
		}
		if c.n.CompareAndSwap(cur, int64(v)) {
			return
		}
	}
}

func (c *atomicCounter) bumpCapped(limit int) {
	for {
		cur := c.n.Load()
		if limit > 0 && cur >= int64(limit) {
			return
		}
		if c.n.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}
