package activity

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Counter counts externally visible units of work. It is only ever read as
// a delta between two snapshots, never by absolute value.
type Counter struct {
	total *xsync.Counter
	merge *xsync.Counter
}

func New() *Counter {
	return &Counter{
		total: xsync.NewCounter(),
		merge: xsync.NewCounter(),
	}
}

// Inc records one unit of work. merge tags background change-merge work,
// which idle detection may choose to discount.
func (c *Counter) Inc(merge bool) {
	c.total.Inc()
	if merge {
		c.merge.Inc()
	}
}

func (c *Counter) Get() uint64 {
	return uint64(c.total.Value())
}

func (c *Counter) GetMerge() uint64 {
	return uint64(c.merge.Value())
}

// Check reports whether any work happened since the snapshot old.
func (c *Counter) Check(old uint64) bool {
	return c.Get() != old
}

// CheckIgnoringMerge is Check that treats background merge work as idle.
// The two counters are not read atomically, so a merge increment racing with
// the check may be seen half-applied and count as foreground work once.
func (c *Counter) CheckIgnoringMerge(old, oldMerge uint64) bool {
	return c.Get()-c.GetMerge() != old-oldMerge
}
