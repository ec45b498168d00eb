package common

import "sync/atomic"

// LSN is a byte offset into the logical, infinite redo stream.
type LSN uint64

const NilLSN LSN = 0

func MinLSN(a LSN, rest ...LSN) LSN {
	m := a
	for _, v := range rest {
		if v < m {
			m = v
		}
	}

	return m
}

// AtomicLSN is a published progress boundary. Readers never observe it go
// backward: updates only ever move it forward.
type AtomicLSN struct {
	v atomic.Uint64
}

func (a *AtomicLSN) Load() LSN {
	return LSN(a.v.Load())
}

// Advance raises the boundary to lsn if it is ahead of the current value and
// reports whether it did.
func (a *AtomicLSN) Advance(lsn LSN) bool {
	for {
		cur := a.v.Load()
		if uint64(lsn) <= cur {
			return false
		}

		if a.v.CompareAndSwap(cur, uint64(lsn)) {
			return true
		}
	}
}

// Init must only be used before the value is shared.
func (a *AtomicLSN) Init(lsn LSN) {
	a.v.Store(uint64(lsn))
}
