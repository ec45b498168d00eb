package redo

import (
	"sync/atomic"

	"github.com/Blackdeer1524/enginecore/src/pkg/assert"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

// linkBuf tracks completion of concurrently filled LSN ranges. Producers
// link start -> end in any order; the single consumer moves the tail over
// the contiguous prefix of completed ranges.
type linkBuf struct {
	links []atomic.Uint64
	tail  common.AtomicLSN
}

func newLinkBuf(capacity uint64, start common.LSN) *linkBuf {
	b := &linkBuf{links: make([]atomic.Uint64, capacity)}
	b.tail.Init(start)

	return b
}

func (b *linkBuf) capacity() uint64 {
	return uint64(len(b.links))
}

func (b *linkBuf) slot(lsn common.LSN) *atomic.Uint64 {
	return &b.links[uint64(lsn)%b.capacity()]
}

// hasSpace reports whether a range ending at end fits in the window.
func (b *linkBuf) hasSpace(end common.LSN) bool {
	return uint64(end-b.tail.Load()) <= b.capacity()
}

func (b *linkBuf) add(start, end common.LSN) {
	assert.Assert(start < end, "empty range [%d, %d)", start, end)
	assert.Assert(uint64(end-b.tail.Load()) <= b.capacity(),
		"range [%d, %d) overflows the ring at tail %d", start, end, b.tail.Load())

	b.slot(start).Store(uint64(end))
}

func (b *linkBuf) hasNext() bool {
	return b.slot(b.tail.Load()).Load() != 0
}

// advance must only be called by the owning consumer. The slot is cleared
// before the tail is published, so a producer that sees the new tail may
// reuse the slot.
func (b *linkBuf) advance() bool {
	tail := b.tail.Load()
	start := tail

	for {
		s := b.slot(tail)
		next := s.Load()
		if next == 0 {
			break
		}

		s.Store(0)
		tail = common.LSN(next)
	}

	if tail == start {
		return false
	}

	b.tail.Advance(tail)

	return true
}
