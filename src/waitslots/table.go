package waitslots

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src/pkg/assert"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

var ErrNoFreeSlot = errors.New("no free wait slot")

type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSignaled
	OutcomeTimeout
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSignaled:
		return "signaled"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Ticket identifies one reservation of a slot. The reservation number makes
// a ticket stale once its slot is reused, so late signals are ignored.
type Ticket struct {
	slot        int
	reservation uint64
}

func (t Ticket) Slot() int {
	return t.slot
}

type slot struct {
	inUse       bool
	waiting     bool
	kind        threads.Type
	reservation uint64
	suspendedAt time.Time
	timeout     time.Duration
	outcome     Outcome
	done        chan struct{}
}

type Stats struct {
	Waits        uint64
	CurrentWaits uint64
	Timeouts     uint64
	TotalWait    time.Duration
	MaxWait      time.Duration
}

func (s Stats) AvgWait() time.Duration {
	if s.Waits == 0 {
		return 0
	}

	return s.TotalWait / time.Duration(s.Waits)
}

type LongWait struct {
	Slot   int
	Type   threads.Type
	Waited time.Duration
}

// Table is a fixed array of slots in which threads suspend. A slot is
// resolved exactly once: by a signal, by its timeout or by cancellation,
// whichever comes first.
type Table struct {
	clk clock.Clock

	mu          sync.Mutex
	slots       []slot
	reservation uint64
	stats       Stats
}

func New(size int, clk clock.Clock) *Table {
	assert.Assert(size > 0, "wait slot table size must be positive, got %d", size)

	if clk == nil {
		clk = clock.New()
	}

	return &Table{
		clk:   clk,
		slots: make([]slot, size),
	}
}

func (t *Table) Size() int {
	return len(t.slots)
}

// Reserve takes a free slot for a thread of the given type. A non-positive
// timeout means the wait never times out.
func (t *Table) Reserve(kind threads.Type, timeout time.Duration) (Ticket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		s := &t.slots[i]
		if s.inUse {
			continue
		}

		t.reservation++
		*s = slot{
			inUse:       true,
			kind:        kind,
			reservation: t.reservation,
			suspendedAt: t.clk.Now(),
			timeout:     timeout,
			outcome:     OutcomePending,
			done:        make(chan struct{}),
		}

		t.stats.Waits++
		t.stats.CurrentWaits++

		return Ticket{slot: i, reservation: s.reservation}, nil
	}

	return Ticket{}, ErrNoFreeSlot
}

func (t *Table) lookup(tk Ticket) (*slot, bool) {
	if tk.slot < 0 || tk.slot >= len(t.slots) {
		return nil, false
	}

	s := &t.slots[tk.slot]
	if !s.inUse || s.reservation != tk.reservation {
		return nil, false
	}

	return s, true
}

// Wait suspends until the reservation is resolved and frees the slot. A
// stale ticket yields OutcomeCanceled.
func (t *Table) Wait(ctx context.Context, tk Ticket) Outcome {
	t.mu.Lock()
	s, ok := t.lookup(tk)
	if !ok {
		t.mu.Unlock()
		return OutcomeCanceled
	}

	s.waiting = true
	done := s.done

	var deadline <-chan time.Time
	if s.timeout > 0 && s.outcome == OutcomePending {
		remaining := s.suspendedAt.Add(s.timeout).Sub(t.clk.Now())
		if remaining <= 0 {
			t.resolveLocked(s, OutcomeTimeout)
		} else {
			timer := t.clk.Timer(remaining)
			defer timer.Stop()
			deadline = timer.C
		}
	}
	t.mu.Unlock()

	select {
	case <-done:
	case <-deadline:
		t.resolve(tk, OutcomeTimeout)
	case <-ctx.Done():
		t.resolve(tk, OutcomeCanceled)
	}

	return t.free(tk)
}

// Signal resolves the reservation as signaled. It reports false when the
// ticket is stale or the slot was already resolved.
func (t *Table) Signal(tk Ticket) bool {
	return t.resolve(tk, OutcomeSignaled)
}

// Cancel resolves the reservation as canceled. When nobody waits on the
// ticket the slot is freed right away.
func (t *Table) Cancel(tk Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(tk)
	if !ok {
		return false
	}

	resolved := t.resolveLocked(s, OutcomeCanceled)
	if !s.waiting {
		t.freeLocked(s)
	}

	return resolved
}

// Release signals up to n pending reservations of the given type and returns
// how many it woke.
func (t *Table) Release(kind threads.Type, n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	woken := 0
	for i := range t.slots {
		if woken >= n {
			break
		}

		s := &t.slots[i]
		if !s.inUse || s.kind != kind {
			continue
		}

		if t.resolveLocked(s, OutcomeSignaled) {
			woken++
		}
	}

	return woken
}

// Scan times out every pending reservation whose deadline has passed and
// returns how many it resolved.
func (t *Table) Scan() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()

	expired := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.inUse || s.timeout <= 0 || s.outcome != OutcomePending {
			continue
		}

		if now.Sub(s.suspendedAt) >= s.timeout && t.resolveLocked(s, OutcomeTimeout) {
			expired++
		}
	}

	return expired
}

// Suspended returns the number of reserved slots of the given type.
func (t *Table) Suspended(kind threads.Type) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].kind == kind {
			n++
		}
	}

	return n
}

func (t *Table) LongWaits(threshold time.Duration) []LongWait {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()

	var res []LongWait
	for i := range t.slots {
		s := &t.slots[i]
		if !s.inUse || s.outcome != OutcomePending {
			continue
		}

		if waited := now.Sub(s.suspendedAt); waited >= threshold {
			res = append(res, LongWait{Slot: i, Type: s.kind, Waited: waited})
		}
	}

	return res
}

func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stats
}

func (t *Table) resolve(tk Ticket, o Outcome) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(tk)
	if !ok {
		return false
	}

	return t.resolveLocked(s, o)
}

func (t *Table) resolveLocked(s *slot, o Outcome) bool {
	if s.outcome != OutcomePending {
		return false
	}

	s.outcome = o
	close(s.done)

	if o == OutcomeTimeout {
		t.stats.Timeouts++
	}

	return true
}

func (t *Table) free(tk Ticket) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookup(tk)
	assert.Assert(ok, "slot %d was freed while its owner waited", tk.slot)

	o := s.outcome
	t.freeLocked(s)

	return o
}

func (t *Table) freeLocked(s *slot) {
	waited := t.clk.Now().Sub(s.suspendedAt)
	t.stats.TotalWait += waited
	t.stats.MaxWait = max(t.stats.MaxWait, waited)
	t.stats.CurrentWaits--

	*s = slot{}
}
