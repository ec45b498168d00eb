package backoff

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Blackdeer1524/enginecore/src/event"
)

type State int32

const (
	StateActive State = iota
	StateSpinning
	StateWaiting
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSpinning:
		return "spinning"
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Policy bounds a spin-then-block loop: up to SpinIterations cheap re-checks,
// then a block on the role's event for at most Timeout.
type Policy struct {
	SpinIterations int
	Timeout        time.Duration
}

type Step int

const (
	StepSpin Step = iota
	StepBlock
)

type Decision struct {
	Step    Step
	Timeout time.Duration
}

type Stats struct {
	Spins    uint64
	Blocks   uint64
	Timeouts uint64
}

// Waiter is the SPIN(n) -> BLOCK(timeout) state machine of one role loop.
// It is owned by a single goroutine; State and Stats may be read from any.
type Waiter struct {
	policy Policy
	spins  int

	state    atomic.Int32
	draining atomic.Bool

	nSpins    atomic.Uint64
	nBlocks   atomic.Uint64
	nTimeouts atomic.Uint64
}

func NewWaiter(p Policy) *Waiter {
	return &Waiter{policy: p}
}

// Next returns what the loop should do when it found no work.
func (w *Waiter) Next() Decision {
	if w.spins < w.policy.SpinIterations {
		w.spins++
		return Decision{Step: StepSpin}
	}

	w.spins = 0

	return Decision{Step: StepBlock, Timeout: w.policy.Timeout}
}

// Progress tells the waiter that the loop found work.
func (w *Waiter) Progress() {
	w.spins = 0
	w.setState(StateActive)
}

func (w *Waiter) SetDraining() {
	w.draining.Store(true)
	w.state.Store(int32(StateDraining))
}

func (w *Waiter) State() State {
	return State(w.state.Load())
}

func (w *Waiter) Stats() Stats {
	return Stats{
		Spins:    w.nSpins.Load(),
		Blocks:   w.nBlocks.Load(),
		Timeouts: w.nTimeouts.Load(),
	}
}

// Pause performs one idle step. hasWork is re-evaluated after the event is
// rearmed so a producer that posts between the check and the block is seen.
func (w *Waiter) Pause(ev *event.Event, hasWork func() bool) {
	d := w.Next()
	if d.Step == StepSpin {
		w.setState(StateSpinning)
		w.nSpins.Add(1)
		runtime.Gosched()

		return
	}

	w.setState(StateWaiting)
	w.nBlocks.Add(1)

	sig := ev.Reset()
	if hasWork() {
		return
	}

	if !ev.WaitTimeout(d.Timeout, sig) {
		w.nTimeouts.Add(1)
	}
}

func (w *Waiter) setState(s State) {
	if w.draining.Load() {
		return
	}

	w.state.Store(int32(s))
}
