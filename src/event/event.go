package event

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Event is a reusable binary signal. Set wakes every waiter; Reset rearms it
// and returns a signal count that later waits compare against, so a Set
// that lands between Reset and the wait is never lost.
type Event struct {
	clk clock.Clock

	mu       sync.Mutex
	set      bool
	sigCount uint64
	ch       chan struct{}
}

func New(clk clock.Clock) *Event {
	if clk == nil {
		clk = clock.New()
	}

	return &Event{
		clk:      clk,
		sigCount: 1,
		ch:       make(chan struct{}),
	}
}

func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set {
		return
	}

	e.set = true
	e.sigCount++
	close(e.ch)
}

func (e *Event) Reset() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}

	return e.sigCount
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.set
}

// Wait blocks until the event has been set since the Reset that returned
// sigCount.
func (e *Event) Wait(sigCount uint64) {
	e.WaitTimeout(0, sigCount)
}

// WaitTimeout is Wait bounded by timeout. A non-positive timeout waits
// forever. It reports false when the timeout expired first.
func (e *Event) WaitTimeout(timeout time.Duration, sigCount uint64) bool {
	e.mu.Lock()
	if e.set || e.sigCount != sigCount {
		e.mu.Unlock()
		return true
	}
	ch := e.ch
	e.mu.Unlock()

	if timeout <= 0 {
		<-ch
		return true
	}

	t := e.clk.Timer(timeout)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// WaitUntil blocks until cond holds or timeout elapses and returns the last
// value of cond. Spurious wakeups just re-evaluate cond.
func (e *Event) WaitUntil(timeout time.Duration, cond func() bool) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = e.clk.Now().Add(timeout)
	}

	for {
		if cond() {
			return true
		}

		sig := e.Reset()
		if cond() {
			return true
		}

		remaining := time.Duration(0)
		if timeout > 0 {
			remaining = deadline.Sub(e.clk.Now())
			if remaining <= 0 {
				return cond()
			}
		}

		if !e.WaitTimeout(remaining, sig) {
			return cond()
		}
	}
}
