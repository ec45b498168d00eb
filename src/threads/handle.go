package threads

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Entry is the body of a background thread. A non-nil error is fatal for
// the engine.
type Entry func(h *Handle) error

type Handle struct {
	id    uuid.UUID
	role  Role
	index int
	reg   *Registry

	state atomic.Int32
	done  chan struct{}
	err   error
}

func newHandle(reg *Registry, role Role, index int) *Handle {
	return &Handle{
		id:    uuid.New(),
		role:  role,
		index: index,
		reg:   reg,
		done:  make(chan struct{}),
	}
}

func (h *Handle) ID() uuid.UUID {
	return h.id
}

func (h *Handle) Role() Role {
	return h.role
}

// Index is the position in the pool array, -1 for named roles.
func (h *Handle) Index() int {
	return h.index
}

func (h *Handle) Name() string {
	if h.index < 0 {
		return string(h.role)
	}

	return fmt.Sprintf("%s[%d]", h.role, h.index)
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) IsActive() bool {
	s := h.State()
	return s == StateRunning || s == StateDraining
}

// SetDraining marks a running thread as finishing its accepted work.
func (h *Handle) SetDraining() {
	h.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// Done is closed once the thread reaches Stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) Registry() *Registry {
	return h.reg
}

// ShutdownRequested reports whether the process reached at least phase p.
func (h *Handle) ShutdownRequested(p Phase) bool {
	return h.reg.Phase() >= p
}
