package threads

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/panjf2000/ants"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/enginecore/src"
)

var (
	ErrAlreadyRunning  = errors.New("thread is already running")
	ErrNoSuchThread    = errors.New("no such thread")
	ErrPoolActive      = errors.New("pool has active threads")
	ErrInvalidPoolSize = errors.New("pool size must be positive")
	ErrCannotAllocate  = errors.New("cannot allocate thread")
	ErrShutdownTimeout = errors.New("threads did not stop within the shutdown grace period")
	ErrThreadPanicked  = errors.New("thread panicked")
)

// Releaser wakes suspended threads of a given type. The wait-slot table
// implements it.
type Releaser interface {
	Release(t Type, n int) int
}

type Config struct {
	PurgeThreads int
	PageCleaners int
	LRUManagers  int
}

type Info struct {
	ID    string
	Name  string
	Role  Role
	Index int
	State State
}

// Registry owns every background thread of the engine: one handle per named
// role and three fixed arrays for the pools. Index 0 of each array is the
// pool coordinator.
type Registry struct {
	log    src.Logger
	runner *ants.Pool

	phase atomic.Int32

	mu       sync.Mutex
	named    map[Role]*Handle
	pools    [numPools][]*Handle
	wakers   []func()
	releaser Releaser

	fatalOnce sync.Once
	fatalCh   chan error
}

func NewRegistry(log src.Logger, cfg Config) (*Registry, error) {
	sizes := [numPools]int{cfg.PurgeThreads, cfg.PageCleaners, cfg.LRUManagers}

	capacity := len(NamedRoles)
	for _, n := range sizes {
		if n <= 0 {
			return nil, errors.Wrapf(ErrInvalidPoolSize, "got %d", n)
		}
		capacity += n
	}

	runner, err := ants.NewPool(capacity)
	if err != nil {
		return nil, errors.Wrap(ErrCannotAllocate, err.Error())
	}

	r := &Registry{
		log:     log,
		runner:  runner,
		named:   make(map[Role]*Handle, len(NamedRoles)),
		fatalCh: make(chan error, 1),
	}

	for _, p := range Pools {
		r.pools[p] = r.newPoolHandles(p, sizes[p])
	}

	return r, nil
}

func (r *Registry) newPoolHandles(p Pool, n int) []*Handle {
	hs := make([]*Handle, n)
	for i := range hs {
		hs[i] = newHandle(r, p.Role(), i)
	}

	return hs
}

func (r *Registry) SetReleaser(rel Releaser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaser = rel
}

func (r *Registry) Start(role Role, entry Entry) (*Handle, error) {
	if !slices.Contains(NamedRoles, role) {
		return nil, errors.Wrapf(ErrNoSuchThread, "role %s", role)
	}

	r.mu.Lock()
	if h, ok := r.named[role]; ok && h.IsActive() {
		r.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyRunning, "role %s", role)
	}

	h := newHandle(r, role, -1)
	r.named[role] = h
	r.mu.Unlock()

	if err := r.launch(h, entry); err != nil {
		return nil, err
	}

	return h, nil
}

func (r *Registry) StartPoolThread(p Pool, index int, entry Entry) (*Handle, error) {
	r.mu.Lock()
	if p < 0 || p >= numPools || index < 0 || index >= len(r.pools[p]) {
		r.mu.Unlock()
		return nil, errors.Wrapf(ErrNoSuchThread, "%s[%d]", p, index)
	}

	h := r.pools[p][index]
	switch h.State() {
	case StateRunning, StateDraining:
		r.mu.Unlock()
		return nil, errors.Wrapf(ErrAlreadyRunning, "%s", h.Name())
	case StateStopped:
		h = newHandle(r, p.Role(), index)
		r.pools[p][index] = h
	}
	r.mu.Unlock()

	if err := r.launch(h, entry); err != nil {
		return nil, err
	}

	return h, nil
}

func (r *Registry) launch(h *Handle, entry Entry) error {
	h.state.Store(int32(StateRunning))

	err := r.runner.Submit(func() { r.run(h, entry) })
	if err != nil {
		err = errors.Wrapf(ErrCannotAllocate, "%s: %s", h.Name(), err.Error())
		h.err = err
		h.state.Store(int32(StateStopped))
		close(h.done)
		r.Fatal(err)

		return err
	}

	return nil
}

func (r *Registry) run(h *Handle, entry Entry) {
	r.log.Debugw("thread started", "thread", h.Name(), "id", h.id)

	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Wrapf(ErrThreadPanicked, "%v", rec)
		}

		h.err = err
		h.state.Store(int32(StateStopped))
		close(h.done)

		if err != nil {
			r.Fatal(errors.Wrap(err, h.Name()))
			return
		}

		r.log.Debugw("thread stopped", "thread", h.Name())
	}()

	err = entry(h)
}

func (r *Registry) Lookup(role Role) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.named[role]
	return h, ok
}

func (r *Registry) PoolThreads(p Pool) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.pools[p])
}

func (r *Registry) PoolSize(p Pool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pools[p])
}

// Coordinator returns the handle at index 0 of the pool.
func (r *Registry) Coordinator(p Pool) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pools[p][0]
}

// PoolActive reports whether any thread of the pool is running or draining.
func (r *Registry) PoolActive(p Pool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.ContainsFunc(r.pools[p], (*Handle).IsActive)
}

// ActiveCount returns how many threads of the pool are running or draining.
func (r *Registry) ActiveCount(p Pool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.pools[p] {
		if h.IsActive() {
			n++
		}
	}

	return n
}

// ResizePool changes the length of a quiesced pool array.
func (r *Registry) ResizePool(p Pool, n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidPoolSize, "got %d", n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.ContainsFunc(r.pools[p], (*Handle).IsActive) {
		return errors.Wrapf(ErrPoolActive, "%s", p)
	}

	delta := n - len(r.pools[p])
	r.pools[p] = r.newPoolHandles(p, n)
	r.runner.Tune(uint(max(r.runner.Cap()+delta, 1)))

	r.log.Infow("pool resized", "pool", p.String(), "size", n)

	return nil
}

func (r *Registry) IsActive(h *Handle) bool {
	return h != nil && h.IsActive()
}

// Release wakes up to n suspended threads of type t. It is best effort and
// returns the number of threads actually woken.
func (r *Registry) Release(t Type, n int) int {
	r.mu.Lock()
	rel := r.releaser
	r.mu.Unlock()

	if rel == nil || n <= 0 {
		return 0
	}

	return rel.Release(t, n)
}

func (r *Registry) Phase() Phase {
	return Phase(r.phase.Load())
}

// OnShutdown registers fn to run on every phase change, so that sleeping
// roles observe the new phase promptly.
func (r *Registry) OnShutdown(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wakers = append(r.wakers, fn)
}

// RequestShutdown moves the phase forward to p. It reports false when the
// process is already at p or beyond.
func (r *Registry) RequestShutdown(p Phase) bool {
	for {
		cur := r.phase.Load()
		if int32(p) <= cur {
			return false
		}

		if r.phase.CompareAndSwap(cur, int32(p)) {
			break
		}
	}

	r.log.Infow("shutdown phase advanced", "phase", p.String())

	r.mu.Lock()
	wakers := slices.Clone(r.wakers)
	r.mu.Unlock()

	for _, w := range wakers {
		w()
	}

	return true
}

func (r *Registry) started() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hs []*Handle
	for _, h := range r.named {
		if h.State() != StateNotStarted {
			hs = append(hs, h)
		}
	}

	for _, pool := range r.pools {
		for _, h := range pool {
			if h.State() != StateNotStarted {
				hs = append(hs, h)
			}
		}
	}

	return hs
}

// JoinAll waits for every started thread to stop. Threads still running
// after grace are reported through ErrShutdownTimeout, which is also raised
// as fatal.
func (r *Registry) JoinAll(ctx context.Context, grace time.Duration) error {
	return r.JoinWithin(ctx, grace, r.started()...)
}

// JoinWithin is JoinAll restricted to hs. Handles that were never started
// are skipped.
func (r *Registry) JoinWithin(ctx context.Context, grace time.Duration, hs ...*Handle) error {
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var (
		mu    sync.Mutex
		stuck []string
	)

	g := errgroup.Group{}
	for _, h := range hs {
		if h.State() == StateNotStarted {
			continue
		}

		g.Go(func() error {
			select {
			case <-h.Done():
			case <-ctx.Done():
				mu.Lock()
				stuck = append(stuck, h.Name())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(stuck) == 0 {
		return nil
	}

	slices.Sort(stuck)
	err := errors.Wrapf(ErrShutdownTimeout, "stuck: %v", stuck)
	r.Fatal(err)

	return err
}

// Fatal records the first unrecoverable error. The supervisor reading
// Fatalities is expected to abort the process.
func (r *Registry) Fatal(err error) {
	r.fatalOnce.Do(func() {
		r.log.Errorw("fatal engine error", "error", err)
		r.fatalCh <- err
		close(r.fatalCh)
	})
}

func (r *Registry) Fatalities() <-chan error {
	return r.fatalCh
}

func (r *Registry) Threads() []Info {
	hs := r.all()

	infos := make([]Info, 0, len(hs))
	for _, h := range hs {
		infos = append(infos, Info{
			ID:    h.id.String(),
			Name:  h.Name(),
			Role:  h.role,
			Index: h.index,
			State: h.State(),
		})
	}

	return infos
}

func (r *Registry) all() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := make([]*Handle, 0, len(r.named))
	for _, role := range NamedRoles {
		if h, ok := r.named[role]; ok {
			hs = append(hs, h)
		}
	}

	for _, pool := range r.pools {
		hs = append(hs, pool...)
	}

	return hs
}

// Capacity is the number of goroutines the registry may run at once.
func (r *Registry) Capacity() int {
	return r.runner.Cap()
}

// Close releases the goroutine pool. Threads must be joined first.
func (r *Registry) Close() {
	r.runner.Release()
}

func (i Info) String() string {
	return fmt.Sprintf("%s(%s)", i.Name, i.State)
}
