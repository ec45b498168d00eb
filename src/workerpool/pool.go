package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
)

var (
	ErrPoolStopped   = errors.New("worker pool is stopped")
	ErrBatchPanicked = errors.New("batch panicked")
)

// Executor processes one batch on behalf of the given worker index.
type Executor[T any] func(ctx context.Context, worker int, batch T) error

type Result struct {
	Worker int
	Err    error
}

// Pending is the submitter's view of one batch.
type Pending struct {
	done chan struct{}
	res  Result
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (p *Pending) complete(r Result) {
	p.res = r
	close(p.done)
}

type Config struct {
	Pool threads.Pool
	// IdleTimeout bounds one suspension of an idle thread.
	IdleTimeout time.Duration
	Clock       clock.Clock
}

type Stats struct {
	Queued      int
	Submitted   uint64
	Completed   uint64
	Failed      uint64
	SelfHandled uint64
}

type task[T any] struct {
	batch   T
	pending *Pending
}

type worker[T any] struct {
	index  int
	idle   bool
	exited bool
	ticket waitslots.Ticket
	task   *task[T]
}

// Pool runs batches on a coordinator (index 0 of the registry pool array)
// and N-1 dedicated workers. Each batch is assigned exactly once and its
// result is delivered exactly once.
type Pool[T any] struct {
	cfg   Config
	reg   *threads.Registry
	slots *waitslots.Table
	exec  Executor[T]
	log   src.Logger
	clk   clock.Clock
	ctx   context.Context

	mu          sync.Mutex
	queue       []task[T]
	stopping    bool
	workers     []*worker[T]
	coordIdle   bool
	coordTicket waitslots.Ticket

	submitted   atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64
	selfHandled atomic.Uint64
}

func New[T any](
	cfg Config,
	reg *threads.Registry,
	slots *waitslots.Table,
	exec Executor[T],
	log src.Logger,
) *Pool[T] {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Pool[T]{
		cfg:   cfg,
		reg:   reg,
		slots: slots,
		exec:  exec,
		log:   log,
		clk:   cfg.Clock,
	}
}

// Start launches the coordinator and every dedicated worker. ctx is handed
// to the executor; idle threads are woken by signals and timeouts only.
func (p *Pool[T]) Start(ctx context.Context) error {
	n := p.reg.PoolSize(p.cfg.Pool)

	p.mu.Lock()
	p.ctx = ctx
	p.stopping = false
	p.workers = make([]*worker[T], n)
	for i := range p.workers {
		p.workers[i] = &worker[T]{index: i}
	}
	p.mu.Unlock()

	if _, err := p.reg.StartPoolThread(p.cfg.Pool, 0, p.coordinate); err != nil {
		return errors.Wrapf(err, "start %s coordinator", p.cfg.Pool)
	}

	for i := 1; i < n; i++ {
		if _, err := p.reg.StartPoolThread(p.cfg.Pool, i, p.workerLoop(p.workers[i])); err != nil {
			return errors.Wrapf(err, "start %s worker %d", p.cfg.Pool, i)
		}
	}

	p.log.Infow("worker pool started", "pool", p.cfg.Pool.String(), "threads", n)

	return nil
}

func (p *Pool[T]) Submit(batch T) (*Pending, error) {
	pending := &Pending{done: make(chan struct{})}

	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}

	p.queue = append(p.queue, task[T]{batch: batch, pending: pending})
	wake, tk := p.coordIdle, p.coordTicket
	p.mu.Unlock()

	p.submitted.Add(1)

	if wake {
		p.slots.Signal(tk)
	}

	return pending, nil
}

// WakeupIfIdle wakes the coordinator if it is suspended and reports whether
// it did. Redundant calls are harmless.
func (p *Pool[T]) WakeupIfIdle() bool {
	p.mu.Lock()
	idle, tk := p.coordIdle, p.coordTicket
	p.mu.Unlock()

	if !idle {
		return false
	}

	return p.slots.Signal(tk)
}

// Stop closes the pool for submissions. Queued batches are still executed
// before the threads exit.
func (p *Pool[T]) Stop() {
	p.mu.Lock()
	p.stopping = true

	tickets := make([]waitslots.Ticket, 0, len(p.workers))
	if p.coordIdle {
		tickets = append(tickets, p.coordTicket)
	}
	for _, w := range p.workers {
		if w.idle {
			tickets = append(tickets, w.ticket)
		}
	}
	p.mu.Unlock()

	for _, tk := range tickets {
		p.slots.Signal(tk)
	}
}

// Join waits for every thread of the pool to stop.
func (p *Pool[T]) Join(ctx context.Context) error {
	for _, h := range p.reg.PoolThreads(p.cfg.Pool) {
		if h.State() == threads.StateNotStarted {
			continue
		}

		if err := h.Join(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	return Stats{
		Queued:      queued,
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		SelfHandled: p.selfHandled.Load(),
	}
}

func (p *Pool[T]) coordinate(h *threads.Handle) error {
	for {
		p.mu.Lock()

		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = task[T]{}
			p.queue = p.queue[1:]

			if w := p.idleWorkerLocked(); w != nil {
				w.task = &t
				w.idle = false
				tk := w.ticket
				p.mu.Unlock()

				p.slots.Signal(tk)
				continue
			}

			p.mu.Unlock()

			p.selfHandled.Add(1)
			p.execute(0, t)

			continue
		}

		if p.stopping {
			p.mu.Unlock()
			break
		}

		tk, err := p.slots.Reserve(p.cfg.Pool.CoordinatorType(), p.cfg.IdleTimeout)
		if err != nil {
			p.mu.Unlock()
			p.backoff()
			continue
		}

		p.coordIdle = true
		p.coordTicket = tk
		p.mu.Unlock()

		p.slots.Wait(context.Background(), tk)

		p.mu.Lock()
		p.coordIdle = false
		p.mu.Unlock()
	}

	h.SetDraining()
	p.log.Debugw("worker pool coordinator drained", "pool", p.cfg.Pool.String())

	return nil
}

// idleWorkerLocked returns the lowest-index suspended dedicated worker.
func (p *Pool[T]) idleWorkerLocked() *worker[T] {
	for _, w := range p.workers[1:] {
		if w.idle && !w.exited {
			return w
		}
	}

	return nil
}

func (p *Pool[T]) workerLoop(w *worker[T]) threads.Entry {
	return func(h *threads.Handle) error {
		for {
			p.mu.Lock()

			if w.task != nil {
				t := w.task
				w.task = nil
				p.mu.Unlock()

				p.execute(w.index, *t)
				continue
			}

			if p.stopping {
				w.exited = true
				p.mu.Unlock()
				break
			}

			tk, err := p.slots.Reserve(p.cfg.Pool.WorkerType(), p.cfg.IdleTimeout)
			if err != nil {
				p.mu.Unlock()
				p.backoff()
				continue
			}

			w.idle = true
			w.ticket = tk
			coordIdle, coordTicket := p.coordIdle, p.coordTicket
			pendingWork := len(p.queue) > 0
			p.mu.Unlock()

			if coordIdle && pendingWork {
				p.slots.Signal(coordTicket)
			}

			p.slots.Wait(context.Background(), tk)

			p.mu.Lock()
			w.idle = false
			p.mu.Unlock()
		}

		h.SetDraining()

		return nil
	}
}

func (p *Pool[T]) execute(index int, t task[T]) {
	err := p.safeExec(index, t.batch)
	if err != nil {
		p.failed.Add(1)
		p.log.Warnw("batch failed", "pool", p.cfg.Pool.String(), "worker", index, "error", err)
	}

	p.completed.Add(1)
	t.pending.complete(Result{Worker: index, Err: err})
}

func (p *Pool[T]) safeExec(index int, batch T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Wrapf(ErrBatchPanicked, "%v", rec)
		}
	}()

	return p.exec(p.ctx, index, batch)
}

// backoff is used when the wait-slot table is full.
func (p *Pool[T]) backoff() {
	runtime.Gosched()
	p.clk.Sleep(time.Millisecond)
}
