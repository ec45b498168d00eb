package srv

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/activity"
	"github.com/Blackdeer1524/enginecore/src/bufferpool"
	"github.com/Blackdeer1524/enginecore/src/event"
	"github.com/Blackdeer1524/enginecore/src/pagecleaner"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
	"github.com/Blackdeer1524/enginecore/src/purge"
	"github.com/Blackdeer1524/enginecore/src/redo"
	"github.com/Blackdeer1524/enginecore/src/telemetry"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

var (
	ErrNotInitialized     = errors.New("server is not initialized")
	ErrAlreadyInitialized = errors.New("server is already initialized")
)

type BufferPool interface {
	pagecleaner.BufferPool
	redo.DirtyPageTracker

	FlushAllPages(ctx context.Context) error
	Stats() bufferpool.Stats
}

type Deps struct {
	Storage     redo.Storage
	Checkpoints redo.CheckpointStore
	BufferPool  BufferPool
	Versions    purge.VersionStore
	Logger      src.Logger
	Clock       clock.Clock
	// Start is the LSN the redo stream continues from.
	Start common.LSN
}

// Server is the process-scoped runtime context. It owns the thread
// registry and every background subsystem and orchestrates their startup
// and the three-phase shutdown.
type Server struct {
	id  uuid.UUID
	cfg Config
	log src.Logger
	clk clock.Clock

	reg      *threads.Registry
	slots    *waitslots.Table
	redo     *redo.Log
	purge    *purge.System
	cleaner  *pagecleaner.Cleaner
	lru      *pagecleaner.LRUManager
	bp       BufferPool
	activity *activity.Counter

	watcherWake *event.Event
	monitorWake *event.Event

	masterMu     sync.Mutex
	masterTicket optional.Optional[waitslots.Ticket]

	activeLoops atomic.Uint64
	idleLoops   atomic.Uint64

	initialized  atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	reg, err := threads.NewRegistry(deps.Logger, cfg.Threads)
	if err != nil {
		return nil, errors.Wrap(err, "create thread registry")
	}

	slots := waitslots.New(cfg.WaitSlots, deps.Clock)
	reg.SetReleaser(slots)

	log, err := redo.New(cfg.Redo, redo.Deps{
		Storage:     deps.Storage,
		Checkpoints: deps.Checkpoints,
		DirtyPages:  deps.BufferPool,
		Logger:      deps.Logger,
		Clock:       deps.Clock,
		Start:       deps.Start,
	})
	if err != nil {
		reg.Close()
		return nil, errors.Wrap(err, "create redo log")
	}

	cfg.Purge.Pool.Clock = deps.Clock
	cfg.Cleaner.Pool.Clock = deps.Clock
	cfg.LRU.Pool.Clock = deps.Clock

	s := &Server{
		id:          uuid.New(),
		cfg:         cfg,
		log:         deps.Logger,
		clk:         deps.Clock,
		reg:         reg,
		slots:       slots,
		redo:        log,
		purge:       purge.New(cfg.Purge, reg, slots, deps.Versions, deps.Logger),
		cleaner:     pagecleaner.NewCleaner(cfg.Cleaner, reg, slots, deps.BufferPool, log, deps.Logger),
		lru:         pagecleaner.NewLRUManager(cfg.LRU, reg, slots, deps.BufferPool, deps.Logger),
		bp:          deps.BufferPool,
		activity:    activity.New(),
		watcherWake: event.New(deps.Clock),
		monitorWake: event.New(deps.Clock),
	}

	reg.OnShutdown(s.wakeSleepers)

	return s, nil
}

func (s *Server) wakeSleepers() {
	s.watcherWake.Set()
	s.monitorWake.Set()

	s.masterMu.Lock()
	tk := s.masterTicket
	s.masterMu.Unlock()

	if tk.IsSome() {
		s.slots.Signal(tk.Unwrap())
	}
}

// Init starts every background thread: the redo roles, the lock-wait
// timeout watcher, the three pools, then master and monitor.
func (s *Server) Init(ctx context.Context) error {
	if !s.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}

	if err := s.redo.Start(s.reg); err != nil {
		return errors.Wrap(err, "start redo pipeline")
	}

	if _, err := s.reg.Start(
		threads.RoleLockWaitTimeout,
		s.slots.Watcher(s.cfg.LockWaitScanInterval, s.watcherWake),
	); err != nil {
		return errors.Wrap(err, "start lock wait watcher")
	}

	if err := s.purge.Start(ctx); err != nil {
		return errors.Wrap(err, "start purge")
	}

	if err := s.cleaner.Start(ctx); err != nil {
		return errors.Wrap(err, "start page cleaners")
	}

	if err := s.lru.Start(ctx); err != nil {
		return errors.Wrap(err, "start lru managers")
	}

	if _, err := s.reg.Start(threads.RoleMaster, s.runMaster); err != nil {
		return errors.Wrap(err, "start master")
	}

	if _, err := s.reg.Start(threads.RoleMonitor, s.runMonitor); err != nil {
		return errors.Wrap(err, "start monitor")
	}

	s.log.Infow("engine started",
		"instance", s.id.String(),
		"start_lsn", uint64(s.redo.Current()),
		"purge_threads", s.cfg.Threads.PurgeThreads,
		"page_cleaners", s.cfg.Threads.PageCleaners,
		"lru_managers", s.cfg.Threads.LRUManagers,
	)

	return nil
}

// Shutdown stops the engine in three phases. Cleanup stops the master,
// monitor, lock-wait watcher and purge. Final drains the page cleaners and
// LRU managers and flushes the buffer pool. Exit closes the redo producer
// gate and joins every remaining role within the shutdown grace.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.initialized.Load() {
		return ErrNotInitialized
	}

	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})

	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	defer s.reg.Close()

	var errs error

	s.log.Infow("shutdown phase", "phase", threads.PhaseCleanup.String())
	s.reg.RequestShutdown(threads.PhaseCleanup)

	cleanupCtx, cancelCleanup := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancelCleanup()

	var named []*threads.Handle
	for _, role := range []threads.Role{threads.RoleMaster, threads.RoleMonitor, threads.RoleLockWaitTimeout} {
		if h, ok := s.reg.Lookup(role); ok {
			named = append(named, h)
		}
	}

	if err := s.reg.JoinWithin(cleanupCtx, s.cfg.ShutdownGrace, named...); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "cleanup phase"))
	}

	if err := s.purge.Stop(); err != nil && !errors.Is(err, workerpool.ErrPoolStopped) {
		errs = multierr.Append(errs, err)
	}

	purgeThreads := s.reg.PoolThreads(threads.PoolPurge)
	if err := s.reg.JoinWithin(cleanupCtx, s.cfg.ShutdownGrace, purgeThreads...); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "cleanup phase"))
	}

	s.log.Infow("shutdown phase", "phase", threads.PhaseFinal.String())
	s.reg.RequestShutdown(threads.PhaseFinal)

	s.cleaner.Stop()
	s.lru.Stop()

	final := append(s.reg.PoolThreads(threads.PoolPageCleaner), s.reg.PoolThreads(threads.PoolLRU)...)
	if err := s.reg.JoinWithin(ctx, s.cfg.ShutdownGrace, final...); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "final phase"))
	}

	flushCtx, cancelFlush := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancelFlush()

	if err := s.bp.FlushAllPages(flushCtx); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "flush buffer pool"))
	}

	s.log.Infow("shutdown phase", "phase", threads.PhaseExit.String())
	s.reg.RequestShutdown(threads.PhaseExit)
	s.redo.StopAccepting()

	if err := s.reg.JoinAll(ctx, s.cfg.ShutdownGrace); err != nil {
		errs = multierr.Append(errs, err)
	}

	if err := s.redo.Err(); err != nil {
		errs = multierr.Append(errs, err)
	}

	s.log.Infow("engine stopped",
		"instance", s.id.String(),
		"flushed_lsn", uint64(s.redo.Flushed()),
		"last_checkpoint", uint64(s.redo.LastCheckpoint()),
	)

	return errs
}

func (s *Server) ID() uuid.UUID {
	return s.id
}

func (s *Server) Registry() *threads.Registry {
	return s.reg
}

func (s *Server) Redo() *redo.Log {
	return s.redo
}

func (s *Server) WaitSlots() *waitslots.Table {
	return s.slots
}

// LockWaitTimeout is the timeout callers pass when they suspend a user
// thread in WaitSlots.
func (s *Server) LockWaitTimeout() time.Duration {
	return s.cfg.LockWaitTimeout
}

func (s *Server) Purge() *purge.System {
	return s.purge
}

func (s *Server) IncActivity(merge bool) {
	s.activity.Inc(merge)
}

func (s *Server) ActivityCount() uint64 {
	return s.activity.Get()
}

// CheckActivity reports whether anything happened since old was read.
func (s *Server) CheckActivity(old uint64) bool {
	return s.activity.Check(old)
}

// ReleaseThreads wakes up to n suspended threads of type t.
func (s *Server) ReleaseThreads(t threads.Type, n int) int {
	return s.reg.Release(t, n)
}

func (s *Server) WakePurgeIfNotActive() bool {
	return s.purge.WakeIfNotActive()
}

func (s *Server) PurgeThreadsActive() bool {
	return s.purge.Active()
}

// Fatal yields the first unrecoverable error of any background thread.
func (s *Server) Fatal() <-chan error {
	return s.reg.Fatalities()
}

func (s *Server) Snapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Taken:             s.clk.Now(),
		Phase:             s.reg.Phase(),
		Activity:          s.activity.Get(),
		Redo:              s.redo.Stats(),
		Waits:             s.slots.Stats(),
		Purge:             s.purge.Stats(),
		Cleaner:           s.cleaner.Stats(),
		LRU:               s.lru.Stats(),
		BufferPool:        s.bp.Stats(),
		PagesFlushed:      s.cleaner.Flushed(),
		PagesEvicted:      s.lru.Evicted(),
		MasterActiveLoops: s.activeLoops.Load(),
		MasterIdleLoops:   s.idleLoops.Load(),
		Threads:           s.reg.Threads(),
	}
}
