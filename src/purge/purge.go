package purge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/utils"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

type TxnID uint64

// UndoRecord describes an old row version that no reader can see any more.
type UndoRecord struct {
	TxnID TxnID
	Page  common.PageIdentity
	LSN   common.LSN
}

// VersionStore removes old versions from the data pages.
type VersionStore interface {
	Purge(ctx context.Context, records []UndoRecord) error
}

type Config struct {
	Pool      workerpool.Config
	BatchSize int
}

type Stats struct {
	HistoryLength int
	Handled       uint64
	Pool          workerpool.Stats
}

// System owns the history list of committed undo records and hands it to
// the purge pool in batches.
type System struct {
	pool      *workerpool.Pool[[]UndoRecord]
	reg       *threads.Registry
	store     VersionStore
	batchSize int
	log       src.Logger

	mu      sync.Mutex
	history []UndoRecord

	handled atomic.Uint64
}

func New(
	cfg Config,
	reg *threads.Registry,
	slots *waitslots.Table,
	store VersionStore,
	log src.Logger,
) *System {
	cfg.Pool.Pool = threads.PoolPurge

	s := &System{
		reg:       reg,
		store:     store,
		batchSize: max(cfg.BatchSize, 1),
		log:       log,
	}
	s.pool = workerpool.New(cfg.Pool, reg, slots, s.purge, log)

	return s
}

func (s *System) Start(ctx context.Context) error {
	return s.pool.Start(ctx)
}

// AddToHistory appends records of a committed transaction to the history
// list.
func (s *System) AddToHistory(records ...UndoRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, records...)
}

func (s *System) HistoryLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.history)
}

// Schedule moves the whole history list into the pool as batches of at most
// BatchSize records and returns the number of batches submitted. A batch the
// store fails to purge goes back to the history list.
func (s *System) Schedule() (int, error) {
	s.mu.Lock()
	history := s.history
	s.history = nil
	s.mu.Unlock()

	batches := utils.Chunk(history, s.batchSize)
	for i, batch := range batches {
		if _, err := s.pool.Submit(batch); err != nil {
			s.requeue(batches[i:])
			return i, errors.Wrap(err, "submit purge batch")
		}
	}

	return len(batches), nil
}

func (s *System) requeue(batches [][]UndoRecord) {
	var rest []UndoRecord
	for _, b := range batches {
		rest = append(rest, b...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(rest, s.history...)
}

// WakeIfNotActive schedules pending history and wakes the coordinator when
// it is suspended. It reports whether the coordinator was woken.
func (s *System) WakeIfNotActive() bool {
	if _, err := s.Schedule(); err != nil {
		s.log.Debugw("purge not scheduled", "error", err)
		return false
	}

	return s.pool.WakeupIfIdle()
}

// Active reports whether any purge thread is running.
func (s *System) Active() bool {
	return s.reg.PoolActive(threads.PoolPurge)
}

// Stop hands the remaining history to the pool and closes it. The threads
// exit once every batch is purged.
func (s *System) Stop() error {
	_, err := s.Schedule()
	s.pool.Stop()

	return err
}

func (s *System) Join(ctx context.Context) error {
	return s.pool.Join(ctx)
}

func (s *System) Stats() Stats {
	return Stats{
		HistoryLength: s.HistoryLength(),
		Handled:       s.handled.Load(),
		Pool:          s.pool.Stats(),
	}
}

func (s *System) purge(ctx context.Context, _ int, records []UndoRecord) error {
	if err := s.store.Purge(ctx, records); err != nil {
		s.requeue([][]UndoRecord{records})
		return errors.Wrapf(err, "purge %d records", len(records))
	}

	s.handled.Add(uint64(len(records)))

	return nil
}

// DiscardStore is the VersionStore of an engine without a versioned row
// layer: purged records have nothing left to remove.
type DiscardStore struct{}

func (DiscardStore) Purge(context.Context, []UndoRecord) error {
	return nil
}
