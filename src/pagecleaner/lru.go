package pagecleaner

import (
	"context"
	"sync/atomic"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

// LRUManager keeps a reserve of free frames by evicting least recently used
// pages. A batch is the number of frames to free.
type LRUManager struct {
	*workerpool.Pool[int]

	bp        BufferPool
	batchSize int

	evicted atomic.Uint64
}

func NewLRUManager(
	cfg Config,
	reg *threads.Registry,
	slots *waitslots.Table,
	bp BufferPool,
	log src.Logger,
) *LRUManager {
	cfg.Pool.Pool = threads.PoolLRU

	m := &LRUManager{bp: bp, batchSize: max(cfg.BatchSize, 1)}
	m.Pool = workerpool.New(cfg.Pool, reg, slots, m.evict, log)

	return m
}

// Refill submits eviction batches until target free frames would be
// reached. It returns nothing when the pool already has enough.
func (m *LRUManager) Refill(target int) ([]*workerpool.Pending, error) {
	missing := target - m.bp.FreeFrames()
	if missing <= 0 {
		return nil, nil
	}

	var pendings []*workerpool.Pending
	for missing > 0 {
		n := min(missing, m.batchSize)

		p, err := m.Submit(n)
		if err != nil {
			return pendings, err
		}
		pendings = append(pendings, p)

		missing -= n
	}

	return pendings, nil
}

func (m *LRUManager) evict(ctx context.Context, _ int, n int) error {
	freed, err := m.bp.Evict(ctx, n)
	m.evicted.Add(uint64(freed))

	return err
}

func (m *LRUManager) Evicted() uint64 {
	return m.evicted.Load()
}
