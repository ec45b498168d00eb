package pagecleaner

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/bufferpool"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/utils"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

type BufferPool interface {
	DirtyPages(limit int) []bufferpool.DirtyPage
	FlushPage(ctx context.Context, pIdent common.PageIdentity) error
	Evict(ctx context.Context, n int) (int, error)
	FreeFrames() int
}

type WAL interface {
	WaitForFlush(ctx context.Context, lsn common.LSN) error
}

type Config struct {
	Pool      workerpool.Config
	BatchSize int
}

// Cleaner flushes the oldest dirty pages in the background. A round takes
// up to BatchSize pages and spreads them over the pool threads.
type Cleaner struct {
	*workerpool.Pool[[]bufferpool.DirtyPage]

	bp        BufferPool
	wal       WAL
	batchSize int
	log       src.Logger

	flushed atomic.Uint64
	rounds  atomic.Uint64
}

func NewCleaner(
	cfg Config,
	reg *threads.Registry,
	slots *waitslots.Table,
	bp BufferPool,
	wal WAL,
	log src.Logger,
) *Cleaner {
	cfg.Pool.Pool = threads.PoolPageCleaner

	c := &Cleaner{
		bp:        bp,
		wal:       wal,
		batchSize: max(cfg.BatchSize, 1),
		log:       log,
	}
	c.Pool = workerpool.New(cfg.Pool, reg, slots, c.flush, log)

	return c
}

// Round submits one cleaning round and returns the pending batches. It
// returns nothing when no page is dirty.
func (c *Cleaner) Round(threadCount int) ([]*workerpool.Pending, error) {
	pages := c.bp.DirtyPages(c.batchSize)
	if len(pages) == 0 {
		return nil, nil
	}

	c.rounds.Add(1)

	parts := utils.Chunk(pages, utils.CeilDiv(len(pages), max(threadCount, 1)))
	pendings := make([]*workerpool.Pending, 0, len(parts))
	for _, part := range parts {
		p, err := c.Submit(part)
		if err != nil {
			return pendings, err
		}
		pendings = append(pendings, p)
	}

	return pendings, nil
}

func (c *Cleaner) flush(ctx context.Context, worker int, pages []bufferpool.DirtyPage) error {
	var firstErr error

	for _, p := range pages {
		err := c.wal.WaitForFlush(ctx, p.PageLSN)
		if err == nil {
			err = c.bp.FlushPage(ctx, p.PageIdent)
		}

		if errors.Is(err, bufferpool.ErrNoSuchPage) {
			continue
		}

		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "flush page %s", p.PageIdent)
			}
			continue
		}

		c.flushed.Add(1)
	}

	return firstErr
}

func (c *Cleaner) Flushed() uint64 {
	return c.flushed.Load()
}

func (c *Cleaner) Rounds() uint64 {
	return c.rounds.Load()
}
