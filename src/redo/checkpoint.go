package redo

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

// DisableCheckpoints pauses periodic and requested checkpoints. Calls nest.
func (l *Log) DisableCheckpoints() {
	l.checkpointsDisabled.Add(1)
}

func (l *Log) EnableCheckpoints() {
	if l.checkpointsDisabled.Add(-1) < 0 {
		l.checkpointsDisabled.Store(0)
	}
}

func (l *Log) CheckpointsEnabled() bool {
	return l.checkpointsDisabled.Load() == 0
}

// RequestCheckpoint asks the checkpointer to run now instead of at the next
// interval.
func (l *Log) RequestCheckpoint() {
	l.checkpointRequested.Store(true)
	l.checkpointerEvent.Set()
}

// WaitForCheckpoint blocks until the last checkpoint reaches lsn.
func (l *Log) WaitForCheckpoint(ctx context.Context, lsn common.LSN) error {
	reached := func() bool { return l.lastCheckpoint.Load() >= lsn || l.failure.Load() != nil }

	for !reached() {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.checkpointDoneEvent.WaitUntil(l.cfg.UserWait.Timeout, reached)
	}

	if l.lastCheckpoint.Load() >= lsn {
		return nil
	}

	return l.Err()
}

func (l *Log) runCheckpointer(h *threads.Handle) error {
	for {
		if l.failure.Load() != nil {
			return nil
		}

		if l.stopping.Load() && l.Closed() >= l.Current() && l.Flushed() >= l.Current() {
			break
		}

		timeout := l.cfg.CheckpointEvery
		if l.stopping.Load() {
			timeout = min(timeout, l.cfg.Flusher.Timeout)
		}

		sig := l.checkpointerEvent.Reset()
		if !l.checkpointRequested.Load() {
			l.checkpointerEvent.WaitTimeout(timeout, sig)
		}

		if l.stopping.Load() {
			h.SetDraining()
			continue
		}

		l.checkpointRequested.Store(false)
		if !l.CheckpointsEnabled() {
			continue
		}

		if err := l.checkpoint(); err != nil {
			return l.fail(err)
		}
	}

	if err := l.checkpoint(); err != nil {
		return l.fail(err)
	}

	return nil
}

// checkpointTarget is the LSN up to which every change is both closed and
// applied to data pages.
func (l *Log) checkpointTarget() common.LSN {
	target := l.Closed()

	if l.dirty != nil {
		if oldest, ok := l.dirty.OldestDirtyLSN().Get(); ok {
			target = common.MinLSN(target, oldest)
		}
	}

	return target
}

func (l *Log) checkpoint() error {
	target := l.checkpointTarget()
	if target <= l.lastCheckpoint.Load() {
		return nil
	}

	if err := l.WaitForFlush(context.Background(), target); err != nil {
		return err
	}

	if err := l.checkpoints.SaveCheckpoint(target); err != nil {
		return errors.Wrap(err, "save checkpoint")
	}

	l.lastCheckpoint.Advance(target)
	l.nCheckpoints.Add(1)
	l.checkpointDoneEvent.Set()

	l.log.Debugw("checkpoint taken", "lsn", target, "age", uint64(l.Current()-target))

	return nil
}
