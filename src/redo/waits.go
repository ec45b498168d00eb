package redo

import (
	"context"

	"github.com/Blackdeer1524/enginecore/src/backoff"
	"github.com/Blackdeer1524/enginecore/src/event"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

// WaitForWrite blocks until the stream is written to storage up to lsn.
func (l *Log) WaitForWrite(ctx context.Context, lsn common.LSN) error {
	return l.waitFor(ctx, lsn, &l.written, l.writeEvents)
}

// WaitForFlush blocks until the stream is durable up to lsn.
func (l *Log) WaitForFlush(ctx context.Context, lsn common.LSN) error {
	return l.waitFor(ctx, lsn, &l.flushed, l.flushEvents)
}

func (l *Log) waitFor(
	ctx context.Context,
	lsn common.LSN,
	boundary *common.AtomicLSN,
	events []*event.Event,
) error {
	reached := func() bool { return boundary.Load() >= lsn || l.failure.Load() != nil }
	if boundary.Load() >= lsn {
		return nil
	}

	ev := events[l.eventIndex(lsn, len(events))]
	w := backoff.NewWaiter(l.cfg.UserWait)

	for !reached() {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.Pause(ev, reached)
	}

	if boundary.Load() >= lsn {
		return nil
	}

	return l.Err()
}

// eventIndex picks the event of the granule holding the last byte before
// lsn.
func (l *Log) eventIndex(lsn common.LSN, n int) int {
	block := uint64(lsn-1) / l.cfg.NotifyGranule
	return int(block % uint64(n))
}

// notifyRange posts the events of every granule in (from, to]. At most one
// pass over the event array is needed.
func (l *Log) notifyRange(events []*event.Event, from, to common.LSN) {
	g := l.cfg.NotifyGranule
	first := uint64(from) / g
	last := uint64(to-1) / g

	n := uint64(len(events))
	if last-first+1 >= n {
		for _, ev := range events {
			ev.Set()
		}
		return
	}

	for b := first; b <= last; b++ {
		events[b%n].Set()
	}
}
