package redo

import (
	"io"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src/backoff"
	"github.com/Blackdeer1524/enginecore/src/event"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

// Start launches the pipeline roles in the registry.
func (l *Log) Start(reg *threads.Registry) error {
	roles := []struct {
		role  threads.Role
		entry threads.Entry
	}{
		{threads.RoleLogWriter, l.runWriter},
		{threads.RoleLogFlusher, l.runFlusher},
		{threads.RoleLogWriteNotifier, l.notifier(l.writeNotifier, l.writeNotifierEvent, &l.written, &l.notifiedWrite, l.writeEvents)},
		{threads.RoleLogFlushNotifier, l.notifier(l.flushNotifier, l.flushNotifierEvent, &l.flushed, &l.notifiedFlush, l.flushEvents)},
		{threads.RoleLogCloser, l.runCloser},
		{threads.RoleLogCheckpointer, l.runCheckpointer},
	}

	for _, r := range roles {
		if _, err := reg.Start(r.role, r.entry); err != nil {
			return errors.Wrapf(err, "start %s", r.role)
		}
	}

	return nil
}

func (l *Log) runWriter(h *threads.Handle) error {
	for {
		l.recentWritten.advance()

		ready := l.recentWritten.tail.Load()
		written := l.written.Load()

		if ready > written {
			l.writer.Progress()

			if err := l.writeOut(written, ready); err != nil {
				return l.fail(errors.Wrap(err, "write redo"))
			}

			continue
		}

		if l.drained(written) {
			break
		}

		if l.stopping.Load() {
			h.SetDraining()
			l.writer.SetDraining()
		}

		l.writer.Pause(l.writerEvent, l.recentWritten.hasNext)
	}

	return nil
}

// writeOut copies [from, to) of the log buffer to storage. The range may
// wrap around the end of the buffer.
func (l *Log) writeOut(from, to common.LSN) error {
	size := uint64(len(l.buf))

	for from < to {
		off := uint64(from) % size
		end := min(off+uint64(to-from), size)
		chunk := l.buf[off:end]

		n, err := l.storage.WriteAt(chunk, int64(from))
		if err != nil {
			return err
		}

		if n != len(chunk) {
			return io.ErrShortWrite
		}

		l.writes.Add(1)
		l.bytesWritten.Add(uint64(n))

		from += common.LSN(n)
		l.written.Advance(from)
	}

	l.flusherEvent.Set()
	l.writeNotifierEvent.Set()
	l.spaceEvent.Set()

	return nil
}

func (l *Log) runFlusher(h *threads.Handle) error {
	hasWork := func() bool { return l.written.Load() > l.flushed.Load() }

	for {
		written := l.written.Load()
		flushed := l.flushed.Load()

		if written > flushed {
			l.flusher.Progress()

			if err := l.storage.Sync(); err != nil {
				return l.fail(errors.Wrap(err, "sync redo"))
			}

			l.fsyncs.Add(1)
			l.flushed.Advance(written)
			l.flushNotifierEvent.Set()

			continue
		}

		if l.drained(flushed) {
			break
		}

		if l.stopping.Load() {
			h.SetDraining()
			l.flusher.SetDraining()
		}

		l.flusher.Pause(l.flusherEvent, hasWork)
	}

	return nil
}

func (l *Log) notifier(
	w *backoff.Waiter,
	wake *event.Event,
	boundary *common.AtomicLSN,
	notified *common.AtomicLSN,
	events []*event.Event,
) threads.Entry {
	hasWork := func() bool { return boundary.Load() > notified.Load() }

	return func(h *threads.Handle) error {
		for {
			upTo := boundary.Load()
			last := notified.Load()

			if upTo > last {
				w.Progress()
				l.notifyRange(events, last, upTo)
				notified.Advance(upTo)

				continue
			}

			if l.drained(last) {
				break
			}

			if l.stopping.Load() {
				h.SetDraining()
				w.SetDraining()
			}

			w.Pause(wake, hasWork)
		}

		return nil
	}
}

func (l *Log) runCloser(h *threads.Handle) error {
	for {
		if l.recentClosed.advance() {
			l.closer.Progress()
			l.spaceEvent.Set()

			continue
		}

		if l.drained(l.recentClosed.tail.Load()) {
			break
		}

		if l.stopping.Load() {
			h.SetDraining()
			l.closer.SetDraining()
		}

		l.closer.Pause(l.closerEvent, l.recentClosed.hasNext)
	}

	return nil
}
