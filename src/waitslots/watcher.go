package waitslots

import (
	"time"

	"github.com/Blackdeer1524/enginecore/src/event"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

// Watcher returns the body of the lock-wait timeout thread. It scans the
// table every interval until shutdown reaches the cleanup phase; wake cuts
// the current sleep short.
func (t *Table) Watcher(interval time.Duration, wake *event.Event) threads.Entry {
	return func(h *threads.Handle) error {
		for !h.ShutdownRequested(threads.PhaseCleanup) {
			sig := wake.Reset()
			if h.ShutdownRequested(threads.PhaseCleanup) {
				break
			}

			wake.WaitTimeout(interval, sig)
			t.Scan()
		}

		h.SetDraining()
		t.Scan()

		return nil
	}
}
