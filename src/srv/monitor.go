package srv

import (
	"github.com/Blackdeer1524/enginecore/src/threads"
)

func (s *Server) runMonitor(h *threads.Handle) error {
	for !h.ShutdownRequested(threads.PhaseCleanup) {
		sig := s.monitorWake.Reset()
		if h.ShutdownRequested(threads.PhaseCleanup) {
			break
		}

		s.monitorWake.WaitTimeout(s.cfg.MonitorInterval, sig)
		if h.ShutdownRequested(threads.PhaseCleanup) {
			break
		}

		s.report()
	}

	h.SetDraining()

	return nil
}

func (s *Server) report() {
	s.log.Infow("engine status", s.Snapshot().LogFields()...)

	if s.cfg.LongWaitWarning <= 0 {
		return
	}

	for _, w := range s.slots.LongWaits(s.cfg.LongWaitWarning) {
		s.log.Warnw("long semaphore wait",
			"slot", w.Slot,
			"thread_type", w.Type.String(),
			"waited", w.Waited,
		)
	}
}
