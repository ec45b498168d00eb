package srv

import (
	"context"

	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
)

// runMaster wakes once per MasterInterval, or earlier when released with
// TypeMaster. A round is active when the activity counter moved since the
// previous one and idle otherwise.
func (s *Server) runMaster(h *threads.Handle) error {
	last, lastMerge := s.activity.Get(), s.activity.GetMerge()

	for !h.ShutdownRequested(threads.PhaseCleanup) {
		s.masterSleep(h)
		if h.ShutdownRequested(threads.PhaseCleanup) {
			break
		}

		cur, curMerge := s.activity.Get(), s.activity.GetMerge()
		if s.activity.CheckIgnoringMerge(last, lastMerge) {
			s.activeRound()
		} else {
			s.idleRound()
		}
		last, lastMerge = cur, curMerge
	}

	h.SetDraining()

	return nil
}

func (s *Server) masterSleep(h *threads.Handle) {
	tk, err := s.slots.Reserve(threads.TypeMaster, s.cfg.MasterInterval)
	if err != nil {
		s.log.Warnw("master sleeps outside the wait-slot table", "error", err)
		s.clk.Sleep(s.cfg.MasterInterval)
		return
	}

	s.masterMu.Lock()
	s.masterTicket = optional.Some(tk)
	s.masterMu.Unlock()

	defer func() {
		s.masterMu.Lock()
		s.masterTicket = optional.None[waitslots.Ticket]()
		s.masterMu.Unlock()
	}()

	if h.ShutdownRequested(threads.PhaseCleanup) {
		s.slots.Cancel(tk)
		return
	}

	s.slots.Wait(context.Background(), tk)
}

// activeRound keeps enough free frames for foreground reads and lets purge
// catch up with the history list.
func (s *Server) activeRound() {
	s.activeLoops.Add(1)

	if s.bp.FreeFrames() < s.cfg.LRUFreeTarget {
		if _, err := s.lru.Refill(s.cfg.LRUFreeTarget); err != nil {
			s.log.Warnw("lru refill not submitted", "error", err)
		}
	}

	s.purge.WakeIfNotActive()
}

// idleRound uses the quiet time to write back the oldest dirty pages.
func (s *Server) idleRound() {
	s.idleLoops.Add(1)

	if _, err := s.cleaner.Round(s.reg.PoolSize(threads.PoolPageCleaner)); err != nil {
		s.log.Warnw("page cleaner round not submitted", "error", err)
	}

	s.purge.WakeIfNotActive()
}
