package telemetry

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Blackdeer1524/enginecore/src/bufferpool"
	"github.com/Blackdeer1524/enginecore/src/purge"
	"github.com/Blackdeer1524/enginecore/src/redo"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

// Snapshot is a point-in-time copy of the engine counters.
type Snapshot struct {
	Taken time.Time
	Phase threads.Phase

	Activity uint64

	Redo       redo.Stats
	Waits      waitslots.Stats
	Purge      purge.Stats
	Cleaner    workerpool.Stats
	LRU        workerpool.Stats
	BufferPool bufferpool.Stats

	PagesFlushed uint64
	PagesEvicted uint64

	MasterActiveLoops uint64
	MasterIdleLoops   uint64

	Threads []threads.Info
}

type Source interface {
	Snapshot() Snapshot
}

func (s Snapshot) ThreadsIn(state threads.State) int {
	n := 0
	for _, t := range s.Threads {
		if t.State == state {
			n++
		}
	}

	return n
}

// LogFields renders the snapshot as zap key-value pairs.
func (s Snapshot) LogFields() []any {
	return []any{
		"phase", s.Phase.String(),
		"lsn_current", uint64(s.Redo.Current),
		"lsn_flushed", uint64(s.Redo.Flushed),
		"last_checkpoint", uint64(s.Redo.LastCheckpoint),
		"checkpoint_age", humanize.IBytes(s.Redo.CheckpointAge()),
		"log_written", humanize.IBytes(s.Redo.BytesWritten),
		"log_write_requests", humanize.Comma(int64(s.Redo.WriteRequests)),
		"log_fsyncs", s.Redo.Fsyncs,
		"log_waits", s.Redo.LogWaits,
		"row_lock_waits", s.Waits.Waits,
		"row_lock_current_waits", s.Waits.CurrentWaits,
		"row_lock_time_avg", s.Waits.AvgWait(),
		"row_lock_time_max", s.Waits.MaxWait,
		"purge_history", s.Purge.HistoryLength,
		"purge_handled", s.Purge.Handled,
		"pages_flushed", s.PagesFlushed,
		"pages_evicted", s.PagesEvicted,
		"buffer_pool_free", s.BufferPool.Free,
		"buffer_pool_dirty", s.BufferPool.Dirty,
		"master_active_loops", s.MasterActiveLoops,
		"master_idle_loops", s.MasterIdleLoops,
		"threads_running", s.ThreadsIn(threads.StateRunning) + s.ThreadsIn(threads.StateDraining),
	}
}
