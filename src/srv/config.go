package srv

import (
	"time"

	"github.com/Blackdeer1524/enginecore/src/backoff"
	"github.com/Blackdeer1524/enginecore/src/cfg"
	"github.com/Blackdeer1524/enginecore/src/pagecleaner"
	"github.com/Blackdeer1524/enginecore/src/purge"
	"github.com/Blackdeer1524/enginecore/src/redo"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

type Config struct {
	Redo    redo.Config
	Threads threads.Config

	WaitSlots            int
	LockWaitTimeout      time.Duration
	LockWaitScanInterval time.Duration

	Purge   purge.Config
	Cleaner pagecleaner.Config
	LRU     pagecleaner.Config
	// LRUFreeTarget is the number of free frames the master keeps the
	// buffer pool at during active rounds.
	LRUFreeTarget int

	MasterInterval  time.Duration
	MonitorInterval time.Duration
	LongWaitWarning time.Duration
	ShutdownGrace   time.Duration
}

func ConfigFrom(c cfg.EngineConfig) Config {
	pool := workerpool.Config{IdleTimeout: c.PoolIdleTimeout}

	return Config{
		Redo: redo.Config{
			BufferSize:      c.LogBufferSize,
			RecentSlots:     c.LogRecentSlots,
			RecentSlotSize:  c.LogRecentSlotSize,
			WriteEvents:     c.LogWriteEvents,
			FlushEvents:     c.LogFlushEvents,
			NotifyGranule:   c.LogNotifyGranule,
			Writer:          backoff.Policy{SpinIterations: c.LogWriterSpin, Timeout: c.LogWriterTimeout},
			Flusher:         backoff.Policy{SpinIterations: c.LogFlusherSpin, Timeout: c.LogFlusherTimeout},
			Notifier:        backoff.Policy{SpinIterations: c.LogNotifierSpin, Timeout: c.LogNotifierTimeout},
			Closer:          backoff.Policy{SpinIterations: c.LogCloserSpin, Timeout: c.LogCloserTimeout},
			UserWait:        backoff.Policy{SpinIterations: c.LogWaitSpin, Timeout: c.LogWaitTimeout},
			CheckpointEvery: c.CheckpointEvery,
		},
		Threads: threads.Config{
			PurgeThreads: c.PurgeThreads,
			PageCleaners: c.PageCleaners,
			LRUManagers:  c.LRUManagers,
		},
		WaitSlots:            c.WaitSlots,
		LockWaitTimeout:      c.LockWaitTimeout,
		LockWaitScanInterval: c.LockWaitScanInterval,
		Purge:                purge.Config{Pool: pool, BatchSize: c.PurgeBatchSize},
		Cleaner:              pagecleaner.Config{Pool: pool, BatchSize: c.PageCleanerBatch},
		LRU:                  pagecleaner.Config{Pool: pool, BatchSize: c.LRUBatch},
		LRUFreeTarget:        c.LRUFreeTarget,
		MasterInterval:       c.MasterInterval,
		MonitorInterval:      c.MonitorInterval,
		LongWaitWarning:      c.LongWaitWarning,
		ShutdownGrace:        c.ShutdownGrace,
	}
}
