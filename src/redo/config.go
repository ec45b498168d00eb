package redo

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src/backoff"
)

type Config struct {
	// BufferSize is the size of the in-memory log buffer in bytes.
	BufferSize int
	// RecentSlots and RecentSlotSize shape the recent-written and
	// recent-closed rings: at most RecentSlots*RecentSlotSize bytes of
	// reserved but not yet written (or closed) log may be outstanding.
	RecentSlots    int
	RecentSlotSize int

	WriteEvents   int
	FlushEvents   int
	NotifyGranule uint64

	Writer   backoff.Policy
	Flusher  backoff.Policy
	Notifier backoff.Policy
	Closer   backoff.Policy
	UserWait backoff.Policy

	CheckpointEvery time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:      16 << 20,
		RecentSlots:     1024,
		RecentSlotSize:  1024,
		WriteEvents:     2048,
		FlushEvents:     2048,
		NotifyGranule:   512,
		Writer:          backoff.Policy{SpinIterations: 64, Timeout: 10 * time.Millisecond},
		Flusher:         backoff.Policy{SpinIterations: 64, Timeout: 10 * time.Millisecond},
		Notifier:        backoff.Policy{SpinIterations: 32, Timeout: 10 * time.Millisecond},
		Closer:          backoff.Policy{SpinIterations: 32, Timeout: 10 * time.Millisecond},
		UserWait:        backoff.Policy{SpinIterations: 16, Timeout: 10 * time.Millisecond},
		CheckpointEvery: time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.BufferSize <= 0:
		return errors.Errorf("log buffer size must be positive, got %d", c.BufferSize)
	case c.RecentSlots <= 0 || c.RecentSlotSize <= 0:
		return errors.Errorf("recent ring shape must be positive, got %dx%d", c.RecentSlots, c.RecentSlotSize)
	case c.WriteEvents <= 0 || c.FlushEvents <= 0:
		return errors.Errorf("event counts must be positive, got %d/%d", c.WriteEvents, c.FlushEvents)
	case c.NotifyGranule == 0:
		return errors.New("notify granule must be positive")
	case c.Writer.Timeout <= 0 || c.Flusher.Timeout <= 0 || c.Notifier.Timeout <= 0 ||
		c.Closer.Timeout <= 0 || c.UserWait.Timeout <= 0:
		return errors.New("role timeouts must be positive")
	case c.CheckpointEvery <= 0:
		return errors.Errorf("checkpoint interval must be positive, got %s", c.CheckpointEvery)
	}

	return nil
}

func (c Config) ringCapacity() uint64 {
	return uint64(c.RecentSlots) * uint64(c.RecentSlotSize)
}

// SlotIndex maps an LSN to its slot in the recent rings.
func (c Config) SlotIndex(lsn uint64) int {
	return int((lsn / uint64(c.RecentSlotSize)) % uint64(c.RecentSlots))
}
