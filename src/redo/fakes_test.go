package redo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/enginecore/src/backoff"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

type memStorage struct {
	mu       sync.Mutex
	data     []byte
	syncs    int
	gate     chan struct{}
	writeErr error
}

func (s *memStorage) WriteAt(p []byte, off int64) (int, error) {
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}

	if end := int(off) + len(p); end > len(s.data) {
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}

	return copy(s.data[off:], p), nil
}

func (s *memStorage) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncs++

	return nil
}

func (s *memStorage) bytes(from, to common.LSN) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(to) > len(s.data) {
		return nil
	}

	return append([]byte(nil), s.data[from:to]...)
}

type memCheckpoints struct {
	mu    sync.Mutex
	saved []common.LSN
}

func (c *memCheckpoints) SaveCheckpoint(lsn common.LSN) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.saved = append(c.saved, lsn)

	return nil
}

func (c *memCheckpoints) LoadCheckpoint() (common.LSN, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.saved) == 0 {
		return common.NilLSN, nil
	}

	return c.saved[len(c.saved)-1], nil
}

type fakeDirtyPages struct {
	mu     sync.Mutex
	oldest optional.Optional[common.LSN]
}

func (d *fakeDirtyPages) set(o optional.Optional[common.LSN]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.oldest = o
}

func (d *fakeDirtyPages) OldestDirtyLSN() optional.Optional[common.LSN] {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.oldest
}

func testConfig() Config {
	policy := backoff.Policy{SpinIterations: 4, Timeout: 5 * time.Millisecond}

	return Config{
		BufferSize:      4096,
		RecentSlots:     16,
		RecentSlotSize:  64,
		WriteEvents:     64,
		FlushEvents:     64,
		NotifyGranule:   16,
		Writer:          policy,
		Flusher:         policy,
		Notifier:        policy,
		Closer:          policy,
		UserWait:        policy,
		CheckpointEvery: 20 * time.Millisecond,
	}
}

type harness struct {
	log         *Log
	reg         *threads.Registry
	storage     *memStorage
	checkpoints *memCheckpoints
	dirty       *fakeDirtyPages
}

func newHarness(t *testing.T, cfg Config, storage *memStorage) *harness {
	t.Helper()

	reg, err := threads.NewRegistry(zap.NewNop().Sugar(), threads.Config{
		PurgeThreads: 1,
		PageCleaners: 1,
		LRUManagers:  1,
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	h := &harness{
		reg:         reg,
		storage:     storage,
		checkpoints: &memCheckpoints{},
		dirty:       &fakeDirtyPages{},
	}

	h.log, err = New(cfg, Deps{
		Storage:     storage,
		Checkpoints: h.checkpoints,
		DirtyPages:  h.dirty,
		Logger:      zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	return h
}

func startHarness(t *testing.T, cfg Config, storage *memStorage) *harness {
	t.Helper()

	h := newHarness(t, cfg, storage)
	require.NoError(t, h.log.Start(h.reg))

	return h
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()

	h.log.StopAccepting()
	require.NoError(t, h.reg.JoinAll(context.Background(), 5*time.Second))
}
