package purge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/threads"
	"github.com/Blackdeer1524/enginecore/src/waitslots"
	"github.com/Blackdeer1524/enginecore/src/workerpool"
)

type recordingStore struct {
	mu      sync.Mutex
	batches [][]UndoRecord
	fail    error
}

func (s *recordingStore) Purge(_ context.Context, records []UndoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}

	s.batches = append(s.batches, records)

	return nil
}

func (s *recordingStore) purged() map[TxnID]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[TxnID]int)
	for _, b := range s.batches {
		for _, r := range b {
			res[r.TxnID]++
		}
	}

	return res
}

func newSystem(t *testing.T, store VersionStore) *System {
	t.Helper()

	reg, err := threads.NewRegistry(zap.NewNop().Sugar(), threads.Config{
		PurgeThreads: 3,
		PageCleaners: 1,
		LRUManagers:  1,
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	slots := waitslots.New(8, nil)
	reg.SetReleaser(slots)

	return New(Config{
		Pool:      workerpool.Config{IdleTimeout: time.Second},
		BatchSize: 4,
	}, reg, slots, store, zap.NewNop().Sugar())
}

func records(from, to int) []UndoRecord {
	res := make([]UndoRecord, 0, to-from)
	for i := from; i < to; i++ {
		res = append(res, UndoRecord{
			TxnID: TxnID(i),
			Page:  common.PageIdentity{FileID: 1, PageID: common.PageID(i % 3)},
			LSN:   common.LSN(i * 10),
		})
	}

	return res
}

func TestScheduleSplitsHistoryIntoBatches(t *testing.T) {
	store := &recordingStore{}
	s := newSystem(t, store)
	require.NoError(t, s.Start(context.Background()))

	s.AddToHistory(records(0, 6)...)
	s.AddToHistory(records(6, 10)...)
	assert.Equal(t, 10, s.HistoryLength())

	n, err := s.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, s.HistoryLength())

	require.Eventually(t, func() bool {
		return s.Stats().Handled == 10
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Join(context.Background()))

	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), 4)
	}

	purged := store.purged()
	require.Len(t, purged, 10)
	for txn, n := range purged {
		assert.Equal(t, 1, n, "txn %d", txn)
	}
	assert.False(t, s.Active())
}

func TestStopPurgesRemainingHistory(t *testing.T) {
	store := &recordingStore{}
	s := newSystem(t, store)
	require.NoError(t, s.Start(context.Background()))

	s.AddToHistory(records(0, 7)...)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Join(context.Background()))

	assert.Len(t, store.purged(), 7)
	assert.Equal(t, uint64(7), s.Stats().Handled)

	_, err := s.Schedule()
	require.NoError(t, err)

	s.AddToHistory(records(7, 8)...)
	_, err = s.Schedule()
	require.ErrorIs(t, err, workerpool.ErrPoolStopped)
	assert.Equal(t, 1, s.HistoryLength())
}

func TestWakeIfNotActive(t *testing.T) {
	store := &recordingStore{}
	s := newSystem(t, store)
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		require.NoError(t, s.Stop())
		require.NoError(t, s.Join(context.Background()))
	}()

	assert.True(t, s.Active())

	require.Eventually(t, func() bool {
		return s.WakeIfNotActive()
	}, 5*time.Second, time.Millisecond)
}

func TestPurgeFailureDoesNotCountRecords(t *testing.T) {
	store := &recordingStore{fail: errors.New("version chain broken")}
	s := newSystem(t, store)
	require.NoError(t, s.Start(context.Background()))

	s.AddToHistory(records(0, 3)...)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Join(context.Background()))

	stats := s.Stats()
	assert.Equal(t, uint64(0), stats.Handled)
	assert.Equal(t, uint64(1), stats.Pool.Failed)
	assert.Equal(t, 3, stats.HistoryLength)
}

func TestFailedBatchIsRetried(t *testing.T) {
	store := &recordingStore{fail: errors.New("page latched")}
	s := newSystem(t, store)
	require.NoError(t, s.Start(context.Background()))

	s.AddToHistory(records(0, 3)...)
	n, err := s.Schedule()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		return s.Stats().Pool.Failed == 1 && s.HistoryLength() == 3
	}, 5*time.Second, time.Millisecond)

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()

	_, err = s.Schedule()
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Join(context.Background()))

	assert.Equal(t, map[TxnID]int{0: 1, 1: 1, 2: 1}, store.purged())
	assert.Equal(t, uint64(3), s.Stats().Handled)
	assert.Zero(t, s.HistoryLength())
}
