package redo

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
	"github.com/Blackdeer1524/enginecore/src/threads"
)

func TestLinkBufOutOfOrder(t *testing.T) {
	b := newLinkBuf(64, 0)

	b.add(5, 10)
	assert.False(t, b.hasNext())
	assert.False(t, b.advance())
	assert.Equal(t, common.LSN(0), b.tail.Load())

	b.add(0, 5)
	assert.True(t, b.advance())
	assert.Equal(t, common.LSN(10), b.tail.Load())

	assert.True(t, b.hasSpace(74))
	assert.False(t, b.hasSpace(75))
}

func TestLinkBufTailIsContiguousPrefix(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("tail covers exactly the completed prefix", prop.ForAll(
		func(sizes []int, seed int64) bool {
			b := newLinkBuf(4096, 0)

			type rng struct{ start, end common.LSN }
			ranges := make([]rng, 0, len(sizes))
			var lsn common.LSN
			for _, s := range sizes {
				ranges = append(ranges, rng{lsn, lsn + common.LSN(s)})
				lsn += common.LSN(s)
			}

			done := make(map[common.LSN]bool)
			order := rand.New(rand.NewSource(seed)).Perm(len(ranges))
			for _, i := range order {
				b.add(ranges[i].start, ranges[i].end)
				done[ranges[i].start] = true
				b.advance()

				var prefix common.LSN
				for _, r := range ranges {
					if !done[r.start] {
						break
					}
					prefix = r.end
				}

				if b.tail.Load() != prefix {
					return false
				}
			}

			return b.tail.Load() == lsn
		},
		gen.SliceOfN(32, gen.IntRange(1, 64)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.RecentSlots = 0
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Writer.Timeout = 0
	require.Error(t, cfg.Validate())

	assert.Equal(t, 1, cfg.SlotIndex(64))
	assert.Equal(t, 0, cfg.SlotIndex(16*64))
}

func TestReserveRejectsBadSizes(t *testing.T) {
	h := newHarness(t, testConfig(), &memStorage{})

	_, err := h.log.Reserve(0)
	require.ErrorIs(t, err, ErrEmptyRecord)

	_, err = h.log.Reserve(16*64 + 1)
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestConcurrentAppendsAreDurableInOrder(t *testing.T) {
	h := startHarness(t, testConfig(), &memStorage{})

	const (
		producers = 8
		records   = 64
	)

	type written struct {
		res  Reservation
		data []byte
	}

	var (
		mu  sync.Mutex
		all []written
		wg  sync.WaitGroup
	)

	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r := rand.New(rand.NewSource(int64(p)))
			for i := range records {
				data := bytes.Repeat([]byte{byte(p*records + i)}, 1+r.Intn(96))

				res, err := h.log.Reserve(len(data))
				if !assert.NoError(t, err) {
					return
				}
				h.log.Write(res, data)
				h.log.Retire(res)

				if i%8 == 0 {
					assert.NoError(t, h.log.WaitForFlush(context.Background(), res.End))
					assert.GreaterOrEqual(t, h.log.Flushed(), res.End)
				}

				mu.Lock()
				all = append(all, written{res, data})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	end := h.log.Current()
	require.NoError(t, h.log.WaitForWrite(context.Background(), end))
	h.shutdown(t)

	stats := h.log.Stats()
	assert.Equal(t, end, stats.Written)
	assert.Equal(t, end, stats.Flushed)
	assert.Equal(t, end, stats.Closed)
	assert.Equal(t, end, stats.ReadyForWrite)
	assert.Equal(t, uint64(producers*records), stats.WriteRequests)
	assert.Equal(t, uint64(end), stats.BytesWritten)
	assert.Positive(t, stats.Fsyncs)

	require.Len(t, all, producers*records)
	for _, w := range all {
		assert.Equal(t, w.data, h.storage.bytes(w.res.Start, w.res.End))
	}
}

func TestShutdownDrainsAcceptedRecords(t *testing.T) {
	storage := &memStorage{gate: make(chan struct{})}
	h := startHarness(t, testConfig(), storage)

	var last common.LSN
	for i := range 3 {
		end, err := h.log.Append(bytes.Repeat([]byte{byte(i + 1)}, 100))
		require.NoError(t, err)
		last = end
	}

	h.log.StopAccepting()
	assert.False(t, h.log.Accepting())

	_, err := h.log.Append([]byte("late"))
	require.ErrorIs(t, err, ErrLogClosed)

	close(storage.gate)
	require.NoError(t, h.reg.JoinAll(context.Background(), 5*time.Second))

	writer, ok := h.reg.Lookup(threads.RoleLogWriter)
	require.True(t, ok)
	assert.Equal(t, threads.StateStopped, writer.State())

	assert.Equal(t, last, h.log.Written())
	assert.Equal(t, last, h.log.Flushed())
	assert.Equal(t, bytes.Repeat([]byte{3}, 100), storage.bytes(200, 300))
}

func TestProducerBlocksOnFullRing(t *testing.T) {
	cfg := testConfig()
	cfg.RecentSlots = 2
	cfg.RecentSlotSize = 8
	cfg.BufferSize = 32

	h := startHarness(t, cfg, &memStorage{})
	defer h.shutdown(t)

	first, err := h.log.Reserve(10)
	require.NoError(t, err)

	reserved := make(chan Reservation)
	go func() {
		res, err := h.log.Reserve(10)
		assert.NoError(t, err)
		reserved <- res
	}()

	select {
	case <-reserved:
		t.Fatal("reservation overran the ring")
	case <-time.After(50 * time.Millisecond):
	}

	h.log.Write(first, make([]byte, 10))
	h.log.Retire(first)

	second := <-reserved
	assert.Equal(t, first.End, second.Start)
	h.log.Write(second, make([]byte, 10))
	h.log.Retire(second)

	assert.Equal(t, uint64(1), h.log.Stats().LogWaits)
}

func TestWriteFailureIsFatal(t *testing.T) {
	boom := errors.New("disk on fire")
	h := startHarness(t, testConfig(), &memStorage{writeErr: boom})

	end, err := h.log.Append([]byte("record"))
	require.NoError(t, err)

	select {
	case fatal := <-h.reg.Fatalities():
		require.ErrorIs(t, fatal, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("write failure was not reported")
	}

	err = h.log.WaitForFlush(context.Background(), end)
	require.ErrorIs(t, err, ErrLogFailed)
	require.ErrorIs(t, err, boom)

	h.log.StopAccepting()
	require.NoError(t, h.reg.JoinAll(context.Background(), 5*time.Second))
}

func TestReserveFailsAfterPipelineFailure(t *testing.T) {
	boom := errors.New("disk gone")
	storage := &memStorage{gate: make(chan struct{}), writeErr: boom}

	cfg := testConfig()
	cfg.BufferSize = 64
	h := startHarness(t, cfg, storage)

	_, err := h.log.Append(make([]byte, 60))
	require.NoError(t, err)

	reserved := make(chan error, 1)
	go func() {
		_, err := h.log.Reserve(10)
		reserved <- err
	}()

	select {
	case <-reserved:
		t.Fatal("reservation did not wait for buffer space")
	case <-time.After(50 * time.Millisecond):
	}

	close(storage.gate)

	select {
	case err := <-reserved:
		require.ErrorIs(t, err, ErrLogFailed)
		require.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting producer was not released by the failure")
	}

	_, err = h.log.Reserve(1)
	require.ErrorIs(t, err, ErrLogFailed)

	h.log.StopAccepting()
	require.NoError(t, h.reg.JoinAll(context.Background(), 5*time.Second))
}

func TestClosedAdvancesOverRetiredPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.RecentSlots = 8
	cfg.RecentSlotSize = 64

	h := startHarness(t, cfg, &memStorage{})
	defer h.shutdown(t)

	res := make([]Reservation, 10)
	for i := range res {
		r, err := h.log.Reserve(10)
		require.NoError(t, err)
		h.log.Write(r, bytes.Repeat([]byte{byte(i)}, 10))
		res[i] = r
	}
	require.Equal(t, common.LSN(100), h.log.Current())

	for i := 1; i < len(res); i += 2 {
		h.log.Retire(res[i])
	}
	assert.Never(t, func() bool {
		return h.log.Closed() > 0
	}, 50*time.Millisecond, 5*time.Millisecond)

	h.log.Retire(res[0])
	require.Eventually(t, func() bool {
		return h.log.Closed() == res[1].End
	}, 5*time.Second, time.Millisecond)
	assert.Never(t, func() bool {
		return h.log.Closed() > res[1].End
	}, 50*time.Millisecond, 5*time.Millisecond)

	for i := len(res) - 2; i >= 2; i -= 2 {
		h.log.Retire(res[i])
	}
	require.Eventually(t, func() bool {
		return h.log.Closed() == res[9].End
	}, 5*time.Second, time.Millisecond)
}

func TestWaitRespectsContext(t *testing.T) {
	h := newHarness(t, testConfig(), &memStorage{})

	_, err := h.log.Append([]byte("never written"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, h.log.WaitForWrite(ctx, h.log.Current()), context.DeadlineExceeded)
}

func TestNotifyRangeCoversGranules(t *testing.T) {
	h := newHarness(t, testConfig(), &memStorage{})
	evs := h.log.writeEvents

	h.log.notifyRange(evs, 0, 40)
	for i, ev := range evs {
		assert.Equal(t, i <= 2, ev.IsSet(), "event %d", i)
	}

	for _, ev := range evs {
		ev.Reset()
	}

	h.log.notifyRange(evs, 0, 16*1000)
	for _, ev := range evs {
		assert.True(t, ev.IsSet())
	}

	assert.Equal(t, 2, h.log.eventIndex(40, len(evs)))
	assert.Equal(t, 0, h.log.eventIndex(16, len(evs)))
}

func TestCheckpointFollowsOldestDirtyPage(t *testing.T) {
	h := startHarness(t, testConfig(), &memStorage{})
	defer h.shutdown(t)

	h.dirty.set(optional.Some[common.LSN](50))

	end, err := h.log.Append(make([]byte, 200))
	require.NoError(t, err)

	h.log.RequestCheckpoint()
	require.NoError(t, h.log.WaitForCheckpoint(context.Background(), 50))
	assert.Equal(t, common.LSN(50), h.log.LastCheckpoint())

	h.dirty.set(optional.Some[common.LSN](20))
	h.log.RequestCheckpoint()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, common.LSN(50), h.log.LastCheckpoint())

	h.dirty.set(optional.None[common.LSN]())
	require.NoError(t, h.log.WaitForCheckpoint(context.Background(), end))
	assert.Equal(t, end, h.log.LastCheckpoint())
}

func TestDisabledCheckpoints(t *testing.T) {
	h := startHarness(t, testConfig(), &memStorage{})

	h.log.DisableCheckpoints()

	end, err := h.log.Append(make([]byte, 64))
	require.NoError(t, err)

	h.log.RequestCheckpoint()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, common.NilLSN, h.log.LastCheckpoint())

	h.log.EnableCheckpoints()
	require.NoError(t, h.log.WaitForCheckpoint(context.Background(), end))

	h.shutdown(t)
	assert.Equal(t, end, h.log.LastCheckpoint())
}

func TestFinalCheckpointOnShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.CheckpointEvery = time.Hour

	h := startHarness(t, cfg, &memStorage{})

	end, err := h.log.Append(make([]byte, 128))
	require.NoError(t, err)

	h.shutdown(t)

	assert.Equal(t, end, h.log.LastCheckpoint())
	lsn, err := h.checkpoints.LoadCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, end, lsn)
}
