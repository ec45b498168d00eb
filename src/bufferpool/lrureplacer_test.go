package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUReplacerBasic(t *testing.T) {
	r := NewLRUReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)

	assert.Equal(t, uint64(3), r.GetSize())

	r.Pin(2)
	assert.Equal(t, uint64(2), r.GetSize())

	victim, err := r.ChooseVictim()
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), victim)

	assert.Equal(t, uint64(1), r.GetSize())

	r.Unpin(4)
	r.Unpin(5)
	r.Unpin(4)

	assert.Equal(t, uint64(3), r.GetSize())

	v1, _ := r.ChooseVictim()
	v2, _ := r.ChooseVictim()

	assert.Equal(t, []uint64{3, 4}, []uint64{v1, v2})
	assert.Equal(t, uint64(1), r.GetSize())
}

func TestLRUChooseVictimEmpty(t *testing.T) {
	r := NewLRUReplacer()

	_, err := r.ChooseVictim()
	require.ErrorIs(t, err, ErrNoVictim)
}

func TestLRUReplacerConcurrentPinAndUnpin(t *testing.T) {
	r := NewLRUReplacer()

	const initial = 150
	const added = 100

	for i := range uint64(initial) {
		r.Unpin(i)
	}
	assert.Equal(t, uint64(initial), r.GetSize())

	var wg sync.WaitGroup
	wg.Add(initial + added)
	for i := range uint64(initial) {
		go func() {
			defer wg.Done()
			r.Pin(i)
		}()
	}

	for i := uint64(initial); i < initial+added; i++ {
		go func() {
			defer wg.Done()
			r.Unpin(i)
		}()
	}

	wg.Wait()

	assert.Equal(t, uint64(added), r.GetSize())

	victims := make([]uint64, 0, added)
	for range added {
		v, err := r.ChooseVictim()
		assert.NoError(t, err)
		victims = append(victims, v)
	}

	expected := make([]uint64, 0, added)
	for i := uint64(initial); i < initial+added; i++ {
		expected = append(expected, i)
	}
	assert.ElementsMatch(t, expected, victims)
	assert.Equal(t, uint64(0), r.GetSize())
}

func TestLRUReplacerParallelChooseVictim(t *testing.T) {
	r := NewLRUReplacer()

	const numFrames = 128
	for i := range uint64(numFrames) {
		r.Unpin(i)
	}

	var wg sync.WaitGroup
	victimsCh := make(chan uint64, numFrames)

	wg.Add(numFrames)
	for range numFrames {
		go func() {
			defer wg.Done()
			v, err := r.ChooseVictim()
			if assert.NoError(t, err) {
				victimsCh <- v
			}
		}()
	}

	wg.Wait()
	close(victimsCh)

	seen := make(map[uint64]bool, numFrames)
	for v := range victimsCh {
		assert.False(t, seen[v], "frame %d chosen twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, numFrames)
	assert.Equal(t, uint64(0), r.GetSize())
}
