package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageIdentitySerializedSize(t *testing.T) {
	p := PageIdentity{FileID: 1, PageID: 2}
	b, err := p.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, SerializedPageIdentitySize, len(b))

	var got PageIdentity
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, p, got)

	require.Error(t, got.UnmarshalBinary(b[:3]))
}

func TestAtomicLSNNeverRegresses(t *testing.T) {
	var a AtomicLSN
	a.Init(10)

	assert.False(t, a.Advance(5))
	assert.Equal(t, LSN(10), a.Load())
	assert.True(t, a.Advance(11))
	assert.False(t, a.Advance(11))

	var wg sync.WaitGroup
	for i := 1; i <= 64; i++ {
		wg.Add(1)
		go func(v LSN) {
			defer wg.Done()
			a.Advance(v * 100)
		}(LSN(i))
	}
	wg.Wait()

	assert.Equal(t, LSN(6400), a.Load())
}

func TestMinLSN(t *testing.T) {
	assert.Equal(t, LSN(3), MinLSN(7, 3, 9))
	assert.Equal(t, LSN(7), MinLSN(7))
}
