package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	t.Run("uneven tail", func(t *testing.T) {
		got := Chunk([]int{1, 2, 3, 4, 5}, 2)
		assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Chunk([]int{}, 3))
	})

	t.Run("non positive size", func(t *testing.T) {
		assert.Nil(t, Chunk([]int{1}, 0))
	})
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, CeilDiv(7, 3))
	assert.Equal(t, 2, CeilDiv(6, 3))
	assert.Equal(t, 0, CeilDiv(6, 0))
}

func TestPairDestruct(t *testing.T) {
	a, b := Pair[int, string]{First: 1, Second: "x"}.Destruct()
	assert.Equal(t, 1, a)
	assert.Equal(t, "x", b)
}
