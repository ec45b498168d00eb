package activity

import (
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCheckAfterFiveIncrements(t *testing.T) {
	c := New()
	c.Inc(false)
	c0 := c.Get()

	for range 5 {
		c.Inc(false)
	}

	assert.True(t, c.Check(c0))
	assert.False(t, c.Check(c0+5))
}

func TestMergeActivityCanBeDiscounted(t *testing.T) {
	c := New()
	old, oldMerge := c.Get(), c.GetMerge()

	c.Inc(true)
	c.Inc(true)

	assert.True(t, c.Check(old))
	assert.False(t, c.CheckIgnoringMerge(old, oldMerge))

	c.Inc(false)
	assert.True(t, c.CheckIgnoringMerge(old, oldMerge))
}

func TestSettledMergeActivityIsIdle(t *testing.T) {
	c := New()
	old, oldMerge := c.Get(), c.GetMerge()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.Inc(true)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, old+8000, c.Get())
	assert.False(t, c.CheckIgnoringMerge(old, oldMerge))
}

func TestConcurrentIncrements(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.Inc(false)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(16000), c.Get())
}

func TestActivityDeltaProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("check is true iff increments happened", prop.ForAll(
		func(base, n uint8) bool {
			c := New()
			for range base {
				c.Inc(false)
			}

			c0 := c.Get()
			for range n {
				c.Inc(false)
			}

			return c.Check(c0) == (n > 0) && !c.Check(c0+uint64(n))
		},
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
