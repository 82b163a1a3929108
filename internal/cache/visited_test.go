package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVisitedSet(t *testing.T) {
	set := NewVisitedSet()

	assert.NotNil(t, set)
	assert.NotNil(t, set.items)
	assert.Equal(t, 0, set.Len())
}

func TestVisitedSet_Add(t *testing.T) {
	set := NewVisitedSet()

	assert.True(t, set.Add("https://example.com/"), "first insert should report new key")
	assert.False(t, set.Add("https://example.com/"), "second insert should report existing key")
	assert.True(t, set.Add("https://example.com/about"))

	assert.True(t, set.Contains("https://example.com/"))
	assert.False(t, set.Contains("https://example.com/missing"))
	assert.Equal(t, 2, set.Len())
}

func TestVisitedSet_Keys(t *testing.T) {
	set := NewVisitedSet()
	set.Add("b")
	set.Add("a")
	set.Add("c")

	keys := set.Keys()
	require.Len(t, keys, 3)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	// Mutating the returned slice must not touch the set
	keys[0] = "z"
	assert.False(t, set.Contains("z"))
}

func TestVisitedSet_ConcurrentAddSingleWinner(t *testing.T) {
	set := NewVisitedSet()
	const goroutines = 64

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if set.Add("https://example.com/page") {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one goroutine should insert the key")
	assert.Equal(t, 1, set.Len())
}

func TestVisitedSet_ConcurrentDistinctKeys(t *testing.T) {
	set := NewVisitedSet()
	const goroutines = 50
	const keysPerGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for k := 0; k < keysPerGoroutine; k++ {
				set.Add(fmt.Sprintf("https://example.com/%d/%d", id, k))
				set.Contains(fmt.Sprintf("https://example.com/%d/%d", id, k))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, goroutines*keysPerGoroutine, set.Len())
}
