package tilecache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoadsOncePerKey(t *testing.T) {
	c := NewCache[int](1 << 20)
	var loads int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.Get(7, func() ([]byte, error) {
				atomic.AddInt32(&loads, 1)
				return []byte{1, 2, 3}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, data)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	c := NewCache[string](1 << 20)
	_, err := c.Get("k", func() ([]byte, error) {
		return nil, fmt.Errorf("decode failed")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())

	data, err := c.Get("k", func() ([]byte, error) {
		return []byte{9}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, data)
}

func TestBudgetEvictsOldestFirst(t *testing.T) {
	c := NewCache[int](10)
	for k := 0; k < 3; k++ {
		k := k
		_, err := c.Get(k, func() ([]byte, error) {
			return make([]byte, 4), nil
		})
		require.NoError(t, err)
	}
	// 12 bytes over a 10-byte budget: key 0 (oldest) must be gone.
	assert.Equal(t, 2, c.Len())
	assert.LessOrEqual(t, c.UsedBytes(), int64(10))

	reloaded := false
	_, err := c.Get(0, func() ([]byte, error) {
		reloaded = true
		return make([]byte, 4), nil
	})
	require.NoError(t, err)
	assert.True(t, reloaded, "evicted key 0 should re-decode")
}

func TestHitDoesNotReorderEviction(t *testing.T) {
	c := NewCache[int](8)
	for k := 0; k < 2; k++ {
		k := k
		_, err := c.Get(k, func() ([]byte, error) { return make([]byte, 4), nil })
		require.NoError(t, err)
	}
	// touch key 0 so an LRU would evict key 1 next; FIFO still drops 0.
	_, err := c.Get(0, func() ([]byte, error) {
		t.Fatal("key 0 should be a hit")
		return nil, nil
	})
	require.NoError(t, err)

	_, err = c.Get(2, func() ([]byte, error) { return make([]byte, 4), nil })
	require.NoError(t, err)

	reloaded := false
	_, err = c.Get(0, func() ([]byte, error) {
		reloaded = true
		return make([]byte, 4), nil
	})
	require.NoError(t, err)
	assert.True(t, reloaded, "insertion-order eviction should have dropped key 0")
}

func TestSetMaxBytesEvictsImmediately(t *testing.T) {
	c := NewCache[int](100)
	for k := 0; k < 4; k++ {
		k := k
		_, err := c.Get(k, func() ([]byte, error) { return make([]byte, 10), nil })
		require.NoError(t, err)
	}
	require.Equal(t, 4, c.Len())

	c.SetMaxBytes(25)
	assert.LessOrEqual(t, c.UsedBytes(), int64(25))
	assert.Equal(t, 2, c.Len())
}

func TestClear(t *testing.T) {
	c := NewCache[int](100)
	_, err := c.Get(1, func() ([]byte, error) { return []byte{1}, nil })
	require.NoError(t, err)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.EqualValues(t, 0, c.UsedBytes())
}
