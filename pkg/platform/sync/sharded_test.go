package sync

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock("payment.succeeded:pay-1", func() error {
				n := inside.Add(1)
				for {
					cur := maxInside.Load()
					if n <= cur || maxInside.CompareAndSwap(cur, n) {
						break
					}
				}
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestShardedMutex_WithLockReturnsError(t *testing.T) {
	m := NewShardedMutexN(4)
	want := errors.New("boom")

	assert.ErrorIs(t, m.WithLock("k", func() error { return want }), want)

	// lock released after error
	m.Lock("k")
	m.Unlock("k")
}

func TestShardedMutex_ShardBounds(t *testing.T) {
	m := NewShardedMutexN(0)
	assert.Len(t, m.shards, 1)

	m = NewShardedMutexN(8)
	for _, key := range []string{"", "a", "cargo:1", "refund.succeeded:r-9"} {
		idx := m.shardFor(key)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 8)
		assert.Equal(t, idx, m.shardFor(key))
	}
}
