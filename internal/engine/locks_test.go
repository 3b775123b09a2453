package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocksExclusivePerKey(t *testing.T) {
	var locks keyedLocks

	assert.True(t, locks.TryAcquire("BTCUSDT|BUY"))
	assert.False(t, locks.TryAcquire("BTCUSDT|BUY"))
	// A different side is a different key.
	assert.True(t, locks.TryAcquire("BTCUSDT|SELL"))

	locks.Release("BTCUSDT|BUY")
	assert.True(t, locks.TryAcquire("BTCUSDT|BUY"))
}

func TestKeyedLocksSingleWinnerUnderContention(t *testing.T) {
	var locks keyedLocks
	const goroutines = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryAcquire("ETHUSDT|BUY") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
