package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksSerializeSameKey(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Lock(ctx, "same")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, 0, locks.Len())
}

func TestLocksDifferentKeysDoNotBlock(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()

	releaseA, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	defer releaseA()

	ctxB, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := locks.Lock(ctxB, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocksHonorContext(t *testing.T) {
	locks := NewLocks()

	release, err := locks.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	release()
	release()
	assert.Equal(t, 0, locks.Len())
}
