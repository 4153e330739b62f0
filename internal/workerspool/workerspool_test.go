package workerspool

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New().SetMaxParallelism(parallelism)
		var count, running, maxRunning atomic.Int32
		for range 20 {
			pool.WaitToStart(func() error {
				current := running.Add(1)
				for {
					old := maxRunning.Load()
					if current <= old || maxRunning.CompareAndSwap(old, current) {
						break
					}
				}
				count.Add(1)
				running.Add(-1)
				return nil
			})
		}
		require.NoError(t, pool.Wait())
		assert.Equal(t, int32(20), count.Load(), "parallelism=%d", parallelism)
		if parallelism > 0 {
			assert.LessOrEqual(t, int(maxRunning.Load()), parallelism)
		}
	}
}

func TestPoolError(t *testing.T) {
	for _, parallelism := range []int{0, 2} {
		pool := New().SetMaxParallelism(parallelism)
		wantErr := errors.New("failed")
		pool.WaitToStart(func() error { return wantErr })
		require.ErrorIs(t, pool.Wait(), wantErr)

		// No more tasks are started after an error.
		var started atomic.Bool
		pool.WaitToStart(func() error {
			started.Store(true)
			return nil
		})
		require.ErrorIs(t, pool.Wait(), wantErr)
		assert.False(t, started.Load())
	}
}
