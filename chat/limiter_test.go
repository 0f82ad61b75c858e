package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sema-ai/semachat/core"
)

func TestStreamLimiter_CapIsEnforced(t *testing.T) {
	sl := NewStreamLimiter(2)

	require.NoError(t, sl.Acquire())
	require.NoError(t, sl.Acquire())
	err := sl.Acquire()
	require.ErrorIs(t, err, core.ErrCapacity)
	assert.Equal(t, 2, sl.Active())

	sl.Release()
	require.NoError(t, sl.Acquire())
}

func TestStreamLimiter_ZeroMeansUnlimited(t *testing.T) {
	sl := NewStreamLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, sl.Acquire())
	}
	assert.Equal(t, 100, sl.Active())
}

func TestStreamLimiter_ReleaseNeverGoesNegative(t *testing.T) {
	sl := NewStreamLimiter(1)
	sl.Release()
	assert.Equal(t, 0, sl.Active())
	require.NoError(t, sl.Acquire())
}

func TestStreamLimiter_ConcurrentUseStaysWithinCap(t *testing.T) {
	const maxStreams = 5
	sl := NewStreamLimiter(maxStreams)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sl.Acquire() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxStreams, admitted)
	assert.Equal(t, maxStreams, sl.Active())
}
