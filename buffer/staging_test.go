package buffer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vkgal/memutils"
)

func TestStagingPushDataChunksThroughSmallRing(t *testing.T) {
	manager, _, harness := newTestManager(t, Options{StagingBufferSize: 64})

	dst, _, err := manager.Create(256, false)
	require.NoError(t, err)

	data := make([]byte, 200)
	_, err = manager.StagingBuffer().PushData(nil, dst, 8, data)
	require.NoError(t, err)

	total := 0
	next := 8
	for _, region := range harness.Copies() {
		require.Equal(t, next, region.DstOffset)
		total += region.Size
		next += region.Size
	}
	require.Equal(t, 200, total)
	require.Len(t, harness.Submissions(), 4)
}

func TestStagingTryPushDataWrapsAroundRing(t *testing.T) {
	manager, renderer, harness := newTestManager(t, Options{StagingBufferSize: 64})
	staging := manager.StagingBuffer()

	dst, _, err := manager.Create(256, false)
	require.NoError(t, err)

	cbs := renderer.rent()
	pushed, err := staging.TryPushData(*cbs, dst, 0, make([]byte, 40))
	require.NoError(t, err)
	require.True(t, pushed)
	_, err = cbs.Dispose()
	require.NoError(t, err)

	cbs = renderer.rent()
	pushed, err = staging.TryPushData(*cbs, dst, 40, make([]byte, 16))
	require.NoError(t, err)
	require.True(t, pushed)
	require.Equal(t, 8, staging.FreeSize())

	pushed, err = staging.TryPushData(*cbs, dst, 100, make([]byte, 40))
	require.NoError(t, err)
	require.False(t, pushed)

	_, err = cbs.Dispose()
	require.NoError(t, err)
	harness.Submissions()[0].Signal()

	cbs = renderer.rent()
	pushed, err = staging.TryPushData(*cbs, dst, 100, make([]byte, 40))
	require.NoError(t, err)
	require.True(t, pushed)

	copies := harness.Copies()
	require.Len(t, copies, 4)
	require.Equal(t, 56, copies[2].SrcOffset)
	require.Equal(t, 100, copies[2].DstOffset)
	require.Equal(t, 8, copies[2].Size)
	require.Equal(t, 0, copies[3].SrcOffset)
	require.Equal(t, 108, copies[3].DstOffset)
	require.Equal(t, 32, copies[3].Size)
	require.Equal(t, 8, staging.FreeSize())
}

func TestStagingTryPushDataTooLarge(t *testing.T) {
	manager, renderer, _ := newTestManager(t, Options{StagingBufferSize: 64})

	dst, _, err := manager.Create(256, false)
	require.NoError(t, err)

	pushed, err := manager.StagingBuffer().TryPushData(*renderer.rent(), dst, 0, make([]byte, 65))
	require.ErrorIs(t, err, memutils.ErrStagingTooLarge)
	require.False(t, pushed)
}

func TestStagingRingNeverOverCommits(t *testing.T) {
	manager, renderer, harness := newTestManager(t, Options{StagingBufferSize: 256})
	staging := manager.StagingBuffer()

	dst, _, err := manager.Create(4096, false)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	cbs := renderer.rent()

	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			_, err = cbs.Dispose()
			require.NoError(t, err)
			cbs = renderer.rent()
		case 1:
			if len(harness.Submissions()) > 0 {
				harness.LastSubmission().Signal()
			}
		case 2:
			_, _, err = staging.TryReserve(*cbs, rng.Intn(100)+1, 1<<rng.Intn(5))
			require.NoError(t, err)
		default:
			_, err = staging.TryPushData(*cbs, dst, rng.Intn(1024), make([]byte, rng.Intn(150)+1))
			require.NoError(t, err)
		}

		stats := staging.Statistics()
		require.GreaterOrEqual(t, staging.FreeSize(), 0)
		require.LessOrEqual(t, stats.AllocationBytes, staging.Size())
		require.Equal(t, staging.Size(), stats.AllocationBytes+staging.FreeSize())
		require.NoError(t, staging.Validate())
	}
}

func TestStagingValidateDetectsLostSpace(t *testing.T) {
	manager, renderer, _ := newTestManager(t, Options{StagingBufferSize: 64})
	staging := manager.StagingBuffer()

	dst, _, err := manager.Create(256, false)
	require.NoError(t, err)

	_, err = staging.TryPushData(*renderer.rent(), dst, 0, make([]byte, 24))
	require.NoError(t, err)
	require.NoError(t, staging.Validate())

	staging.freeSize += 8
	require.Error(t, staging.Validate())
	staging.freeSize -= 8

	staging.freeOffset = staging.size
	require.Error(t, staging.Validate())
}

func TestStagingTryReserve(t *testing.T) {
	manager, renderer, harness := newTestManager(t, Options{StagingBufferSize: 64})
	staging := manager.StagingBuffer()

	dst, _, err := manager.Create(256, false)
	require.NoError(t, err)

	cbs := renderer.rent()
	pushed, err := staging.TryPushData(*cbs, dst, 0, make([]byte, 3))
	require.NoError(t, err)
	require.True(t, pushed)

	reserved, ok, err := staging.TryReserve(*cbs, 16, 16)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 16, reserved.Offset)
	require.Len(t, reserved.Data(), 16)
	require.Equal(t, 64-32, staging.FreeSize())

	// The 32 bytes left at the tail cannot hold 40 contiguous bytes
	_, ok, err = staging.TryReserve(*cbs, 40, 1)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = cbs.Dispose()
	require.NoError(t, err)
	harness.LastSubmission().Signal()

	cbs = renderer.rent()
	reserved, ok, err = staging.TryReserve(*cbs, 40, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, reserved.Offset)
	require.Equal(t, 64-40, staging.FreeSize())
}
