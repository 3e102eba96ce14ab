package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestCommandBufferPoolRoundRobin(t *testing.T) {
	pool, harness := newTestPool(t, 3)
	require.Equal(t, 3, pool.Count())

	seen := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		cbs, _, err := pool.Rent()
		require.NoError(t, err)
		require.True(t, pool.IsRented(cbs.CommandBufferIndex))
		seen = append(seen, cbs.CommandBufferIndex)

		_, err = cbs.Dispose()
		require.NoError(t, err)
		require.False(t, pool.IsRented(cbs.CommandBufferIndex))
	}
	require.Equal(t, []int{0, 1, 2}, seen)
	require.Len(t, harness.Submissions(), 3)

	// Every slot is queued and none has signalled, so the oldest is waited on
	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	require.Equal(t, 0, cbs.CommandBufferIndex)
	require.Equal(t, 1, harness.Submissions()[0].Waits())
	require.Equal(t, 0, harness.Submissions()[1].Waits())
}

func TestCommandBufferPoolRetiresInOrder(t *testing.T) {
	pool, harness := newTestPool(t, 4)

	first, _, err := pool.Rent()
	require.NoError(t, err)
	firstFence := first.GetFence()
	_, err = first.Dispose()
	require.NoError(t, err)

	second, _, err := pool.Rent()
	require.NoError(t, err)
	_, err = second.Dispose()
	require.NoError(t, err)

	// The later submission signalling first does not let it jump the queue
	harness.Submissions()[1].Signal()
	_, err = pool.CheckCommandBuffers()
	require.NoError(t, err)
	require.Same(t, firstFence, pool.GetFence(first.CommandBufferIndex))

	harness.Submissions()[0].Signal()
	_, err = pool.CheckCommandBuffers()
	require.NoError(t, err)

	require.NotSame(t, firstFence, pool.GetFence(first.CommandBufferIndex))
	require.Equal(t, 1, harness.Submissions()[0].Destroyed())
	require.Equal(t, 1, harness.Submissions()[1].Destroyed())
}

func TestCommandBufferPoolWait(t *testing.T) {
	pool, harness := newTestPool(t, 4)

	auto, disposed := newCountingAuto()

	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	auto.Get(cbs)
	auto.Dispose()
	_, err = cbs.Dispose()
	require.NoError(t, err)

	require.Equal(t, 0, *disposed)

	_, err = pool.Wait(cbs.CommandBufferIndex)
	require.NoError(t, err)
	require.Equal(t, 1, harness.Submissions()[0].Waits())
	require.Equal(t, 1, *disposed)

	// Waiting on a retired slot does nothing
	_, err = pool.Wait(cbs.CommandBufferIndex)
	require.NoError(t, err)
	require.Equal(t, 1, harness.Submissions()[0].Waits())
}

func TestCommandBufferPoolRentedQueries(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	waitable := NewGranularMultiFenceHolder()
	auto := NewAuto[DisposableFunc](func() {}, waitable)

	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	auto.GetRange(cbs, 0, 32)

	require.True(t, pool.IsFenceOnRentedCommandBuffer(cbs.GetFence()))
	require.True(t, pool.HasWaitableOnRentedCommandBuffer(waitable, 16, 4))
	require.False(t, pool.HasWaitableOnRentedCommandBuffer(waitable, 32, 4))

	fence := cbs.GetFence()
	_, err = cbs.Dispose()
	require.NoError(t, err)

	require.False(t, pool.IsFenceOnRentedCommandBuffer(fence))
	require.False(t, pool.HasWaitableOnRentedCommandBuffer(waitable, 16, 4))
	require.True(t, waitable.MayWait(16, 4))
}

func TestCommandBufferPoolReturnWrongState(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	_, err = cbs.Dispose()
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = cbs.Dispose()
	})
}

func TestCommandBufferPoolDestroyReleasesDependants(t *testing.T) {
	pool, harness := newTestPool(t, 2)

	submitted, submittedDisposed := newCountingAuto()
	recording, recordingDisposed := newCountingAuto()

	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	submitted.Get(cbs)
	_, err = cbs.Dispose()
	require.NoError(t, err)

	cbs, _, err = pool.Rent()
	require.NoError(t, err)
	recording.Get(cbs)

	submitted.Dispose()
	recording.Dispose()

	pool.Destroy()
	require.Equal(t, 1, *submittedDisposed)
	require.Equal(t, 1, *recordingDisposed)
	for _, fence := range harness.Fences() {
		require.Equal(t, 1, fence.Destroyed())
	}
}

func TestCommandBufferPoolInvalidCount(t *testing.T) {
	_, harness := newTestPool(t, 1)

	_, _, err := NewCommandBufferPool(slog.Default(), harness.Device, MaxCommandBuffers+1)
	require.Error(t, err)
	_, _, err = NewCommandBufferPool(slog.Default(), harness.Device, 0)
	require.Error(t, err)
}

func TestCommandBufferPoolSkipsSlotWithoutFence(t *testing.T) {
	pool, harness := newTestPool(t, 1)

	cbs, _, err := pool.Rent()
	require.NoError(t, err)
	_, err = cbs.Dispose()
	require.NoError(t, err)

	harness.Submissions()[0].Signal()
	harness.FailFenceCreations(2)

	// Retiring succeeds even though the slot's next fence could not be created
	_, err = pool.CheckCommandBuffers()
	require.NoError(t, err)
	require.Nil(t, pool.GetFence(0))
	require.Equal(t, 1, harness.Submissions()[0].Destroyed())

	// The slot is not handed out without a fence
	_, _, err = pool.Rent()
	require.Error(t, err)

	cbs, _, err = pool.Rent()
	require.NoError(t, err)
	require.Equal(t, 0, cbs.CommandBufferIndex)
	require.NotNil(t, cbs.GetFence())

	_, err = cbs.Dispose()
	require.NoError(t, err)
	require.Len(t, harness.Submissions(), 2)
	require.NotSame(t, harness.Submissions()[0], harness.Submissions()[1])
}
