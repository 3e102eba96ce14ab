package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"go.uber.org/mock/gomock"
)

func TestFenceHolderPinning(t *testing.T) {
	harness := devicetest.New(gomock.NewController(t))
	holder := newHeldFence(t, harness)
	fake := harness.Fences()[0]

	require.False(t, holder.IsSignaled())

	pinned := holder.Get()
	require.Equal(t, fake, pinned)

	holder.Dispose()
	holder.Dispose()
	require.Equal(t, 0, fake.Destroyed())

	_, err := holder.Wait()
	require.NoError(t, err)
	require.True(t, holder.IsSignaled())

	holder.Put()
	require.Equal(t, 1, fake.Destroyed())

	_, ok := holder.TryGet()
	require.False(t, ok)
	require.Panics(t, func() {
		holder.Get()
	})
}
