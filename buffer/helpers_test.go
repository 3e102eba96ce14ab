package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"github.com/vkngwrapper/vkgal/resource"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type testRenderer struct {
	t       *testing.T
	pool    *resource.CommandBufferPool
	current *resource.CommandBufferScoped
	flushes int
}

// FlushAllCommands submits the current command buffer, if any, and rents a fresh one in its place
func (r *testRenderer) FlushAllCommands() (common.VkResult, error) {
	r.flushes++
	if r.current == nil {
		return 0, nil
	}

	next, res, err := r.pool.ReturnAndRent(*r.current)
	if err != nil {
		return res, err
	}
	*r.current = next
	return res, nil
}

func (r *testRenderer) rent() *resource.CommandBufferScoped {
	cbs, _, err := r.pool.Rent()
	require.NoError(r.t, err)
	r.current = &cbs
	return r.current
}

func newTestManager(t *testing.T, options Options) (*BufferManager, *testRenderer, *devicetest.Harness) {
	ctrl := gomock.NewController(t)
	harness := devicetest.New(ctrl)

	pool, _, err := resource.NewCommandBufferPool(slog.Default(), harness.Device, 4)
	require.NoError(t, err)

	renderer := &testRenderer{t: t, pool: pool}
	manager, _, err := NewBufferManager(slog.Default(), harness.Device, pool, renderer, options)
	require.NoError(t, err)

	return manager, renderer, harness
}
