package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/vkgal/internal/devicetest"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func newTestPool(t *testing.T, count int) (*CommandBufferPool, *devicetest.Harness) {
	ctrl := gomock.NewController(t)
	harness := devicetest.New(ctrl)

	pool, _, err := NewCommandBufferPool(slog.Default(), harness.Device, count)
	require.NoError(t, err)

	return pool, harness
}
