package descriptor

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"golang.org/x/exp/slog"
)

// DescriptorCounts is the number of descriptors of each kind a request needs
type DescriptorCounts [KindCount]int

// DescriptorPoolHolder is a descriptor pool used as a bump allocator. Capacity consumed by an
// allocation is never returned to it. Once a request does not fit, the pool is done: it hands out
// nothing more and destroys itself when its last set is freed.
type DescriptorPoolHolder struct {
	logger *slog.Logger
	dev    device.Device
	pool   core1_0.DescriptorPool

	capacity  DescriptorCounts
	remaining DescriptorCounts
	maxSets   int
	totalSets int
	setsInUse int

	done      bool
	destroyed bool
}

func newDescriptorPoolHolder(logger *slog.Logger, dev device.Device, capacity DescriptorCounts, maxSets int) (*DescriptorPoolHolder, common.VkResult, error) {
	var sizes []core1_0.DescriptorPoolSize
	for kind := KindUniform; kind < KindCount; kind++ {
		if capacity[kind] > 0 {
			sizes = append(sizes, core1_0.DescriptorPoolSize{
				Type:            kind.DescriptorType(),
				DescriptorCount: capacity[kind],
			})
		}
	}

	pool, res, err := dev.CreateDescriptorPool(core1_0.DescriptorPoolCreateInfo{
		Flags:     core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets:   maxSets,
		PoolSizes: sizes,
	})
	if err != nil {
		return nil, res, errors.Wrap(err, "could not create descriptor pool")
	}

	return &DescriptorPoolHolder{
		logger:    logger,
		dev:       dev,
		pool:      pool,
		capacity:  capacity,
		remaining: capacity,
		maxSets:   maxSets,
	}, res, nil
}

// CanFit reports whether setCount sets needing counts descriptors can still be allocated. A pool
// that cannot fit a request is marked done.
func (h *DescriptorPoolHolder) CanFit(counts DescriptorCounts, setCount int) bool {
	if h.done {
		return false
	}

	if h.totalSets+setCount > h.maxSets {
		h.done = true
		return false
	}

	for kind := KindUniform; kind < KindCount; kind++ {
		if counts[kind] > h.remaining[kind] {
			h.done = true
			return false
		}
	}

	return true
}

func (h *DescriptorPoolHolder) allocate(layouts []core1_0.DescriptorSetLayout, counts DescriptorCounts) ([]core1_0.DescriptorSet, common.VkResult, error) {
	sets, res, err := h.dev.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: h.pool,
		SetLayouts:     layouts,
	})
	if err != nil {
		h.done = true
		return nil, res, errors.Wrap(err, "could not allocate descriptor sets")
	}

	h.totalSets += len(layouts)
	h.setsInUse += len(layouts)
	for kind := KindUniform; kind < KindCount; kind++ {
		h.remaining[kind] -= counts[kind]
	}

	return sets, res, nil
}

func (h *DescriptorPoolHolder) free(sets []core1_0.DescriptorSet) {
	if !h.destroyed {
		_, err := h.dev.FreeDescriptorSets(h.pool, sets...)
		if err != nil {
			h.logger.LogAttrs(context.Background(), slog.LevelError, "DescriptorPoolHolder::free could not free descriptor sets", slog.Any("error", err))
		}
	}

	h.setsInUse -= len(sets)
	if h.setsInUse < 0 {
		panic(errors.AssertionFailedf("descriptor pool freed more sets than it allocated"))
	}

	h.destroyIfDone()
}

// SetDone stops the pool from handing out more sets
func (h *DescriptorPoolHolder) SetDone() {
	h.done = true
	h.destroyIfDone()
}

func (h *DescriptorPoolHolder) destroyIfDone() {
	if h.done && h.setsInUse == 0 && !h.destroyed {
		h.dev.DestroyDescriptorPool(h.pool)
		h.destroyed = true
	}
}

func (h *DescriptorPoolHolder) Done() bool {
	return h.done
}

func (h *DescriptorPoolHolder) Destroyed() bool {
	return h.destroyed
}

func (h *DescriptorPoolHolder) SetsInUse() int {
	return h.setsInUse
}

func (h *DescriptorPoolHolder) destroy() {
	if !h.destroyed {
		h.dev.DestroyDescriptorPool(h.pool)
		h.destroyed = true
	}
}
