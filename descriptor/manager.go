package descriptor

import (
	"context"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/vkgal/device"
	"github.com/vkngwrapper/vkgal/resource"
	"golang.org/x/exp/slog"
)

// DefaultPoolMultiplier is the number of sets, and of descriptors per requested kind, each pool is sized for
const DefaultPoolMultiplier = 16

// DescriptorSetCollection is a group of descriptor sets allocated together from one pool. Disposing
// it returns the sets to their pool.
type DescriptorSetCollection struct {
	holder *DescriptorPoolHolder
	sets   []core1_0.DescriptorSet
}

func (c *DescriptorSetCollection) Sets() []core1_0.DescriptorSet {
	return c.sets
}

func (c *DescriptorSetCollection) Set(index int) core1_0.DescriptorSet {
	return c.sets[index]
}

// Pool returns the pool the sets came from
func (c *DescriptorSetCollection) Pool() *DescriptorPoolHolder {
	return c.holder
}

func (c *DescriptorSetCollection) Dispose() {
	c.holder.free(c.sets)
}

// DescriptorSetManager allocates descriptor sets from a current pool, replacing it with a fresh pool
// whenever a request does not fit. Replaced pools drain and destroy themselves as their sets are freed.
type DescriptorSetManager struct {
	logger     *slog.Logger
	dev        device.Device
	multiplier int

	current   *DescriptorPoolHolder
	poolCount int
}

func NewDescriptorSetManager(logger *slog.Logger, dev device.Device, multiplier int) *DescriptorSetManager {
	if multiplier <= 0 {
		multiplier = DefaultPoolMultiplier
	}

	return &DescriptorSetManager{
		logger:     logger,
		dev:        dev,
		multiplier: multiplier,
	}
}

func (m *DescriptorSetManager) poolCapacity(counts DescriptorCounts) DescriptorCounts {
	var capacity DescriptorCounts
	for kind := KindUniform; kind < KindCount; kind++ {
		perSet := counts[kind]
		if perSet < 1 {
			perSet = 1
		}
		capacity[kind] = perSet * m.multiplier
	}
	return capacity
}

// AllocateDescriptorSet allocates one set per layout. counts is the total number of descriptors of
// each kind across every layout.
func (m *DescriptorSetManager) AllocateDescriptorSet(layouts []core1_0.DescriptorSetLayout, counts DescriptorCounts) (*resource.Auto[*DescriptorSetCollection], common.VkResult, error) {
	if m.current == nil || !m.current.CanFit(counts, len(layouts)) {
		res, err := m.replacePool(counts, len(layouts))
		if err != nil {
			return nil, res, err
		}
	}

	sets, res, err := m.current.allocate(layouts, counts)
	if err != nil {
		return nil, res, err
	}

	collection := &DescriptorSetCollection{
		holder: m.current,
		sets:   sets,
	}
	return resource.NewAuto[*DescriptorSetCollection](collection, nil), res, nil
}

func (m *DescriptorSetManager) replacePool(counts DescriptorCounts, setCount int) (common.VkResult, error) {
	capacity := m.poolCapacity(counts)
	maxSets := m.multiplier
	if setCount > maxSets {
		maxSets = setCount
	}

	m.logger.Debug("DescriptorSetManager::AllocateDescriptorSet creating pool",
		slog.Int("maxSets", maxSets),
		slog.Int("pools", m.poolCount+1),
	)

	pool, res, err := newDescriptorPoolHolder(m.logger, m.dev, capacity, maxSets)
	if err != nil {
		return res, err
	}

	if m.current != nil {
		m.current.SetDone()
	}
	m.current = pool
	m.poolCount++
	return res, nil
}

// PoolsCreated is the number of pools the manager has ever created
func (m *DescriptorSetManager) PoolsCreated() int {
	return m.poolCount
}

func (m *DescriptorSetManager) CurrentPool() *DescriptorPoolHolder {
	return m.current
}

func (m *DescriptorSetManager) Destroy() {
	if m.current == nil {
		return
	}

	if m.current.SetsInUse() > 0 {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED DESCRIPTOR SETS] descriptor pool destroyed with sets in use",
			slog.Int("setsInUse", m.current.SetsInUse()),
		)
	}

	m.current.destroy()
	m.current = nil
}

func (m *DescriptorSetManager) PrintJson(json jwriter.ObjectState) {
	json.Name("PoolsCreated").Int(m.poolCount)
	json.Name("Multiplier").Int(m.multiplier)
	if m.current != nil {
		current := json.Name("CurrentPool").Object()
		current.Name("TotalSets").Int(m.current.totalSets)
		current.Name("SetsInUse").Int(m.current.setsInUse)
		current.Name("MaxSets").Int(m.current.maxSets)
		current.End()
	}
}
