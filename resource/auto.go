package resource

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/vkgal/internal/bitmap"
)

var nextAutoID atomic.Uint64

// Auto owns a single disposable GPU handle. It starts with a reference count of one; command buffers
// that use the handle add a reference for the duration of their execution, and the handle is disposed
// by whichever release brings the count to zero. Releasing an Auto also releases every Auto it was
// created with as a dependency.
//
// Each Auto carries a process-unique ID. IDs are never reused, so they are safe to use as cache keys
// for the handle long after it has been destroyed.
type Auto[T Disposable] struct {
	id             uint64
	value          T
	waitable       *MultiFenceHolder
	referencedObjs []Dependant

	referenceCount atomic.Int32
	cbOwnership    atomic.Uint64
	destroyed      atomic.Bool
	disposed       atomic.Bool
}

var _ Dependant = &Auto[DisposableFunc]{}

// NewAuto wraps value. waitable may be nil for handles that are never written by the CPU. Each
// dependency gains a reference that is released when this Auto is destroyed.
func NewAuto[T Disposable](value T, waitable *MultiFenceHolder, dependencies ...Dependant) *Auto[T] {
	a := &Auto[T]{
		id:             nextAutoID.Add(1),
		value:          value,
		waitable:       waitable,
		referencedObjs: dependencies,
	}
	a.referenceCount.Store(1)

	for _, dependency := range dependencies {
		dependency.IncrementReferenceCount()
	}

	return a
}

func (a *Auto[T]) ID() uint64 {
	return a.id
}

// Waitable returns the fence tracker for the handle, which may be nil
func (a *Auto[T]) Waitable() *MultiFenceHolder {
	return a.waitable
}

// Get records that the command buffer depends on the handle and returns it. A destroyed Auto returns
// its value without recording anything.
func (a *Auto[T]) Get(cbs CommandBufferScoped) T {
	// The reference held here keeps the handle alive while its dependencies are registered
	if a.TryIncrementReferenceCount() {
		a.AddCommandBufferDependencies(cbs)
		a.DecrementReferenceCount()
	}

	return a.value
}

// GetRange is Get for a buffer access of [offset, offset+size), which is also recorded with the
// fence tracker when granular tracking is enabled
func (a *Auto[T]) GetRange(cbs CommandBufferScoped, offset, size int) T {
	if a.waitable != nil {
		a.waitable.AddBufferUse(cbs.CommandBufferIndex, offset, size)
	}

	return a.Get(cbs)
}

// GetUnsafe returns the handle without recording a dependency
func (a *Auto[T]) GetUnsafe() T {
	return a.value
}

// AddCommandBufferDependencies registers the command buffer as a user of the handle and of everything
// the handle depends on. Registration happens at most once per recording of a slot.
func (a *Auto[T]) AddCommandBufferDependencies(cbs CommandBufferScoped) {
	if !a.claimSlot(cbs.CommandBufferIndex) {
		return
	}

	if a.waitable != nil {
		cbs.AddWaitable(a.waitable)
	}

	cbs.AddDependant(a)

	for _, obj := range a.referencedObjs {
		obj.AddCommandBufferDependencies(cbs)
	}
}

func (a *Auto[T]) claimSlot(cbIndex int) bool {
	for {
		old := a.cbOwnership.Load()
		word := bitmap.Word(old)
		if !word.Set(cbIndex) {
			return false
		}

		if a.cbOwnership.CompareAndSwap(old, uint64(word)) {
			return true
		}
	}
}

func (a *Auto[T]) releaseSlot(cbIndex int) {
	for {
		old := a.cbOwnership.Load()
		word := bitmap.Word(old)
		word.Clear(cbIndex)

		if a.cbOwnership.CompareAndSwap(old, uint64(word)) {
			return
		}
	}
}

// HasCommandBufferDependency reports whether the slot has already registered the handle
func (a *Auto[T]) HasCommandBufferDependency(cbs CommandBufferScoped) bool {
	return bitmap.Word(a.cbOwnership.Load()).IsSet(cbs.CommandBufferIndex)
}

// HasRentedCommandBufferDependency reports whether a command buffer that is still being recorded
// has registered the handle
func (a *Auto[T]) HasRentedCommandBufferDependency(pool *CommandBufferPool) bool {
	rented := false
	bitmap.Word(a.cbOwnership.Load()).ForEach(func(cbIndex int) {
		rented = rented || pool.IsRented(cbIndex)
	})
	return rented
}

func (a *Auto[T]) ReferenceCount() int {
	return int(a.referenceCount.Load())
}

func (a *Auto[T]) Destroyed() bool {
	return a.destroyed.Load()
}

// TryIncrementReferenceCount adds a reference unless the handle has already been destroyed
func (a *Auto[T]) TryIncrementReferenceCount() bool {
	for {
		count := a.referenceCount.Load()
		if count == 0 {
			return false
		}

		if a.referenceCount.CompareAndSwap(count, count+1) {
			return true
		}
	}
}

// IncrementReferenceCount adds a reference. Resurrecting a destroyed handle is a programming error.
func (a *Auto[T]) IncrementReferenceCount() {
	if a.referenceCount.Add(1) == 1 {
		a.referenceCount.Add(-1)
		panic(errors.AssertionFailedf("attempted to increment the reference count of auto %d, which was already destroyed", a.id))
	}
}

// DecrementReferenceCountFor releases the reference held by a retired command buffer slot
func (a *Auto[T]) DecrementReferenceCountFor(cbIndex int) {
	a.releaseSlot(cbIndex)
	a.DecrementReferenceCount()
}

// DecrementReferenceCount releases a reference, destroying the handle and releasing every
// dependency when it was the last one
func (a *Auto[T]) DecrementReferenceCount() {
	count := a.referenceCount.Add(-1)
	if count < 0 {
		panic(errors.AssertionFailedf("reference count of auto %d went below zero", a.id))
	}

	if count == 0 {
		a.value.Dispose()
		a.destroyed.Store(true)

		for _, obj := range a.referencedObjs {
			obj.DecrementReferenceCount()
		}
	}
}

// Dispose releases the creator's reference. Repeated calls are ignored.
func (a *Auto[T]) Dispose() {
	if a.disposed.CompareAndSwap(false, true) {
		a.DecrementReferenceCount()
	}
}
