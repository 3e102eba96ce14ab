// Package resource tracks the lifetime of GPU objects across asynchronous command buffer execution.
//
// Every GPU handle is owned by an Auto, a reference-counted wrapper that records which pooled command
// buffers have used it. A command buffer slot keeps its dependants alive until its fence signals and
// the slot is retired, so CPU code may release a handle at any time without racing in-flight work.
package resource

import "github.com/vkngwrapper/vkgal/internal/bitmap"

// MaxCommandBuffers is the hard upper bound on pooled command buffers. Ownership of a resource by
// command buffer slots is tracked in a single inline 64-bit word, so it cannot exceed that width.
const MaxCommandBuffers = bitmap.WordCapacity

// DefaultCommandBuffers is the number of command buffers in a pool when none is configured
const DefaultCommandBuffers = 16

// Disposable is a GPU handle wrapper that knows how to destroy itself
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a plain function to Disposable
type DisposableFunc func()

func (f DisposableFunc) Dispose() {
	f()
}

// Dependant is the type-erased face of an Auto. Command buffers and other Autos hold dependants so
// that they can extend and release lifetimes without knowing the wrapped handle type.
type Dependant interface {
	ID() uint64
	IncrementReferenceCount()
	DecrementReferenceCount()
	DecrementReferenceCountFor(cbIndex int)
	AddCommandBufferDependencies(cbs CommandBufferScoped)
}
