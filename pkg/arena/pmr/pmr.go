//go:build go1.22

// Package pmr is a thin, polymorphic-allocator-style facade over any
// [arena.Allocator]: three verbs (Allocate, Deallocate, Equal) and nothing
// else, so that container code can depend on "a memory resource" without
// caring which engine backs it.
package pmr

import (
	"unsafe"

	"github.com/arena-go/arena/pkg/arena"
	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

// Resource adapts an [arena.Allocator] to the allocate/deallocate/equal
// surface a generic container wants, independent of which engine it wraps.
type Resource struct {
	engine arena.Allocator
}

// NewResource wraps engine as a Resource.
func NewResource(engine arena.Allocator) *Resource {
	return &Resource{engine: engine}
}

// Allocate requests n bytes. align is not passed on: the request goes to
// the engine's Alloc, which aligns to what that engine gives every
// allocation ([arena.Align] for the bump engines), and a stricter align is
// neither honoured nor reported.
func (r *Resource) Allocate(n, align int) unsafe.Pointer {
	_ = align
	return unsafe.Pointer(r.engine.Alloc(n))
}

// Deallocate returns a block previously obtained from Allocate.
func (r *Resource) Deallocate(p unsafe.Pointer, n, align int) {
	_ = align
	r.engine.Release((*byte)(p), n)
}

// Equal reports whether other wraps the same underlying engine as r, the
// identity comparison a memory-resource interface is expected to support so
// that containers can tell whether two resources would actually
// interchange allocations.
func (r *Resource) Equal(other *Resource) bool {
	return other != nil && r.engine == other.engine
}

// AllocateT is Allocate sized and aligned to T rather than raw byte counts,
// returning a typed pointer into the resource's engine.
func AllocateT[T any](r *Resource) *T {
	size, align := layout.Size[T](), layout.Align[T]()
	return (*T)(r.Allocate(size, align))
}

// DeallocateT is Deallocate sized and aligned to T.
func DeallocateT[T any](r *Resource, p *T) {
	size, align := layout.Size[T](), layout.Align[T]()
	r.Deallocate(unsafe.Pointer(p), size, align)
}
