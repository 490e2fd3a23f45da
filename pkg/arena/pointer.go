package arena

import (
	"unsafe"

	"github.com/arena-go/arena/pkg/opt"
	"github.com/arena-go/arena/pkg/xunsafe"
	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

// Ptr is a client-visible handle to a single allocation, pairing a typed
// address with the header an engine needs to deallocate it.
//
// For a pool or linear allocation, End is None: those engines have no
// per-allocation end offset to check. For a stack allocation built with
// PolicyStackCheck or PolicyBoundsCheck, End holds the offset the stack
// engine's Dealloc must see as the current offset before it will unwind
// past this allocation.
type Ptr[T any] struct {
	addr  xunsafe.Addr[T]
	start int
	end   opt.Option[int]
	freed bool
}

// newPtr constructs a Ptr at the given address, covering arena bytes
// [start, end).
func newPtr[T any](addr xunsafe.Addr[T], start int, end opt.Option[int]) Ptr[T] {
	return Ptr[T]{addr: addr, start: start, end: end}
}

// Get returns the wrapped pointer. Panics with a DoubleFree *Fault if this
// wrapper was already deallocated, whatever the engine's policy; Get is
// exported so typed client code can deref eagerly.
func (p Ptr[T]) Get() *T {
	if p.freed {
		panic(&Fault{Kind: DoubleFree, Msg: "Get called on a deallocated Ptr"})
	}

	return p.addr.AssertValid()
}

// IsFreed reports whether Dealloc has already nulled this wrapper.
func (p Ptr[T]) IsFreed() bool { return p.freed || p.addr == 0 }

// Start returns the arena-relative byte offset of this allocation's first
// byte.
func (p Ptr[T]) Start() int { return p.start }

// End returns the arena-relative byte offset one past this allocation's
// footprint, when the engine that produced this wrapper tracks one.
func (p Ptr[T]) End() opt.Option[int] { return p.end }

// free marks this wrapper as deallocated, nulling its address so a second
// Dealloc attempt is caught as a double free rather than silently
// corrupting whatever has since reused the memory.
func (p *Ptr[T]) free() {
	p.freed = true
	p.addr = 0
}

// ArrayPtr is to Ptr what an array header is to a plain allocation header:
// it carries an element count instead of an end offset, and End is
// reconstructed from start + count*sizeof(T) rather than stored
// separately.
type ArrayPtr[T any] struct {
	addr  xunsafe.Addr[T]
	start int
	count int
	freed bool
}

func newArrayPtr[T any](addr xunsafe.Addr[T], start, count int) ArrayPtr[T] {
	return ArrayPtr[T]{addr: addr, start: start, count: count}
}

// Get returns the wrapped pointer to the array's first element.
func (p ArrayPtr[T]) Get() *T {
	if p.freed {
		panic(&Fault{Kind: DoubleFree, Msg: "Get called on a deallocated ArrayPtr"})
	}

	return p.addr.AssertValid()
}

// Slice returns the array's elements as a Go slice sharing the arena's
// backing storage. The slice must not be used after the array is
// deallocated or its engine is reset/released.
func (p ArrayPtr[T]) Slice() []T {
	return unsafe.Slice(p.Get(), p.count)
}

// Len returns the number of elements in this array.
func (p ArrayPtr[T]) Len() int { return p.count }

// Start returns the arena-relative byte offset of the array's first byte.
func (p ArrayPtr[T]) Start() int { return p.start }

// End returns Start + count*sizeof(T), reconstructed from the element count
// rather than stored. That is one past the last element only when Start is
// the first element's own offset, as for a LinearAllocator array; a stack
// array's Start precedes its alignment padding and front guard.
func (p ArrayPtr[T]) End() int { return p.start + p.count*layout.Size[T]() }

func (p *ArrayPtr[T]) free() {
	p.freed = true
	p.addr = 0
}

// IsFreed reports whether Dealloc has already nulled this wrapper.
func (p ArrayPtr[T]) IsFreed() bool { return p.freed || p.addr == 0 }
