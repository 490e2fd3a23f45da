package arena

import (
	"github.com/arena-go/arena/pkg/res"
	"github.com/arena-go/arena/pkg/xunsafe"
)

// Block is a contiguous region obtained from a BaseAllocator. It is owned by
// exactly one engine (or, when nested, by the engine that acquired it from
// another engine acting as a BaseAllocator).
type Block struct {
	Addr xunsafe.Addr[byte]
	Size int
}

// End returns the address one past the last byte of this block.
func (b Block) End() xunsafe.Addr[byte] { return b.Addr.ByteAdd(b.Size) }

// BaseAllocator is the abstract dependency every engine uses to obtain and
// release the blocks it carves allocations from. PassthroughAllocator
// implements it directly over the host heap; LinearAllocator, StackAllocator, and
// PoolAllocator each also implement it, so engines can be nested (a pool of
// linear arenas, a linear arena backing a stack, and so on).
type BaseAllocator interface {
	// AcquireBlock requests a block of at least size bytes. Result carries
	// the fallible case explicitly (out-of-memory, or a non-growable base
	// that has nothing left to give), rather than a bare (Block, error)
	// pair a caller might forget to check.
	AcquireBlock(size int) res.Result[Block]

	// ReleaseBlock returns a block previously returned by AcquireBlock. The
	// base allocator is free to ignore this (as PassthroughAllocator does,
	// since Go has no explicit free) or to recycle it.
	ReleaseBlock(Block)
}

// Allocator is the raw, untyped client surface every engine exposes.
// New/NewArray and the rest of the typed convenience wrappers are built on
// top of it.
type Allocator interface {
	// Alloc allocates size bytes, pointer-aligned, and returns a pointer to
	// them. The memory is uninitialized.
	Alloc(size int) *byte

	// Release returns a previously allocated block. Behavior depends on the
	// engine: a no-op for LinearAllocator (freed only in bulk by Reset),
	// a freelist push for PoolAllocator, an unwind for StackAllocator (only
	// valid in strict reverse-allocation order), and a host-heap free for
	// PassthroughAllocator.
	Release(p *byte, size int)
}
