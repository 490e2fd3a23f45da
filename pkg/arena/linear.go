//go:build go1.22

package arena

import (
	"io"
	"sync"
	"unsafe"

	"github.com/arena-go/arena/pkg/opt"
	"github.com/arena-go/arena/pkg/res"
	"github.com/arena-go/arena/pkg/xunsafe"
	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

// Align is the alignment every engine in this package rounds allocations up
// to by default.
const Align = int(unsafe.Sizeof(uintptr(0)))

// LinearAllocator is a bump-pointer allocator: allocations are satisfied in
// strictly increasing address order within the active block, and the only
// way to reclaim memory is Reset, which rewinds the current offset to zero
// and (if PolicyGrowable) frees all trailing blocks.
//
// Blocks are acquired from a BaseAllocator and kept alive by the engine's
// own blocks field; nothing here stores a Go pointer inside arena memory,
// so the garbage collector never needs to trace through a block.
type LinearAllocator struct {
	_ xunsafe.NoCopy

	policy Policy
	cfg    FailureConfig
	record *Record
	base   BaseAllocator

	mu sync.Locker
	rl *rlocker // non-nil only when PolicyGrowable && PolicyMultithreaded

	blockSize int
	blocks    []Block
	next, end xunsafe.Addr[byte]
}

var (
	_ Allocator     = (*LinearAllocator)(nil)
	_ BaseAllocator = (*LinearAllocator)(nil)
	_ io.Closer     = (*LinearAllocator)(nil)
)

// NewLinear constructs a LinearAllocator whose blocks are at least blockSize
// bytes, acquired from the configured BaseAllocator (a shared
// PassthroughAllocator by default).
func NewLinear(blockSize int, opts ...Option) *LinearAllocator {
	c := newConfig(opts)

	a := &LinearAllocator{
		policy:    c.policy,
		cfg:       c.failure,
		record:    newRecord(pickName(c.name, "linear"), false, c.policy.Has(PolicyAllocationTracking)),
		base:      baseOrDefault(c),
		mu:        newMutex(c.policy),
		blockSize: blockSize,
	}

	if a.policy.Has(PolicyGrowable) && a.policy.Has(PolicyMultithreaded) {
		a.rl = &rlocker{}
		a.mu = a.rl
	}

	GlobalTracker().Register(a.record)
	a.growLocked(blockSize)

	return a
}

// Name returns this allocator's debug name.
func (a *LinearAllocator) Name() string { return a.record.Name }

// Used returns bytes currently reserved for live allocations.
func (a *LinearAllocator) Used() int64 { return a.record.Used() }

// Total returns the sum of the sizes of every block this allocator owns.
func (a *LinearAllocator) Total() int64 { return a.record.Total() }

// Alloc allocates size bytes, aligned to Align.
//
// Do not call this directly for typed client code; use [New] or [NewArray].
func (a *LinearAllocator) Alloc(size int) *byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _ := a.allocLocked(size, Align, "")
	return p
}

// AllocArray allocates count elements of elemSize bytes each, aligned to
// align.
func (a *LinearAllocator) AllocArray(count, elemSize, align int) *byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _ := a.allocLocked(count*elemSize, align, "")
	return p
}

// allocLocked places the allocation and returns both the pointer and its
// arena-relative start offset (see [Ptr.Start]), computed against whichever
// block the allocation actually lands in, never a.blocks[0]: growth
// may have run a different block in by the time placement happens.
func (a *LinearAllocator) allocLocked(size, align int, category string) (*byte, int) {
	padding := a.next.Padding(align)
	tentative := a.next.ByteAdd(padding + size)

	for tentative > a.end {
		if !a.policy.Has(PolicyGrowable) {
			if a.policy.Has(PolicySizeCheck) {
				fail(a.cfg, OutOfCapacity, a.Name(), a.arenaOffsetLocked(a.next),
					"requested %d bytes, only %d available", size, int(a.end-a.next))
			}
			return nil, 0
		}

		if a.rl != nil {
			// Growing cycles the lock, so another goroutine may have grown
			// the arena in the gap; re-check before retiring the active
			// block with a grow of our own.
			a.rl.Relock()
			padding = a.next.Padding(align)
			tentative = a.next.ByteAdd(padding + size)
			if tentative <= a.end {
				break
			}
		}

		// Each grow at least doubles the block size, so the loop terminates
		// even for an over-aligned request.
		a.growLocked(max(size+align, a.blockSize*2))
		padding = a.next.Padding(align)
		tentative = a.next.ByteAdd(padding + size)
	}

	addr := a.next.ByteAdd(padding)
	p := addr.AssertValid()
	a.next = tentative
	start := a.arenaOffsetLocked(addr)

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(a.usedLocked())
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportAllocation(a.record, size, category, callSite(3))
	}

	return p, start
}

// arenaOffsetLocked returns addr's arena-relative offset: the sum of every
// earlier block's size plus addr's position within the block that holds it.
// Placement always lands in the current (last) block, since growth only
// ever appends.
func (a *LinearAllocator) arenaOffsetLocked(addr xunsafe.Addr[byte]) int {
	var sum int64
	for _, b := range a.blocks[:len(a.blocks)-1] {
		sum += int64(b.Size)
	}
	last := a.blocks[len(a.blocks)-1]
	return int(sum) + int(addr-last.Addr)
}

// usedLocked computes used size as the sum of every retired block's full
// size plus the current offset within the active block. Retired blocks
// count whole: their unreachable tail space is still reserved until Reset.
func (a *LinearAllocator) usedLocked() int64 {
	if len(a.blocks) == 0 {
		return 0
	}
	var sum int64
	for _, b := range a.blocks[:len(a.blocks)-1] {
		sum += int64(b.Size)
	}
	last := a.blocks[len(a.blocks)-1]
	return sum + int64(a.next-last.Addr)
}

// Release is a no-op: individual allocations cannot be reclaimed by a
// LinearAllocator, only in bulk via [LinearAllocator.Reset].
func (a *LinearAllocator) Release(p *byte, size int) {}

// Reset resets this allocator to an empty state: all memory it allocated
// becomes available for re-use. Any pointer into memory this allocator
// handed out must not be dereferenced after Reset returns.
//
// Frees all but the first block and clears it. The retained block is the
// one acquired at construction, so a growable arena that is refilled grows
// again; only the next growth size (double the largest block seen so far)
// is remembered across Reset.
func (a *LinearAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.blocks) == 0 {
		return
	}

	for _, b := range a.blocks[1:] {
		a.record.addTotal(-int64(b.Size))
		a.base.ReleaseBlock(b)
	}

	first := a.blocks[0]
	xunsafe.Clear(first.Addr.AssertValid(), first.Size)
	a.blocks = a.blocks[:1]
	a.next = first.Addr
	a.end = first.End()

	a.record.setUsed(0)
}

// Close releases every block this allocator owns back to its base allocator
// and unregisters its Record from the global Tracker. Go has no
// destructors, so a client that cares about this bookkeeping must call
// Close explicitly; a LinearAllocator left for the garbage collector simply
// leaks its Tracker entry until process exit.
func (a *LinearAllocator) Close() error {
	a.mu.Lock()
	for _, b := range a.blocks {
		a.base.ReleaseBlock(b)
	}
	a.blocks = nil
	a.mu.Unlock()

	GlobalTracker().Unregister(a.record)
	return nil
}

func (a *LinearAllocator) growLocked(size int) {
	want := max(size, Align)
	result := a.base.AcquireBlock(want)
	if result.IsErr() {
		fail(a.cfg, OutOfCapacity, a.Name(), 0, "base allocator could not satisfy a %d byte block: %v", want, result.UnwrapErr())
	}

	b := result.Unwrap()
	a.blocks = append(a.blocks, b)
	a.blockSize = max(a.blockSize, b.Size)
	a.next = b.Addr
	a.end = b.End()
	a.record.addTotal(int64(b.Size))
}

// AcquireBlock implements BaseAllocator, carving a block out of this
// allocator's own bump-pointer storage for a nested engine to use.
func (a *LinearAllocator) AcquireBlock(size int) res.Result[Block] {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _ := a.allocLocked(size, Align, "block")
	if p == nil {
		return res.Err[Block](&Fault{Kind: OutOfCapacity, Name: a.Name(), Offset: -1, Msg: "nested block request failed"})
	}

	return res.Ok(Block{Addr: xunsafe.AddrOf(p), Size: size})
}

// ReleaseBlock implements BaseAllocator. A LinearAllocator never reclaims
// individual blocks it has handed to a nested engine; they are only freed
// in bulk by Reset.
func (a *LinearAllocator) ReleaseBlock(Block) {}

// New allocates a value of type T and copies value into it, returning a
// typed wrapper. The linear engine has no per-allocation header: End is
// always None.
func New[T any](a *LinearAllocator, value T) Ptr[T] {
	l := layout.Of[T]()
	if l.Align > Align {
		fail(a.cfg, PrecondViolation, a.Name(), -1, "alignment %d exceeds the engine's %d-byte allocation alignment", l.Align, Align)
	}

	a.mu.Lock()
	raw, start := a.allocLocked(l.Size, Align, "")
	a.mu.Unlock()
	p := xunsafe.Cast[T](raw)

	*p = value
	return newPtr(xunsafe.AddrOf(p), start, opt.None[int]())
}

// NewArray allocates an array of n values of type T, default-initialized.
func NewArray[T any](a *LinearAllocator, n int) ArrayPtr[T] {
	size := layout.Size[T]()

	a.mu.Lock()
	raw, start := a.allocLocked(n*size, layout.Align[T](), "")
	a.mu.Unlock()
	p := xunsafe.Cast[T](raw)

	return newArrayPtr(xunsafe.AddrOf(p), start, n)
}

// DestroyInPlace runs T's zero value over *p.Get() (the closest thing to a
// destructor Go has) but reclaims no storage: a LinearAllocator can only
// reclaim memory in bulk, via Reset. The name says so: calling this
// "delete" would wrongly suggest the storage comes back.
func DestroyInPlace[T any](p Ptr[T]) {
	var zero T
	*p.Get() = zero
}

// DestroyArrayInPlace is DestroyInPlace for every element of an array,
// first element included.
func DestroyArrayInPlace[T any](p ArrayPtr[T]) {
	s := p.Slice()
	var zero T
	for i := range s {
		s[i] = zero
	}
}
