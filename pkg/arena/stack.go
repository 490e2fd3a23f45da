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

// stackHeader is the in-place header written immediately before the
// payload of a raw-pointer stack allocation. hasEnd mirrors whether
// PolicyStackCheck was set when this allocation was made, since the
// header's shape is otherwise fixed whether or not the check is active.
type stackHeader struct {
	start  int
	hasEnd bool
	end    int
}

var stackHeaderSize = layout.Size[stackHeader]()
var guardSize = layout.Size[int]()

// StackAllocator is a bump allocator extended with per-allocation headers,
// so that individual allocations can be released in LIFO order. It does
// not chain blocks: PolicyGrowable is a documented precondition violation
// at construction time, because a stack discipline only makes sense
// against a single contiguous region whose "current offset" is
// unambiguous.
type StackAllocator struct {
	_ xunsafe.NoCopy

	policy Policy
	cfg    FailureConfig
	record *Record
	base   BaseAllocator

	mu sync.Locker

	block     Block
	next, end xunsafe.Addr[byte]
}

var (
	_ Allocator     = (*StackAllocator)(nil)
	_ BaseAllocator = (*StackAllocator)(nil)
	_ io.Closer     = (*StackAllocator)(nil)
)

// NewStack constructs a StackAllocator backed by a single block of at least
// size bytes. Panics with a PrecondViolation fault if opts request
// PolicyGrowable: the stack engine has no block-chaining support.
func NewStack(size int, opts ...Option) *StackAllocator {
	c := newConfig(opts)
	name := pickName(c.name, "stack")

	if c.policy.Has(PolicyGrowable) {
		fail(c.failure, PrecondViolation, name, -1, "StackAllocator does not support PolicyGrowable")
	}

	a := &StackAllocator{
		policy: c.policy,
		cfg:    c.failure,
		record: newRecord(name, false, c.policy.Has(PolicyAllocationTracking)),
		base:   baseOrDefault(c),
		mu:     newMutex(c.policy),
	}

	result := a.base.AcquireBlock(size)
	if result.IsErr() {
		fail(a.cfg, OutOfCapacity, name, 0, "could not acquire initial block: %v", result.UnwrapErr())
	}

	a.block = result.Unwrap()
	a.next = a.block.Addr
	a.end = a.block.End()
	a.record.addTotal(int64(a.block.Size))

	GlobalTracker().Register(a.record)
	return a
}

// Name returns this allocator's debug name.
func (a *StackAllocator) Name() string { return a.record.Name }

// Used returns bytes currently reserved by live allocations.
func (a *StackAllocator) Used() int64 { return a.record.Used() }

// Total returns this allocator's block size.
func (a *StackAllocator) Total() int64 { return a.record.Total() }

func (a *StackAllocator) offset(addr xunsafe.Addr[byte]) int {
	return int(addr - a.block.Addr)
}

// Alloc allocates size bytes with the in-place header layout, for raw
// pointer callers. Use [StackNew]/[StackNewArray] for the wrapper-carried
// layout, which avoids the in-place header's arena overhead.
func (a *StackAllocator) Alloc(size int) *byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _, _ := a.allocLocked(size, Align, true, "")
	return p
}

// AllocArray allocates count elements of elemSize bytes each, aligned to
// align, with the in-place header layout. The result is deallocated with
// [StackAllocator.Dealloc], same as a single-object allocation: the header
// records the array's full footprint, so no separate array path is needed
// on release.
func (a *StackAllocator) AllocArray(count, elemSize, align int) *byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _, _ := a.allocLocked(count*elemSize, align, true, "")
	return p
}

// Release implements [Allocator] by deallocating a raw pointer previously
// returned by Alloc, checking its in-place header.
func (a *StackAllocator) Release(p *byte, size int) { a.Dealloc(p) }

// allocLocked performs the bump-with-header allocation. withInPlaceHeader
// selects between the raw-pointer layout (stackHeader + optional front/back
// guards written in-arena) and the wrapper-carried layout (only guards, if
// any, written in-arena; the header lives in the returned Ptr/ArrayPtr
// instead). Layout, low to high address: [stackHeader?][front guard?]
// [payload][back guard?]. The front guard always sits directly before the
// payload regardless of whether a stackHeader precedes it, so Dealloc can
// locate it from the payload address alone without knowing which path
// produced the allocation.
//
// category tags the allocation in the tracker's history when
// PolicyAllocationTracking is set, the same as linear.go's allocLocked.
//
// It returns the payload pointer, the allocation's start offset, and its
// end offset (one past the back guard, when present; one past the payload
// otherwise).
func (a *StackAllocator) allocLocked(size, align int, withInPlaceHeader bool, category string) (*byte, int, int) {
	bounds := a.policy.Has(PolicyBoundsCheck)

	frontGuardSize := 0
	if bounds {
		frontGuardSize = guardSize
	}
	headerSize := 0
	if withInPlaceHeader {
		headerSize = stackHeaderSize
	}
	reserved := headerSize + frontGuardSize

	padding := layout.HeaderPadding(int(a.next), align, reserved)
	aligned := a.next.ByteAdd(padding)
	tail := aligned.ByteAdd(size)
	if bounds {
		tail = tail.ByteAdd(guardSize)
	}

	if tail > a.end {
		if a.policy.Has(PolicySizeCheck) {
			fail(a.cfg, OutOfCapacity, a.Name(), a.offset(a.next), "requested %d bytes, only %d available", size, int(a.end-a.next))
		}
		return nil, 0, 0
	}

	start := a.offset(a.next)
	end := a.offset(tail)

	frontGuardAddr := aligned.ByteAdd(-frontGuardSize)
	if bounds {
		*xunsafe.Cast[int](frontGuardAddr.AssertValid()) = start
		backGuard := aligned.ByteAdd(size)
		*xunsafe.Cast[int](backGuard.AssertValid()) = start
	}

	if withInPlaceHeader {
		h := stackHeader{start: start, hasEnd: a.policy.Has(PolicyStackCheck), end: end}
		headerAddr := frontGuardAddr.ByteAdd(-stackHeaderSize)
		*xunsafe.Cast[stackHeader](headerAddr.AssertValid()) = h
	}

	a.next = tail

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.offset(a.next)))
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportAllocation(a.record, size, category, callSite(3))
	}

	return aligned.AssertValid(), start, end
}

// Dealloc releases a raw-pointer allocation previously returned by Alloc,
// verifying the in-place header's LIFO and bounds invariants.
func (a *StackAllocator) Dealloc(p *byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == nil {
		if a.policy.Has(PolicyNullDeallocCheck) {
			fail(a.cfg, NullDealloc, a.Name(), -1, "Dealloc called with a nil pointer")
		}
		return
	}

	addr := xunsafe.AddrOf(p)
	if a.policy.Has(PolicyOwnershipCheck) && (addr < a.block.Addr || addr >= a.block.End()) {
		fail(a.cfg, OwnershipViolation, a.Name(), -1, "pointer %v is not owned by this stack", p)
	}

	frontGuardSize := 0
	if a.policy.Has(PolicyBoundsCheck) {
		frontGuardSize = guardSize
	}
	headerAddr := addr.ByteAdd(-frontGuardSize - stackHeaderSize)
	h := *xunsafe.Cast[stackHeader](headerAddr.AssertValid())

	a.checkAndUnwindLocked(addr, h.start, h.end, h.hasEnd)
}

// checkAndUnwindLocked is the shared tail of Dealloc/DeallocArray and the
// typed-wrapper deallocation path: verify LIFO order and bound guards, then
// rewind the bump pointer to start. payload is the allocation's first
// payload byte; the front guard, when present, sits directly before it
// (which is not offset start; padding separates the two).
func (a *StackAllocator) checkAndUnwindLocked(payload xunsafe.Addr[byte], start, end int, hasEnd bool) {
	current := a.offset(a.next)

	if a.policy.Has(PolicyStackCheck) && hasEnd && end != current {
		fail(a.cfg, OutOfOrder, a.Name(), end, "deallocation out of LIFO order: arena is at offset %d", current)
	}

	if a.policy.Has(PolicyBoundsCheck) {
		front := *xunsafe.Cast[int](payload.ByteAdd(-guardSize).AssertValid())
		back := *xunsafe.Cast[int](a.block.Addr.ByteAdd(end - guardSize).AssertValid())
		if front != start || back != start {
			fail(a.cfg, MemoryStomp, a.Name(), start, "bound guard mismatch: front=%d back=%d want=%d", front, back, start)
		}
	}

	a.next = a.block.Addr.ByteAdd(start)

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(start))
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportDeallocation(a.record)
	}
}

// Reset unconditionally resets the current offset to zero, without any of
// the LIFO/bounds checks Dealloc performs: it is the bulk counterpart of
// Dealloc, discarding every outstanding allocation at once.
func (a *StackAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.next = a.block.Addr
	a.record.setUsed(0)
}

// Close releases this allocator's block back to its base allocator and
// unregisters its Record from the global Tracker.
func (a *StackAllocator) Close() error {
	a.mu.Lock()
	b := a.block
	a.block = Block{}
	a.mu.Unlock()

	a.base.ReleaseBlock(b)
	GlobalTracker().Unregister(a.record)
	return nil
}

// AcquireBlock implements BaseAllocator, carving a block out of the stack's
// own storage. Nested engines that never call Dealloc through it (only
// through the stack's own release path) are the supported use.
func (a *StackAllocator) AcquireBlock(size int) res.Result[Block] {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, _, _ := a.allocLocked(size, Align, false, "block")
	if p == nil {
		return res.Err[Block](&Fault{Kind: OutOfCapacity, Name: a.Name(), Msg: "nested block request failed"})
	}

	return res.Ok(Block{Addr: xunsafe.AddrOf(p), Size: size})
}

// ReleaseBlock implements BaseAllocator. Individual blocks handed to a
// nested engine can only be reclaimed via the owning stack's own Reset.
func (a *StackAllocator) ReleaseBlock(Block) {}

// StackNew allocates a value of type T on the stack engine using the
// wrapper-carried header layout (no in-place stackHeader is written; only
// bound guards, if enabled), and returns a handle that must be released
// with [StackDelete] in strict LIFO order.
func StackNew[T any](a *StackAllocator, value T) Ptr[T] {
	a.mu.Lock()
	p, start, end := a.allocLocked(layout.Size[T](), layout.Align[T](), false, "")
	a.mu.Unlock()

	typed := xunsafe.Cast[T](p)
	*typed = value

	// end is stored whenever either check that consults it is active: the
	// LIFO check reads it directly, and the bounds check locates the back
	// guard relative to it even when LIFO checking itself is off.
	endOpt := opt.None[int]()
	if a.policy.Has(PolicyStackCheck) || a.policy.Has(PolicyBoundsCheck) {
		endOpt = opt.Some(end)
	}

	return newPtr(xunsafe.AddrOf(typed), start, endOpt)
}

// StackDelete zeroes the value (Go has no destructor to call, and zeroing
// happens while the storage is still valid and aligned) and then
// deallocates ptr, checking its LIFO and bounds invariants.
func StackDelete[T any](a *StackAllocator, ptr *Ptr[T]) {
	if a.policy.Has(PolicyDoubleFreeCheck) && ptr.IsFreed() {
		fail(a.cfg, DoubleFree, a.Name(), ptr.start, "StackDelete called on an already-freed Ptr")
	}

	var zero T
	*ptr.Get() = zero

	a.mu.Lock()
	defer a.mu.Unlock()

	payload := xunsafe.Addr[byte](uintptr(ptr.addr))
	start := ptr.start
	end := ptr.end.UnwrapOr(start)

	a.checkAndUnwindLocked(payload, start, end, a.policy.Has(PolicyStackCheck))
	ptr.free()
}

// StackNewArray allocates n values of type T on the stack engine, returning
// an array wrapper. As with [StackNew], no in-place header is written.
func StackNewArray[T any](a *StackAllocator, n int) ArrayPtr[T] {
	size := layout.Size[T]() * n

	a.mu.Lock()
	p, start, _ := a.allocLocked(size, layout.Align[T](), false, "")
	a.mu.Unlock()

	return newArrayPtr(xunsafe.Addr[T](uintptr(unsafe.Pointer(p))), start, n)
}

// StackDeleteArray fully destroys every element and then deallocates the
// array, reconstructing its end offset from count*sizeof(T) anchored at the
// payload address (the stored start offset sits before the alignment
// padding, so it cannot anchor the reconstruction).
func StackDeleteArray[T any](a *StackAllocator, ptr *ArrayPtr[T]) {
	if a.policy.Has(PolicyDoubleFreeCheck) && ptr.IsFreed() {
		fail(a.cfg, DoubleFree, a.Name(), ptr.start, "StackDeleteArray called on an already-freed ArrayPtr")
	}

	s := ptr.Slice()
	var zero T
	for i := range s {
		s[i] = zero
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	payload := xunsafe.Addr[byte](uintptr(ptr.addr))
	start := ptr.Start()
	end := a.offset(payload) + ptr.Len()*layout.Size[T]()
	if a.policy.Has(PolicyBoundsCheck) {
		end += guardSize
	}

	a.checkAndUnwindLocked(payload, start, end, a.policy.Has(PolicyStackCheck))
	ptr.free()
}
