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

// PoolAllocator hands out fixed-size slots carved from one or more blocks,
// tracked by an embedded freelist threaded through the slots themselves: a
// free slot's first machine word holds the address of the next free slot,
// or zero if it is the last one. Threading through the slots' own storage
// means a pool of n slots costs no bookkeeping memory beyond the head
// pointer.
type PoolAllocator struct {
	_ xunsafe.NoCopy

	policy Policy
	cfg    FailureConfig
	record *Record
	base   BaseAllocator

	mu sync.Locker

	slotSize      int
	slotsPerBlock int
	blocks        []Block
	free          xunsafe.Addr[byte] // 0 == empty
	freeCount     int
}

var (
	_ Allocator     = (*PoolAllocator)(nil)
	_ BaseAllocator = (*PoolAllocator)(nil)
	_ io.Closer     = (*PoolAllocator)(nil)
)

// NewPool constructs a PoolAllocator whose slots are sized to hold at least
// objectSize bytes (rounded up to fit a freelist pointer and to Align), with
// slotsPerBlock slots carved out of each block acquired from the base
// allocator.
func NewPool(objectSize, slotsPerBlock int, opts ...Option) *PoolAllocator {
	c := newConfig(opts)
	name := pickName(c.name, "pool")

	slotSize := max(objectSize, int(unsafe.Sizeof(uintptr(0))))
	slotSize = layout.RoundUp(slotSize, Align)

	a := &PoolAllocator{
		policy:        c.policy,
		cfg:           c.failure,
		record:        newRecord(name, false, c.policy.Has(PolicyAllocationTracking)),
		base:          baseOrDefault(c),
		mu:            newMutex(c.policy),
		slotSize:      slotSize,
		slotsPerBlock: max(slotsPerBlock, 1),
	}

	a.growLocked()
	GlobalTracker().Register(a.record)
	return a
}

// Name returns this allocator's debug name.
func (a *PoolAllocator) Name() string { return a.record.Name }

// Used returns bytes currently reserved by live allocations.
func (a *PoolAllocator) Used() int64 { return a.record.Used() }

// Total returns the sum of the sizes of every block this allocator owns.
func (a *PoolAllocator) Total() int64 { return a.record.Total() }

// SlotSize returns the fixed size, in bytes, of every slot this pool hands
// out.
func (a *PoolAllocator) SlotSize() int { return a.slotSize }

// Alloc allocates one slot. size is checked against the pool's fixed slot
// size when PolicySizeCheck is set; a mismatched request is a programmer
// error (the caller asked the wrong pool), not an out-of-capacity condition.
//
// Do not call this directly for typed client code; use [PoolNew].
func (a *PoolAllocator) Alloc(size int) *byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy.Has(PolicySizeCheck) && size > a.slotSize {
		fail(a.cfg, PoolSlotSizeMismatch, a.Name(), -1, "requested %d bytes exceeds slot size %d", size, a.slotSize)
	}

	return a.popLocked()
}

func (a *PoolAllocator) popLocked() *byte {
	if a.free == 0 {
		if !a.policy.Has(PolicyGrowable) && len(a.blocks) > 0 {
			if a.policy.Has(PolicySizeCheck) {
				fail(a.cfg, OutOfCapacity, a.Name(), -1, "pool exhausted: %d slots in use", a.slotsPerBlock*len(a.blocks))
			}
			return nil
		}
		a.growLocked()
		if a.free == 0 {
			return nil
		}
	}

	p := a.free
	a.free = *xunsafe.Cast[xunsafe.Addr[byte]](p.AssertValid())
	a.freeCount--

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.usedSlots()) * int64(a.slotSize))
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportAllocation(a.record, a.slotSize, "slot", callSite(4))
	}

	return p.AssertValid()
}

func (a *PoolAllocator) usedSlots() int {
	return a.slotsPerBlock*len(a.blocks) - a.freeCount
}

// growLocked acquires a new block from the base allocator and threads all
// of its slots onto the freelist, last slot first, so the freelist ends up
// handing out slots in ascending address order within a block.
func (a *PoolAllocator) growLocked() {
	want := a.slotSize * a.slotsPerBlock
	result := a.base.AcquireBlock(want)
	if result.IsErr() {
		if a.policy.Has(PolicySizeCheck) {
			fail(a.cfg, OutOfCapacity, a.Name(), -1, "base allocator could not satisfy a %d byte block: %v", want, result.UnwrapErr())
		}
		return
	}

	b := result.Unwrap()
	a.blocks = append(a.blocks, b)
	a.record.addTotal(int64(b.Size))

	slots := b.Size / a.slotSize
	for i := slots - 1; i >= 0; i-- {
		slot := b.Addr.ByteAdd(i * a.slotSize)
		*xunsafe.Cast[xunsafe.Addr[byte]](slot.AssertValid()) = a.free
		a.free = slot
		a.freeCount++
	}
}

// ownsLocked reports whether addr falls within some block this pool owns,
// aligned to a slot boundary.
func (a *PoolAllocator) ownsLocked(addr xunsafe.Addr[byte]) bool {
	for _, b := range a.blocks {
		if addr >= b.Addr && addr < b.End() && int(addr-b.Addr)%a.slotSize == 0 {
			return true
		}
	}
	return false
}

// Release implements [Allocator] by returning a slot to the freelist.
func (a *PoolAllocator) Release(p *byte, size int) { a.Dealloc(p) }

// Dealloc returns a slot to the pool's freelist. PolicyPoolCheck verifies
// the pointer lies on a slot boundary within a block this pool owns before
// threading it back onto the freelist; without that check, a bad pointer
// silently corrupts the freelist the same way a raw pool allocator would.
func (a *PoolAllocator) Dealloc(p *byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p == nil {
		if a.policy.Has(PolicyNullDeallocCheck) {
			fail(a.cfg, NullDealloc, a.Name(), -1, "Dealloc called with a nil pointer")
		}
		return
	}

	addr := xunsafe.AddrOf(p)
	if a.policy.Has(PolicyPoolCheck) && !a.ownsLocked(addr) {
		fail(a.cfg, OwnershipViolation, a.Name(), -1, "pointer %v is not a slot owned by this pool", p)
	}

	*xunsafe.Cast[xunsafe.Addr[byte]](p) = a.free
	a.free = addr
	a.freeCount++

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.usedSlots()) * int64(a.slotSize))
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportDeallocation(a.record)
	}
}

// Reset returns every slot in every block this pool owns to the freelist,
// discarding all live allocations without running any destructor.
func (a *PoolAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.free = 0
	a.freeCount = 0
	for i := len(a.blocks) - 1; i >= 0; i-- {
		b := a.blocks[i]
		slots := b.Size / a.slotSize
		for j := slots - 1; j >= 0; j-- {
			slot := b.Addr.ByteAdd(j * a.slotSize)
			*xunsafe.Cast[xunsafe.Addr[byte]](slot.AssertValid()) = a.free
			a.free = slot
			a.freeCount++
		}
	}
	a.record.setUsed(0)
}

// Close releases every block this pool owns back to its base allocator and
// unregisters its Record from the global Tracker.
func (a *PoolAllocator) Close() error {
	a.mu.Lock()
	blocks := a.blocks
	a.blocks = nil
	a.free = 0
	a.freeCount = 0
	a.mu.Unlock()

	for _, b := range blocks {
		a.base.ReleaseBlock(b)
	}
	GlobalTracker().Unregister(a.record)
	return nil
}

// AcquireBlock implements BaseAllocator by growing a fresh pool block and
// handing a nested engine its first ceil(size/slotSize) slots as one
// contiguous run; the block's remaining slots stay on the freelist.
func (a *PoolAllocator) AcquireBlock(size int) res.Result[Block] {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := (size + a.slotSize - 1) / a.slotSize
	addr, ok := a.claimContiguousLocked(slots)
	if !ok {
		return res.Err[Block](&Fault{Kind: OutOfCapacity, Name: a.Name(), Msg: "nested block request exceeds pool slot granularity"})
	}

	return res.Ok(Block{Addr: addr, Size: slots * a.slotSize})
}

// ReleaseBlock implements BaseAllocator. A PoolAllocator never reclaims a
// block handed to a nested engine except via Reset.
func (a *PoolAllocator) ReleaseBlock(Block) {}

// claimContiguousLocked grows a fresh block and claims its first n slots as
// one contiguous run, unthreading them from the freelist. Used by
// AcquireBlock and NewArray, which both need slots at adjoining addresses
// rather than whatever order the freelist happens to hand them out in.
func (a *PoolAllocator) claimContiguousLocked(n int) (xunsafe.Addr[byte], bool) {
	if n > a.slotsPerBlock {
		return 0, false
	}

	if !a.policy.Has(PolicyGrowable) && len(a.blocks) > 0 {
		return 0, false
	}

	a.growLocked()
	if len(a.blocks) == 0 {
		return 0, false
	}

	b := a.blocks[len(a.blocks)-1]
	if b.Size/a.slotSize < n {
		return 0, false
	}

	// The freshly grown block's slots were just threaded onto the freelist
	// head, last-address-first; unthread exactly n of them, which are the
	// block's first n slots in ascending order.
	cur := a.free
	for i := 0; i < n; i++ {
		next := *xunsafe.Cast[xunsafe.Addr[byte]](cur.AssertValid())
		cur = next
		a.freeCount--
	}
	a.free = cur

	return b.Addr, true
}

// PoolNew allocates a value of type T from the pool and copies value into
// it. T must fit within the pool's fixed slot size.
func PoolNew[T any](a *PoolAllocator, value T) Ptr[T] {
	a.mu.Lock()
	if a.policy.Has(PolicySizeCheck) && layout.Size[T]() > a.slotSize {
		a.mu.Unlock()
		fail(a.cfg, PoolSlotSizeMismatch, a.Name(), -1, "type of size %d exceeds slot size %d", layout.Size[T](), a.slotSize)
	}
	p := a.popLocked()
	a.mu.Unlock()

	if p == nil {
		fail(a.cfg, OutOfCapacity, a.Name(), -1, "pool exhausted")
	}

	typed := xunsafe.Cast[T](p)
	*typed = value
	// start/end have no single-arena-relative meaning here (a pool has many
	// blocks); Ptr's Start is set to the slot's absolute address, purely
	// informational, since the pool engine never consults it for ordering.
	return newPtr(xunsafe.AddrOf(typed), int(xunsafe.AddrOf(p)), opt.None[int]())
}

// PoolDelete runs T's destructor (zeroing, as elsewhere in this package)
// and returns ptr's slot to the pool.
func PoolDelete[T any](a *PoolAllocator, ptr *Ptr[T]) {
	if a.policy.Has(PolicyDoubleFreeCheck) && ptr.IsFreed() {
		fail(a.cfg, DoubleFree, a.Name(), -1, "PoolDelete called on an already-freed Ptr")
	}

	var zero T
	*ptr.Get() = zero

	a.mu.Lock()
	defer a.mu.Unlock()

	p := (*byte)(unsafe.Pointer(ptr.Get()))
	addr := xunsafe.AddrOf(p)
	if a.policy.Has(PolicyPoolCheck) && !a.ownsLocked(addr) {
		fail(a.cfg, OwnershipViolation, a.Name(), -1, "pointer is not a slot owned by this pool")
	}

	*xunsafe.Cast[xunsafe.Addr[byte]](p) = a.free
	a.free = addr
	a.freeCount++
	ptr.free()

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.usedSlots()) * int64(a.slotSize))
	}
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportDeallocation(a.record)
	}
}

// PoolNewArray allocates n contiguous slots for an array of type T. Per the
// pool engine's resolved open question, this only succeeds by claiming the
// tail of a freshly acquired block (where contiguity is guaranteed); if no
// fresh block can be acquired, it fails with PrecondViolation rather than
// scanning the freelist for an already-contiguous run.
func PoolNewArray[T any](a *PoolAllocator, n int) ArrayPtr[T] {
	elemSize := layout.Size[T]()
	slotsNeeded := (elemSize*n + a.slotSize - 1) / a.slotSize

	a.mu.Lock()
	addr, ok := a.claimContiguousLocked(slotsNeeded)
	if ok && a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.usedSlots()) * int64(a.slotSize))
	}
	a.mu.Unlock()

	if !ok {
		fail(a.cfg, PrecondViolation, a.Name(), -1, "cannot claim %d contiguous slots for an array of %d elements", slotsNeeded, n)
	}

	return newArrayPtr(xunsafe.Addr[T](uintptr(addr)), int(addr), n)
}

// PoolDeleteArray destroys every element and returns the array's slots to
// the pool as one contiguous run.
func PoolDeleteArray[T any](a *PoolAllocator, ptr *ArrayPtr[T]) {
	if a.policy.Has(PolicyDoubleFreeCheck) && ptr.IsFreed() {
		fail(a.cfg, DoubleFree, a.Name(), -1, "PoolDeleteArray called on an already-freed ArrayPtr")
	}

	s := ptr.Slice()
	var zero T
	for i := range s {
		s[i] = zero
	}

	elemSize := layout.Size[T]()
	slots := (elemSize*ptr.Len() + a.slotSize - 1) / a.slotSize

	a.mu.Lock()
	defer a.mu.Unlock()

	base := xunsafe.AddrOf((*byte)(unsafe.Pointer(ptr.Get())))
	if a.policy.Has(PolicyPoolCheck) && !a.ownsLocked(base) {
		fail(a.cfg, OwnershipViolation, a.Name(), -1, "array is not backed by slots owned by this pool")
	}

	for i := slots - 1; i >= 0; i-- {
		slot := base.ByteAdd(i * a.slotSize)
		*xunsafe.Cast[xunsafe.Addr[byte]](slot.AssertValid()) = a.free
		a.free = slot
		a.freeCount++
	}
	ptr.free()

	if a.policy.Has(PolicySizeTracking) {
		a.record.setUsed(int64(a.usedSlots()) * int64(a.slotSize))
	}
}
