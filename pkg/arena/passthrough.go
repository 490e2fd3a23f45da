package arena

import (
	"io"
	"sync"
	"unsafe"

	"github.com/arena-go/arena/internal/xsync"
	"github.com/arena-go/arena/pkg/opt"
	"github.com/arena-go/arena/pkg/res"
	"github.com/arena-go/arena/pkg/xunsafe"
	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

// PassthroughAllocator forwards every allocation to the host heap via
// make([]byte, n). Go has no explicit free, so "deallocating" here means:
// tracking is told the memory is free and the engine drops its reference so
// the GC may reclaim it.
//
// PassthroughAllocator is also the library's canonical BaseAllocator: the
// other three engines acquire their blocks from one (directly, or
// transitively through another engine that itself implements BaseAllocator).
type PassthroughAllocator struct {
	policy Policy
	cfg    FailureConfig
	record *Record

	mu sync.Locker // guards only the record counters, never the host call

	// live keeps every outstanding allocation's backing slice reachable from
	// a GC root keyed by address, both for the ownership check and so the
	// unsafe.Pointer a caller holds does not outlive the slice the garbage
	// collector thinks is live. A plain map guarded by mu would work too,
	// but PassthroughAllocator's ownership check is the one lookup in this
	// package that is genuinely hot under concurrent alloc/dealloc from
	// unrelated goroutines, so it is built on xsync.Map rather than a
	// mutex-guarded map[uintptr][]byte.
	live xsync.Map[uintptr, []byte]
}

var (
	_ Allocator     = (*PassthroughAllocator)(nil)
	_ BaseAllocator = (*PassthroughAllocator)(nil)
	_ io.Closer     = (*PassthroughAllocator)(nil)
)

// NewPassthrough constructs a PassthroughAllocator. name is used as the
// engine's debug name in the global Tracker.
func NewPassthrough(name string, opts ...Option) *PassthroughAllocator {
	cfg := newConfig(opts)

	a := &PassthroughAllocator{
		policy: cfg.policy,
		cfg:    cfg.failure,
		record: newRecord(pickName(name, "passthrough"), true, cfg.policy.Has(PolicyAllocationTracking)),
		mu:     newMutex(cfg.policy),
	}

	GlobalTracker().Register(a.record)
	return a
}

// Name returns this allocator's debug name.
func (a *PassthroughAllocator) Name() string { return a.record.Name }

// Used returns the currently allocated size tracked for this allocator.
func (a *PassthroughAllocator) Used() int64 { return a.record.Used() }

// Total returns the total size ever handed out by this allocator.
func (a *PassthroughAllocator) Total() int64 { return a.record.Total() }

// Alloc allocates size bytes directly from the host heap.
func (a *PassthroughAllocator) Alloc(size int) *byte {
	return a.AllocCategory(size, "")
}

// AllocCategory is like Alloc, but tags the allocation with category in the
// tracker's history (when PolicyAllocationTracking is set).
func (a *PassthroughAllocator) AllocCategory(size int, category string) *byte {
	if a.policy.Has(PolicyNullAllocCheck) && size < 0 {
		fail(a.cfg, PrecondViolation, a.Name(), -1, "negative allocation size %d", size)
	}

	buf := make([]byte, max(size, 1))
	p := unsafe.SliceData(buf)

	a.live.Store(uintptr(xunsafe.AddrOf(p)), buf)

	a.mu.Lock()
	a.record.addTotal(int64(size))
	a.record.setUsed(a.record.Used() + int64(size))
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportAllocation(a.record, size, category, callSite(2))
	}
	a.mu.Unlock()

	return p
}

// Release returns a previously allocated block back to the host heap.
func (a *PassthroughAllocator) Release(p *byte, size int) {
	if p == nil {
		if a.policy.Has(PolicyNullDeallocCheck) {
			fail(a.cfg, NullDealloc, a.Name(), -1, "Release called with a nil pointer")
		}
		return
	}

	addr := uintptr(xunsafe.AddrOf(p))
	_, owned := a.live.LoadAndDelete(addr)

	if !owned && a.policy.Has(PolicyOwnershipCheck) {
		fail(a.cfg, OwnershipViolation, a.Name(), -1, "pointer %v was not allocated by this allocator", p)
	}

	a.mu.Lock()
	a.record.setUsed(a.record.Used() - int64(size))
	if a.policy.Has(PolicyAllocationTracking) {
		GlobalTracker().ReportDeallocation(a.record)
	}
	a.mu.Unlock()
}

// Close unregisters this allocator's Record from the global Tracker. There
// is nothing else to release: every live allocation's backing slice stays
// reachable from a.live until the caller deallocates it, or, failing that,
// until the process exits.
func (a *PassthroughAllocator) Close() error {
	GlobalTracker().Unregister(a.record)
	return nil
}

// AcquireBlock implements BaseAllocator by allocating a fresh block directly
// from the host heap.
func (a *PassthroughAllocator) AcquireBlock(size int) res.Result[Block] {
	if size <= 0 {
		return res.Err[Block](&Fault{Kind: PrecondViolation, Name: a.Name(), Offset: -1, Msg: "block size must be positive"})
	}

	p := a.AllocCategory(size, "block")
	return res.Ok(Block{Addr: xunsafe.AddrOf(p), Size: size})
}

// ReleaseBlock implements BaseAllocator by releasing a block back to the
// host heap.
func (a *PassthroughAllocator) ReleaseBlock(b Block) {
	a.Release(b.Addr.AssertValid(), b.Size)
}

// PassthroughNew allocates a value of type T from the host heap and copies
// value into it, returning a typed wrapper. As with [PoolNew], the wrapper's
// Start is the slot's absolute address (a passthrough allocation has no
// arena-relative offset) and End is None.
func PassthroughNew[T any](a *PassthroughAllocator, value T) Ptr[T] {
	raw := a.AllocCategory(layout.Size[T](), "")
	typed := xunsafe.Cast[T](raw)

	*typed = value
	return newPtr(xunsafe.AddrOf(typed), int(xunsafe.AddrOf(raw)), opt.None[int]())
}

// PassthroughDelete zeroes the value and releases its storage back to the
// host heap. The wrapper is nulled afterwards, so a second delete on the
// same wrapper is caught as a double free rather than handed to the host
// heap twice.
func PassthroughDelete[T any](a *PassthroughAllocator, ptr *Ptr[T]) {
	if a.policy.Has(PolicyDoubleFreeCheck) && ptr.IsFreed() {
		fail(a.cfg, DoubleFree, a.Name(), -1, "PassthroughDelete called on an already-freed Ptr")
	}

	var zero T
	*ptr.Get() = zero

	a.Release((*byte)(unsafe.Pointer(ptr.Get())), layout.Size[T]())
	ptr.free()
}
