package arena

// Policy is a bitmask selecting which safety and bookkeeping checks an
// engine performs. The value is fixed at construction and threaded through
// the engine; every check site in this package is written
// `if p.Has(PolicyX) { ... }`, a single AND-and-compare the branch
// predictor resolves for free once an engine's policy has been observed a
// few times.
type Policy uint32

// Structural checks.
const (
	// PolicySizeCheck refuses an out-of-capacity allocation instead of
	// corrupting adjacent memory.
	PolicySizeCheck Policy = 1 << iota
	// PolicyOwnershipCheck refuses to deallocate a pointer that does not lie
	// within any block owned by the engine.
	PolicyOwnershipCheck
	// PolicyNullDeallocCheck refuses to deallocate a nil pointer.
	PolicyNullDeallocCheck
	// PolicyNullAllocCheck makes PassthroughAllocator refuse a negative
	// allocation size with a PrecondViolation fault. The linear, stack and
	// pool engines do not read it: with PolicySizeCheck off they return nil
	// when full.
	PolicyNullAllocCheck
	// PolicyDoubleFreeCheck nulls a typed pointer wrapper's address after it
	// is deallocated, so a second deallocate on the same wrapper is caught.
	PolicyDoubleFreeCheck

	// PolicyBoundsCheck brackets every allocation's payload with a pair of
	// bound guards, checked on deallocation.
	PolicyBoundsCheck
	// PolicyStackCheck enforces LIFO deallocation order on a stack engine.
	PolicyStackCheck
	// PolicyPoolCheck catches a deallocate of a pointer that does not belong
	// to the pool it is being returned to.
	PolicyPoolCheck

	// PolicyGrowable allows a bump or pool engine to chain additional blocks
	// instead of failing once the active block is exhausted.
	PolicyGrowable

	// PolicySizeTracking maintains used/total size bookkeeping in the
	// engine's tracker record.
	PolicySizeTracking
	// PolicyAllocationTracking additionally records a per-allocation history
	// entry (size, category, call site) in the tracker record.
	PolicyAllocationTracking

	// PolicyMultithreaded engages the engine's mutex. Without this bit, the
	// engine uses a no-op locker and is not safe for concurrent use.
	PolicyMultithreaded
)

// Has reports whether every bit in bits is set in p.
func (p Policy) Has(bits Policy) bool { return p&bits == bits }

// PolicyRelease has every check bit cleared: a release-mode engine built
// with this policy reduces to a bump pointer (linear, stack), a freelist pop
// (pool), or a direct host-heap call (passthrough), with no bookkeeping.
const PolicyRelease Policy = 0

// PolicyDefault turns on the checks a correctly-used program pays for by
// default: structural and layout safety plus size tracking, but neither
// allocation history nor concurrency (most engines are built and used by a
// single goroutine).
const PolicyDefault = PolicySizeCheck | PolicyOwnershipCheck |
	PolicyNullDeallocCheck | PolicyNullAllocCheck | PolicyDoubleFreeCheck |
	PolicyBoundsCheck | PolicyStackCheck | PolicyPoolCheck |
	PolicySizeTracking

// PolicyDebug has every bit set.
const PolicyDebug = PolicySizeCheck | PolicyOwnershipCheck |
	PolicyNullDeallocCheck | PolicyNullAllocCheck | PolicyDoubleFreeCheck |
	PolicyBoundsCheck | PolicyStackCheck | PolicyPoolCheck |
	PolicyGrowable | PolicySizeTracking | PolicyAllocationTracking |
	PolicyMultithreaded

// FailureConfig controls what happens when a fatal fault fires, beyond the
// panic itself.
type FailureConfig struct {
	// BreakOnFailure calls runtime.Breakpoint() before panicking, so a
	// debugger attached to the process stops at the fault site.
	BreakOnFailure bool

	// LogFailures routes the fault through internal/debug.Log (in addition
	// to the unconditional panic) even outside of a debug build.
	LogFailures bool
}
