//go:build go1.22

// Package arena provides a family of low-level, relatively unsafe memory
// allocators intended to replace calls into the host allocator on
// performance-sensitive paths.
//
// # Engines
//
// Four allocation disciplines are provided, each trading flexibility for
// speed in a different way:
//
//   - [LinearAllocator]: bump-pointer, deallocation only in bulk via Reset,
//     optionally growable by chaining blocks.
//   - [StackAllocator]: bump-pointer with a per-allocation header, allowing
//     LIFO deallocation of individual objects.
//   - [PoolAllocator]: fixed-size slots carved from one or more blocks,
//     managed by an embedded freelist.
//   - [PassthroughAllocator]: forwards to the host heap, adding tracking and
//     safety checks; also the library's canonical [BaseAllocator].
//
// # Policies
//
// Every engine is constructed with a [Policy] bitmask selecting which
// safety checks and bookkeeping it performs; [PolicyRelease] strips all of
// them, [PolicyDefault] turns on the checks a correctly-used program pays
// for, and [PolicyDebug] turns on everything, including allocation history
// and the concurrency-safe mutex path.
//
// # Tracking
//
// Every engine registers a [Record] with the process-wide [Tracker]
// ([GlobalTracker]) on construction, giving callers a single place to ask
// how much memory every live allocator has reserved and is using.
//
// # Failure
//
// A violated invariant (double free, out-of-order stack release, bounds
// guard mismatch, and so on) is fatal: it raises a [*Fault] through a panic
// rather than returning an error, because by the time such a check fires
// the program has already broken a memory-management contract and
// continuing would corrupt memory. See [ErrorKind] for the full taxonomy.
package arena
