package arena

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// AllocationEvent is one entry in a Record's allocation history, kept only
// when PolicyAllocationTracking is set.
type AllocationEvent struct {
	Size     int
	Category string
	Site     string
}

// Record is one engine's entry in the process-wide Tracker. An engine and
// the Tracker both hold a *Record; no explicit refcount is needed: the
// Record becomes unreachable from the Tracker once Unregister runs, and
// unreachable from the engine once the engine itself is collected.
type Record struct {
	Name string

	total atomic.Int64
	used  atomic.Int64
	peak  atomic.Int64

	allocs   atomic.Int64
	deallocs atomic.Int64

	isBaseAllocator bool

	historyMu sync.Mutex
	history   []AllocationEvent
	tracking  bool // PolicyAllocationTracking, fixed at construction
}

// newRecord builds a Record for an engine named name. isBase marks whether
// this engine obtains memory directly from the host heap (a "base
// allocator" in tracker terms) rather than from another engine.
func newRecord(name string, isBase bool, trackHistory bool) *Record {
	return &Record{Name: name, isBaseAllocator: isBase, tracking: trackHistory}
}

// Total returns the total size reserved by this engine (sum of its blocks).
func (r *Record) Total() int64 { return r.total.Load() }

// Used returns the currently allocated size tracked for this engine.
func (r *Record) Used() int64 { return r.used.Load() }

// Peak returns the highest Used value ever observed for this engine.
func (r *Record) Peak() int64 { return r.peak.Load() }

// Allocations returns the number of allocations reported so far.
func (r *Record) Allocations() int64 { return r.allocs.Load() }

// Deallocations returns the number of deallocations reported so far.
func (r *Record) Deallocations() int64 { return r.deallocs.Load() }

// History returns a copy of this record's allocation history. Empty unless
// PolicyAllocationTracking was set when the engine was constructed.
func (r *Record) History() []AllocationEvent {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()

	out := make([]AllocationEvent, len(r.history))
	copy(out, r.history)
	return out
}

// addTotal adjusts the reserved-size counter, e.g. when an engine acquires
// or releases a block.
func (r *Record) addTotal(delta int64) { r.total.Add(delta) }

// setUsed records the engine's current used size and keeps the high-water
// mark up to date.
func (r *Record) setUsed(used int64) {
	r.used.Store(used)
	global.dirty.Store(true)
	for {
		peak := r.peak.Load()
		if used <= peak || r.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}

func (r *Record) recordDealloc() { r.deallocs.Add(1) }

// callSite captures the caller's location the same way internal/debug.Log
// locates its own caller, for use as the Site field of an AllocationEvent.
func callSite(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "<unknown>"
	}

	fn := runtime.FuncForPC(pc)
	name := "<unknown>"
	if fn != nil {
		name = fn.Name()
	}

	return fmt.Sprintf("%s (%s:%d)", name, file, line)
}

// Tracker is the process-wide registry of live allocators. Exactly one
// instance exists, reached via GlobalTracker.
type Tracker struct {
	mu     sync.Mutex
	all    []*Record
	byName map[string]*Record

	totalAllocated atomic.Int64
	dirty          atomic.Bool
	cachedUsed     atomic.Int64
}

func newTracker() *Tracker {
	return &Tracker{byName: make(map[string]*Record)}
}

var global = newTracker()

// GlobalTracker returns the process-wide Tracker singleton.
func GlobalTracker() *Tracker { return global }

// Register adds record to the registry and invalidates the cached used-size
// aggregate.
func (t *Tracker) Register(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.all = append(t.all, r)
	if r.Name != "" {
		t.byName[r.Name] = r
	}
	t.totalAllocated.Add(r.Total())
	t.dirty.Store(true)
}

// Unregister removes record from the registry.
func (t *Tracker) Unregister(r *Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, rec := range t.all {
		if rec == r {
			t.all = append(t.all[:i], t.all[i+1:]...)
			break
		}
	}
	if r.Name != "" && t.byName[r.Name] == r {
		delete(t.byName, r.Name)
	}
	t.totalAllocated.Add(-r.Total())
	t.dirty.Store(true)
}

// ReportAllocation notifies the tracker that size bytes were allocated by
// record's engine, tagged with category and the given call site.
func (t *Tracker) ReportAllocation(r *Record, size int, category, site string) {
	r.allocs.Add(1)
	if r.tracking {
		r.historyMu.Lock()
		r.history = append(r.history, AllocationEvent{Size: size, Category: category, Site: site})
		r.historyMu.Unlock()
	}
	t.dirty.Store(true)
}

// ReportDeallocation notifies the tracker that one allocation on record's
// engine was released.
func (t *Tracker) ReportDeallocation(r *Record) {
	r.recordDealloc()
	t.dirty.Store(true)
}

// TotalAllocated returns the sum of every registered record's reserved size.
func (t *Tracker) TotalAllocated() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, r := range t.all {
		sum += r.Total()
	}
	return sum
}

// TotalUsed returns the sum of every registered record's used size,
// recomputing on a cache miss: every write path sets dirty instead of
// updating the aggregate inline, so read-free workloads pay nothing.
func (t *Tracker) TotalUsed() int64 {
	if !t.dirty.Load() {
		return t.cachedUsed.Load()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, r := range t.all {
		sum += r.Used()
	}
	t.cachedUsed.Store(sum)
	t.dirty.Store(false)
	return sum
}

// Allocators returns every registered record, base and non-base alike.
func (t *Tracker) Allocators() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, len(t.all))
	copy(out, t.all)
	return out
}

// BaseAllocators returns only the records flagged as base allocators (those
// that obtain memory directly from the host heap).
func (t *Tracker) BaseAllocators() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Record
	for _, r := range t.all {
		if r.isBaseAllocator {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds a registered record by its debug name.
func (t *Tracker) Lookup(name string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byName[name]
	return r, ok
}

// Reset clears the registry. Intended for use by tests only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.all = nil
	t.byName = make(map[string]*Record)
	t.totalAllocated.Store(0)
	t.cachedUsed.Store(0)
	t.dirty.Store(false)
}
