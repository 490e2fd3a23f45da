package arena

import (
	"sync"

	"github.com/timandy/routine"

	"github.com/arena-go/arena/internal/debug"
)

// noopLocker is a zero-cost sync.Locker: when PolicyMultithreaded is unset,
// an engine uses one of these instead of a real mutex, so every Lock/Unlock
// call compiles down to nothing of consequence.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// newMutex returns a real *sync.Mutex when p has PolicyMultithreaded set, or
// a noopLocker otherwise.
func newMutex(p Policy) sync.Locker {
	if p.Has(PolicyMultithreaded) {
		return new(sync.Mutex)
	}

	return noopLocker{}
}

// rlocker is the lock behind the one engine operation that unlocks and
// re-locks mid-call: the growable linear engine's grow-then-retry path.
// Other goroutines may acquire the lock in the gap (the engine re-checks
// its state after every Relock for exactly that reason); what rlocker adds
// over a plain sync.Mutex is an owner field, tagged with routine.Goid() the
// same way internal/debug tags log lines, so Relock can assert the calling
// goroutine actually holds the lock it is about to cycle. Without that
// assertion a misplaced Relock silently unlocks someone else's critical
// section and corrupts next/end.
type rlocker struct {
	mu    sync.Mutex
	owner uint64
	held  bool
}

func (l *rlocker) Lock() {
	l.mu.Lock()
	l.owner = routine.Goid()
	l.held = true
}

func (l *rlocker) Unlock() {
	l.held = false
	l.mu.Unlock()
}

// Relock asserts that the calling goroutine is the current owner, then
// performs Unlock followed immediately by Lock. This is only safe to call
// while still holding the lock from a prior Lock/Relock call.
func (l *rlocker) Relock() {
	debug.Assert(l.held && l.owner == routine.Goid(),
		"Relock called by a goroutine that does not hold the lock")
	l.Unlock()
	l.Lock()
}
