package arena

import (
	"fmt"
	"runtime"

	"github.com/arena-go/arena/internal/debug"
)

// ErrorKind classifies the fatal conditions an engine can detect in its
// guarded checks. These are kinds, not distinct error types: every one of
// them is carried by a *Fault.
type ErrorKind int

const (
	// OutOfCapacity means the engine is full and not growable (or the
	// request exceeds a single block even when growable).
	OutOfCapacity ErrorKind = iota + 1
	// NullDealloc means Dealloc was called with a nil pointer.
	NullDealloc
	// OwnershipViolation means a pointer passed to Dealloc does not lie
	// within any block this engine owns.
	OwnershipViolation
	// OutOfOrder means a stack engine's LIFO invariant was violated.
	OutOfOrder
	// MemoryStomp means a bound guard did not read back the offset it was
	// written with.
	MemoryStomp
	// DoubleFree means a pointer wrapper whose address was already nulled
	// by a prior deallocation was deallocated again.
	DoubleFree
	// PoolSlotSizeMismatch means a size-checked pool request exceeds the
	// pool's fixed slot size.
	PoolSlotSizeMismatch
	// PrecondViolation means a precondition was violated: bad alignment,
	// zero size, an unsupported combination of policy bits, and so on.
	PrecondViolation
)

func (k ErrorKind) String() string {
	switch k {
	case OutOfCapacity:
		return "OutOfCapacity"
	case NullDealloc:
		return "NullDealloc"
	case OwnershipViolation:
		return "OwnershipViolation"
	case OutOfOrder:
		return "OutOfOrder"
	case MemoryStomp:
		return "MemoryStomp"
	case DoubleFree:
		return "DoubleFree"
	case PoolSlotSizeMismatch:
		return "PoolSlotSizeMismatch"
	case PrecondViolation:
		return "PrecondViolation"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Fault is the error carried by every fatal condition this package detects.
// A Fault always reaches the caller through a panic (see fail below), never
// through a returned error: these are programmer-error conditions that
// corrupt memory if ignored, not recoverable runtime failures. A test
// harness may recover and inspect the Fault with
// internal/xerrors.AsA[*Fault]; production code is expected to let it
// crash the process.
type Fault struct {
	Kind   ErrorKind
	Name   string // debug name of the offending engine
	Offset int    // byte offset within the engine where the fault was found, or -1
	Msg    string
}

func (f *Fault) Error() string {
	if f.Offset < 0 {
		return fmt.Sprintf("arena: %s: %s: %s", f.Name, f.Kind, f.Msg)
	}

	return fmt.Sprintf("arena: %s: %s @%d: %s", f.Name, f.Kind, f.Offset, f.Msg)
}

// fail raises a *Fault through internal/debug's logging pathway and then
// panics with it. cfg controls whether the fault is also logged outside of
// a debug build and whether it stops at a debugger breakpoint first.
func fail(cfg FailureConfig, kind ErrorKind, name string, offset int, format string, args ...any) {
	f := &Fault{Kind: kind, Name: name, Offset: offset, Msg: fmt.Sprintf(format, args...)}

	if cfg.BreakOnFailure {
		runtime.Breakpoint()
	}

	if cfg.LogFailures || debug.Enabled {
		debug.Fail(kind.String(), name, offset, f)
		return // unreachable: debug.Fail always panics
	}

	panic(f)
}
