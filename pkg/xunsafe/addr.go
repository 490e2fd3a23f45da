//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

// Addr is a typed stand-in for a raw pointer: a uintptr that remembers what
// type it points to, so that arithmetic on it is scaled by that type's size
// the same way pointer arithmetic on a *T would be.
//
// Unlike a *T, an Addr[T] is not traced by the garbage collector and does not
// keep its pointee alive. It exists so that arena engines can store "the
// next free address" and "the end of this block" without forcing every
// bookkeeping field to be a live pointer into arena memory.
type Addr[T any] uintptr

// AddrOf returns the address of p.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](uintptr(unsafe.Pointer(p)))
}

// EndOf returns the address one past the last element of s.
func EndOf[S ~[]E, E any](s S) Addr[E] {
	size := layout.Size[E]()
	return Addr[E](uintptr(unsafe.Pointer(unsafe.SliceData(s))) + uintptr(len(s))*uintptr(size))
}

// AssertValid casts this address back to a *T. A zero Addr becomes a nil
// pointer.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements' worth of offset to a, scaled by sizeof(T).
func (a Addr[T]) Add(n int) Addr[T] {
	return a + Addr[T](n*layout.Size[T]())
}

// ByteAdd adds n raw bytes of offset to a, unscaled.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub computes the distance, in elements of T, between a and b.
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// Padding returns the number of bytes that must be added to a to reach the
// next address aligned to align, which must be a power of two.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds a up to the next address aligned to align, which must be
// a power of two.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// SignBit reports whether the top bit of a is set.
//
// This is used to steal a bit from an address for out-of-band signaling,
// relying on the fact that no real heap address uses the top bit on any
// platform this library targets.
func (a Addr[T]) SignBit() bool {
	return a&(1<<(unsafe.Sizeof(uintptr(0))*8-1)) != 0
}

// SignBitMask returns an all-ones Addr if the sign bit is set, or an
// all-zeros Addr otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return Addr[T](int(a) >> (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// ClearSignBit returns a with its sign bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (1 << (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// String implements [fmt.Stringer].
func (a Addr[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Format implements [fmt.Formatter], so that %x and %v both produce sensible
// output without the verb falling back to the uintptr default.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x', 'X':
		_, _ = fmt.Fprintf(s, fmt.FormatString(s, verb), uintptr(a))
	default:
		_, _ = fmt.Fprint(s, a.String())
	}
}
