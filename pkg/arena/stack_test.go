//go:build go1.22

package arena_test

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/arena-go/arena/pkg/arena"
)

type widget struct {
	A    int64
	B    float64
	C    byte
	D    bool
	E    float64
}

func TestStackAllocatorSingleObject(t *testing.T) {
	Convey("Given a StackAllocator with 10 MiB", t, func() {
		a := arena.NewStack(10*arena.MiB.Bytes(), arena.WithName("test-stack-single"))
		defer a.Close()

		Convey("When one value is allocated", func() {
			p := arena.StackNew(a, widget{A: 1, B: 2.5, C: 'a', D: false, E: 10.5})

			Convey("Then its fields round-trip", func() {
				So(p.Get().A, ShouldEqual, int64(1))
				So(p.Get().B, ShouldEqual, 2.5)
				So(p.Get().C, ShouldEqual, byte('a'))
				So(p.Get().D, ShouldBeFalse)
				So(p.Get().E, ShouldEqual, 10.5)
			})

			Convey("Then deleting it returns used size to zero", func() {
				arena.StackDelete(a, &p)
				So(a.Used(), ShouldEqual, int64(0))
			})
		})
	})
}

func TestStackAllocatorLIFO(t *testing.T) {
	Convey("Given a StackAllocator with 10 objects allocated", t, func() {
		a := arena.NewStack(int(arena.KiB)*4, arena.WithName("test-stack-lifo"))
		defer a.Close()

		var ptrs [10]arena.Ptr[widget]
		for i := range ptrs {
			ptrs[i] = arena.StackNew(a, widget{A: int64(i)})
		}
		usedAfterAlloc := a.Used()

		Convey("When deallocated in strict reverse order", func() {
			for i := len(ptrs) - 1; i >= 0; i-- {
				arena.StackDelete(a, &ptrs[i])
			}

			Convey("Then used size returns to zero", func() {
				So(a.Used(), ShouldEqual, int64(0))
				So(usedAfterAlloc, ShouldBeGreaterThan, int64(0))
			})
		})

		Convey("When object #5 is freed after only #9 and #8 were released", func() {
			arena.StackDelete(a, &ptrs[9])
			arena.StackDelete(a, &ptrs[8])

			Convey("Then it is a fatal out-of-order free", func() {
				f := expectFault(t, func() { arena.StackDelete(a, &ptrs[5]) })
				So(f.Kind, ShouldEqual, arena.OutOfOrder)
			})
		})
	})
}

func TestStackAllocatorArray(t *testing.T) {
	Convey("Given a StackAllocator", t, func() {
		a := arena.NewStack(int(arena.KiB), arena.WithName("test-stack-array"))
		defer a.Close()

		Convey("When an array of 5 widgets is allocated and populated", func() {
			arr := arena.StackNewArray[widget](a, 5)
			s := arr.Slice()
			for i := range s {
				s[i] = widget{A: int64(i)}
			}

			Convey("Then DeleteArray destroys every element, including the first", func() {
				arena.StackDeleteArray(a, &arr)
				So(a.Used(), ShouldEqual, int64(0))
				for i := range s {
					So(s[i], ShouldResemble, widget{})
				}
			})
		})
	})
}

func TestStackAllocatorDoubleFree(t *testing.T) {
	Convey("Given a StackAllocator with double-free checking enabled", t, func() {
		a := arena.NewStack(int(arena.KiB), arena.WithName("test-stack-doublefree"),
			arena.WithPolicy(arena.PolicyDoubleFreeCheck|arena.PolicyStackCheck|arena.PolicySizeTracking))
		defer a.Close()

		p := arena.StackNew(a, widget{A: 1})
		arena.StackDelete(a, &p)

		Convey("When the same wrapper is deleted again", func() {
			Convey("Then it raises a DoubleFree Fault", func() {
				f := expectFault(t, func() { arena.StackDelete(a, &p) })
				So(f.Kind, ShouldEqual, arena.DoubleFree)
			})
		})
	})
}

func TestStackAllocatorBoundsCheck(t *testing.T) {
	Convey("Given a StackAllocator with bounds checking enabled", t, func() {
		a := arena.NewStack(int(arena.KiB), arena.WithName("test-stack-bounds"),
			arena.WithPolicy(arena.PolicyBoundsCheck|arena.PolicySizeCheck))
		defer a.Close()

		Convey("When a raw allocation's back guard is stomped before Dealloc", func() {
			p := a.Alloc(8)

			// Write one byte past the requested payload, directly into the
			// back guard this allocation reserved.
			*(*byte)(unsafe.Add(unsafe.Pointer(p), 8)) = 0xff

			Convey("Then Dealloc raises a MemoryStomp Fault", func() {
				f := expectFault(t, func() { a.Dealloc(p) })
				So(f.Kind, ShouldEqual, arena.MemoryStomp)
			})
		})
	})
}

func TestStackAllocatorAllocationTracking(t *testing.T) {
	Convey("Given a StackAllocator with allocation tracking enabled", t, func() {
		a := arena.NewStack(int(arena.KiB), arena.WithName("test-stack-alloc-tracking"),
			arena.WithPolicy(arena.PolicyDefault|arena.PolicyAllocationTracking))
		defer a.Close()

		rec, ok := arena.GlobalTracker().Lookup("test-stack-alloc-tracking")
		So(ok, ShouldBeTrue)

		Convey("When one value is allocated", func() {
			p := arena.StackNew(a, widget{A: 1})

			Convey("Then the allocation is reported", func() {
				So(rec.Allocations(), ShouldEqual, int64(1))
				So(rec.Deallocations(), ShouldEqual, int64(0))
			})

			Convey("Then deleting it balances allocation and deallocation counts", func() {
				arena.StackDelete(a, &p)
				So(rec.Allocations(), ShouldEqual, int64(1))
				So(rec.Deallocations(), ShouldEqual, int64(1))
			})
		})
	})
}

func TestStackAllocatorRejectsGrowable(t *testing.T) {
	Convey("Given an attempt to construct a growable StackAllocator", t, func() {
		Convey("Then it is a precondition violation", func() {
			f := expectFault(t, func() {
				arena.NewStack(int(arena.KiB), arena.WithName("test-stack-growable-rejected"),
					arena.WithPolicy(arena.PolicyGrowable))
			})
			So(f.Kind, ShouldEqual, arena.PrecondViolation)
		})
	})
}
