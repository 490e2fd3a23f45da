//go:build go1.22

package arena_test

import (
	"testing"

	"github.com/arena-go/arena/internal/xerrors"
	"github.com/arena-go/arena/pkg/arena"
)

// expectFault runs fn, which must panic with a *arena.Fault (every fatal
// condition in this package reaches its caller through a panic rather than
// a returned error), and returns the recovered Fault. It fails the calling
// test if fn does not panic, or panics with something else.
func expectFault(t *testing.T, fn func()) (fault *arena.Fault) {
	t.Helper()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic, got none")
		}

		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected the panic value to be an error, got %T: %v", r, r)
		}

		f, ok := xerrors.AsA[*arena.Fault](err)
		if !ok {
			t.Fatalf("expected the panic value to unwrap to a *arena.Fault, got %T: %v", r, r)
		}

		fault = f
	}()

	fn()
	return nil
}
