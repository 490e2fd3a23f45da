package xerrors

import "errors"

// AsA is a generic wrapper around [errors.As] for convenience: it reports
// whether err (or one it wraps) is of type T, returning the extracted value.
func AsA[T error](err error) (_ T, ok bool) {
	var e T

	if errors.As(err, &e) {
		return e, true
	}

	var zero T

	return zero, false
}
