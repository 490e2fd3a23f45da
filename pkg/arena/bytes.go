package arena

// ByteSize is a byte count with suffix-sugar constructors for readable call
// sites, e.g. arena.NewLinear((4 * arena.MiB).Bytes()).
type ByteSize int64

// Binary size literals (powers of 1024).
const (
	KiB ByteSize = 1 << (10 * (iota + 1))
	MiB
	GiB
)

// Decimal size literals (powers of 1000).
const (
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
)

// Bytes returns this size as a plain int, for passing to APIs that accept a
// byte count rather than a ByteSize.
func (s ByteSize) Bytes() int { return int(s) }
