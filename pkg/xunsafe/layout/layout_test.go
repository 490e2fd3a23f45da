package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arena-go/arena/pkg/xunsafe/layout"
)

func TestAlign(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 8, layout.RoundUp(8, 8))
	assert.Equal(t, 16, layout.RoundUp(9, 8))
	assert.Equal(t, 16, layout.RoundUp(10, 8))
	assert.Equal(t, 16, layout.RoundUp(11, 8))
	assert.Equal(t, 16, layout.RoundUp(12, 8))
	assert.Equal(t, 16, layout.RoundUp(13, 8))
	assert.Equal(t, 16, layout.RoundUp(14, 8))
	assert.Equal(t, 16, layout.RoundUp(15, 8))
	assert.Equal(t, 16, layout.RoundUp(16, 8))

	assert.Equal(t, 0, layout.Padding(8, 8))
	assert.Equal(t, 7, layout.Padding(9, 8))
	assert.Equal(t, 6, layout.Padding(10, 8))
	assert.Equal(t, 5, layout.Padding(11, 8))
	assert.Equal(t, 4, layout.Padding(12, 8))
	assert.Equal(t, 3, layout.Padding(13, 8))
	assert.Equal(t, 2, layout.Padding(14, 8))
	assert.Equal(t, 1, layout.Padding(15, 8))
	assert.Equal(t, 0, layout.Padding(16, 8))
}

func TestHeaderPadding(t *testing.T) {
	t.Parallel()

	// headerSize smaller than the shortest padding: HeaderPadding degenerates
	// to Padding.
	assert.Equal(t, 7, layout.HeaderPadding(9, 8, 4))

	// headerSize larger than a single alignment step: padding must grow by
	// whole alignment increments until it is wide enough.
	assert.Equal(t, 16, layout.HeaderPadding(8, 8, 9))
	assert.Equal(t, 16, layout.HeaderPadding(8, 8, 16))
	assert.Equal(t, 8, layout.HeaderPadding(8, 8, 1))

	for v := 0; v < 64; v++ {
		for _, align := range []int{4, 8, 16} {
			for _, header := range []int{0, 1, 7, 8, 9, 31} {
				p := layout.HeaderPadding(v, align, header)
				assert.GreaterOrEqual(t, p, header, "v=%d align=%d header=%d", v, align, header)
				assert.Equal(t, 0, (v+p)%align, "v=%d align=%d header=%d", v, align, header)
			}
		}
	}
}
