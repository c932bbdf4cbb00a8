package memregion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverPages(t *testing.T) {
	cases := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{3 * PageSize, 3},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CoverPages(c.size))
	}
}

func TestRegionContains(t *testing.T) {
	r := Region{Base: 0x1000, Pages: 2}
	assert.True(t, r.Contains(0x1000))
	assert.True(t, r.Contains(0x2fff))
	assert.False(t, r.Contains(0x3000))
	assert.False(t, r.Contains(0xfff))
}

func TestRegionListAppendRejectsOverlap(t *testing.T) {
	rl := &RegionList{}
	require.NoError(t, rl.Append(0x1000, 2))
	require.NoError(t, rl.Append(0x3000, 1))

	err := rl.Append(0x2000, 2)
	assert.Error(t, err, "region overlapping an existing region must be rejected")

	r, ok := rl.At(1)
	require.True(t, ok)
	assert.Equal(t, uintptr(0x3000), r.Base)

	_, ok = rl.At(5)
	assert.False(t, ok)
}
