package bootconfig

import (
	"testing"

	"github.com/barrelfish/hagfish/pkg/memregion"
	"github.com/stretchr/testify/assert"
)

func TestComponentDescriptorPathAndArgs(t *testing.T) {
	buf := []byte("/boot/cpu.img loglevel=3")
	c := ComponentDescriptor{PathStart: 0, PathLen: 13, ArgsStart: 14, ArgsLen: 11}
	assert.Equal(t, "/boot/cpu.img", c.Path(buf))
	assert.Equal(t, "loglevel=3", c.Args(buf))
}

func TestComponentDescriptorEmptyArgs(t *testing.T) {
	c := ComponentDescriptor{}
	assert.Equal(t, "", c.Args(nil))
}

func TestEffectiveStackSizeRoundsUpZero(t *testing.T) {
	cfg := &ConfigRecord{StackSize: 0}
	assert.Equal(t, uint64(memregion.PageSize), cfg.EffectiveStackSize())
}

func TestEffectiveStackSizeRoundsUpPartialPage(t *testing.T) {
	cfg := &ConfigRecord{StackSize: memregion.PageSize + 1}
	assert.Equal(t, uint64(2*memregion.PageSize), cfg.EffectiveStackSize())
}

func TestEffectiveStackSizeExactPage(t *testing.T) {
	cfg := &ConfigRecord{StackSize: 4 * memregion.PageSize}
	assert.Equal(t, uint64(4*memregion.PageSize), cfg.EffectiveStackSize())
}
