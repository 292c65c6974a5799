package produce

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameInfoCacheTouchSetsTheJustWrittenEntryFresh(t *testing.T) {
	c := newFrameInfoCache(2)
	c.touch(0, 640, 480, []bool{true, false})

	got := c.at(0)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)
	assert.True(t, got.WasFresh)
	assert.Equal(t, []bool{true, false}, got.DiffMap)
}

func TestFrameInfoCacheClearsMismatchedDimensionEntries(t *testing.T) {
	c := newFrameInfoCache(2)
	c.touch(0, 640, 480, []bool{true, false})
	// A resolution change invalidates every entry that no longer
	// matches the new capture's dimensions, slot 0 included: its
	// cached pixels are for a frame size that no longer exists.
	c.touch(1, 800, 600, []bool{false, true})

	slot0 := c.at(0)
	assert.Equal(t, 0, slot0.Width, "slot 0's stale resolution must be invalidated, not kept")
	assert.False(t, slot0.WasFresh)
	assert.Empty(t, slot0.DiffMap)

	slot1 := c.at(1)
	assert.Equal(t, 800, slot1.Width)
	assert.True(t, slot1.WasFresh)
}

// After writes to slot i followed by a write to slot j != i with the
// same (W,H), slot j's diffMap is the OR of every diff observed since
// slot j was last wasFresh.
func TestFrameInfoCacheAccumulatesDiffAcrossOtherSlotsWithMatchingDims(t *testing.T) {
	c := newFrameInfoCache(3)
	c.touch(0, 100, 100, []bool{true, false, false})
	c.touch(1, 100, 100, []bool{false, true, false})

	slot2 := c.at(2) // never written; dims start at zero-value and never match
	assert.False(t, slot2.WasFresh)

	slot0 := c.at(0)
	assert.False(t, slot0.WasFresh, "slot 0 becomes stale once a matching-dim slot is written elsewhere")
	assert.Equal(t, []bool{true, true, false}, slot0.DiffMap, "slot 0 accumulates slot 1's diff")

	c.touch(2, 100, 100, []bool{false, false, true})
	slot0 = c.at(0)
	assert.Equal(t, []bool{true, true, true}, slot0.DiffMap, "slot 0 keeps accumulating from every matching-dim write")

	slot1 := c.at(1)
	assert.Equal(t, []bool{false, true, true}, slot1.DiffMap, "slot 1 never saw slot 0's original diff, only what happened after its own fresh write")
}

func TestFrameInfoCacheResetsDiffMapOnReWriteToTheSameSlot(t *testing.T) {
	c := newFrameInfoCache(2)
	c.touch(0, 100, 100, []bool{true, true})
	c.touch(1, 100, 100, []bool{false, true}) // accumulates into slot 0

	c.touch(0, 100, 100, []bool{true, false}) // fresh re-write of slot 0
	slot0 := c.at(0)
	assert.True(t, slot0.WasFresh)
	assert.Equal(t, []bool{true, false}, slot0.DiffMap, "a fresh write discards whatever was accumulated before it")
}

func TestOrIntoGrowsDestinationToFitLongerSource(t *testing.T) {
	dst := []bool{true}
	got := orInto(dst, []bool{false, true, false})
	assert.Equal(t, []bool{true, true, false}, got)
}

func TestOrIntoLeavesUntouchedBitsAlone(t *testing.T) {
	dst := []bool{true, false, true}
	got := orInto(dst, []bool{false, false, false})
	assert.Equal(t, []bool{true, false, true}, got)
}
