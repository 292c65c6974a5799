package damage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kvmfr/host/kvmfr"
)

func grid(w, h int, on ...[2]int) []bool {
	d := make([]bool, w*h)
	for _, p := range on {
		d[p[1]*w+p[0]] = true
	}
	return d
}

func TestExtractSingleCellProducesOneRect(t *testing.T) {
	var e Extractor
	d := grid(4, 4, [2]int{2, 1})
	rects := e.Extract(d, 4, 4)
	assert.Equal(t, []kvmfr.DamageRect{{X: 256, Y: 128, Width: 128, Height: 128}}, rects)
}

func TestExtractMergesFourConnectedNeighboursIntoOneBoundingBox(t *testing.T) {
	var e Extractor
	// An L-shape: (1,0), (1,1), (2,1) must merge into a single rect.
	d := grid(4, 4, [2]int{1, 0}, [2]int{1, 1}, [2]int{2, 1})
	rects := e.Extract(d, 4, 4)
	assert.Equal(t, []kvmfr.DamageRect{{X: 128, Y: 0, Width: 256, Height: 256}}, rects)
}

func TestExtractKeepsDiagonalCellsAsSeparateRects(t *testing.T) {
	var e Extractor
	// Diagonal neighbours are not 4-connected (only N, W checked).
	d := grid(4, 4, [2]int{0, 0}, [2]int{1, 1})
	rects := e.Extract(d, 4, 4)
	assert.Len(t, rects, 2)
}

func TestExtractCoversEveryDirtyCellsInterior(t *testing.T) {
	// The union of emitted rects must cover every dirty block.
	var e Extractor
	d := grid(8, 8, [2]int{0, 0}, [2]int{3, 3}, [2]int{3, 4}, [2]int{7, 7})
	rects := e.Extract(d, 8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if !d[y*8+x] {
				continue
			}
			px, py := uint32(x*BlockSize), uint32(y*BlockSize)
			covered := false
			for _, r := range rects {
				if px >= r.X && px < r.X+r.Width && py >= r.Y && py < r.Y+r.Height {
					covered = true
					break
				}
			}
			assert.True(t, covered, "cell (%d,%d) not covered by any emitted rect", x, y)
		}
	}
}

func TestExtractReturnsNilWhenRootCountExceedsMax(t *testing.T) {
	var e Extractor
	w, h := 64, 64
	var pts [][2]int
	for i := 0; i < kvmfr.MaxDamageRects+10; i++ {
		// Space isolated single-cell regions two apart, in both
		// directions, so none merge.
		x := (i * 2) % w
		y := ((i * 2) / w) * 2
		pts = append(pts, [2]int{x, y})
	}
	d := grid(w, h, pts...)
	rects := e.Extract(d, w, h)
	assert.Nil(t, rects)
}

func TestExtractReusesScratchAcrossCallsWithDifferentInputs(t *testing.T) {
	var e Extractor
	r1 := e.Extract(grid(4, 4, [2]int{0, 0}), 4, 4)
	assert.Len(t, r1, 1)
	r2 := e.Extract(grid(4, 4, [2]int{1, 1}, [2]int{2, 1}), 4, 4)
	assert.Len(t, r2, 1)
	assert.Equal(t, uint32(128), r2[0].X)
}
