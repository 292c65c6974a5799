/*
 * Copyright 2026 The KVMFR Host Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package damage extracts axis-aligned damage rectangles from a
// dirty-block bitmap: a 4-connected connected-components pass over
// the dirty cells via union-find, with each component reduced to its
// bounding box. Bounding-box union is lossy, but the emitted
// rectangles always cover every dirty cell, which is the only
// property the far side depends on.
package damage

import "github.com/kvmfr/host/kvmfr"

// BlockSize is the dirty-block granularity in pixels.
const BlockSize = 128

// Extractor holds reusable scratch state for repeated damage
// extraction over diff maps of the same dimensions, avoiding a fresh
// allocation on every frame.
type Extractor struct {
	ds []node
}

type node struct {
	id             int
	x1, y1, x2, y2 int
}

// Extract computes damage rectangles from diff, a row-major w*h
// boolean dirty-block bitmap. w and h are in BlockSize units
// (ceil(W/128) and ceil(H/128)). Returned rectangles are in pixel
// units, ready to embed in a kvmfr.Frame. If the number of disjoint
// regions would exceed kvmfr.MaxDamageRects, Extract returns a nil
// slice, meaning "assume the entire frame changed" — never a
// truncated set.
func (e *Extractor) Extract(diff []bool, w, h int) []kvmfr.DamageRect {
	if w <= 0 || h <= 0 || len(diff) < w*h {
		return nil
	}
	if cap(e.ds) < w*h {
		e.ds = make([]node, w*h)
	}
	ds := e.ds[:w*h]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !diff[i] {
				continue
			}
			ds[i] = node{id: i, x1: x, x2: x, y1: y, y2: y}
			if y > 0 && diff[(y-1)*w+x] {
				dsUnion(ds, (y-1)*w+x, i)
			}
			if x > 0 && diff[y*w+x-1] {
				dsUnion(ds, i, y*w+x-1)
			}
		}
	}

	var rects []kvmfr.DamageRect
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !diff[i] || ds[i].id != i {
				continue
			}
			if len(rects) >= kvmfr.MaxDamageRects {
				return nil
			}
			n := ds[i]
			rects = append(rects, kvmfr.DamageRect{
				X:      uint32(n.x1 * BlockSize),
				Y:      uint32(n.y1 * BlockSize),
				Width:  uint32((n.x2 - n.x1 + 1) * BlockSize),
				Height: uint32((n.y2 - n.y1 + 1) * BlockSize),
			})
		}
	}
	return rects
}

// dsFind returns the representative of id's set, compressing the
// path iteratively so repeated lookups on large diff maps never grow
// the Go call stack.
func dsFind(ds []node, id int) int {
	root := id
	for ds[root].id != root {
		root = ds[root].id
	}
	for ds[id].id != root {
		next := ds[id].id
		ds[id].id = root
		id = next
	}
	return root
}

// dsUnion merges the sets containing a and b, folding b's bounding
// box into a's representative.
func dsUnion(ds []node, a, b int) {
	a = dsFind(ds, a)
	b = dsFind(ds, b)
	if a == b {
		return
	}
	ds[b].id = a
	if ds[b].x1 < ds[a].x1 {
		ds[a].x1 = ds[b].x1
	}
	if ds[b].x2 > ds[a].x2 {
		ds[a].x2 = ds[b].x2
	}
	if ds[b].y1 < ds[a].y1 {
		ds[a].y1 = ds[b].y1
	}
	if ds[b].y2 > ds[a].y2 {
		ds[a].y2 = ds[b].y2
	}
}
