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

package produce

// FrameInfo caches what each frame-pool slot currently holds, letting
// FrameProducer perform a selective copy instead of rewriting an
// entire buffer on every capture.
type FrameInfo struct {
	Width, Height int
	WasFresh      bool
	DiffMap       []bool
}

// frameInfoCache holds one FrameInfo per frame-pool slot.
type frameInfoCache struct {
	entries []FrameInfo
}

func newFrameInfoCache(slots int) *frameInfoCache {
	return &frameInfoCache{entries: make([]FrameInfo, slots)}
}

// touch records that slot was just written with a fresh (width,
// height) capture, then updates every other entry:
//
//   - the just-written slot becomes {width, height, wasFresh: true},
//     its diff map reset to exactly the current diff (nothing stale
//     survives a fresh write).
//   - other entries whose (width, height) still match the current
//     capture have diff OR-ed into their own diffMap and are marked
//     wasFresh=false: the next time one of them is reused, it must
//     copy every block any accumulated diff touched, because its
//     pixels are now stale relative to the new capture.
//   - entries whose dimensions no longer match are cleared so the
//     next write to them forces a full copy rather than a selective
//     one.
func (c *frameInfoCache) touch(slot int, width, height int, diff []bool) {
	for i := range c.entries {
		e := &c.entries[i]
		if i == slot {
			e.Width, e.Height = width, height
			e.WasFresh = true
			e.DiffMap = append(e.DiffMap[:0], diff...)
			continue
		}
		if e.Width == width && e.Height == height {
			e.DiffMap = orInto(e.DiffMap, diff)
			e.WasFresh = false
		} else {
			e.Width, e.Height = 0, 0
			e.WasFresh = false
			e.DiffMap = e.DiffMap[:0]
		}
	}
}

// at returns the current FrameInfo for slot.
func (c *frameInfoCache) at(slot int) FrameInfo {
	return c.entries[slot]
}

// orInto ORs src into dst, growing dst if necessary, and returns the
// (possibly reallocated) result.
func orInto(dst []bool, src []bool) []bool {
	if len(dst) < len(src) {
		grown := make([]bool, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, v := range src {
		if v {
			dst[i] = true
		}
	}
	return dst
}
