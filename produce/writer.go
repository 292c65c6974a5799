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

import "sync/atomic"

// FrameWriter tracks how much of a fixed-size, arena-backed payload a
// backend has written so far, publishing that count under a release
// store so a subscriber reading the same buffer concurrently only
// ever sees bytes the write pointer has already vouched for. This is
// what makes post-then-fill safe: the slot is posted before the pixel
// copy starts, and the client paces itself against the write pointer.
type FrameWriter struct {
	data    []byte
	written uint64
}

// NewFrameWriter wraps data (typically a pool buffer's payload
// region) with a zeroed write pointer.
func NewFrameWriter(data []byte) *FrameWriter {
	return &FrameWriter{data: data}
}

// Data returns the full backing slice, including bytes not yet
// published by Advance. Only the backend writing this buffer should
// use this; subscribers must stay within Written().
func (w *FrameWriter) Data() []byte { return w.data }

// WrittenPtr exposes the write-pointer counter for handing to
// capture.NewFrameBuffer, so a Backend implementation can call
// Advance without importing this package.
func (w *FrameWriter) WrittenPtr() *uint64 { return &w.written }

// Written returns the number of bytes currently published as safe to
// read.
func (w *FrameWriter) Written() int { return int(atomic.LoadUint64(&w.written)) }

// Reset publishes a write pointer of zero, for reuse of the
// underlying buffer by a new capture.
func (w *FrameWriter) Reset() { atomic.StoreUint64(&w.written, 0) }

// Advance publishes that n additional bytes are safe to read.
func (w *FrameWriter) Advance(n int) { atomic.AddUint64(&w.written, uint64(n)) }

// CopyKernel performs a selective copy: rows are copied in
// blockSize-pixel-tall stripes, one stripe per dirty row-block,
// skipping stripes that are not dirty. Both source and destination
// use the same stride. Skipping clean stripes is the entire win;
// within a stripe a plain copy is as fast as Go can go, since
// non-temporal stores aren't expressible portably.
func CopyKernel(dst, src []byte, stride, blockSize int, dirtyRows []bool) {
	rows := len(dirtyRows)
	for r := 0; r < rows; r++ {
		if !dirtyRows[r] {
			continue
		}
		y0 := r * blockSize
		y1 := y0 + blockSize
		start := y0 * stride
		end := y1 * stride
		if end > len(src) {
			end = len(src)
		}
		if end > len(dst) {
			end = len(dst)
		}
		if start >= end {
			continue
		}
		copy(dst[start:end], src[start:end])
	}
}
