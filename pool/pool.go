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

// Package pool implements the fixed buffer pool behind each queue:
// N pre-allocated, aligned buffers carved out of a region.Region,
// addressed by round-robin index. A buffer's bytes are the wire
// payload, so no bookkeeping lives inside it; ownership is tracked
// by the queue slot that references it, and IndexOf rejects any
// slice that was not carved from the pool.
package pool

import (
	"errors"
	"unsafe"

	"github.com/kvmfr/host/region"
)

// ErrInvalidSize is returned by New for a non-positive buffer size.
var ErrInvalidSize = errors.New("pool: invalid buffer size")

// ErrForeignBuffer is returned by IndexOf when given a slice that was
// not handed out by this Pool.
var ErrForeignBuffer = errors.New("pool: buffer not owned by this pool")

// Pool is a fixed array of equal-size buffers carved out of a region,
// cycled by a single owning producer. Unlike a general-purpose pool,
// nothing is ever returned: the queue's at-most-one-in-flight-per-slot
// rule means the next round-robin claim of a given index is only
// reachable once every prior reader of that index has acked, which
// the queue already enforces. A free-list would be redundant
// bookkeeping for a constraint the queue already guarantees.
type Pool struct {
	base       int // region offset of buffer 0
	bufferSize int
	count      int
	r          *region.Region
	next       int
}

// New carves count buffers of bufferSize bytes each out of r, each
// starting on an aligned boundary, and returns a Pool that
// round-robins over them.
func New(r *region.Region, count, bufferSize int) (*Pool, error) {
	if count <= 0 || bufferSize <= 0 {
		return nil, ErrInvalidSize
	}
	var base int
	for i := 0; i < count; i++ {
		off, _, err := r.Alloc(bufferSize)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			base = off
		}
	}
	return &Pool{base: base, bufferSize: bufferSize, count: count, r: r}, nil
}

// Count returns the number of buffers in the pool.
func (p *Pool) Count() int { return p.count }

// BufferSize returns the size in bytes of each buffer.
func (p *Pool) BufferSize() int { return p.bufferSize }

// OffsetOf returns the region offset of the i'th buffer, for a
// producer that needs to record where a buffer lives in a queue slot
// (queue.Post's offset argument).
func (p *Pool) OffsetOf(i int) int { return p.offsetOf(i) }

// At returns the i'th buffer (0 <= i < Count()) as a view into the
// region. Buffers are laid out contiguously at Alloc time, so this is
// a pure offset computation — no bookkeeping beyond the base offset.
func (p *Pool) At(i int) []byte {
	off := p.offsetOf(i)
	return p.r.At(off, p.bufferSize)
}

// Next returns the next buffer in round-robin order along with its
// index. The producer owning this Pool is solely responsible for not
// reusing an index while a prior reader still holds it — the queue's
// pending-readers mask (package queue) is what makes that safe.
func (p *Pool) Next() (index int, buf []byte) {
	i := p.next
	p.next = (p.next + 1) % p.count
	return i, p.At(i)
}

// IndexOf recovers the pool index of a buffer previously returned by
// At or Next, returning ErrForeignBuffer if buf was not carved from
// this pool.
func (p *Pool) IndexOf(buf []byte) (int, error) {
	off := p.offsetOf(0)
	target := p.r.At(off, p.bufferSize*p.count)
	start := sliceOffset(target, buf)
	if start < 0 || start%p.bufferSize != 0 {
		return 0, ErrForeignBuffer
	}
	return start / p.bufferSize, nil
}

func (p *Pool) offsetOf(i int) int {
	return p.base + i*p.bufferSize
}

// sliceOffset returns buf's byte offset within outer, or -1 if buf
// does not alias outer's backing array.
func sliceOffset(outer, buf []byte) int {
	if len(outer) == 0 || len(buf) == 0 {
		return -1
	}
	start := uintptr(unsafe.Pointer(&outer[0]))
	end := start + uintptr(len(outer))
	at := uintptr(unsafe.Pointer(&buf[0]))
	if at < start || at >= end {
		return -1
	}
	return int(at - start)
}
