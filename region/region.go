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

// Package region implements the shared-memory arena layout both
// sides of the relay agree on: a fixed header, a bump-allocated space
// for queue descriptors, and a bump-allocated space for pooled
// buffers. The region is a bag of bytes accessed through raw memory
// operations with explicit alignment and release/acquire barriers —
// no high-level container fits a cross-process shared arena, so this
// package is the narrow typed surface the rest of the module is
// built on.
package region

import "errors"

// ErrTooSmall is returned when the supplied arena cannot even hold a
// header.
var ErrTooSmall = errors.New("region: arena smaller than header")

// ErrNotInitialized is returned by Open when the arena's magic has
// not been published.
var ErrNotInitialized = errors.New("region: magic not published")

// ErrVersionMismatch is returned by Open when the published format
// version does not match FormatVersion.
var ErrVersionMismatch = errors.New("region: format version mismatch")

// Region owns a caller-supplied byte span for its lifetime. The
// caller is responsible for how that span was obtained (see shmio for
// one way); Region only ever requires the mapped bytes themselves.
type Region struct {
	buf    []byte
	header Header
	alloc  *allocator
	queues uint32
}

// New zero-initialises buf and prepares it to have queues and pooled
// buffers carved out of it with Alloc. The magic is left zero (and
// therefore unpublished) until Publish is called.
func New(buf []byte) (*Region, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTooSmall
	}
	for i := range buf {
		buf[i] = 0
	}
	h := newHeaderView(buf)
	h.zero()
	return &Region{
		buf:    buf,
		header: h,
		alloc:  newAllocator(buf),
	}, nil
}

// Open validates a region that a prior call to New (and Publish) has
// already initialised, returning its Header. It never allocates and
// never mutates the arena; it exists so reinitialisation logic and
// tests can check an arena's published state the same way a client
// would: validate the magic before trusting the rest of the header.
func Open(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTooSmall
	}
	h := newHeaderView(buf)
	if !h.isPublished() {
		return Header{}, ErrNotInitialized
	}
	if h.Version() != FormatVersion {
		return Header{}, ErrVersionMismatch
	}
	return h, nil
}

// Alloc carves size bytes out of the region's buffer-pool arena,
// 128-byte aligned, and returns their offset from the start of the
// region along with a slice view over them. Returns ErrOutOfMemory
// (without mutating anything) if the region has no room left —
// callers must not publish the magic after this.
func (r *Region) Alloc(size int) (offset int, buf []byte, err error) {
	return r.alloc.alloc(size)
}

// Avail returns the number of unallocated bytes remaining.
func (r *Region) Avail() int {
	return r.alloc.avail()
}

// At returns a view over size bytes starting at offset. Used by
// queue/pool to re-derive a []byte from an offset they previously
// received from Alloc.
func (r *Region) At(offset, size int) []byte {
	return r.buf[offset : offset+size : offset+size]
}

// RegisterQueue reserves the next queue id and returns it. Must be
// called once per queue before Publish.
func (r *Region) RegisterQueue() uint32 {
	id := r.queues
	r.queues++
	return id
}

// Publish stages the session id and queue count, then publishes the
// magic under a release barrier, making the region visible to
// readers. After Publish, Alloc must not be called again: the queue
// count written to the header would become stale.
func (r *Region) Publish(sessionID uint32) {
	r.header.stage(sessionID, r.queues)
	r.header.publish()
}

// Header returns the region's header view.
func (r *Region) Header() Header {
	return r.header
}

// Size returns the total size of the underlying arena.
func (r *Region) Size() int {
	return len(r.buf)
}
