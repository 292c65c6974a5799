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

package region

import (
	"sync/atomic"

	"github.com/kvmfr/host/internal/memutil"
)

// magicWord is the 8-byte tag that marks an initialised region. It is
// published last, under a release barrier, so a reader that observes
// it can trust every other header field.
var magicWord = [8]byte{'L', 'G', 'M', 'P', '_', '_', '_', '_'}

// FormatVersion is the layout version this package writes and accepts.
// A client that reads a different version must refuse to bind.
const FormatVersion uint32 = 1

// MaxQueues bounds the fixed queue-descriptor array carried in the
// header. The host creates exactly two queues (frame, pointer); a
// little headroom is kept for future queue ids without changing the
// header layout.
const MaxQueues = 4

// HeaderSize is the number of bytes reserved for the header, rounded
// up to the region's 128-byte allocation alignment so the first
// queue descriptor starts on an aligned boundary.
const HeaderSize = 128

// rawHeader is the bit-exact, wire-visible header layout. Field
// order and sizes must never change without bumping FormatVersion.
type rawHeader struct {
	magic      [8]byte
	version    uint32
	sessionID  uint32
	queueCount uint32
	_          [HeaderSize - 8 - 4 - 4 - 4]byte // pad to HeaderSize
}

// Header is a typed, bounds-checked view over the first HeaderSize
// bytes of a Region's arena.
type Header struct {
	raw *rawHeader
}

func newHeaderView(buf []byte) Header {
	if len(buf) < HeaderSize {
		panic("region: arena too small to hold header")
	}
	return Header{raw: memutil.Cast[rawHeader](buf)}
}

// Version returns the format version currently published.
func (h Header) Version() uint32 { return atomic.LoadUint32(&h.raw.version) }

// SessionID returns the session id currently published.
func (h Header) SessionID() uint32 { return atomic.LoadUint32(&h.raw.sessionID) }

// QueueCount returns the number of queue descriptors currently published.
func (h Header) QueueCount() uint32 { return atomic.LoadUint32(&h.raw.queueCount) }

// isPublished reports whether the magic word has been written with a
// release barrier by a prior call to publish. Acquire-ordered: once
// this returns true, every header field written before publish is
// visible to this goroutine.
func (h Header) isPublished() bool {
	lo := atomic.LoadUint64(magicAsUint64(&h.raw.magic))
	return lo == magicWordUint64
}

var magicWordUint64 = *(*uint64)(magicAsUint64(&magicWord))

func magicAsUint64(b *[8]byte) *uint64 {
	return memutil.Cast[uint64](b[:])
}

// zero clears the entire header, including the magic, so a region
// never appears published until finalize runs.
func (h Header) zero() {
	for i := range h.raw.magic {
		h.raw.magic[i] = 0
	}
	atomic.StoreUint32(&h.raw.version, 0)
	atomic.StoreUint32(&h.raw.sessionID, 0)
	atomic.StoreUint32(&h.raw.queueCount, 0)
}

// stage writes every field except the magic. Call publish afterwards
// to make the region visible to readers.
func (h Header) stage(sessionID uint32, queueCount uint32) {
	atomic.StoreUint32(&h.raw.version, FormatVersion)
	atomic.StoreUint32(&h.raw.sessionID, sessionID)
	atomic.StoreUint32(&h.raw.queueCount, queueCount)
}

// publish writes the magic last, with a release barrier, finalising
// initialisation.
func (h Header) publish() {
	atomic.StoreUint64(magicAsUint64(&h.raw.magic), magicWordUint64)
}
