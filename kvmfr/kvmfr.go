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

// Package kvmfr defines the bit-exact wire payloads carried inside
// the host queues' pooled buffers: frame and cursor headers, damage
// rectangles, and the format enumerations translated from a capture
// backend's native formats.
//
// As with package region, these are raw struct overlays on shared
// memory rather than Go values with methods that allocate — any field
// read by a subscriber outside this module must land at the same
// offset every time, so the layout is fixed and commented field by
// field rather than inferred from struct tag reflection.
package kvmfr

import "github.com/kvmfr/host/internal/memutil"

// MaxDamageRects is the maximum number of damage rectangles a frame
// may carry. Exceeding it collapses to zero rectangles, meaning
// "assume the whole frame changed".
const MaxDamageRects = 32

// FrameType is the wire pixel format of a frame payload.
type FrameType uint32

const (
	FrameTypeInvalid FrameType = iota
	FrameTypeBGRA
	FrameTypeRGBA
	FrameTypeRGBA10
	FrameTypeYUV420
)

// CursorType is the wire pixel format of a cursor shape payload.
type CursorType uint32

const (
	CursorTypeInvalid CursorType = iota
	CursorTypeColor
	CursorTypeMonochrome
	CursorTypeMaskedColor
)

// FormatVersion is the on-wire version of the frame/cursor payload
// layouts defined in this file. Bump it, not region.FormatVersion, if
// only these struct layouts change.
const FormatVersion uint32 = 1

// DamageRect is one axis-aligned damage rectangle in pixel units.
type DamageRect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// Frame is the fixed-size header written at the start of a frame
// queue's pooled buffer, immediately followed by pixel data.
type Frame struct {
	Type             FrameType
	FormatVersion    uint32
	Width            uint32
	Height           uint32
	RealHeight       uint32
	Stride           uint32
	Pitch            uint32
	Rotation         uint32
	DamageRectsCount uint32
	DamageRects      [MaxDamageRects]DamageRect
}

// HeaderSize is the byte size of Frame as laid out in the arena.
var HeaderSize = int(frameHeaderSize())

func frameHeaderSize() uintptr {
	var f Frame
	return memutil.SizeOf(&f)
}

// View casts buf's first HeaderSize bytes as a *Frame. buf must be at
// least HeaderSize bytes, typically the start of a pool buffer.
func View(buf []byte) *Frame {
	return memutil.Cast[Frame](buf)
}

// Payload returns the portion of buf following the Frame header: the
// pixel data area a producer's write pointer advances into.
func Payload(buf []byte) []byte {
	return buf[HeaderSize:]
}

// SetDamageRects copies rects into f's fixed damage-rect array,
// truncating to MaxDamageRects. A caller that detects overflow must
// pass no rects at all (zero rects means "full frame dirty"), not a
// truncated set — this only ever receives an already-decided,
// already-bounded list.
func (f *Frame) SetDamageRects(rects []DamageRect) {
	n := len(rects)
	if n > MaxDamageRects {
		n = MaxDamageRects
	}
	for i := 0; i < n; i++ {
		f.DamageRects[i] = rects[i]
	}
	f.DamageRectsCount = uint32(n)
}

// Cursor is the fixed-size header written at the start of a pointer
// queue's pooled buffer. Pixel data follows only when the slot's
// udata is 1.
type Cursor struct {
	X       int32
	Y       int32
	Visible uint8
	_       [3]byte // pad Type to a 4-byte boundary
	Type    CursorType
	Width   uint32
	Height  uint32
	Pitch   uint32
}

// CursorHeaderSize is the byte size of Cursor as laid out in the arena.
var CursorHeaderSize = int(cursorHeaderSize())

func cursorHeaderSize() uintptr {
	var c Cursor
	return memutil.SizeOf(&c)
}

// CursorView casts buf's first CursorHeaderSize bytes as a *Cursor.
func CursorView(buf []byte) *Cursor {
	return memutil.Cast[Cursor](buf)
}

// CursorPayload returns the portion of buf following the Cursor
// header: the shape pixel data area, valid only when udata == 1.
func CursorPayload(buf []byte) []byte {
	return buf[CursorHeaderSize:]
}

// UData values posted alongside a pointer-queue slot: whether shape
// pixels follow the cursor header.
const (
	UDataNoShape uint32 = 0
	UDataShape   uint32 = 1
)
