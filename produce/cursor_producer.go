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

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/kvmfr"
	"github.com/kvmfr/host/pool"
	"github.com/kvmfr/host/queue"
)

// ErrPoolSizeMismatch is returned by NewCursorProducer when the given
// pool does not hold exactly one more buffer than the queue has slots.
var ErrPoolSizeMismatch = errors.New("produce: cursor pool must hold queue capacity + 1 buffers")

// CursorProducer implements capture.PointerSink over a pointer queue,
// separating position-only updates from shape updates.
//
// The pool holds one buffer per queue slot plus one spare. A rotation
// table maps each queue-slot index to a physical pool buffer; on a
// shape update, the buffer the backend just filled is swapped with
// whichever buffer is currently retained as "the shape" — the
// just-written buffer becomes the new shape, and the previous shape
// buffer re-enters rotation. The retained buffer always holds the
// last known shape, so later position-only updates can still deliver
// it to subscribers that joined mid-stream, without ever allocating
// more than capacity+1 buffers.
//
// Driven from whatever thread the backend's own cursor path calls it
// from — callers must serialise their own calls to
// GetBuffer/PostBuffer, the same discipline the backend already owes
// its cursor thread.
type CursorProducer struct {
	Queue *queue.Queue
	Pool  *pool.Pool

	rotation []int // rotation[i] = pool index currently backing queue slot i
	shapeIdx int   // pool index currently retained as "the shape"
	posIndex int

	shapeValid bool
}

// NewCursorProducer constructs a CursorProducer over q and p. p must
// hold exactly q.Capacity()+1 buffers: one per rotating position slot
// plus one spare that starts out as the retained shape buffer.
func NewCursorProducer(q *queue.Queue, p *pool.Pool) (*CursorProducer, error) {
	n := int(q.Capacity())
	if p.Count() != n+1 {
		return nil, ErrPoolSizeMismatch
	}
	rotation := make([]int, n)
	for i := range rotation {
		rotation[i] = i
	}
	return &CursorProducer{
		Queue:    q,
		Pool:     p,
		rotation: rotation,
		shapeIdx: n, // the spare buffer
	}, nil
}

// GetBuffer implements capture.PointerSink: it returns the payload
// area of the buffer currently backing the rotation slot the next
// PostBuffer will consume, blocking while the pointer queue has no
// room to post it. Only called by a backend ahead of a shape update —
// a position-only update carries no pixel payload and never needs a
// buffer.
func (cp *CursorProducer) GetBuffer(ctx context.Context) ([]byte, error) {
	for !cp.Queue.CanPost() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fullQueueRetryInterval):
		}
	}
	buf := cp.Pool.At(cp.rotation[cp.posIndex])
	return kvmfr.CursorPayload(buf), nil
}

// PostBuffer implements capture.PointerSink: it commits a cursor
// update, choosing the shape path or the position-only path.
//
// A shape update swaps the just-written rotation buffer out to become
// the new retained shape, then posts that shape buffer. Any update —
// shape or position-only — posts the shape buffer with udata=1
// instead of the rotation buffer whenever a new subscriber has
// joined since the last post, so that subscriber is resynchronised
// with the last known shape; the rotation index only advances on a
// plain position-only post.
func (cp *CursorProducer) PostBuffer(p capture.Pointer) error {
	newClient := cp.Queue.NewSubs() > 0

	var cursorType kvmfr.CursorType
	if p.ShapeUpdate {
		var ok bool
		cursorType, ok = translateCursorType(p.Format)
		if !ok {
			log.Printf("WARN: cursor format %v unsupported, dropping update", p.Format)
			return fmt.Errorf("produce: cursor format %v: %w", p.Format, capture.ErrUnsupportedFormat)
		}
		// Swap the just-filled rotation buffer out to become the new
		// retained shape; the old shape buffer re-enters rotation.
		cp.rotation[cp.posIndex], cp.shapeIdx = cp.shapeIdx, cp.rotation[cp.posIndex]
		cp.shapeValid = true
	}

	sendShape := (p.ShapeUpdate || newClient) && cp.shapeValid
	idx := cp.rotation[cp.posIndex]
	if sendShape {
		idx = cp.shapeIdx
	}

	buf := cp.Pool.At(idx)
	header := kvmfr.CursorView(buf)
	header.X = p.X
	header.Y = p.Y
	header.Visible = boolToU8(p.Visible)
	if p.ShapeUpdate {
		header.Width = uint32(p.Width)
		header.Height = uint32(p.Height)
		header.Pitch = uint32(p.Pitch)
		header.Type = cursorType
	}

	udata := kvmfr.UDataNoShape
	if sendShape {
		udata = kvmfr.UDataShape
	}

	offset := uint32(cp.Pool.OffsetOf(idx))
	if _, err := cp.Queue.Post(offset, uint32(cp.Pool.BufferSize()), udata); err != nil {
		return fmt.Errorf("produce: post cursor update: %w", err)
	}

	if !p.ShapeUpdate && !sendShape {
		cp.posIndex = (cp.posIndex + 1) % len(cp.rotation)
	}
	return nil
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func translateCursorType(f capture.Format) (kvmfr.CursorType, bool) {
	switch f {
	case capture.FormatCursorColor:
		return kvmfr.CursorTypeColor, true
	case capture.FormatCursorMono:
		return kvmfr.CursorTypeMonochrome, true
	case capture.FormatCursorMasked:
		return kvmfr.CursorTypeMaskedColor, true
	default:
		return kvmfr.CursorTypeInvalid, false
	}
}
