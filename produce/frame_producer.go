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

// Package produce implements the frame and cursor producers: the two
// single-threaded loops that drive a capture.Backend and post results
// onto a queue.Queue's pooled buffers.
package produce

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/damage"
	"github.com/kvmfr/host/kvmfr"
	"github.com/kvmfr/host/pool"
	"github.com/kvmfr/host/queue"
)

// ErrReinit is returned by FrameProducer.Run when the backend asked
// for a reinit and the frame loop exited accordingly. The caller is
// expected to tear the backend down and re-create it, keeping the
// shared region and its subscribers intact.
var ErrReinit = errors.New("produce: backend requested reinit")

// ErrBackendFatal is returned when the backend reports a fatal error.
var ErrBackendFatal = errors.New("produce: backend reported a fatal error")

// fullQueueRetryInterval bounds how often a post is retried while the
// queue has no room.
const fullQueueRetryInterval = time.Millisecond

// FrameProducer drives capture.Backend.WaitFrame/GetFrame and posts
// completed frames to a frame queue.
type FrameProducer struct {
	Queue   *queue.Queue
	Pool    *pool.Pool
	Backend capture.Backend

	info        *frameInfoCache
	extractor   damage.Extractor
	currentSlot int
	frameValid  bool
}

// NewFrameProducer constructs a FrameProducer over q and p, which
// must have matching capacity/count (one pool buffer per queue slot).
func NewFrameProducer(q *queue.Queue, p *pool.Pool, backend capture.Backend) *FrameProducer {
	return &FrameProducer{
		Queue:       q,
		Pool:        p,
		Backend:     backend,
		info:        newFrameInfoCache(p.Count()),
		currentSlot: -1,
	}
}

// Run drives the frame loop until ctx is cancelled (normal shutdown,
// returns nil), the backend requests reinit (returns ErrReinit), or
// the backend reports a fatal error (returns ErrBackendFatal). A
// WaitFrame timeout is not an error: it is the producer's chance to
// resend the last valid frame to any subscriber that joined since.
func (fp *FrameProducer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var frame capture.Frame
		switch fp.Backend.WaitFrame(ctx, &frame) {
		case capture.ResultOK:
			if err := fp.captureAndPost(ctx, &frame); err != nil {
				if errors.Is(err, capture.ErrUnsupportedFormat) {
					log.Printf("WARN: %v, dropping frame", err)
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case capture.ResultTimeout:
			if fp.frameValid {
				if n := fp.Queue.NewSubs(); n > 0 {
					log.Printf("INFO: %d new subscriber(s), resending last frame", n)
					if err := fp.resend(ctx); err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
				}
			}
		case capture.ResultReinit:
			// A cancelled context makes backends report reinit on the
			// way out; that is a shutdown, not a restart request.
			if ctx.Err() != nil {
				return nil
			}
			return ErrReinit
		case capture.ResultError:
			return ErrBackendFatal
		}
	}
}

// captureAndPost turns one fresh capture into a posted frame: pick
// the next slot, write the wire header and damage rects, post, then
// let the backend fill the payload behind the write pointer.
func (fp *FrameProducer) captureAndPost(ctx context.Context, frame *capture.Frame) error {
	frameType, ok := translateFrameType(frame.Format)
	if !ok {
		return fmt.Errorf("produce: frame format %v: %w", frame.Format, capture.ErrUnsupportedFormat)
	}

	if err := fp.waitForRoom(ctx); err != nil {
		return err
	}

	// Increment before use: a resend triggered before the next
	// capture must still target the last valid slot.
	fp.currentSlot = (fp.currentSlot + 1) % fp.Pool.Count()
	slot := fp.currentSlot
	buf := fp.Pool.At(slot)

	prev := fp.info.at(slot)

	header := kvmfr.View(buf)
	header.Type = frameType
	header.FormatVersion = kvmfr.FormatVersion
	header.Width = uint32(frame.Width)
	header.Height = uint32(frame.Height)
	header.RealHeight = uint32(frame.Height)
	header.Stride = uint32(frame.Stride)
	header.Pitch = uint32(frame.Pitch)
	header.Rotation = uint32(frame.Rotation)
	header.SetDamageRects(fp.extractor.Extract(frame.DiffMap, frame.DiffMapW, frame.DiffMapH))

	rowsToCopy := fp.planSelectiveCopy(prev, frame)

	offset := fp.Pool.OffsetOf(slot)
	// Post before copying pixels: the payload area is guarded by the
	// write pointer the backend advances as it fills, so a subscriber
	// can start rendering while the copy is still in flight.
	if _, err := fp.Queue.Post(uint32(offset), uint32(fp.Pool.BufferSize()), 0); err != nil {
		return fmt.Errorf("produce: post frame slot %d: %w", slot, err)
	}
	fp.frameValid = true

	fw := NewFrameWriter(kvmfr.Payload(buf))
	fb := capture.NewFrameBuffer(fw.Data(), fw.WrittenPtr())
	if err := fp.Backend.GetFrame(fb, rowsToCopy); err != nil {
		return fmt.Errorf("produce: get frame for slot %d: %w", slot, err)
	}

	fp.info.touch(slot, frame.Width, frame.Height, frame.DiffMap)
	return nil
}

// planSelectiveCopy decides which BlockSize-tall row stripes must be
// rewritten this round: a cell needs copying if it is dirty in the
// current capture, or the slot was not freshly written last round and
// its accumulated diff still has that cell marked dirty (those pixels
// are stale in this particular buffer). A dimension mismatch
// invalidates the slot's cache entirely, forcing a full-frame copy.
func (fp *FrameProducer) planSelectiveCopy(prev FrameInfo, frame *capture.Frame) []bool {
	if prev.Width != frame.Width || prev.Height != frame.Height {
		rows := make([]bool, frame.DiffMapH)
		for i := range rows {
			rows[i] = true
		}
		return rows
	}

	effective := append([]bool(nil), frame.DiffMap...)
	if !prev.WasFresh {
		for i, dirty := range prev.DiffMap {
			if i < len(effective) && dirty {
				effective[i] = true
			}
		}
	}
	return rowsDirty(effective, frame.DiffMapW, frame.DiffMapH)
}

// resend reposts the current slot's already-valid contents when a
// new subscriber joins during a WaitFrame timeout, so the joiner gets
// a frame without waiting for the screen to change.
func (fp *FrameProducer) resend(ctx context.Context) error {
	if fp.currentSlot < 0 {
		return nil
	}
	if err := fp.waitForRoom(ctx); err != nil {
		return err
	}
	offset := fp.Pool.OffsetOf(fp.currentSlot)
	if _, err := fp.Queue.Post(uint32(offset), uint32(fp.Pool.BufferSize()), 0); err != nil {
		return fmt.Errorf("produce: resend frame slot %d: %w", fp.currentSlot, err)
	}
	return nil
}

// waitForRoom blocks until a Post would succeed or ctx is done. It
// polls CanPost rather than Pending: a ring full of retained slots
// (posted before any subscriber arrived) is still postable, since
// Post may evict the oldest of them, and blocking on Pending alone
// would wedge the producer forever on a host with no clients.
func (fp *FrameProducer) waitForRoom(ctx context.Context) error {
	if !fp.Queue.CanPost() {
		log.Printf("WARN: frame queue full, waiting for subscribers to drain")
	}
	for !fp.Queue.CanPost() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fullQueueRetryInterval):
		}
	}
	return nil
}

func translateFrameType(f capture.Format) (kvmfr.FrameType, bool) {
	switch f {
	case capture.FormatBGRA:
		return kvmfr.FrameTypeBGRA, true
	case capture.FormatRGBA:
		return kvmfr.FrameTypeRGBA, true
	case capture.FormatRGBA10:
		return kvmfr.FrameTypeRGBA10, true
	case capture.FormatYUV420:
		return kvmfr.FrameTypeYUV420, true
	default:
		return kvmfr.FrameTypeInvalid, false
	}
}

// rowsDirty collapses a w*h dirty-block grid into one bool per row,
// true if any column in that row is dirty — the granularity the copy
// kernel actually works at, since every stripe spans the full frame
// width.
func rowsDirty(diff []bool, w, h int) []bool {
	rows := make([]bool, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if diff[y*w+x] {
				rows[y] = true
				break
			}
		}
	}
	return rows
}
