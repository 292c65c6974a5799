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

package hostapp

import (
	"time"

	"github.com/kvmfr/host/kvmfr"
	"github.com/kvmfr/host/queue"
)

// Queue ids in the shared region's namespace: frames first, pointer
// updates second. Assigned by region.RegisterQueue in the order New
// creates them, so these constants only document that order —
// nothing in package region or queue hard-codes them.
const (
	QueueFrame   = 0
	QueuePointer = 1
)

// maxCursorPixels bounds a cursor shape payload: 128x128 at 4 bytes
// per pixel. A monochrome shape is twice as tall (AND and XOR masks
// stacked) but never wider, so this bound still holds.
const maxCursorPixels = 128 * 128 * 4

// Options configures an App's shared-region layout and thread timing.
type Options struct {
	// FrameSlots is the frame queue's capacity (default: 2).
	FrameSlots uint32
	// PointerSlots is the pointer queue's capacity (default: 10).
	PointerSlots uint32

	// SubscriberTimeout is how long a subscriber may go without
	// contact before the housekeeping loop evicts it.
	SubscriberTimeout time.Duration
	// HousekeepingInterval is the cadence of the housekeeping
	// thread's Process tick, roughly 1kHz by default.
	HousekeepingInterval time.Duration
	// CaptureInterval is how often the main thread drives the
	// backend's non-blocking Capture().
	CaptureInterval time.Duration
}

// DefaultOptions returns the Options New uses for any zero field.
func DefaultOptions() Options {
	return Options{
		FrameSlots:           2,
		PointerSlots:         10,
		SubscriberTimeout:    queue.DefaultSubscriberTimeout,
		HousekeepingInterval: time.Millisecond,
		CaptureInterval:      time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FrameSlots == 0 {
		o.FrameSlots = d.FrameSlots
	}
	if o.PointerSlots == 0 {
		o.PointerSlots = d.PointerSlots
	}
	if o.SubscriberTimeout == 0 {
		o.SubscriberTimeout = d.SubscriberTimeout
	}
	if o.HousekeepingInterval == 0 {
		o.HousekeepingInterval = d.HousekeepingInterval
	}
	if o.CaptureInterval == 0 {
		o.CaptureInterval = d.CaptureInterval
	}
	return o
}

// cursorBufferSize is the fixed size of every pointer-pool buffer:
// the wire cursor header plus the maximum shape payload.
func cursorBufferSize() int {
	return kvmfr.CursorHeaderSize + maxCursorPixels
}
