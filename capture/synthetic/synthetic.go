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

// Package synthetic provides a dependency-free reference capture
// backend: a deterministic frame/cursor generator used by tests and
// by cmd/kvmfrhostd as a runnable example in place of a real vendor
// backend.
package synthetic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/damage"
	"github.com/kvmfr/host/produce"
)

// Name is the registry name this backend registers itself under.
const Name = "synthetic"

func init() {
	capture.Register(Name, func() capture.Backend { return New(Options{}) })
}

// Options configures the synthetic backend's generated frame stream.
type Options struct {
	Width, Height int
	FrameInterval time.Duration
}

// DefaultOptions returns the Options a bare New() constructs with.
func DefaultOptions() Options {
	return Options{Width: 1920, Height: 1080, FrameInterval: 16 * time.Millisecond}
}

// Backend is a synthetic capture.Backend: it produces frames with a
// single moving dirty tile on a fixed interval, and never produces
// cursor updates on its own (PostBuffer is exercised only by tests
// driving Backend.EmitPointer directly).
type Backend struct {
	opts Options
	sink capture.PointerSink

	running int32
	stop    chan struct{}
	once    sync.Once

	tileX, tileY int

	// src holds the backend's canonical pixels, copied into each
	// posted buffer through produce.CopyKernel; GetFrame is only ever
	// driven from the frame thread, so no lock guards it.
	src []byte
}

// New constructs a Backend with the given options, falling back to
// DefaultOptions for any zero field.
func New(opts Options) *Backend {
	if opts.Width == 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.Height == 0 {
		opts.Height = DefaultOptions().Height
	}
	if opts.FrameInterval == 0 {
		opts.FrameInterval = DefaultOptions().FrameInterval
	}
	return &Backend{opts: opts}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) MaxFrameSize() int {
	return b.opts.Width*b.opts.Height*4 + 4096
}

func (b *Backend) MouseScale() float64 { return 1.0 }

func (b *Backend) Create(sink capture.PointerSink) bool {
	b.sink = sink
	return true
}

// Init arms a fresh stop channel so the backend can be brought back
// up after a Stop/Deinit cycle without re-running Create.
func (b *Backend) Init() bool {
	b.stop = make(chan struct{})
	b.once = sync.Once{}
	atomic.StoreInt32(&b.running, 1)
	return true
}

func (b *Backend) Stop() {
	if atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		b.once.Do(func() { close(b.stop) })
	}
}

func (b *Backend) Deinit() {}

func (b *Backend) Free() {}

func (b *Backend) Capture() capture.Result {
	if atomic.LoadInt32(&b.running) == 0 {
		return capture.ResultReinit
	}
	return capture.ResultOK
}

// WaitFrame blocks for one frame interval (or until Stop), then
// returns a frame description with a single dirty 128x128-unit tile
// that advances on each call, wrapping across the frame.
func (b *Backend) WaitFrame(ctx context.Context, frame *capture.Frame) capture.Result {
	select {
	case <-b.stop:
		return capture.ResultReinit
	case <-ctx.Done():
		return capture.ResultReinit
	case <-time.After(b.opts.FrameInterval):
	}
	if atomic.LoadInt32(&b.running) == 0 {
		return capture.ResultReinit
	}

	const blockSize = 128
	w := (b.opts.Width + blockSize - 1) / blockSize
	h := (b.opts.Height + blockSize - 1) / blockSize

	diff := make([]bool, w*h)
	diff[b.tileY*w+b.tileX] = true
	b.tileX = (b.tileX + 1) % w
	if b.tileX == 0 {
		b.tileY = (b.tileY + 1) % h
	}

	frame.Width = b.opts.Width
	frame.Height = b.opts.Height
	frame.Stride = b.opts.Width * 4
	frame.Pitch = b.opts.Width * 4
	frame.Format = capture.FormatBGRA
	frame.DiffMap = diff
	frame.DiffMapW = w
	frame.DiffMapH = h
	return capture.ResultOK
}

// GetFrame copies the backend's canonical (flat grey) pixels into fb
// through produce.CopyKernel, honouring dirtyRows the same way a real
// selective-copy backend would: only stripes covering a dirty
// BlockSize-tall row are rewritten, everything else in fb is left as
// the previous round left it. A flat source makes the visual effect
// unobservable, but the copy path exercised is the same one a real
// backend's get_frame runs. The write pointer is always advanced to
// the end of the buffer since nothing downstream needs partial
// visibility for a synthetic source.
func (b *Backend) GetFrame(fb *capture.FrameBuffer, dirtyRows []bool) error {
	if len(b.src) != len(fb.Data) {
		b.src = make([]byte, len(fb.Data))
		for i := range b.src {
			b.src[i] = 0x80
		}
	}

	if dirtyRows == nil {
		copy(fb.Data, b.src)
	} else {
		produce.CopyKernel(fb.Data, b.src, b.opts.Width*4, damage.BlockSize, dirtyRows)
	}
	fb.Advance(len(fb.Data))
	return nil
}

// EmitPointer drives a single synthetic cursor update through sink,
// used by tests to exercise capture.PointerSink end to end.
func (b *Backend) EmitPointer(ctx context.Context, p capture.Pointer) error {
	if p.ShapeUpdate {
		buf, err := b.sink.GetBuffer(ctx)
		if err != nil {
			return err
		}
		for i := range buf {
			buf[i] = 0xFF
		}
	}
	return b.sink.PostBuffer(p)
}
