package produce

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/kvmfr"
	"github.com/kvmfr/host/pool"
	"github.com/kvmfr/host/queue"
	"github.com/kvmfr/host/region"
)

// scriptedBackend is a capture.Backend whose WaitFrame results are
// driven by a channel of scripted steps, letting tests force TIMEOUT,
// REINIT and ERROR outcomes deterministically instead of racing a
// real capture source.
type scriptedBackend struct {
	steps chan scriptStep

	getFrameCalls int32
	lastDirtyRows [][]bool
}

type scriptStep struct {
	result capture.Result
	frame  capture.Frame
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{steps: make(chan scriptStep, 16)}
}

func (b *scriptedBackend) push(step scriptStep) { b.steps <- step }

func (b *scriptedBackend) Name() string                    { return "scripted" }
func (b *scriptedBackend) MaxFrameSize() int               { return 1 << 20 }
func (b *scriptedBackend) MouseScale() float64             { return 1 }
func (b *scriptedBackend) Create(capture.PointerSink) bool { return true }
func (b *scriptedBackend) Init() bool                      { return true }
func (b *scriptedBackend) Stop()                           {}
func (b *scriptedBackend) Deinit()                         {}
func (b *scriptedBackend) Free()                           {}
func (b *scriptedBackend) Capture() capture.Result         { return capture.ResultOK }

func (b *scriptedBackend) WaitFrame(ctx context.Context, out *capture.Frame) capture.Result {
	select {
	case step := <-b.steps:
		*out = step.frame
		return step.result
	case <-ctx.Done():
		return capture.ResultReinit
	}
}

func (b *scriptedBackend) GetFrame(fb *capture.FrameBuffer, dirtyRows []bool) error {
	atomic.AddInt32(&b.getFrameCalls, 1)
	b.lastDirtyRows = append(b.lastDirtyRows, dirtyRows)
	for i := range fb.Data {
		fb.Data[i] = 0x7A
	}
	fb.Advance(len(fb.Data))
	return nil
}

func newTestFrameProducer(t *testing.T, slots uint32) (*FrameProducer, *queue.Queue, *pool.Pool, *scriptedBackend) {
	t.Helper()
	buf := make([]byte, 1<<20)
	r, err := region.New(buf)
	require.NoError(t, err)

	q, err := queue.New(r, slots)
	require.NoError(t, err)

	bufSize := kvmfr.HeaderSize + 64*64*4
	p, err := pool.New(r, int(slots), bufSize)
	require.NoError(t, err)

	backend := newScriptedBackend()
	fp := NewFrameProducer(q, p, backend)
	return fp, q, p, backend
}

func basicFrame(w, h int) capture.Frame {
	const blockSize = 128
	dw := (w + blockSize - 1) / blockSize
	dh := (h + blockSize - 1) / blockSize
	diff := make([]bool, dw*dh)
	diff[0] = true
	return capture.Frame{
		Width: w, Height: h,
		Stride: w * 4, Pitch: w * 4,
		Format:   capture.FormatBGRA,
		DiffMap:  diff,
		DiffMapW: dw, DiffMapH: dh,
	}
}

func TestFrameProducerRunReturnsNilOnContextCancel(t *testing.T) {
	fp, _, _, _ := newTestFrameProducer(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, fp.Run(ctx))
}

func TestFrameProducerRunReturnsErrReinitOnBackendReinit(t *testing.T) {
	fp, _, _, backend := newTestFrameProducer(t, 2)
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)
}

func TestFrameProducerRunReturnsErrBackendFatalOnBackendError(t *testing.T) {
	fp, _, _, backend := newTestFrameProducer(t, 2)
	backend.push(scriptStep{result: capture.ResultError})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrBackendFatal)
}

func TestFrameProducerPostsOneFrameForEachOKCapture(t *testing.T) {
	fp, q, _, backend := newTestFrameProducer(t, 2)
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(64, 64)})
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)
	assert.Equal(t, uint32(1), q.Pending())
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.getFrameCalls))
}

// A subscriber joins mid-stream; the next WaitFrame timeout must
// cause the previously posted frame buffer to be re-posted exactly
// once.
func TestFrameProducerResendsLastFrameOnTimeoutWhenNewSubscriberJoined(t *testing.T) {
	fp, q, _, backend := newTestFrameProducer(t, 4)
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(64, 64)})
	backend.push(scriptStep{result: capture.ResultTimeout})
	backend.push(scriptStep{result: capture.ResultReinit})

	_, err := q.RegisterSubscriber()
	require.NoError(t, err)

	err2 := fp.Run(context.Background())
	assert.ErrorIs(t, err2, ErrReinit)
	_ = err

	// One post for the original frame, one resend for the joining
	// subscriber: pending must reflect two distinct slots posted.
	assert.Equal(t, uint32(2), q.Pending())
}

func TestFrameProducerDoesNotResendOnTimeoutWithNoNewSubscriber(t *testing.T) {
	fp, q, _, backend := newTestFrameProducer(t, 4)
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(64, 64)})
	backend.push(scriptStep{result: capture.ResultTimeout})
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)
	assert.Equal(t, uint32(1), q.Pending())
}

func TestFrameProducerDropsUnsupportedFormatAndContinues(t *testing.T) {
	fp, q, _, backend := newTestFrameProducer(t, 2)
	bad := basicFrame(64, 64)
	bad.Format = capture.Format(99)
	backend.push(scriptStep{result: capture.ResultOK, frame: bad})
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)
	assert.Equal(t, uint32(0), q.Pending(), "an unsupported format must be dropped, not posted")
}

// Capture frame A to slot 0, B to slot 1, C to slot 0 again; slot 0
// must end up planning a copy over every row either B or C touched
// (FrameInfo's OR-accumulation), while a row nobody ever touched
// stays clean.
func TestFrameProducerAccumulatesDiffAcrossRotations(t *testing.T) {
	fp, _, _, backend := newTestFrameProducer(t, 2)

	const w, h = 99, 99 // dimensions only need to match across captures
	frameWithRow := func(row int) capture.Frame {
		diff := make([]bool, 3)
		diff[row] = true
		return capture.Frame{
			Width: w, Height: h, Stride: w * 4, Pitch: w * 4,
			Format: capture.FormatBGRA, DiffMap: diff, DiffMapW: 1, DiffMapH: 3,
		}
	}

	backend.push(scriptStep{result: capture.ResultOK, frame: frameWithRow(0)}) // A -> slot 0, row 0
	backend.push(scriptStep{result: capture.ResultOK, frame: frameWithRow(2)}) // B -> slot 1, row 2
	backend.push(scriptStep{result: capture.ResultOK, frame: frameWithRow(0)}) // C -> slot 0, row 0
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)

	require.Len(t, backend.lastDirtyRows, 3)
	// Capture A and B are each the first write to their slot's cache
	// entry (zero-value dimensions never match), forcing a full copy.
	assert.Equal(t, []bool{true, true, true}, backend.lastDirtyRows[0])
	assert.Equal(t, []bool{true, true, true}, backend.lastDirtyRows[1])
	// Capture C reuses slot 0. Row 0 is dirty again on its own
	// account; row 2 is dirty only because B's touch OR-ed into slot
	// 0's cached diff while slot 0 sat idle; row 1 was
	// never touched by any capture and must stay clean.
	assert.Equal(t, []bool{true, false, true}, backend.lastDirtyRows[2])
}

func TestFrameProducerCaptureAndPostFormatsWireHeader(t *testing.T) {
	fp, q, p, backend := newTestFrameProducer(t, 2)
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(64, 64)})
	backend.push(scriptStep{result: capture.ResultReinit})

	err := fp.Run(context.Background())
	assert.ErrorIs(t, err, ErrReinit)
	require.Equal(t, uint32(1), q.Pending())

	slot := q.SlotAt(0)
	buf := p.At(0)
	assert.EqualValues(t, slot.Offset, p.OffsetOf(0))
	header := kvmfr.View(buf)
	assert.Equal(t, kvmfr.FrameTypeBGRA, header.Type)
	assert.EqualValues(t, 64, header.Width)
	assert.EqualValues(t, 64, header.Height)
}

func TestFrameProducerRunPropagatesNonFormatBackendError(t *testing.T) {
	fp, _, _, backend := newTestFrameProducer(t, 2)
	backend.push(scriptStep{result: capture.ResultError})

	err := fp.Run(context.Background())
	assert.True(t, errors.Is(err, ErrBackendFatal))
}

func TestFrameProducerWaitsForRoomWhenQueueFull(t *testing.T) {
	fp, q, _, backend := newTestFrameProducer(t, 1)
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(32, 32)})
	backend.push(scriptStep{result: capture.ResultOK, frame: basicFrame(32, 32)})

	// A live subscriber that never acks keeps the only slot pending,
	// so the second frame has to wait for room.
	_, err := q.RegisterSubscriber()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = fp.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, q.Capacity(), q.Pending())
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.getFrameCalls), "the second frame must wait, not post")
}
