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

// Package hostapp wires together the shared-region layout, queues,
// pools, producers, and backend lifecycle into the running host
// process: a housekeeping thread, a frame thread, a main thread
// driving non-blocking captures, and a cursor thread the backend
// owns. The housekeeping, frame and main goroutines are launched
// through gopool.CtxGo; nothing in this package turns a panic in one
// of those loops into a fatal shutdown of the run.
package hostapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/gopkg/hash/xfnv"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/pool"
	"github.com/kvmfr/host/produce"
	"github.com/kvmfr/host/queue"
	"github.com/kvmfr/host/region"
)

// ErrNoBackend is returned by New when every registered capture
// backend failed Create or Init.
var ErrNoBackend = errors.New("hostapp: no supported capture backend")

// App owns the shared region, its queues and pools, and the chosen
// capture backend for the lifetime of one host process. It is not
// safe for concurrent use of its lifecycle
// methods (New/Run/Stop) from more than one goroutine; the frame,
// housekeeping and main loops it starts internally are.
type App struct {
	opts Options

	region       *region.Region
	sessionID    uint32
	frameQueue   *queue.Queue
	framePool    *pool.Pool
	pointerQueue *queue.Queue
	pointerPool  *pool.Pool

	backend   capture.Backend
	cursorSnk *produce.CursorProducer
	frameProd *produce.FrameProducer

	running int32
	reinit  int32

	cancel    context.CancelFunc
	subCancel context.CancelFunc
	fatal     chan error
	fatalOnce sync.Once

	housekeepingDone chan struct{}
	frameDone        chan struct{}
	mainDone         chan struct{}
}

// New lays out a region over buf, creates the frame and pointer
// queues and pools, publishes the region, and probes every backend
// registered with package capture in registration order until one
// accepts Create and Init. buf is the already-mapped shared-memory
// span; opening the underlying device is the caller's business (see
// package shmio for one way to obtain it).
func New(buf []byte, opts Options) (*App, error) {
	opts = opts.withDefaults()

	r, err := region.New(buf)
	if err != nil {
		return nil, fmt.Errorf("hostapp: region.New: %w", err)
	}

	frameQueue, err := queue.New(r, opts.FrameSlots)
	if err != nil {
		return nil, fmt.Errorf("hostapp: frame queue: %w", err)
	}
	pointerQueue, err := queue.New(r, opts.PointerSlots)
	if err != nil {
		return nil, fmt.Errorf("hostapp: pointer queue: %w", err)
	}

	pointerPool, err := pool.New(r, int(opts.PointerSlots)+1, cursorBufferSize())
	if err != nil {
		return nil, fmt.Errorf("hostapp: pointer pool: %w", err)
	}

	// Divide whatever space remains evenly across the frame slots,
	// aligned down to the region granularity.
	frameBufSize := alignDown(r.Avail() / int(opts.FrameSlots))
	framePool, err := pool.New(r, int(opts.FrameSlots), frameBufSize)
	if err != nil {
		return nil, fmt.Errorf("hostapp: frame pool: %w", err)
	}

	cursorSnk, err := produce.NewCursorProducer(pointerQueue, pointerPool)
	if err != nil {
		return nil, fmt.Errorf("hostapp: cursor producer: %w", err)
	}

	backend, err := probeBackends(cursorSnk)
	if err != nil {
		return nil, err
	}

	sessionID := newSessionID()
	r.Publish(sessionID)

	return &App{
		opts:         opts,
		region:       r,
		sessionID:    sessionID,
		frameQueue:   frameQueue,
		framePool:    framePool,
		pointerQueue: pointerQueue,
		pointerPool:  pointerPool,
		backend:      backend,
		cursorSnk:    cursorSnk,
		frameProd:    produce.NewFrameProducer(frameQueue, framePool, backend),
	}, nil
}

// SessionID returns the host session id published in the region's
// header. It stays unchanged across a capture restart; only a full
// process restart mints a new one.
func (a *App) SessionID() uint32 { return a.sessionID }

// probeBackends tries each registered backend in registration order,
// returning the first that accepts both Create and Init.
func probeBackends(sink capture.PointerSink) (capture.Backend, error) {
	for _, entry := range capture.Backends() {
		b := entry.Factory()
		if !b.Create(sink) {
			continue
		}
		if b.Init() {
			return b, nil
		}
		b.Free()
	}
	return nil, ErrNoBackend
}

// newSessionID fingerprints the process and start time with xfnv.
// Clients only need to detect that the id changed across a host
// restart; with no durable state to count from, a fingerprint of
// (pid, start time) serves where a strict counter cannot.
func newSessionID() uint32 {
	seed := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	return uint32(xfnv.HashStr(seed))
}

func alignDown(n int) int {
	return n &^ (region.Alignment - 1)
}

// Run starts every thread and blocks until ctx is cancelled or a
// fatal error occurs on any of them, then stops every thread and
// tears down the backend. It returns nil on a clean shutdown (ctx
// cancelled) or the fatal error that ended the run; callers should
// exit 0 for a nil return and -1 otherwise.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.cancel = cancel
	a.fatal = make(chan error, 1)
	atomic.StoreInt32(&a.running, 1)

	a.startThreads(runCtx)

	// Both Stop and reportFatal cancel runCtx, so this is the single
	// wakeup for every way a run can end; the fatal channel is drained
	// afterwards to tell the two apart.
	<-runCtx.Done()
	a.stopThreads()
	a.backend.Deinit()
	a.backend.Free()

	select {
	case err := <-a.fatal:
		return err
	default:
		return nil
	}
}

// Stop requests a clean shutdown, equivalent to cancelling Run's ctx.
func (a *App) Stop() {
	if atomic.CompareAndSwapInt32(&a.running, 1, 0) && a.cancel != nil {
		a.cancel()
	}
}

func (a *App) reportFatal(err error) {
	if err == nil {
		return
	}
	a.fatalOnce.Do(func() {
		a.fatal <- err
		if a.cancel != nil {
			a.cancel()
		}
	})
}
