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
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/cloudwego/gopkg/concurrency/gopool"

	"github.com/kvmfr/host/capture"
	"github.com/kvmfr/host/produce"
)

// startThreads launches the housekeeping and frame threads (together,
// "sub-threads": the pair a captureRestart tears down and relaunches)
// plus the main thread, which persists across restarts.
func (a *App) startThreads(ctx context.Context) {
	a.startSubThreads(ctx)

	a.mainDone = make(chan struct{})
	gopool.CtxGo(ctx, func() {
		defer close(a.mainDone)
		a.mainLoop(ctx)
	})
}

// startSubThreads launches the housekeeping and frame threads on a
// context derived from rootCtx, so captureRestart can tear down just
// this pair without affecting the main thread or the overall Run
// context.
func (a *App) startSubThreads(rootCtx context.Context) {
	subCtx, cancel := context.WithCancel(rootCtx)
	a.subCancel = cancel
	a.housekeepingDone = make(chan struct{})
	a.frameDone = make(chan struct{})

	gopool.CtxGo(subCtx, func() {
		defer close(a.housekeepingDone)
		a.housekeepingLoop(subCtx)
	})
	gopool.CtxGo(subCtx, func() {
		defer close(a.frameDone)
		a.frameLoop(subCtx)
	})
}

// stopSubThreads stops the backend (unblocking any in-flight
// WaitFrame), cancels the sub-thread context, and joins the frame
// thread before the housekeeping thread: reverse creation order.
func (a *App) stopSubThreads() {
	a.backend.Stop()
	if a.subCancel != nil {
		a.subCancel()
	}
	<-a.frameDone
	<-a.housekeepingDone
}

// stopThreads stops the backend and joins every thread this App
// started, in reverse creation order: main, frame, housekeeping.
func (a *App) stopThreads() {
	a.backend.Stop()
	if a.mainDone != nil {
		<-a.mainDone
	}
	if a.frameDone != nil {
		<-a.frameDone
	}
	if a.housekeepingDone != nil {
		<-a.housekeepingDone
	}
}

// housekeepingLoop is the housekeeping thread: a steady ~1kHz tick
// calling Process on both queues to advance heads, reclaim buffers,
// and evict timed-out subscribers.
func (a *App) housekeepingLoop(ctx context.Context) {
	t := time.NewTicker(a.opts.HousekeepingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		a.frameQueue.Process(a.opts.SubscriberTimeout)
		a.pointerQueue.Process(a.opts.SubscriberTimeout)
	}
}

// frameLoop is the frame thread: it runs FrameProducer.Run to
// completion, distinguishing a clean shutdown
// from a backend-requested reinit (which the main thread notices via
// the reinit flag and resolves with captureRestart) from a fatal
// backend error (which ends the whole run).
func (a *App) frameLoop(ctx context.Context) {
	switch err := a.frameProd.Run(ctx); {
	case err == nil:
		return
	case errors.Is(err, produce.ErrReinit):
		atomic.StoreInt32(&a.reinit, 1)
	default:
		a.reportFatal(err)
	}
}

// mainLoop is the main thread: it drives the backend's non-blocking
// Capture() on a steady interval, and resolves a pending reinit —
// whether raised by the frame thread or observed directly from
// Capture() — with captureRestart.
func (a *App) mainLoop(ctx context.Context) {
	t := time.NewTicker(a.opts.CaptureInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if atomic.LoadInt32(&a.reinit) == 1 {
			if err := a.captureRestart(ctx); err != nil {
				a.reportFatal(err)
				return
			}
		}

		switch a.backend.Capture() {
		case capture.ResultOK, capture.ResultTimeout:
			continue
		case capture.ResultReinit:
			if err := a.captureRestart(ctx); err != nil {
				a.reportFatal(err)
				return
			}
		case capture.ResultError:
			a.reportFatal(produce.ErrBackendFatal)
			return
		}
	}
}

// captureRestart tears down and re-creates the capture backend while
// keeping the shared region, its queues, pools, and session id
// untouched: stop -> deinit -> init -> relaunch the
// housekeeping/frame thread pair.
func (a *App) captureRestart(ctx context.Context) error {
	log.Printf("INFO: restarting capture backend %q", a.backend.Name())
	a.stopSubThreads()
	a.backend.Deinit()
	if !a.backend.Init() {
		return errors.New("hostapp: failed to reinitialize capture backend")
	}
	atomic.StoreInt32(&a.reinit, 0)
	a.startSubThreads(ctx)
	return nil
}
