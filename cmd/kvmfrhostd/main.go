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

// Command kvmfrhostd is a minimal runnable wiring of the host side:
// open a shared-memory-backed file with package shmio, lay out a
// region over it, register the synthetic reference capture backend,
// and run hostapp.App until interrupted. A real deployment would
// swap in a vendor backend and extend the flag set, not the core
// packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kvmfr/host/capture"
	_ "github.com/kvmfr/host/capture/synthetic"
	"github.com/kvmfr/host/hostapp"
	"github.com/kvmfr/host/shmio"
)

func main() {
	if err := run(); err != nil {
		log.Printf("kvmfrhostd: %v", err)
		os.Exit(-1)
	}
}

func run() error {
	shmPath := flag.String("shm", "/dev/shm/kvmfr0", "path to the shared-memory-backed file")
	frameSlots := flag.Uint("frame-slots", 2, "number of frame queue slots")
	pointerSlots := flag.Uint("pointer-slots", 10, "number of pointer queue slots")
	flag.Parse()

	if len(capture.Backends()) == 0 {
		return fmt.Errorf("no capture backend registered")
	}

	shm, err := shmio.Open(*shmPath)
	if err != nil {
		return fmt.Errorf("open shared memory: %w", err)
	}
	defer shm.Close()

	opts := hostapp.DefaultOptions()
	opts.FrameSlots = uint32(*frameSlots)
	opts.PointerSlots = uint32(*pointerSlots)

	app, err := hostapp.New(shm.Bytes(), opts)
	if err != nil {
		return fmt.Errorf("init host app: %w", err)
	}
	log.Printf("kvmfrhostd: session %08x over %d bytes at %s", app.SessionID(), shm.Size(), *shmPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = app.Run(ctx)
	log.Printf("kvmfrhostd: stopped after %s", time.Since(start).Round(time.Millisecond))
	return err
}
