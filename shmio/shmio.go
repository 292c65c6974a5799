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

// Package shmio turns a path to a shared-memory-backed file — an
// ivshmem device node or a /dev/shm object — into the mapped byte
// span hostapp.New consumes. The core packages only ever accept a
// []byte; this package is one concrete, POSIX-only way to produce
// it, kept separate so the core itself never imports an OS-specific
// mmap call.
package shmio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a memory-mapped shared-memory span together with the
// open file descriptor backing it.
type Region struct {
	file *os.File
	buf  []byte
}

// Open maps the file at path read-write and returns a Region wrapping
// the mapped bytes. The file must already exist and have a non-zero
// size (the caller — or the platform's ivshmem driver — is
// responsible for sizing it); Open neither creates nor truncates it.
func Open(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmio: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmio: stat %s: %w", path, err)
	}
	if st.Size() == 0 {
		f.Close()
		return nil, fmt.Errorf("shmio: %s has zero size", path)
	}

	buf, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmio: mmap %s: %w", path, err)
	}

	return &Region{file: f, buf: buf}, nil
}

// Bytes returns the mapped span, suitable for passing straight to
// region.New / hostapp.New.
func (r *Region) Bytes() []byte { return r.buf }

// Size returns the length of the mapped span in bytes.
func (r *Region) Size() int { return len(r.buf) }

// Close unmaps the span and closes the backing file descriptor.
func (r *Region) Close() error {
	munmapErr := unix.Munmap(r.buf)
	closeErr := r.file.Close()
	switch {
	case munmapErr != nil && closeErr != nil:
		return fmt.Errorf("shmio: close: munmap: %v, close: %v", munmapErr, closeErr)
	case munmapErr != nil:
		return fmt.Errorf("shmio: munmap: %w", munmapErr)
	case closeErr != nil:
		return fmt.Errorf("shmio: close: %w", closeErr)
	default:
		return nil
	}
}
