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

// Package memutil holds the unsafe, no-copy pointer tricks shared by
// region, queue and kvmfr. Every struct this module hands a client
// lives inside externally-owned shared memory, so there is no safe
// high-level container that fits; this package is the narrow typed
// surface the rest of the module builds on instead of sprinkling
// unsafe.Pointer casts everywhere.
package memutil

import "unsafe"

// Cast reinterprets the first unsafe.Sizeof(T{}) bytes of b as *T.
// The caller must ensure len(b) >= unsafe.Sizeof(T{}) and that b is
// suitably aligned for T; arena offsets handed out by region.Region.Alloc
// are always 128-byte aligned, which satisfies every T used in this
// module.
func Cast[T any](b []byte) *T {
	var zero T
	if len(b) < int(unsafe.Sizeof(zero)) {
		panic("memutil: Cast: buffer smaller than target type")
	}
	return (*T)(unsafe.Pointer(&b[0]))
}

// SizeOf returns unsafe.Sizeof(*t) as a uintptr, for callers that need
// a struct's wire size without constructing their own zero value.
func SizeOf[T any](t *T) uintptr {
	return unsafe.Sizeof(*t)
}

// Bytes returns a []byte view over *T of length unsafe.Sizeof(T{}).
// The returned slice aliases t; writes through either are visible
// through both.
func Bytes[T any](t *T) []byte {
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(t)), size)
}

// ByteSliceToString converts []byte to string without copying.
// The caller must not mutate b after calling this.
func ByteSliceToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToByteSlice converts a string to []byte without copying.
// The returned slice must not be mutated or appended to.
func StringToByteSlice(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
