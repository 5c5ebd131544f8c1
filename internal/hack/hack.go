/*
 * Copyright 2024 CloudWeGo Authors
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

// Package hack holds the unsafe pointer plumbing shared by mem and mm:
// reading and writing machine words at a byte offset into a slab, and
// converting between addresses and the []byte region backing them.
package hack

import "unsafe"

// WordSize is the width of one header/footer tag and one free-list link:
// the platform pointer width.
const WordSize = unsafe.Sizeof(uintptr(0))

// Align is the payload alignment the allocator guarantees: double the
// machine word width (16 bytes on a 64-bit host).
const Align = 2 * WordSize

// BytesPtr returns a pointer to the first byte of b, or nil for an empty
// slice. Unlike &b[0], it never panics.
func BytesPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// LoadWord reads one machine word at p.
func LoadWord(p unsafe.Pointer) uintptr {
	return *(*uintptr)(p)
}

// StoreWord writes one machine word at p.
func StoreWord(p unsafe.Pointer, v uintptr) {
	*(*uintptr)(p) = v
}

// Addr returns the address of p as a uintptr, for arithmetic and bounds
// checks against a slab's start/end addresses.
func Addr(p unsafe.Pointer) uintptr {
	return uintptr(p)
}

// ByteSliceToString converts []byte to string without copy.
func ByteSliceToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToByteSlice converts string to []byte without copy. The result
// must not be mutated: it aliases the string's read-only storage.
func StringToByteSlice(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
