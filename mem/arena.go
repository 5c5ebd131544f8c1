// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mem emulates a process-break interface over a fixed-size region:
// a private stand-in for the host's brk/sbrk, bounds-checked and owned by
// a single module-level allocator-context value (there is exactly one
// arena per process, matching the real primitive it emulates).
//
// mem is not safe for concurrent use. Every operation must run to
// completion before another begins, matching the single-threaded,
// non-reentrant model the allocator built on top of it assumes.
package mem

import (
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/segalloc/segalloc/diag"
	"github.com/segalloc/segalloc/errno"
	"github.com/segalloc/segalloc/internal/hack"
)

// Failed is the sbrk failure sentinel: the all-ones pointer, the
// conventional "cast -1 to pointer" borrowed from the host's break
// primitive. It is distinct from any address the arena can hand out.
const Failed = ^uintptr(0)

// pageSize is the granularity Init rounds an acquisition up to.
const pageSize = 4096

type arena struct {
	raw     []byte         // the acquired region; oversized by up to Align-1 bytes for alignment
	rawBase unsafe.Pointer // &raw[0], kept alive for the arena's lifetime
	rawAddr uintptr        // address of rawBase, cached for offset math

	start uintptr // heap_start: first Align-aligned byte of raw
	brk   int     // current break, as an offset from start
	size  int     // heap_end - heap_start

	inited bool
}

var global arena

var sink diag.Sink = diag.Default

// SetDiagSink overrides the sink Init writes its arena-size diagnostic to.
// Tests use this to capture the line instead of writing to stderr.
func SetDiagSink(s diag.Sink) {
	if s == nil {
		s = diag.Default
	}
	sink = s
}

// Init acquires a region of at least size bytes and resets the break to
// its start. Returns 0 on success, -1 on failure with errno set.
func Init(size int) int {
	if size <= 0 {
		_ = sink.WriteLine("arena size must be > 0")
		errno.Set(errno.INVAL)
		return -1
	}
	if global.inited {
		errno.Set(errno.INTERNAL)
		return -1
	}

	acquired := roundUpPage(size)
	pad := int(hack.Align) - 1
	// Every byte of raw is written (prologue/epilogue/header/footer/link
	// words) before any allocator code reads it, so there is no
	// read-before-write hazard in skipping the zero-fill the way
	// bufiox's BytesWriter.acquire does for its own grow path.
	raw := dirtmake.Bytes(acquired+pad, acquired+pad)
	rawBase := hack.BytesPtr(raw)
	rawAddr := hack.Addr(rawBase)
	start := (rawAddr + uintptr(pad)) &^ (hack.Align - 1)

	global = arena{
		raw:     raw,
		rawBase: rawBase,
		rawAddr: rawAddr,
		start:   start,
		brk:     0,
		size:    acquired,
		inited:  true,
	}
	errno.Clear()
	return 0
}

// Sbrk moves the break by increment bytes and returns the break's value
// before the move, or Failed if the move cannot be satisfied. increment
// may be negative to shrink the break back toward heap_start.
func Sbrk(increment int) uintptr {
	if !global.inited {
		errno.Set(errno.INTERNAL)
		return Failed
	}

	candidate := global.brk + increment
	if candidate < 0 {
		errno.Set(errno.INVAL)
		return Failed
	}
	if candidate >= global.size && increment != 0 {
		errno.Set(errno.NOMEM)
		return Failed
	}

	prev := global.brk
	global.brk = candidate
	return global.start + uintptr(prev)
}

// Deinit releases the region and clears the arena to its uninitialized
// state. Idempotent: deinit while uninitialized is a no-op success. The
// error indicator is left unchanged.
func Deinit() int {
	global = arena{}
	return 0
}

// HeapStart returns the address of the first byte of the region, or
// (0, false) when uninitialized.
func HeapStart() (uintptr, bool) {
	if !global.inited {
		return 0, false
	}
	return global.start, true
}

// Brk returns the address of the current break, or (0, false) when
// uninitialized.
func Brk() (uintptr, bool) {
	if !global.inited {
		return 0, false
	}
	return global.start + uintptr(global.brk), true
}

// HeapEnd returns the address one past the last reservable byte, or
// (0, false) when uninitialized.
func HeapEnd() (uintptr, bool) {
	if !global.inited {
		return 0, false
	}
	return global.start + uintptr(global.size), true
}

// Deref turns an address previously handed out by Sbrk (or derived from
// one by the allocator's own block arithmetic) into a pointer usable to
// read or write the bytes at that address. It is the memory-safe stand-in
// for C pointer dereference: the arena owns the only live reference to
// the backing array, so the conversion never outlives the region it
// points into.
//
// Deref panics if addr falls outside the acquired region; that can only
// happen from a bug in the caller's own bookkeeping, never from arena
// state, so it is not part of the errno taxonomy.
func Deref(addr uintptr) unsafe.Pointer {
	off := addr - global.rawAddr
	if int(off) < 0 || off >= uintptr(len(global.raw)) {
		panic("mem: address out of bounds")
	}
	return unsafe.Add(global.rawBase, int(off))
}

func roundUpPage(size int) int {
	if size%pageSize == 0 {
		return size
	}
	return (size/pageSize + 1) * pageSize
}
