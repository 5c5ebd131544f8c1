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

// Package mm is a segregated-free-list, boundary-tagged, coalescing
// allocator built on top of mem's emulated program break. It implements
// the classical malloc/free contract: NUM_SEG_LISTS size-class free
// lists, first-fit-within-class search, splitting on allocation, and
// immediate coalescing on free.
//
// Like mem, it is a single module-level allocator-context value: there is
// one allocator per process, and it is not safe for concurrent use.
package mm

import (
	"github.com/segalloc/segalloc/errno"
	"github.com/segalloc/segalloc/mem"
)

// NumSegLists is the number of segregated free lists the allocator keeps.
const NumSegLists = 8

// Chunk is the minimum growth requested from the arena on a free-list
// miss, one page on a typical host.
const Chunk = 4096

type allocator struct {
	inited    bool
	freeHeads [NumSegLists]uintptr
}

var global allocator

// Init initializes the arena at arenaSize and installs the prologue,
// an initial free block, and the epilogue. Returns 0 on success, -1 on
// failure with errno set (the arena's own errors, plus INTERNAL when mm
// is already initialized).
func Init(arenaSize int) int {
	if global.inited {
		errno.Set(errno.INTERNAL)
		return -1
	}
	if rc := mem.Init(arenaSize); rc != 0 {
		return -1
	}

	// Reserve one alignment-padding word, a zero-payload allocated
	// prologue (header+footer), and a zero-payload allocated epilogue
	// header. Laid out so the first real block's payload lands on an
	// align boundary.
	base := mem.Sbrk(4 * wordSize)
	if base == mem.Failed {
		mem.Deinit()
		return -1
	}
	prologue := base + uintptr(wordSize)
	setTags(prologue, 0, true)
	epilogue := prologue + uintptr(2*wordSize)
	writeWord(epilogue, pack(0, true))

	for i := range global.freeHeads {
		global.freeHeads[i] = 0
	}
	global.inited = true

	if !growHeap(minPayload + 2*wordSize) {
		mem.Deinit()
		global = allocator{}
		return -1
	}
	// Cleared only now: growHeap's preferred chunk-sized sbrk may have
	// failed and set NOMEM before its fallback succeeded.
	errno.Clear()
	return 0
}

// Deinit drains all free lists and deinitializes the underlying arena.
// Idempotent; always returns 0.
func Deinit() int {
	global = allocator{}
	mem.Deinit()
	return 0
}

// Malloc returns the address of a payload of at least size bytes, or
// (0, false) on failure with errno set.
func Malloc(size int) (uintptr, bool) {
	if !global.inited {
		errno.Set(errno.INTERNAL)
		return 0, false
	}
	if size <= 0 {
		errno.Set(errno.INVAL)
		return 0, false
	}

	payload := roundUp(size, align)
	if payload < minPayload {
		payload = minPayload
	}

	if addr, ok := findAndPlace(payload); ok {
		return payloadAddr(addr), true
	}

	need := payload + 2*wordSize
	if !growHeap(need) {
		return 0, false
	}

	if addr, ok := findAndPlace(payload); ok {
		return payloadAddr(addr), true
	}
	errno.Set(errno.NOMEM)
	return 0, false
}

// Free returns the block at addr to its free list, coalescing with
// whichever neighbor (or both) is free. Freeing the absent pointer (0)
// is a no-op.
func Free(addr uintptr) {
	if !global.inited {
		errno.Set(errno.INTERNAL)
		return
	}
	if addr == 0 {
		return
	}

	block := addr - uintptr(wordSize)
	size := sizeOf(headerTag(block))
	setTags(block, size, false)

	curAddr, curSize := block, size

	next := nextBlockAddr(curAddr, curSize)
	nextTag := headerTag(next)
	if !allocOf(nextTag) {
		nextSize := sizeOf(nextTag)
		removeFromList(next, nextSize)
		curSize = curSize + 2*wordSize + nextSize
		setTags(curAddr, curSize, false)
	}

	prevTag := readWord(prevFooterAddr(curAddr))
	if !allocOf(prevTag) {
		prevSize := sizeOf(prevTag)
		prevAddr := curAddr - uintptr(2*wordSize+prevSize)
		removeFromList(prevAddr, prevSize)
		curSize = prevSize + 2*wordSize + curSize
		curAddr = prevAddr
		setTags(curAddr, curSize, false)
	}

	insertFree(curAddr, curSize)
}

// findAndPlace searches classes classOf(payload)..NumSegLists-1 for the
// first block able to hold payload bytes (first-fit within each class),
// removes it from its list, and splits or places it.
func findAndPlace(payload int) (uintptr, bool) {
	for c := classOf(payload); c < NumSegLists; c++ {
		if addr := searchClass(c, payload); addr != 0 {
			removeFromList(addr, sizeOf(headerTag(addr)))
			splitAndPlace(addr, payload)
			return addr, true
		}
	}
	return 0, false
}

func searchClass(class int, need int) uintptr {
	for cur := global.freeHeads[class]; cur != 0; cur = linkNext(cur) {
		if sizeOf(headerTag(cur)) >= need {
			return cur
		}
	}
	return 0
}

// splitAndPlace marks block allocated at payload bytes, splitting the
// remainder into a new free block when at least minPayload bytes of
// payload (plus its own header/footer) would remain.
func splitAndPlace(block uintptr, payload int) {
	total := sizeOf(headerTag(block))
	remaining := total - payload - 2*wordSize
	if remaining >= minPayload {
		setTags(block, payload, true)
		rem := nextBlockAddr(block, payload)
		setTags(rem, remaining, false)
		insertFree(rem, remaining)
		return
	}
	setTags(block, total, true)
}

// growHeap requests max(need, Chunk) bytes from the arena, rounded up to
// align, installs the grown region as a new free block reusing the old
// epilogue slot as its header, writes the new epilogue, coalesces
// backward, and inserts the result into its free list. Returns false if
// the arena cannot be extended.
//
// When the preferred max(need, Chunk) amount does not fit, it retries
// with exactly need (still rounded to align): a small arena should still
// be able to satisfy a small request even though it has no room for a
// full chunk's worth of slack.
func growHeap(need int) bool {
	preferred := roundUp(maxInt(need, Chunk), align)
	prevBrk := mem.Sbrk(preferred)
	grow := preferred
	if prevBrk == mem.Failed {
		fallback := roundUp(need, align)
		if fallback == preferred {
			errno.Set(errno.NOMEM)
			return false
		}
		prevBrk = mem.Sbrk(fallback)
		grow = fallback
		if prevBrk == mem.Failed {
			errno.Set(errno.NOMEM)
			return false
		}
	}

	block := prevBrk - uintptr(wordSize) // reuse the old epilogue slot
	payload := grow - 2*wordSize
	setTags(block, payload, false)

	newEpilogue := block + uintptr(grow)
	writeWord(newEpilogue, pack(0, true))

	curAddr, curSize := block, payload
	prevTag := readWord(prevFooterAddr(curAddr))
	if !allocOf(prevTag) {
		prevSize := sizeOf(prevTag)
		prevAddr := curAddr - uintptr(2*wordSize+prevSize)
		removeFromList(prevAddr, prevSize)
		curSize = prevSize + 2*wordSize + curSize
		curAddr = prevAddr
		setTags(curAddr, curSize, false)
	}

	insertFree(curAddr, curSize)
	return true
}

func insertFree(block uintptr, payload int) {
	class := classOf(payload)
	head := global.freeHeads[class]
	setLinkPrev(block, 0)
	setLinkNext(block, head)
	if head != 0 {
		setLinkPrev(head, block)
	}
	global.freeHeads[class] = block
}

func removeFromList(block uintptr, payload int) {
	class := classOf(payload)
	prev := linkPrev(block)
	next := linkNext(block)
	if prev != 0 {
		setLinkNext(prev, next)
	} else {
		global.freeHeads[class] = next
	}
	if next != 0 {
		setLinkPrev(next, prev)
	}
}
