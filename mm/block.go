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

package mm

import (
	"math/bits"

	"github.com/segalloc/segalloc/internal/hack"
	"github.com/segalloc/segalloc/mem"
)

// wordSize is the header/footer/free-link width; align is the payload
// alignment the allocator guarantees. Both are plain ints: every address
// computed from them is built explicitly with uintptr(...) conversions.
const (
	wordSize = int(hack.WordSize)
	align    = int(hack.Align)
)

// minPayload is the smallest payload a block can carry: room for the two
// free-list pointers a free block keeps at its payload head.
const minPayload = 2 * wordSize

// allocatedBit is the low bit of a header/footer word.
const allocatedBit = uintptr(1)

// pack encodes a boundary tag: payload size in the high bits, the
// allocated flag in bit 0. size is always a multiple of align, so the
// low bits it would otherwise occupy are free for the flag.
func pack(size int, allocated bool) uintptr {
	v := uintptr(size)
	if allocated {
		v |= allocatedBit
	}
	return v
}

func sizeOf(tag uintptr) int   { return int(tag &^ allocatedBit) }
func allocOf(tag uintptr) bool { return tag&allocatedBit != 0 }

func readWord(addr uintptr) uintptr {
	return hack.LoadWord(mem.Deref(addr))
}

func writeWord(addr uintptr, v uintptr) {
	hack.StoreWord(mem.Deref(addr), v)
}

// header/footer/payload addressing, all relative to a block's address
// (the address of its header word).

func headerTag(block uintptr) uintptr   { return readWord(block) }
func payloadAddr(block uintptr) uintptr { return block + uintptr(wordSize) }
func footerAddr(block uintptr, payload int) uintptr {
	return block + uintptr(wordSize) + uintptr(payload)
}

// setTags writes matching header and footer for a block of the given
// payload size and allocated state.
func setTags(block uintptr, payload int, allocated bool) {
	tag := pack(payload, allocated)
	writeWord(block, tag)
	writeWord(footerAddr(block, payload), tag)
}

// nextBlockAddr returns the address of the block immediately following
// one of the given payload size.
func nextBlockAddr(block uintptr, payload int) uintptr {
	return block + uintptr(2*wordSize) + uintptr(payload)
}

// prevFooterAddr returns the address of the footer word belonging to the
// block immediately preceding block (valid once a prologue exists there).
func prevFooterAddr(block uintptr) uintptr {
	return block - uintptr(wordSize)
}

// Free-list links live inside a free block's payload: prev at the payload
// head, next one word after it.

func linkPrev(block uintptr) uintptr { return readWord(payloadAddr(block)) }
func linkNext(block uintptr) uintptr { return readWord(payloadAddr(block) + uintptr(wordSize)) }
func setLinkPrev(block, v uintptr)   { writeWord(payloadAddr(block), v) }
func setLinkNext(block, v uintptr)   { writeWord(payloadAddr(block)+uintptr(wordSize), v) }

// classOf maps a payload size to its segregated free-list index. Class i
// covers payload sizes [2^(i+4), 2^(i+5)); the smallest class's lower
// bound (16 bytes) is exactly minPayload, and the largest class is
// open-ended at the top.
func classOf(payload int) int {
	floorLog2 := bits.Len(uint(payload)) - 1
	idx := floorLog2 - 4
	if idx < 0 {
		idx = 0
	}
	if idx >= NumSegLists {
		idx = NumSegLists - 1
	}
	return idx
}

func roundUp(n int, a int) int {
	return (n + a - 1) &^ (a - 1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
