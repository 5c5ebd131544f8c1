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

package mem

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segalloc/segalloc/diag"
	"github.com/segalloc/segalloc/errno"
)

// reset restores the package to its zero state between tests, since the
// arena is process-wide singleton state.
func reset(t *testing.T) {
	t.Helper()
	Deinit()
	SetDiagSink(nil)
	errno.Clear()
	t.Cleanup(func() {
		Deinit()
		SetDiagSink(nil)
		errno.Clear()
	})
}

func TestInitDeinit(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))
	end, ok := HeapEnd()
	require.True(t, ok)
	start, ok := HeapStart()
	require.True(t, ok)
	assert.GreaterOrEqual(t, end-start, uintptr(4096))
	brk, ok := Brk()
	require.True(t, ok)
	assert.Equal(t, start, brk)
	assert.Equal(t, errno.NONE, errno.Get())

	require.Equal(t, 0, Deinit())
	_, ok = HeapStart()
	assert.False(t, ok)
	_, ok = Brk()
	assert.False(t, ok)
	_, ok = HeapEnd()
	assert.False(t, ok)
}

func TestInitZeroSizeWritesDiagnostic(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	SetDiagSink(diag.NewWriterSink(&buf))

	assert.Equal(t, -1, Init(0))
	assert.Contains(t, buf.String(), "arena size must be > 0")
	assert.Equal(t, errno.INVAL, errno.Get())
}

func TestInitTwiceIsInternal(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))
	assert.Equal(t, -1, Init(4096))
	assert.Equal(t, errno.INTERNAL, errno.Get())
}

func TestDeinitIdempotent(t *testing.T) {
	reset(t)

	assert.Equal(t, 0, Deinit())
	assert.Equal(t, 0, Deinit())
}

func TestSbrkBeforeInit(t *testing.T) {
	reset(t)

	assert.Equal(t, Failed, Sbrk(1))
	assert.Equal(t, errno.INTERNAL, errno.Get())
	_, ok := Brk()
	assert.False(t, ok)
}

func TestSbrkSequence(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))
	start, _ := HeapStart()

	p1 := Sbrk(1024)
	assert.Equal(t, start, p1)

	p2 := Sbrk(1024)
	assert.Equal(t, start+1024, p2)

	p3 := Sbrk(0)
	assert.Equal(t, start+2048, p3)
	assert.Equal(t, errno.NONE, errno.Get())
}

func TestSbrkOverflow(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))

	assert.NotEqual(t, Failed, Sbrk(2048))
	assert.Equal(t, Failed, Sbrk(2048), "would land exactly on heap_end")
	assert.Equal(t, errno.NOMEM, errno.Get())

	// brk is still at 2048 after the failed call above. Push it to within
	// one byte of heap_end (4095) before exercising the exclusive bound:
	// a call that would land exactly on heap_end must NOMEM even when the
	// increment itself is as small as 1.
	assert.NotEqual(t, Failed, Sbrk(2047))
	assert.Equal(t, Failed, Sbrk(1), "would land exactly on heap_end")
	assert.Equal(t, errno.NOMEM, errno.Get())
}

func TestSbrkUnderflow(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(8192))
	assert.Equal(t, Failed, Sbrk(-4096))
	assert.Equal(t, errno.INVAL, errno.Get())

	start, _ := HeapStart()
	assert.Equal(t, start, Sbrk(0))
}

func TestSbrkGrowShrinkRoundTrip(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))
	start, _ := HeapStart()

	assert.Equal(t, Failed, Sbrk(4096))
	assert.NotEqual(t, Failed, Sbrk(4095))
	assert.NotEqual(t, Failed, Sbrk(-4095))
	assert.Equal(t, start, Sbrk(0))
}

func TestDerefRoundTrip(t *testing.T) {
	reset(t)

	require.Equal(t, 0, Init(4096))
	p := Sbrk(8)
	ptr := Deref(p)
	*(*uint64)(ptr) = 0x1122334455667788
	assert.Equal(t, uint64(0x1122334455667788), *(*uint64)(Deref(p)))
}
