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

package errno

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSetClear(t *testing.T) {
	defer Clear()

	assert.Equal(t, NONE, Get(), "zero value is NONE")

	Set(NOMEM)
	assert.Equal(t, NOMEM, Get())

	Set(CORRUPT)
	assert.Equal(t, CORRUPT, Get())

	Clear()
	assert.Equal(t, NONE, Get())
}

func TestString(t *testing.T) {
	tests := []struct {
		e    Errno
		want string
	}{
		{NONE, "NONE"},
		{NOMEM, "NOMEM"},
		{INVAL, "INVAL"},
		{ALIGN, "ALIGN"},
		{CORRUPT, "CORRUPT"},
		{INTERNAL, "INTERNAL"},
		{Errno(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.String())
		})
	}
}
