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

// Package diag provides the one diagnostic line the arena is allowed to
// emit (a misused init size), through an injectable sink so the core
// stays independent of the standard streams.
package diag

import (
	"io"
	"os"

	"github.com/segalloc/segalloc/internal/hack"
)

// Sink accepts a single diagnostic line. Callers pass the line without a
// trailing newline; the sink terminates it.
type Sink interface {
	WriteLine(line string) error
}

// writerSink adapts an io.Writer into a Sink, the way bufiox's
// DefaultWriter adapts an io.Writer into its buffered Writer interface.
type writerSink struct {
	w io.Writer
}

// NewWriterSink returns a Sink that writes each line to w followed by "\n".
func NewWriterSink(w io.Writer) Sink {
	return &writerSink{w: w}
}

func (s *writerSink) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, hack.StringToByteSlice(line)...)
	buf = append(buf, '\n')
	_, err := s.w.Write(buf)
	return err
}

// Default is the sink used when no Sink option is supplied: the process's
// standard error stream.
var Default Sink = NewWriterSink(os.Stderr)
