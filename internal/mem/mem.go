// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mem wraps the raw memory primitives the allocator consumes from
// the operating system: anonymous page mappings, the program break, and the
// calling thread's identity.
package mem

import (
	"errors"
	"os"
	"sync/atomic"

	"buf.build/go/hyperalloc/internal/xunsafe"
)

// ErrOutOfMemory is returned when the OS refuses to hand out more memory.
var ErrOutOfMemory = errors.New("hyperalloc: out of memory")

// PageSize is the size of an OS page.
var PageSize = os.Getpagesize()

// mapped tracks the net number of bytes currently mapped through [Map].
var mapped atomic.Int64

// MappedBytes returns the net number of bytes currently mapped through
// [Map], i.e. total mapped minus total unmapped.
func MappedBytes() int64 {
	return mapped.Load()
}

// Break is a contiguous reservation primitive.
//
// Successive extensions are contiguous in memory: the pointer returned by
// one call is exactly the end of the bytes handed out by all prior calls.
// This is what lets the arena registry grow its backing array in place
// without ever relocating an entry.
type Break interface {
	// Sbrk extends the reservation by delta bytes, returning the previous
	// end. A negative delta contracts it.
	Sbrk(delta int) (*byte, error)
}

// FixedBreak is a Break backed by a preallocated buffer of fixed capacity.
//
// It satisfies the same contiguity contract as the real program break and is
// what tests use to exercise growth without touching the process's data
// segment. Sbrk fails with [ErrOutOfMemory] once the buffer is exhausted.
type FixedBreak struct {
	buf  []byte
	used int
}

// NewFixedBreak returns a FixedBreak with capacity n.
func NewFixedBreak(n int) *FixedBreak {
	return &FixedBreak{buf: make([]byte, n)}
}

// Sbrk implements [Break].
func (b *FixedBreak) Sbrk(delta int) (*byte, error) {
	if b.used+delta > len(b.buf) || b.used+delta < 0 {
		return nil, ErrOutOfMemory
	}

	prev := xunsafe.AddrOf(&b.buf[0]).ByteAdd(b.used)
	b.used += delta
	return prev.AssertValid(), nil
}
