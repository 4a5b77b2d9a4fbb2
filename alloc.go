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

package hyperalloc

import (
	"io"
	"unsafe"

	"buf.build/go/hyperalloc/internal/arena"
	"buf.build/go/hyperalloc/internal/debug"
	"buf.build/go/hyperalloc/internal/mem"
	"buf.build/go/hyperalloc/internal/registry"
	"buf.build/go/hyperalloc/internal/stats"
)

// arenas is the process-wide arena table. It is the program break's sole
// consumer, which is what lets it grow in place.
var arenas = registry.New(new(mem.ProgramBreak))

// Malloc returns a pointer to size writable bytes overlapping no other live
// allocation.
//
// It returns nil when size is zero or the OS refuses to map more memory.
func Malloc(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}

	tid := mem.ThreadID()
	a, err := arenas.Lookup(tid)
	if err != nil {
		return nil
	}

	p := a.Alloc(size)
	writeBack(tid, a)
	if p == nil {
		return nil
	}
	return unsafe.Pointer(p)
}

// Free releases a pointer previously returned by [Malloc].
//
// Freeing nil is a no-op. Anything else that did not come from Malloc, or
// that was already freed, is undefined behavior.
func Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	tid := mem.ThreadID()
	a, err := arenas.Lookup(tid)
	if err != nil {
		// The arena exists: it handed out ptr. Lookup of an existing
		// record cannot fail.
		debug.Assert(false, "lookup of live arena tid:%d failed: %v", tid, err)
		return
	}

	a.Free((*byte)(ptr))
	writeBack(tid, a)
}

// UsableSize reports the payload capacity behind a live pointer returned by
// [Malloc], which is at least the size that was requested.
func UsableSize(ptr unsafe.Pointer) int {
	if ptr == nil {
		return 0
	}

	tid := mem.ThreadID()
	a, err := arenas.Lookup(tid)
	if err != nil {
		return 0
	}
	return a.PayloadSize((*byte)(ptr))
}

// DumpStats writes a YAML snapshot of the allocator's counters to w.
func DumpStats(w io.Writer) error {
	return stats.Dump(w)
}

// writeBack publishes the caller's mutated arena copy. The lookup at entry
// and the store here bracket every public operation; arena code in between
// never touches the registry, so the lookup is never reentrant.
func writeBack(tid int32, a arena.Arena) {
	err := arenas.Store(tid, a)
	// The id came out of Lookup for this same tid, so the store can only
	// be rejected if the record vanished, and records are never removed.
	debug.Assert(err == nil, "write-back of arena tid:%d failed: %v", tid, err)
}
