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

// Package arena implements a chunked region allocator over anonymous OS
// mappings.
//
// # Design
//
// An [Arena] owns a doubly-linked list of regions, each a page-aligned
// mapping whose leading bytes hold a region header and whose remainder is a
// bump-allocated sequence of chunks. Every chunk is a fixed-size header
// followed by the user payload; the payload pointer handed out is always
// exactly one header past the chunk's base.
//
// Released chunks go on the arena's free list, a doubly-linked list spanning
// all of the arena's regions. The list is kept region-contiguous: the free
// chunks of one region always form a single adjacent run, bracketed by the
// region header's local head and tail. That ordering is what makes whole-
// region release cheap: when a region's last live chunk is freed, its entire
// run is cut out of the free list with two pointer updates and the mapping
// is returned to the OS.
//
// Chunks are never split, merged, or moved. A reused chunk keeps its full
// original capacity, and space is reclaimed only at region granularity.
//
// An Arena is a plain value holding raw addresses into mapped memory, so it
// can be copied through the registry freely. It is exclusively owned by one
// thread at a time and performs no synchronization of its own.
package arena

import (
	"github.com/xyproto/env/v2"

	"buf.build/go/hyperalloc/internal/debug"
	"buf.build/go/hyperalloc/internal/mem"
	"buf.build/go/hyperalloc/internal/stats"
	"buf.build/go/hyperalloc/internal/xunsafe"
	"buf.build/go/hyperalloc/internal/xunsafe/layout"
)

// RedundancyMultiplier is how many times over a fresh region is sized
// relative to the allocation that triggered it, amortizing the cost of the
// map call. Overridable at process start for experiments.
var RedundancyMultiplier = env.Int("HYPERALLOC_REDUNDANCY", 32)

// Arena is one thread's private allocator state: a list of regions plus a
// free list spanning them.
//
// New returns a ready-to-use Arena; the zero value is an arena with no
// regions and works too, but has thread id zero.
type Arena struct {
	// TID is the OS thread id this arena belongs to.
	TID int32

	regionsHead xunsafe.Addr[region]
	regionsTail xunsafe.Addr[region]

	freeHead xunsafe.Addr[chunk]
	freeTail xunsafe.Addr[chunk]
}

// New returns an empty arena owned by the given thread.
func New(tid int32) Arena {
	return Arena{TID: tid}
}

// Alloc returns a pointer to n writable bytes overlapping no other live
// allocation, or nil if the OS refuses to map more memory.
//
// The caller must own this arena; the public surface guarantees that by
// keying arenas on thread ids.
func (a *Arena) Alloc(n int) *byte {
	if n <= 0 {
		return nil
	}

	// Keeping payload capacities word-aligned keeps every header behind
	// them word-aligned too.
	n = layout.RoundUp(n, Align)

	if c := a.takeFit(n); c != nil {
		c.owner.AssertValid().occupied++
		a.log("reuse", "%v:%d", c.addr(), c.size)
		stats.RecordReuse(c.size)
		return c.payload()
	}

	c := a.bump(n)
	if c == nil {
		return nil
	}
	a.log("bump", "%v:%d", c.addr(), c.size)
	stats.RecordBump(c.size)
	return c.payload()
}

// Free releases a payload previously returned by Alloc on this arena.
//
// If this was the owning region's last live chunk, the whole region goes
// back to the OS; otherwise the chunk joins the free list.
func (a *Arena) Free(p *byte) {
	c := chunkOf(p)
	r := c.owner.AssertValid()

	r.occupied--
	stats.RecordFree(c.size)

	if r.occupied == 0 {
		a.log("unmap", "%v:%d", r.addr(), r.size)
		a.releaseRegion(r)
		return
	}

	a.pushFree(c)
	a.log("free", "%v:%d", c.addr(), c.size)
}

// takeFit walks the free list head-to-tail and returns the first chunk with
// capacity at least n, spliced out of the list. Returns nil on a miss.
func (a *Arena) takeFit(n int) *chunk {
	for ptr := a.freeHead; !ptr.IsNil(); {
		c := ptr.AssertValid()
		if c.size >= n {
			a.unlinkFree(c)
			return c
		}
		ptr = c.nextFree
	}

	return nil
}

// unlinkFree splices c out of the free list, fixing up the owning region's
// local run boundaries.
func (a *Arena) unlinkFree(c *chunk) {
	if c.prevFree.IsNil() {
		a.freeHead = c.nextFree
	} else {
		c.prevFree.AssertValid().nextFree = c.nextFree
	}

	if c.nextFree.IsNil() {
		a.freeTail = c.prevFree
	} else {
		c.nextFree.AssertValid().prevFree = c.prevFree
	}

	r := c.owner.AssertValid()
	switch {
	case r.localFreeHead == c.addr() && r.localFreeTail == c.addr():
		// The region's run was just this chunk.
		r.localFreeHead, r.localFreeTail = 0, 0
	case r.localFreeHead == c.addr():
		r.localFreeHead = c.nextFree
	case r.localFreeTail == c.addr():
		r.localFreeTail = c.prevFree
	}

	c.prevFree, c.nextFree = 0, 0
}

// pushFree inserts c into the free list, preserving region-contiguity: it
// lands immediately after its region's run, or at the global tail if the
// region has no run yet.
func (a *Arena) pushFree(c *chunk) {
	r := c.owner.AssertValid()

	if r.localFreeHead.IsNil() {
		// The region contributes nothing yet. Append to the global tail
		// and become the region's run.
		c.prevFree = a.freeTail
		c.nextFree = 0
		if a.freeHead.IsNil() {
			a.freeHead = c.addr()
		} else {
			a.freeTail.AssertValid().nextFree = c.addr()
		}
		a.freeTail = c.addr()

		r.localFreeHead, r.localFreeTail = c.addr(), c.addr()
		return
	}

	// Splice in immediately after the run's tail.
	prev := r.localFreeTail.AssertValid()
	next := prev.nextFree

	prev.nextFree = c.addr()
	c.prevFree = r.localFreeTail
	c.nextFree = next
	if next.IsNil() {
		a.freeTail = c.addr()
	} else {
		next.AssertValid().prevFree = c.addr()
	}

	r.localFreeTail = c.addr()
}

// bump places a new chunk with capacity n at the tail region's unused end,
// mapping a fresh region first if the tail lacks space. Returns nil only if
// the OS mapping fails, in which case no state has changed.
func (a *Arena) bump(n int) *chunk {
	var r *region
	if !a.regionsTail.IsNil() {
		r = a.regionsTail.AssertValid()
	}

	if r == nil || r.remaining() < n+chunkHeaderSize {
		if r = a.mapRegion(n); r == nil {
			return nil
		}
	}

	var c *chunk
	if r.chunksHead.IsNil() {
		c = xunsafe.ByteAdd[chunk](r, regionHeaderSize)
		r.chunksHead = c.addr()
	} else {
		tail := r.chunksTail.AssertValid()
		c = tail.end()
		tail.next = c.addr()
	}
	r.chunksTail = c.addr()

	c.size = n
	c.next = 0
	c.prevFree, c.nextFree = 0, 0
	c.owner = r.addr()

	r.occupied++
	return c
}

// mapRegion maps a fresh region big enough for at least one chunk of
// capacity n, oversized by RedundancyMultiplier, and appends it to the
// arena's region list. Returns nil if the OS refuses the mapping.
func (a *Arena) mapRegion(n int) *region {
	need := RedundancyMultiplier*n + chunkHeaderSize
	size := mem.PageSize
	for size-regionHeaderSize < need {
		size <<= 1
	}

	p, err := mem.Map(size)
	if err != nil {
		a.log("map", "failed: %v", err)
		return nil
	}

	// Anonymous mappings come back zero-filled, so every list link in the
	// header is already the null sentinel.
	r := xunsafe.Cast[region](p)
	r.size = size
	r.prev = a.regionsTail

	if a.regionsHead.IsNil() {
		a.regionsHead = r.addr()
	} else {
		a.regionsTail.AssertValid().next = r.addr()
	}
	a.regionsTail = r.addr()

	a.log("map", "%v:%d", r.addr(), size)
	stats.RecordMap(size)
	return r
}

// releaseRegion cuts r's free-list run out of the arena's free list, unlinks
// r from the region list, and returns the mapping to the OS.
func (a *Arena) releaseRegion(r *region) {
	if !r.localFreeHead.IsNil() {
		head := r.localFreeHead.AssertValid()
		tail := r.localFreeTail.AssertValid()

		if head.prevFree.IsNil() {
			a.freeHead = tail.nextFree
		} else {
			head.prevFree.AssertValid().nextFree = tail.nextFree
		}

		if tail.nextFree.IsNil() {
			a.freeTail = head.prevFree
		} else {
			tail.nextFree.AssertValid().prevFree = head.prevFree
		}

		// The run's interior links die with the mapping.
	}

	if r.prev.IsNil() {
		a.regionsHead = r.next
	} else {
		r.prev.AssertValid().next = r.next
	}

	if r.next.IsNil() {
		a.regionsTail = r.prev
	} else {
		r.next.AssertValid().prev = r.prev
	}

	size := r.size
	err := mem.Unmap(r.base(), size)
	debug.Assert(err == nil, "munmap of %v:%d: %v", r.addr(), size, err)
	stats.RecordUnmap(size)
}

func (a *Arena) log(op, format string, args ...any) {
	debug.Log([]any{"tid:%d", a.TID}, op, format, args...)
}
