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

package arena

import (
	"unsafe"

	"buf.build/go/hyperalloc/internal/xunsafe"
)

// regionHeaderSize is the bookkeeping overhead at the front of every mapped
// region.
const regionHeaderSize = int(unsafe.Sizeof(region{}))

// region is the header at the base of one page-aligned OS mapping. The rest
// of the mapping is a bump-allocated sequence of chunks.
type region struct {
	// Size of the mapping, including this header. A power-of-two multiple
	// of the page size.
	size int

	// First and last chunks carved from this region, in address order.
	// Chunks grow monotonically upward and are never deleted individually.
	chunksHead xunsafe.Addr[chunk]
	chunksTail xunsafe.Addr[chunk]

	// This region's contiguous run inside the arena's free list. Zero iff
	// the region contributes no free chunks.
	localFreeHead xunsafe.Addr[chunk]
	localFreeTail xunsafe.Addr[chunk]

	// Region list links within the owning arena.
	prev xunsafe.Addr[region]
	next xunsafe.Addr[region]

	// Number of live chunks. The region is unmapped when this hits zero.
	occupied int
}

// addr returns this region's base address.
func (r *region) addr() xunsafe.Addr[region] {
	return xunsafe.AddrOf(r)
}

// base returns this region's base as a byte pointer.
func (r *region) base() *byte {
	return xunsafe.Cast[byte](r)
}

// remaining returns the number of bytes left for new chunks at this
// region's tail. Space sitting in the free list does not count.
func (r *region) remaining() int {
	if r.chunksTail.IsNil() {
		return r.size - regionHeaderSize
	}

	tail := r.chunksTail.AssertValid()
	used := xunsafe.ByteSub(tail, r) + chunkHeaderSize + tail.size
	return r.size - used
}
