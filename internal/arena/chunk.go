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

const (
	// Align is the alignment of every payload the allocator returns.
	Align = int(unsafe.Sizeof(uintptr(0)))

	// chunkHeaderSize is the fixed overhead in front of every payload.
	chunkHeaderSize = int(unsafe.Sizeof(chunk{}))
)

// chunk is the header immediately preceding a user payload.
//
// Chunks are carved out of a region's tail and never move or shrink for the
// lifetime of their region, so raw addresses to them are stable.
type chunk struct {
	// Bytes available to the user, immediately following this header.
	size int

	// Next chunk carved from the owning region, in address order.
	next xunsafe.Addr[chunk]

	// Free-list links. Zero while the chunk is occupied.
	prevFree xunsafe.Addr[chunk]
	nextFree xunsafe.Addr[chunk]

	// The region this chunk resides in.
	owner xunsafe.Addr[region]
}

// chunkOf recovers the chunk header owning a payload pointer.
func chunkOf(p *byte) *chunk {
	return xunsafe.ByteAdd[chunk](p, -chunkHeaderSize)
}

// addr returns this chunk's raw address.
func (c *chunk) addr() xunsafe.Addr[chunk] {
	return xunsafe.AddrOf(c)
}

// payload returns the address of the user-owned bytes of this chunk.
func (c *chunk) payload() *byte {
	return xunsafe.ByteAdd[byte](c, chunkHeaderSize)
}

// end returns the first address past this chunk's payload, which is where
// the next chunk in the region goes.
func (c *chunk) end() *chunk {
	return xunsafe.ByteAdd[chunk](c, chunkHeaderSize+c.size)
}
