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
	"io"

	"gopkg.in/yaml.v3"
)

// RegionInfo describes one mapped region, for diagnostics and tests.
type RegionInfo struct {
	// Base is the region's base address.
	Base uintptr `yaml:"base"`
	// Size is the total mapped size, header included.
	Size int `yaml:"size"`
	// Occupied is the number of live chunks.
	Occupied int `yaml:"occupied"`
	// FreeChunks is the length of the region's run in the free list.
	FreeChunks int `yaml:"free_chunks"`
	// Remaining is the unused tail space available for new chunks.
	Remaining int `yaml:"remaining"`
}

// FreeChunkInfo describes one free-list entry, in list order.
type FreeChunkInfo struct {
	// Addr is the chunk header's address.
	Addr uintptr
	// Region is the owning region's base address.
	Region uintptr
	// Size is the chunk's payload capacity.
	Size int
}

// Regions walks the arena's region list in order.
func (a *Arena) Regions() []RegionInfo {
	var out []RegionInfo
	for ptr := a.regionsHead; !ptr.IsNil(); {
		r := ptr.AssertValid()

		run := 0
		if !r.localFreeHead.IsNil() {
			for c := r.localFreeHead; ; c = c.AssertValid().nextFree {
				run++
				if c == r.localFreeTail {
					break
				}
			}
		}

		out = append(out, RegionInfo{
			Base:       uintptr(r.addr()),
			Size:       r.size,
			Occupied:   r.occupied,
			FreeChunks: run,
			Remaining:  r.remaining(),
		})
		ptr = r.next
	}

	return out
}

// FreeChunks walks the arena's free list head-to-tail.
func (a *Arena) FreeChunks() []FreeChunkInfo {
	var out []FreeChunkInfo
	for ptr := a.freeHead; !ptr.IsNil(); {
		c := ptr.AssertValid()
		out = append(out, FreeChunkInfo{
			Addr:   uintptr(c.addr()),
			Region: uintptr(c.owner),
			Size:   c.size,
		})
		ptr = c.nextFree
	}

	return out
}

// PayloadSize reports the capacity of the chunk owning a live payload
// pointer previously returned by Alloc.
func (a *Arena) PayloadSize(p *byte) int {
	return chunkOf(p).size
}

// DumpRegions writes the arena's region list to w as YAML, one entry per
// mapped region in list order.
func (a *Arena) DumpRegions(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(a.Regions())
}
