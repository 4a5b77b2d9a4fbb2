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

package arena_test

import (
	"bytes"
	"math/rand"
	"slices"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buf.build/go/hyperalloc/internal/arena"
	"buf.build/go/hyperalloc/internal/mem"
)

// payload views a returned pointer as an n-byte slice.
func payload(p *byte, n int) []byte {
	return unsafe.Slice(p, n)
}

// alloc is one live allocation under churn, with the boundary bytes it was
// stamped with.
type alloc struct {
	p      *byte
	n      int
	lo, hi byte
}

// checkInvariants asserts the structural invariants linking regions, chunks
// and the free list at a quiescent point.
func checkInvariants(t *testing.T, a *arena.Arena) {
	t.Helper()

	regions := a.Regions()
	free := a.FreeChunks()

	// The free list is region-contiguous: each region's entries form one
	// maximal run.
	seen := map[uintptr]bool{}
	for i := 0; i < len(free); {
		r := free[i].Region
		require.False(t, seen[r], "region %#x has two runs in the free list", r)
		seen[r] = true
		for i < len(free) && free[i].Region == r {
			i++
		}
	}

	// Run lengths agree with the region headers' local boundaries.
	perRegion := map[uintptr]int{}
	for _, c := range free {
		perRegion[c.Region]++
	}
	var totalFree int
	for _, r := range regions {
		assert.Equal(t, perRegion[r.Base], r.FreeChunks,
			"region %#x run length disagrees with its local boundaries", r.Base)
		totalFree += r.FreeChunks
		assert.Positive(t, r.Occupied,
			"region %#x with no live chunks survived a release", r.Base)
	}
	assert.Equal(t, len(free), totalFree)
}

func TestLifecycle(t *testing.T) {
	a := arena.New(1)
	before := mem.MappedBytes()

	p := a.Alloc(100)
	require.NotNil(t, p)

	b := payload(p, 100)
	for i := range b {
		b[i] = 0xA5
	}
	for i := range b {
		require.Equal(t, byte(0xA5), b[i], "readback at %d", i)
	}

	a.Free(p)

	assert.Empty(t, a.Regions())
	assert.Empty(t, a.FreeChunks())
	assert.Equal(t, before, mem.MappedBytes(), "net mapped bytes after full release")
}

func TestFirstFitReuse(t *testing.T) {
	a := arena.New(1)

	p1 := a.Alloc(8000)
	p2 := a.Alloc(8000)
	p3 := a.Alloc(4000)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	a.Free(p2)
	p4 := a.Alloc(8000)
	assert.Equal(t, p2, p4, "first fit should hand back the freed chunk")

	a.Free(p1)
	a.Free(p3)
	a.Free(p4)
	assert.Empty(t, a.Regions())
}

func TestZeroSize(t *testing.T) {
	a := arena.New(1)
	assert.Nil(t, a.Alloc(0))
	assert.Nil(t, a.Alloc(-1))
	assert.Empty(t, a.Regions())
}

func TestAlignment(t *testing.T) {
	a := arena.New(1)

	var ptrs []*byte
	for _, n := range []int{1, 3, 7, 13, 100, 4097} {
		p := a.Alloc(n)
		require.NotNil(t, p)
		assert.Zero(t, uintptr(unsafe.Pointer(p))%uintptr(arena.Align), "payload for %d misaligned", n)
		assert.GreaterOrEqual(t, a.PayloadSize(p), n)
		assert.Zero(t, a.PayloadSize(p)%arena.Align)
		ptrs = append(ptrs, p)
	}

	for _, p := range ptrs {
		a.Free(p)
	}
}

func TestWholeRegionUnmap(t *testing.T) {
	a := arena.New(1)
	before := mem.MappedBytes()
	rng := rand.New(rand.NewSource(7))

	// Allocate until at least two regions exist.
	var ptrs []*byte
	for len(a.Regions()) < 2 {
		ptrs = append(ptrs, a.Alloc(4000))
	}

	rng.Shuffle(len(ptrs), func(i, j int) {
		ptrs[i], ptrs[j] = ptrs[j], ptrs[i]
	})
	for _, p := range ptrs {
		a.Free(p)
	}

	assert.Empty(t, a.Regions(), "all regions should be unmapped")
	assert.Empty(t, a.FreeChunks(), "free list should die with its regions")
	assert.Equal(t, before, mem.MappedBytes())
}

func TestRegionContiguity(t *testing.T) {
	a := arena.New(1)

	// Spread live chunks over several regions, then free every other one
	// in an order that interleaves regions as badly as possible.
	var ptrs []*byte
	for len(a.Regions()) < 3 {
		ptrs = append(ptrs, a.Alloc(2048))
	}
	// Keep one live chunk per region so nothing unmaps underneath us.
	var odd []int
	for i := 1; i < len(ptrs); i += 2 {
		odd = append(odd, i)
	}
	for k := range odd {
		// Alternate between the front and the back of the odd slots, so
		// consecutive frees land in different regions.
		j := k / 2
		if k%2 == 1 {
			j = len(odd) - 1 - k/2
		}
		a.Free(ptrs[odd[j]])
		checkInvariants(t, &a)
	}

	for i := 0; i < len(ptrs); i += 2 {
		a.Free(ptrs[i])
	}
	assert.Empty(t, a.Regions())
	assert.Empty(t, a.FreeChunks())
}

func TestDumpRegions(t *testing.T) {
	a := arena.New(1)

	p := a.Alloc(4000)
	require.NotNil(t, p)

	var buf bytes.Buffer
	require.NoError(t, a.DumpRegions(&buf))
	assert.Contains(t, buf.String(), "occupied: 1")
	assert.Contains(t, buf.String(), "free_chunks: 0")

	a.Free(p)
}

func TestRandomChurn(t *testing.T) {
	if testing.Short() {
		t.Skip("churn test is slow")
	}

	const (
		iters   = 200000
		maxSize = 65536
		check   = 4096
	)

	a := arena.New(1)
	before := mem.MappedBytes()
	rng := rand.New(rand.NewSource(42))

	var live []alloc

	for i := range iters {
		if len(live) == 0 || rng.Intn(2) == 0 {
			n := rng.Intn(maxSize) + 1
			p := a.Alloc(n)
			require.NotNil(t, p, "iter %d", i)

			// Stamp the payload's boundary bytes so corruption by a
			// later overlapping allocation is caught on release.
			b := payload(p, n)
			b[0], b[n-1] = byte(i), byte(i>>8)
			live = append(live, alloc{p, n, byte(i), byte(i >> 8)})
		} else {
			j := rng.Intn(len(live))
			v := live[j]

			b := payload(v.p, v.n)
			if v.n > 1 {
				require.Equal(t, v.lo, b[0], "iter %d: low boundary byte clobbered", i)
			}
			require.Equal(t, v.hi, b[v.n-1], "iter %d: high boundary byte clobbered", i)
			require.GreaterOrEqual(t, a.PayloadSize(v.p), v.n)
			a.Free(v.p)

			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}

		if i%check == 0 {
			checkInvariants(t, &a)
			requireDisjoint(t, live)
		}
	}

	for _, v := range live {
		a.Free(v.p)
	}
	assert.Equal(t, before, mem.MappedBytes())
}

func requireDisjoint(t *testing.T, live []alloc) {
	t.Helper()

	type span struct{ lo, hi uintptr }
	ss := make([]span, len(live))
	for i, v := range live {
		lo := uintptr(unsafe.Pointer(v.p))
		ss[i] = span{lo, lo + uintptr(v.n)}
	}
	slices.SortFunc(ss, func(a, b span) int {
		switch {
		case a.lo < b.lo:
			return -1
		case a.lo > b.lo:
			return 1
		}
		return 0
	})
	for i := 1; i < len(ss); i++ {
		require.LessOrEqual(t, ss[i-1].hi, ss[i].lo, "live payloads overlap")
	}
}
