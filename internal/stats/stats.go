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

// Package stats provides instrumentation counter primitives for the
// allocator.
//
// Counters are process-wide and safe for concurrent writers. Reading a
// [Snapshot] concurrently with writers may produce torn (but individually
// valid) values.
package stats

import (
	"io"
	"sync/atomic"

	"github.com/timandy/routine"
	"gopkg.in/yaml.v3"

	"buf.build/go/hyperalloc/internal/sync2"
	"buf.build/go/hyperalloc/internal/xsync"
)

// Mean tracks an average statistic.
//
// The zero value is ready to use. Concurrent writes are safe, but calling
// [Mean.Get] concurrently with other operations may result in torn reads
// (and thus inaccuracy).
type Mean struct {
	total, samples sync2.AtomicFloat64
}

// Record records a sample.
func (m *Mean) Record(sample float64) {
	m.total.Add(sample)
	m.samples.Add(1)
}

// Get returns the mean value of this statistic.
func (m *Mean) Get() float64 {
	total, samples := m.total.Load(), m.samples.Load()
	if samples == 0 {
		return 0
	}
	return total / samples
}

var (
	reuses, bumps   atomic.Int64
	frees           atomic.Int64
	maps, unmaps    atomic.Int64
	mapBytes        atomic.Int64
	unmapBytes      atomic.Int64
	liveBytes       atomic.Int64
	allocSize       Mean
	opsPerGoroutine xsync.Map[int64, *atomic.Int64]
)

// RecordReuse notes an allocation served from the free list.
func RecordReuse(size int) { recordAlloc(&reuses, size) }

// RecordBump notes an allocation bump-placed at a region's tail.
func RecordBump(size int) { recordAlloc(&bumps, size) }

func recordAlloc(counter *atomic.Int64, size int) {
	counter.Add(1)
	liveBytes.Add(int64(size))
	allocSize.Record(float64(size))
	goroutineOps().Add(1)
}

// RecordFree notes a released payload of the given size.
func RecordFree(size int) {
	frees.Add(1)
	liveBytes.Add(-int64(size))
	goroutineOps().Add(1)
}

// RecordMap notes a freshly mapped region.
func RecordMap(size int) {
	maps.Add(1)
	mapBytes.Add(int64(size))
}

// RecordUnmap notes a region returned to the OS.
func RecordUnmap(size int) {
	unmaps.Add(1)
	unmapBytes.Add(int64(size))
}

func goroutineOps() *atomic.Int64 {
	ops, _ := opsPerGoroutine.LoadOrStore(int64(routine.Goid()), func() *atomic.Int64 {
		return new(atomic.Int64)
	})
	return ops
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	FreeListReuses  int64   `yaml:"free_list_reuses"`
	BumpAllocations int64   `yaml:"bump_allocations"`
	Frees           int64   `yaml:"frees"`
	RegionsMapped   int64   `yaml:"regions_mapped"`
	RegionsUnmapped int64   `yaml:"regions_unmapped"`
	BytesMapped     int64   `yaml:"bytes_mapped"`
	BytesUnmapped   int64   `yaml:"bytes_unmapped"`
	LiveBytes       int64   `yaml:"live_bytes"`
	MeanAllocSize   float64 `yaml:"mean_alloc_size"`

	// Operation counts per goroutine id, for spotting which goroutines
	// hammer the allocator.
	OpsByGoroutine map[int64]int64 `yaml:"ops_by_goroutine,omitempty"`
}

// Read takes a snapshot of every counter.
func Read() Snapshot {
	s := Snapshot{
		FreeListReuses:  reuses.Load(),
		BumpAllocations: bumps.Load(),
		Frees:           frees.Load(),
		RegionsMapped:   maps.Load(),
		RegionsUnmapped: unmaps.Load(),
		BytesMapped:     mapBytes.Load(),
		BytesUnmapped:   unmapBytes.Load(),
		LiveBytes:       liveBytes.Load(),
		MeanAllocSize:   allocSize.Get(),
		OpsByGoroutine:  map[int64]int64{},
	}

	for goid, ops := range opsPerGoroutine.All() {
		s.OpsByGoroutine[goid] = ops.Load()
	}

	return s
}

// Dump writes the current snapshot to w as YAML.
func Dump(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(Read())
}
