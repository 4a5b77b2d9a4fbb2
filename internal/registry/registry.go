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

// Package registry maps OS thread ids to their private arenas.
//
// The registry is a tightly-packed array of arena records sorted ascending
// by thread id, backed by a contiguous reservation ([mem.Break]) and guarded
// by a single mutex. Capacity doubles in place; because every extension of
// the reservation is contiguous, records never relocate.
//
// Lookups hand out a copy of the record, so all allocation work happens
// outside the lock; callers write their modified copy back with
// [Registry.Store]. The lock is contended only while finding, creating, or
// writing back an arena, never while allocating from one.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"buf.build/go/hyperalloc/internal/arena"
	"buf.build/go/hyperalloc/internal/debug"
	"buf.build/go/hyperalloc/internal/mem"
	"buf.build/go/hyperalloc/internal/xunsafe"
)

var (
	// ErrThreadMismatch is returned by Store when the record's embedded
	// thread id does not match the key.
	ErrThreadMismatch = errors.New("hyperalloc: arena thread id does not match")

	// ErrNoArena is returned by Store when no record exists for the key.
	ErrNoArena = errors.New("hyperalloc: no arena registered for thread")
)

// minCapacity is the number of records the first reservation holds.
const minCapacity = 32

// recordSize is the byte size of one registry slot.
const recordSize = int(unsafe.Sizeof(arena.Arena{}))

// Registry is a process-wide table of arenas keyed by thread id.
type Registry struct {
	_ xunsafe.NoCopy

	mu  sync.Mutex
	brk mem.Break

	head     xunsafe.Addr[arena.Arena]
	count    int
	capacity int
}

// New returns an empty registry drawing its backing array from brk.
//
// The registry must be brk's only consumer: in-place growth relies on every
// extension landing immediately after the previous one.
func New(brk mem.Break) *Registry {
	return &Registry{brk: brk}
}

// Lookup returns a copy of the arena for tid, creating a record if none
// exists. Safe for arbitrary concurrent callers.
//
// The copy is the caller's to mutate; write it back with Store. Two
// concurrent callers must not share a tid, which the OS guarantees for live
// threads.
func (g *Registry) Lookup(tid int32) (arena.Arena, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.search(tid)
	if !ok {
		if err := g.insert(i, tid); err != nil {
			return arena.Arena{}, err
		}
		debug.Log(nil, "create", "tid:%d at slot %d/%d", tid, i, g.count)
	}

	return g.records()[i], nil
}

// Store writes back a caller-modified arena for tid.
//
// The record's embedded thread id must match tid; on mismatch nothing is
// written and ErrThreadMismatch is returned.
func (g *Registry) Store(tid int32, a arena.Arena) error {
	if a.TID != tid {
		return ErrThreadMismatch
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.search(tid)
	if !ok {
		return ErrNoArena
	}

	g.records()[i] = a
	return nil
}

// Destroy is a no-op: the record for tid, if any, stays in the table.
// Records are small, thread ids are scarce, and an arena's regions all die
// on their own once their chunks are released.
func (g *Registry) Destroy(tid int32) {}

// Len returns the number of registered arenas.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// ThreadIDs returns the registered thread ids in table order.
func (g *Registry) ThreadIDs() []int32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]int32, g.count)
	for i, a := range g.records() {
		out[i] = a.TID
	}
	return out
}

// records views the backing array as a slice. Callers hold the mutex.
func (g *Registry) records() []arena.Arena {
	if g.head.IsNil() {
		return nil
	}
	return xunsafe.Slice(g.head.AssertValid(), g.count)
}

// search returns the slot of the first record with id >= tid, and whether
// that record's id equals tid.
func (g *Registry) search(tid int32) (int, bool) {
	s := g.records()
	i := sort.Search(len(s), func(i int) bool { return s[i].TID >= tid })
	return i, i < len(s) && s[i].TID == tid
}

// insert places a fresh record for tid at slot i, shifting the suffix one
// slot right. On growth failure nothing changes.
func (g *Registry) insert(i int, tid int32) error {
	if g.count == g.capacity {
		if err := g.grow(); err != nil {
			return err
		}
	}

	g.count++
	s := g.records()
	copy(s[i+1:], s[i:]) // overlapping suffix shift; copy is a memmove
	s[i] = arena.New(tid)
	return nil
}

// grow doubles the backing array's capacity in place, or performs the
// initial reservation.
func (g *Registry) grow() error {
	if g.capacity == 0 {
		p, err := g.brk.Sbrk(minCapacity * recordSize)
		if err != nil {
			return fmt.Errorf("hyperalloc: initial registry reservation: %w", err)
		}
		g.head = xunsafe.AddrOf(xunsafe.Cast[arena.Arena](p))
		g.capacity = minCapacity
		return nil
	}

	// The new bytes land directly after the current array, so doubling
	// never moves a record.
	if _, err := g.brk.Sbrk(g.capacity * recordSize); err != nil {
		return fmt.Errorf("hyperalloc: registry growth to %d records: %w", g.capacity*2, err)
	}
	g.capacity *= 2
	return nil
}
