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

// Package xsync provides strongly-typed wrappers over the standard
// library's loosely-typed concurrent containers.
package xsync

import (
	"iter"
	"sync"
)

// Map is a strongly-typed wrapper over sync.Map, carrying only the
// operations the allocator's counter tables need: get-or-create and
// iteration. Entries are never deleted or overwritten.
type Map[K comparable, V any] struct {
	impl sync.Map
}

// Load returns the value stored under k, if any.
func (m *Map[K, V]) Load(k K) (V, bool) {
	v, ok := m.impl.Load(k)
	if !ok {
		var z V
		return z, false
	}

	return v.(V), true //nolint:errcheck
}

// LoadOrStore returns the value under k, constructing it with make and
// inserting it first if k is absent.
//
// make may be called without its return value being inserted, when another
// writer races the insertion.
func (m *Map[K, V]) LoadOrStore(k K, make func() V) (actual V, loaded bool) {
	if v, ok := m.Load(k); ok {
		return v, true
	}

	w, ok := m.impl.LoadOrStore(k, make())
	return w.(V), ok //nolint:errcheck
}

// All iterates over the map's entries, viz [sync.Map.Range].
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.impl.Range(func(key, value any) bool {
			return yield(key.(K), value.(V)) //nolint:errcheck
		})
	}
}
