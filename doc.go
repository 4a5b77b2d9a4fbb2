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

// Package hyperalloc is a general-purpose dynamic memory allocator that
// obtains memory directly from the operating system and subdivides it into
// user-visible chunks, with [Malloc]/[Free] semantics matching the C
// runtime's allocator.
//
// Every OS thread gets its own arena: a private set of mapped regions plus
// a free list spanning them. Arenas live in a process-wide registry keyed by
// thread id; locating an arena takes one mutex acquisition, after which all
// allocation work proceeds without cross-thread synchronization. See
// [buf.build/go/hyperalloc/internal/arena] for the allocator design and
// [buf.build/go/hyperalloc/internal/registry] for the table.
//
// # Contract
//
// Malloc returns nil on a zero-size request and when the OS refuses to map
// more memory. Free's behavior is undefined on a pointer that did not come
// from Malloc, on a double free, and on use-after-free, exactly as with the
// C runtime's allocator. A pointer must be freed on the thread that
// allocated it.
//
// Goroutines migrate between OS threads, so callers that allocate and free
// across a blocking boundary should pin themselves with
// [runtime.LockOSThread] for the duration, as the tests here do.
package hyperalloc
