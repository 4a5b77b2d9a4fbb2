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

//go:build linux

package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Map returns a private anonymous read-write mapping of size bytes.
//
// size must be a multiple of [PageSize].
func Map(size int) (*byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("hyperalloc: mmap of %d bytes: %w", size, err)
	}

	mapped.Add(int64(size))
	return unsafe.SliceData(b), nil
}

// Unmap releases a mapping previously returned by [Map].
func Unmap(p *byte, size int) error {
	// unix.Munmap keys its bookkeeping on the slice's data pointer and
	// capacity, both of which this reconstruction preserves.
	if err := unix.Munmap(unsafe.Slice(p, size)); err != nil {
		return fmt.Errorf("hyperalloc: munmap of %d bytes: %w", size, err)
	}

	mapped.Add(-int64(size))
	return nil
}

// ThreadID returns the OS identity of the calling thread.
func ThreadID() int32 {
	return int32(unix.Gettid())
}
