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
	"unsafe"

	"golang.org/x/sys/unix"
)

// brk sets the program break to addr and returns the resulting break. With
// addr == 0 it queries the current break without moving it.
func brk(addr uintptr) uintptr {
	r, _, _ := unix.Syscall(unix.SYS_BRK, addr, 0, 0)
	return r
}

// ProgramBreak is a [Break] over the process's data segment end.
//
// The Go runtime never touches the program break, so a single ProgramBreak
// value owns the segment end outright and extensions are contiguous by
// construction. Callers serialize access themselves; the registry does so
// under its mutex.
type ProgramBreak struct {
	end uintptr
}

// Sbrk implements [Break].
func (b *ProgramBreak) Sbrk(delta int) (*byte, error) {
	if b.end == 0 {
		b.end = brk(0)
	}

	prev := b.end
	if delta != 0 {
		want := uintptr(int(b.end) + delta)
		if got := brk(want); got != want {
			return nil, ErrOutOfMemory
		}
		b.end = want
	}

	return (*byte)(unsafe.Pointer(prev)), nil
}
