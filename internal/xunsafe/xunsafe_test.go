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

package xunsafe_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"buf.build/go/hyperalloc/internal/xunsafe"
)

func TestAddr(t *testing.T) {
	t.Parallel()

	var zero xunsafe.Addr[byte]
	assert.True(t, zero.IsNil())

	x := new(uint64)
	a := xunsafe.AddrOf(x)
	assert.False(t, a.IsNil())
	assert.Same(t, x, a.AssertValid())
	assert.Equal(t, 8, int(a.ByteAdd(8)-a))

	assert.Equal(t, fmt.Sprintf("%#x", uintptr(a)), fmt.Sprintf("%v", a))
}

func TestByteAdd(t *testing.T) {
	t.Parallel()

	words := [4]uint64{1, 2, 3, 4}
	p := &words[0]
	assert.Equal(t, uint64(3), *xunsafe.ByteAdd[uint64](p, 16))
	assert.Equal(t, 16, xunsafe.ByteSub(xunsafe.ByteAdd[uint64](p, 16), p))
}

func TestSlice(t *testing.T) {
	t.Parallel()

	words := [3]uint32{7, 8, 9}
	s := xunsafe.Slice(&words[0], 3)
	assert.Equal(t, []uint32{7, 8, 9}, s)

	var q *byte
	assert.Nil(t, xunsafe.Slice(q, 0))
}
