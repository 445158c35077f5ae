// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bump

import "testing"

func TestMallocReturnsDistinctNonOverlappingSlices(t *testing.T) {
	a := New()
	x := a.Malloc(64)
	y := a.Malloc(64)
	if len(x) != 64 || len(y) != 64 {
		t.Fatalf("len(x)=%d len(y)=%d, want 64/64", len(x), len(y))
	}
	x[0] = 0xAA
	if y[0] == 0xAA {
		t.Fatalf("x and y alias the same memory")
	}
}

func TestCallocZeroesMemory(t *testing.T) {
	a := New()
	b := a.Malloc(32)
	for i := range b {
		b[i] = 0xFF
	}
	a.Free(b)

	z := a.Calloc(32)
	for i, v := range z {
		if v != 0 {
			t.Fatalf("Calloc()[%d] = %x, want 0", i, v)
		}
	}
}

func TestMallocSpillsToANewBlockWhenPageIsFull(t *testing.T) {
	a := New()
	for i := 0; i < pageSize/64+2; i++ {
		if b := a.Malloc(64); b == nil {
			t.Fatalf("Malloc(64) returned nil on iteration %d", i)
		}
	}
	if a.head.next == nil {
		t.Fatalf("expected a second small block to have been linked in")
	}
}

func TestMallocAboveThresholdUsesLargePath(t *testing.T) {
	a := New()
	b := a.Malloc(pageSize + 1)
	if len(b) != pageSize+1 {
		t.Fatalf("len(b) = %d, want %d", len(b), pageSize+1)
	}
	if a.largeList == nil {
		t.Fatalf("expected a large block to have been allocated")
	}
}

func TestFreeAndReallocateLargeReusesTheSlot(t *testing.T) {
	a := New()
	b1 := a.Malloc(pageSize + 1)
	a.Free(b1)
	if a.largeList.buf != nil {
		t.Fatalf("expected freed large slot to be cleared")
	}

	b2 := a.Malloc(pageSize + 1)
	if b2 == nil {
		t.Fatalf("Malloc() after Free() = nil")
	}
	if a.largeList.next != nil {
		t.Fatalf("expected the freed slot to be reused, not a new node prepended")
	}
}

func TestResetReclaimsEverything(t *testing.T) {
	a := New()
	a.Malloc(64)
	a.Malloc(pageSize + 1)
	a.Reset()

	if a.largeList != nil {
		t.Fatalf("expected Reset() to clear the large list")
	}
	if a.head.last != 0 || a.head.quote != 0 {
		t.Fatalf("expected Reset() to rewind the head block, got last=%d quote=%d", a.head.last, a.head.quote)
	}
}
