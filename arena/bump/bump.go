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

// Package bump is an arena.Arena reference adapter: a small-block bump
// allocator backed by fixed-size pages, plus a side list of large
// blocks for allocations too big to fit a page. Grounded directly on
// original_source/src/memory/MemoryPool.cc.
package bump

import (
	"sync"
	"unsafe"

	"github.com/govoltron/reactor/arena"
)

const (
	// pageSize is the size of each small block, matching the source's
	// PAGE_SIZE.
	pageSize = 4096
	// alignment matches the source's MP_ALIGNMENT; allocations within
	// a page are bumped up to this boundary.
	alignment = 16
	// maxFreedLargeScan bounds mallocLarge's walk for a freed large
	// slot: it checks the head and at most maxFreedLargeScan further
	// nodes (four in all) before prepending a new one, in the form of
	// the source's "count++ > 3" cutoff in mallocLargeNode.
	maxFreedLargeScan = 3
)

type smallBlock struct {
	buf    []byte
	last   int
	quote  int
	failed int
	next   *smallBlock
}

type largeBlock struct {
	buf  []byte
	next *largeBlock
}

// Arena is a bump allocator: small allocations are packed into
// page-sized blocks walked front-to-back for room; large allocations
// get their own backing slice, tracked on a side list so Free can find
// them by address.
type Arena struct {
	mu sync.Mutex

	head    *smallBlock
	current *smallBlock

	largeList *largeBlock

	smallIndex map[uintptr]*smallBlock
	largeIndex map[uintptr]*largeBlock
}

var _ arena.Arena = (*Arena)(nil)

// New creates an Arena with one empty small block ready to allocate
// from, matching MemoryPool::createPool.
func New() *Arena {
	first := &smallBlock{buf: make([]byte, pageSize)}
	return &Arena{
		head:       first,
		current:    first,
		smallIndex: make(map[uintptr]*smallBlock),
		largeIndex: make(map[uintptr]*largeBlock),
	}
}

func alignUp(x int) int {
	return (x + alignment - 1) &^ (alignment - 1)
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// Malloc returns size uninitialized bytes, routing to the small-page
// path or the large-block path exactly as MemoryPool::malloc does by
// comparing size against PAGE_SIZE.
func (a *Arena) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	if size > pageSize {
		return a.mallocLarge(size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for cur := a.current; cur != nil; cur = cur.next {
		addr := alignUp(cur.last)
		if len(cur.buf)-addr >= size {
			cur.quote++
			cur.last = addr + size
			b := cur.buf[addr : addr+size : addr+size]
			a.smallIndex[addrOf(b)] = cur
			return b
		}
	}
	return a.mallocSmallNode(size)
}

// mallocSmallNode allocates a fresh page, bumps current past blocks
// that have failed too often (failed >= 5, same threshold as the
// source), and links the new block at the tail — cur.next = smallNode
// — so a walk from head_ always reaches it.
func (a *Arena) mallocSmallNode(size int) []byte {
	nb := &smallBlock{buf: make([]byte, pageSize)}
	addr := alignUp(0)
	nb.last = addr + size
	nb.quote = 1

	next := a.current
	cur := next
	for cur.next != nil {
		if cur.failed >= 5 {
			next = cur.next
		}
		cur.failed++
		cur = cur.next
	}
	cur.next = nb
	a.current = next

	b := nb.buf[addr : addr+size : addr+size]
	a.smallIndex[addrOf(b)] = nb
	return b
}

// mallocLarge reuses a freed large slot if one turns up within
// maxFreedLargeScan hops, else prepends a new one — the Go analogue of
// mallocLargeNode's scan-then-head-insert.
func (a *Arena) mallocLarge(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := 0
	for lb := a.largeList; lb != nil; lb = lb.next {
		if lb.buf == nil {
			lb.buf = make([]byte, size)
			a.largeIndex[addrOf(lb.buf)] = lb
			return lb.buf
		}
		if count++; count > maxFreedLargeScan {
			break
		}
	}

	lb := &largeBlock{buf: make([]byte, size), next: a.largeList}
	a.largeList = lb
	a.largeIndex[addrOf(lb.buf)] = lb
	return lb.buf
}

// Calloc is Malloc followed by an explicit zero: a bump block's bytes
// are only guaranteed zero the first time they're handed out, since a
// freed-and-reused small block's tail may carry a previous
// allocation's contents.
func (a *Arena) Calloc(size int) []byte {
	b := a.Malloc(size)
	for i := range b {
		b[i] = 0
	}
	return b
}

// Free releases b. A small allocation decrements its block's refcount
// and rewinds last to the block start once the count hits zero,
// matching MemoryPool::freeMemory; a large allocation's slot is
// cleared for mallocLarge to reuse.
func (a *Arena) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	key := addrOf(b)
	if lb, ok := a.largeIndex[key]; ok {
		lb.buf = nil
		delete(a.largeIndex, key)
		return
	}
	if sb, ok := a.smallIndex[key]; ok {
		delete(a.smallIndex, key)
		sb.quote--
		if sb.quote <= 0 {
			sb.quote = 0
			sb.last = 0
		}
	}
}

// Reset releases every large block and rewinds every small block to
// empty in one pass, matching MemoryPool::resetPool.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.largeList = nil
	a.largeIndex = make(map[uintptr]*largeBlock)

	a.current = a.head
	for sb := a.head; sb != nil; sb = sb.next {
		sb.last = 0
		sb.failed = 0
		sb.quote = 0
	}
	a.smallIndex = make(map[uintptr]*smallBlock)
}
