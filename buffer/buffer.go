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

// Package buffer implements the growable read/write byte queue used by
// TcpConnection for input and output, plus the stack-sized append-only
// buffer used by the logging frontend.
package buffer

import (
	"errors"
)

const (
	// CheapPrepend is reserved at the front of every Buffer so headers
	// can be prepended without a copy.
	CheapPrepend = 8
	// InitialSize is the buffer's capacity at construction.
	InitialSize = 1024
	// extraBufSize is the stack-resident scatter-read overflow area.
	extraBufSize = 65536
)

var ErrNotEnoughData = errors.New("buffer: not enough readable data")

// Buffer is a contiguous byte array with a reader offset, a writer
// offset, and a prepend reserve. Invariant:
// 0 <= prependReserve <= reader <= writer <= cap(buf).
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

// New returns an empty Buffer with the cheap-prepend reserve applied.
func New() *Buffer {
	b := &Buffer{
		buf: make([]byte, CheapPrepend+InitialSize),
	}
	b.reader = CheapPrepend
	b.writer = CheapPrepend
	return b
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes returns the number of bytes available to Append before
// the backing array must grow.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writer }

// PrependableBytes returns the space available before the reader
// cursor, usable for Prepend.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the unread portion of the buffer without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.reader:b.writer] }

// Retrieve advances the reader cursor by n bytes. When the buffer
// empties, both cursors reset to the prepend reserve so repeated
// small reads do not creep the backing array forward forever.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	if n < b.ReadableBytes() {
		b.reader += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll discards every readable byte.
func (b *Buffer) RetrieveAll() {
	b.reader = CheapPrepend
	b.writer = CheapPrepend
}

// RetrieveAllString consumes and returns every readable byte as a string.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// RetrieveBytes consumes n bytes and returns a copy of them.
func (b *Buffer) RetrieveBytes(n int) []byte {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	out := make([]byte, n)
	copy(out, b.buf[b.reader:b.reader+n])
	b.Retrieve(n)
	return out
}

// Append appends data to the writable region, growing the backing
// array (and reclaiming dead prepend-reserve space first) if needed.
func (b *Buffer) Append(data []byte) {
	if b.WritableBytes() < len(data) {
		b.makeSpace(len(data))
	}
	b.writer += copy(b.buf[b.writer:], data)
}

// AppendString is a convenience wrapper around Append.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// Prepend writes data immediately before the current readable region;
// callers must ensure PrependableBytes() >= len(data).
func (b *Buffer) Prepend(data []byte) {
	b.reader -= len(data)
	copy(b.buf[b.reader:], data)
}

func (b *Buffer) makeSpace(need int) {
	if b.WritableBytes()+b.PrependableBytes() < need+CheapPrepend {
		grown := make([]byte, b.writer+need)
		copy(grown, b.buf[:b.writer])
		b.buf = grown
		return
	}
	// Reclaim the space already consumed by Retrieve by sliding the
	// readable region back down to the prepend reserve.
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.reader:b.writer])
	b.reader = CheapPrepend
	b.writer = b.reader + readable
}

// writerTail exposes the writable tail of the backing array, for
// ReadFd's use. It does not grow the array; ReadFd appends any
// overflow from its extension buffer separately.
func (b *Buffer) writerTail() []byte { return b.buf[b.writer:] }

func (b *Buffer) advanceWriter(n int) { b.writer += n }

func (b *Buffer) setWriterToCap() { b.writer = len(b.buf) }
