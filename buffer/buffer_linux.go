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

//go:build linux

package buffer

import (
	"golang.org/x/sys/unix"
)

// ReadFd fills the buffer from fd using a single scatter-read: the
// buffer's own writable tail is the primary vector, a 64KiB
// stack-resident extension is the overflow vector, so a read that
// doesn't fit never costs more than one allocation to absorb.
func (b *Buffer) ReadFd(fd int) (n int, err error) {
	var extra [extraBufSize]byte

	writable := b.WritableBytes()
	if writable >= extraBufSize {
		// Plenty of room already: skip the second vector entirely.
		nr, rerr := unix.Read(fd, b.writerTail())
		if nr > 0 {
			b.advanceWriter(nr)
		}
		return nr, rerr
	}

	iov := [][]byte{b.writerTail(), extra[:]}
	nr, rerr := unix.Readv(fd, iov)
	if nr <= 0 {
		return nr, rerr
	}
	if nr <= writable {
		b.advanceWriter(nr)
	} else {
		b.setWriterToCap()
		b.Append(extra[:nr-writable])
	}
	return nr, rerr
}

// WriteFd drains the buffer's readable bytes to fd, retiring what the
// kernel accepted. Used by TcpConnection.handleWrite.
func (b *Buffer) WriteFd(fd int) (n int, err error) {
	n, err = unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	return n, err
}
