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

package net

import (
	"errors"

	"golang.org/x/sys/unix"
)

func unixWrite(fd int, data []byte) (int, error) {
	return unix.Write(fd, data)
}

// isWouldBlock reports transient I/O conditions (spec.md §7): the
// socket simply isn't ready yet, and the caller should wait for the
// next readiness notification rather than treat this as a fault.
func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// isBrokenPipe reports the peer-reset condition (spec.md §7): further
// writes on this connection cannot succeed.
func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
