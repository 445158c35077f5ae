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

// Package arena defines the scratch-memory boundary a connection or
// request handler can use instead of the garbage collector for
// short-lived per-request buffers. The reactor core never requires
// one; net.TcpConnection takes an optional Arena only when a caller
// opts in.
package arena

// Arena hands out byte slices from a pool the caller is responsible
// for returning via Free, and can be wiped in bulk via Reset once a
// request or connection's work is done.
type Arena interface {
	// Malloc returns an uninitialized slice of length size.
	Malloc(size int) []byte
	// Calloc returns a zeroed slice of length size.
	Calloc(size int) []byte
	// Free releases a slice obtained from Malloc or Calloc. Passing a
	// slice this Arena did not hand out is a no-op.
	Free(b []byte)
	// Reset releases every outstanding allocation at once, as if Free
	// had been called on all of them, without walking them
	// individually.
	Reset()
}
