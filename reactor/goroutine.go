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

package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the runtime-assigned id from the current
// goroutine's stack header. Go exposes no stable public API for this;
// parsing runtime.Stack's header is the standard workaround. It backs
// the loop-affinity assertions and RunInLoop/QueueInLoop's owner check;
// the latter runs on every TcpConnection.Send.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if idx := bytes.IndexByte(buf, ' '); idx >= 0 {
		buf = buf[:idx]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
