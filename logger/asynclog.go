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

package logger

import (
	"sync"
	"time"

	"github.com/govoltron/reactor/buffer"
)

const defaultFlushInterval = 3 * time.Second

// AsyncLog is the double-buffered producer/consumer log sink: any
// number of frontend goroutines call Append; a single backend
// goroutine periodically drains whatever has filled up to the backing
// LogFile. Buffer recycling is capped at two spares so a burst of
// writes doesn't pin down unbounded memory.
type AsyncLog struct {
	file *LogFile

	mu      sync.Mutex
	cond    *sync.Cond
	current *buffer.FixedBuffer
	next    *buffer.FixedBuffer
	full    []*buffer.FixedBuffer

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewAsyncLog creates an AsyncLog backed by file. Start must be called
// to launch the backend goroutine.
func NewAsyncLog(file *LogFile) *AsyncLog {
	a := &AsyncLog{
		file:    file,
		current: buffer.NewFixedBuffer(buffer.LargeBufferSize),
		next:    buffer.NewFixedBuffer(buffer.LargeBufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Append copies logline into the current front buffer, spilling to
// the next buffer (or a freshly allocated one) and waking the backend
// if it's full. Safe to call from any goroutine.
func (a *AsyncLog) Append(logline []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current.Avail() > len(logline) {
		a.current.Append(logline)
		return
	}
	a.full = append(a.full, a.current)
	if a.next != nil {
		a.current = a.next
		a.next = nil
	} else {
		a.current = buffer.NewFixedBuffer(buffer.LargeBufferSize)
	}
	a.current.Append(logline)
	a.cond.Signal()
}

// Start launches the backend goroutine.
func (a *AsyncLog) Start() {
	go a.backendLoop()
}

// Stop signals the backend goroutine to drain once more and exit, and
// waits for it to finish.
func (a *AsyncLog) Stop() {
	close(a.stopCh)
	a.mu.Lock()
	a.cond.Signal()
	a.mu.Unlock()
	<-a.doneCh
}

func (a *AsyncLog) backendLoop() {
	defer close(a.doneCh)

	spare1 := buffer.NewFixedBuffer(buffer.LargeBufferSize)
	spare2 := buffer.NewFixedBuffer(buffer.LargeBufferSize)

	for {
		toWrite := a.waitForWork(&spare1, &spare2)

		for _, b := range toWrite {
			if b.Len() > 0 {
				a.file.Append(b.Bytes())
			}
		}
		if len(toWrite) > 2 {
			toWrite = toWrite[:2]
		}
		for _, b := range toWrite {
			b.Reset()
			if spare1 == nil {
				spare1 = b
			} else if spare2 == nil {
				spare2 = b
			}
		}
		a.file.Flush()

		select {
		case <-a.stopCh:
			if !a.hasPendingWork() {
				return
			}
		default:
		}
	}
}

// waitForWork blocks (up to the flush interval) until there is
// something to write, then swaps the front buffers out for the given
// spares and returns the filled buffers to flush to disk.
func (a *AsyncLog) waitForWork(spare1, spare2 **buffer.FixedBuffer) []*buffer.FixedBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.full) == 0 {
		a.condWaitTimeout(defaultFlushInterval)
	}

	a.full = append(a.full, a.current)
	if *spare1 != nil {
		a.current = *spare1
		*spare1 = nil
	} else {
		a.current = buffer.NewFixedBuffer(buffer.LargeBufferSize)
	}
	if a.next == nil {
		if *spare2 != nil {
			a.next = *spare2
			*spare2 = nil
		} else {
			a.next = buffer.NewFixedBuffer(buffer.LargeBufferSize)
		}
	}

	toWrite := a.full
	a.full = nil
	return toWrite
}

func (a *AsyncLog) hasPendingWork() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.full) > 0 || a.current.Len() > 0
}

// condWaitTimeout waits on cond for up to d, since sync.Cond has no
// native timed wait: an AfterFunc timer grabs the same lock and
// broadcasts once d elapses, which is exactly what wakes a
// sync.Cond.Wait call with no other signal pending. Must be called
// with mu held, per sync.Cond.Wait's own contract.
func (a *AsyncLog) condWaitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		a.mu.Lock()
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer timer.Stop()
	a.cond.Wait()
}
