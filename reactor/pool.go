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
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventLoopPool holds n worker loops, each running on its own
// goroutine, and hands out new work round-robin. With n == 0, every
// call returns the base loop: the server degrades to a single reactor
// goroutine rather than spawning any workers.
type EventLoopPool struct {
	base    *EventLoop
	log     *zap.Logger
	loops   []*EventLoop
	next    int
	mu      sync.Mutex
	started bool
}

// NewEventLoopPool creates a pool bound to base, which must be the
// loop the acceptor itself runs on.
func NewEventLoopPool(base *EventLoop, log *zap.Logger) *EventLoopPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLoopPool{base: base, log: log}
}

// Start launches n worker goroutines, one EventLoop each, and blocks
// until every one of them has constructed its EventLoop and is ready
// to accept work (the barrier the teacher/original describes: each
// worker goroutine creates its loop, publishes it, signals, then
// enters Loop()). It must be called at most once, before the base
// loop's own Loop() runs.
func (p *EventLoopPool) Start(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		panic("reactor: EventLoopPool.Start called twice")
	}
	p.started = true
	if n <= 0 {
		return nil
	}

	p.loops = make([]*EventLoop, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	readies := make([]chan struct{}, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		readies[i] = make(chan struct{})
		go func() {
			loop, err := New(p.log.Named("worker"))
			if err != nil {
				errs[i] = err
				close(readies[i])
				wg.Done()
				return
			}
			p.loops[i] = loop
			close(readies[i])
			wg.Done()
			loop.Loop()
		}()
	}
	for _, ready := range readies {
		<-ready
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Next returns the loop that should own the next accepted connection,
// advancing the round-robin cursor. With no workers, it always returns
// the base loop.
func (p *EventLoopPool) Next() *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.base
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// All returns every worker loop (empty if n == 0 was passed to Start).
func (p *EventLoopPool) All() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Close quits and closes every worker loop. The base loop is owned by
// the caller, not the pool, and is left alone. Every worker's Close
// error is reported, not just the first, since a fault in one worker's
// teardown shouldn't hide a fault in another's.
func (p *EventLoopPool) Close() error {
	p.mu.Lock()
	loops := append([]*EventLoop(nil), p.loops...)
	p.mu.Unlock()

	for _, loop := range loops {
		loop.Quit()
	}
	for _, loop := range loops {
		loop.Wait()
	}
	var err error
	for _, loop := range loops {
		err = multierr.Append(err, loop.Close())
	}
	return err
}
