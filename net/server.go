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
	stdnet "net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/govoltron/reactor/arena"
	"github.com/govoltron/reactor/arena/bump"
	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/reactor"
)

// Config carries the optional, off-by-default knobs TcpServer consults
// when it creates a TcpConnection.
type Config struct {
	// ConnArena, when true, gives every accepted connection a scratch
	// arena.Arena (reset after each message) instead of leaving
	// request-scoped allocations to the garbage collector.
	ConnArena bool
	// ArenaFactory builds the arena for each new connection when
	// ConnArena is set. Defaults to bump.New.
	ArenaFactory func() arena.Arena
}

// TcpServer composes an Acceptor (on the base loop) with an
// EventLoopPool (worker loops each owning a share of the connections)
// and the server-wide connection map. It is the component user code
// actually constructs.
type TcpServer struct {
	name     string
	baseLoop *reactor.EventLoop
	acceptor *Acceptor
	pool     *reactor.EventLoopPool
	log      *zap.Logger

	// Config may be set any time before Start; it is read once per
	// accepted connection.
	Config Config

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int
	started     bool

	ConnectionCallback    func(c *TcpConnection)
	MessageCallback       func(c *TcpConnection, in *buffer.Buffer, receiveTime base.Timestamp)
	WriteCompleteCallback func(c *TcpConnection)
}

// NewTcpServer creates a server bound to addr, with its Acceptor and
// EventLoopPool anchored on baseLoop.
func NewTcpServer(baseLoop *reactor.EventLoop, name, addr string, reusePort bool, log *zap.Logger) (*TcpServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	acceptor, err := NewAcceptor(baseLoop, addr, reusePort, log)
	if err != nil {
		return nil, err
	}
	s := &TcpServer{
		name:        name,
		baseLoop:    baseLoop,
		acceptor:    acceptor,
		pool:        reactor.NewEventLoopPool(baseLoop, log),
		log:         log,
		connections: make(map[string]*TcpConnection),
	}
	acceptor.NewConnectionCallback = s.newConnection
	return s, nil
}

// Start launches numWorkers worker loops (0 keeps everything on the
// base loop) and begins accepting. Must be called from the goroutine
// that will subsequently call baseLoop.Loop().
func (s *TcpServer) Start(numWorkers int) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("net: TcpServer.Start called twice")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.pool.Start(numWorkers); err != nil {
		return err
	}
	s.baseLoop.RunInLoop(s.acceptor.Listen)
	return nil
}

func (s *TcpServer) newConnection(fd int, peer stdnet.Addr) {
	loop := s.pool.Next()
	s.mu.Lock()
	s.nextConnID++
	name := s.name + "-" + strconv.Itoa(s.nextConnID)
	s.mu.Unlock()

	local := localAddr(fd)
	conn := NewTcpConnection(loop, name, fd, local, peer, s.log)
	conn.ConnectionCallback = s.ConnectionCallback
	conn.MessageCallback = s.MessageCallback
	conn.WriteCompleteCallback = s.WriteCompleteCallback
	conn.CloseCallback = s.removeConnection

	if s.Config.ConnArena {
		factory := s.Config.ArenaFactory
		if factory == nil {
			factory = func() arena.Arena { return bump.New() }
		}
		conn.Arena = factory()
	}

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.mu.Lock()
	delete(s.connections, conn.Name())
	s.mu.Unlock()
	conn.loop.QueueInLoop(conn.ConnectDestroyed)
}

// Connections returns a snapshot of the currently tracked connections.
func (s *TcpServer) Connections() []*TcpConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

// Stop stops accepting, closes every tracked connection, and tears
// down the worker loop pool. The base loop itself is left running so
// the caller can Quit it once Stop returns.
func (s *TcpServer) Stop() {
	s.baseLoop.RunInLoop(func() {
		s.acceptor.Close()
	})
	for _, conn := range s.Connections() {
		conn.forceClose()
	}
	// forceClose queues ConnectDestroyed on each connection's own loop
	// rather than going through handleClose/CloseCallback (which is
	// what normally calls removeConnection), so the map is cleared
	// here instead of relying on that callback to empty it.
	s.mu.Lock()
	s.connections = make(map[string]*TcpConnection)
	s.mu.Unlock()
	s.pool.Close()
}
