//go:build linux

package net

import (
	stdnet "net"
	"sync"
	"testing"
	"time"

	"github.com/govoltron/reactor/arena"
	"github.com/govoltron/reactor/arena/bump"
	"github.com/govoltron/reactor/base"
	"github.com/govoltron/reactor/buffer"
	"github.com/govoltron/reactor/reactor"
)

// resetCountingArena reports every Reset call to onReset.
type resetCountingArena struct {
	*bump.Arena
	onReset func()
}

func (r *resetCountingArena) Reset() {
	r.Arena.Reset()
	r.onReset()
}

func startTestServer(t *testing.T, addr string, onMessage func(c *TcpConnection, in *buffer.Buffer, receiveTime base.Timestamp)) (*TcpServer, *reactor.EventLoop) {
	t.Helper()
	loop, err := reactor.New(nil)
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	srv, err := NewTcpServer(loop, "test", addr, false, nil)
	if err != nil {
		loop.Close()
		t.Fatalf("NewTcpServer() error = %v", err)
	}
	srv.MessageCallback = onMessage
	if err := srv.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	go loop.Loop()
	t.Cleanup(func() {
		srv.Stop()
		loop.Quit()
		loop.Wait()
		loop.Close()
	})
	for i := 0; i < 1000; i++ {
		if loop.Looping() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return srv, loop
}

func TestServerEchoesMessage(t *testing.T) {
	const addr = "127.0.0.1:18231"
	startTestServer(t, addr, func(c *TcpConnection, in *buffer.Buffer, _ base.Timestamp) {
		data := in.RetrieveBytes(in.ReadableBytes())
		c.Send(data)
	})

	conn, err := stdnet.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	payload := []byte("hello reactor")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(payload))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("echoed %q, want %q", buf, payload)
	}
}

func TestServerConnArenaIsResetAfterEachMessage(t *testing.T) {
	const addr = "127.0.0.1:18233"
	var sawArena bool
	var resets int
	var mu sync.Mutex

	loop, err := reactor.New(nil)
	if err != nil {
		t.Fatalf("reactor.New() error = %v", err)
	}
	srv, err := NewTcpServer(loop, "test-arena", addr, false, nil)
	if err != nil {
		t.Fatalf("NewTcpServer() error = %v", err)
	}
	srv.Config.ConnArena = true
	srv.Config.ArenaFactory = func() arena.Arena {
		return &resetCountingArena{Arena: bump.New(), onReset: func() {
			mu.Lock()
			resets++
			mu.Unlock()
		}}
	}
	srv.MessageCallback = func(c *TcpConnection, in *buffer.Buffer, _ base.Timestamp) {
		in.RetrieveAll()
		mu.Lock()
		sawArena = c.Arena != nil
		mu.Unlock()
	}
	if err := srv.Start(0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	go loop.Loop()
	t.Cleanup(func() {
		srv.Stop()
		loop.Quit()
		loop.Wait()
		loop.Close()
	})
	for i := 0; i < 1000; i++ {
		if loop.Looping() {
			break
		}
		time.Sleep(time.Millisecond)
	}

	conn, err := stdnet.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hi")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		ok := sawArena && resets > 0
		mu.Unlock()
		if ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("message callback never observed a non-nil Arena that was reset afterwards")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestServerTracksConnectionLifecycle(t *testing.T) {
	const addr = "127.0.0.1:18232"
	srv, _ := startTestServer(t, addr, nil)

	conn, err := stdnet.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(srv.Connections()) == 0 {
		select {
		case <-deadline:
			t.Fatal("server never observed the new connection")
		case <-time.After(time.Millisecond):
		}
	}

	conn.Close()

	deadline = time.After(2 * time.Second)
	for len(srv.Connections()) != 0 {
		select {
		case <-deadline:
			t.Fatal("server never removed the closed connection")
		case <-time.After(time.Millisecond):
		}
	}
}
