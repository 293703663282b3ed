package rpc

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Server accepts chunked-RPC connections and serves them against a shared
// Registry and Dispatcher, mirroring the teacher's Server.Start/Shutdown
// graceful-lifecycle shape (pkg/server/server.go) adapted from an HTTP
// listener to a raw TCP one.
type Server struct {
	Registry   *Registry
	Dispatcher *Dispatcher

	listener net.Listener

	mu    sync.Mutex
	conns map[*Conn]struct{}

	nextCore uint32

	sweepStop chan struct{}
	wg        sync.WaitGroup
}

// NewServer builds a server with its own registry and a dispatcher sized
// to the host's CPU count.
func NewServer() *Server {
	registry := NewRegistry()
	return &Server{
		Registry:   registry,
		Dispatcher: NewDispatcher(registry, runtime.NumCPU()*2, 4096),
		conns:      make(map[*Conn]struct{}),
		sweepStop:  make(chan struct{}),
	}
}

// Serve accepts connections on ln until Shutdown closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	s.wg.Add(1)
	go s.sweepLoop()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.sweepStop:
				return nil
			default:
				return err
			}
		}
		core := uint16(atomic.AddUint32(&s.nextCore, 1) % uint32(runtime.NumCPU()))
		conn := NewConn(nc, core, true, s.Dispatcher)

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			conn.Serve()
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for c := range s.conns {
				c.ExpireTimeouts(now)
			}
			s.mu.Unlock()
		}
	}
}

// Shutdown closes the listener, stops accepting, and closes every live
// connection, then waits for their Serve goroutines to return.
func (s *Server) Shutdown() {
	close(s.sweepStop)
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.Dispatcher.Shutdown()
	s.wg.Wait()
}
