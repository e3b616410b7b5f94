package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"tracker_gateway/internal/broker"
	"tracker_gateway/internal/registry"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"
)

// Server accepts device connections and spawns one Session per socket
type Server struct {
	addr      string
	registry  *registry.Registry
	store     *store.Store
	publisher *broker.Publisher
	hub       Broadcaster

	listener net.Listener

	mu       sync.Mutex
	sessions map[*Session]struct{}
	stopping bool

	wg sync.WaitGroup
}

// NewServer creates a TCP server bound to addr
func NewServer(addr string, reg *registry.Registry, st *store.Store, pub *broker.Publisher, hub Broadcaster) *Server {
	return &Server{
		addr:      addr,
		registry:  reg,
		store:     st,
		publisher: pub,
		hub:       hub,
		sessions:  make(map[*Session]struct{}),
	}
}

// Start runs the accept loop until Stop closes the listener
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %v", err)
	}
	s.listener = listener

	colors.PrintServer("Tracker TCP server listening on %s", s.addr)
	colors.PrintConnection("Waiting for device connections...")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			colors.PrintError("Error accepting TCP connection: %v", err)
			continue
		}

		sess := NewSession(conn, s.registry, s.store, s.publisher, s.hub)

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.sessions[sess] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.Run()
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
		}()
	}
}

// Stop closes the listener and every live session, then waits for the
// session goroutines to drain.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range sessions {
		_ = sess.Close()
	}
	s.wg.Wait()
	colors.PrintServer("Tracker TCP server stopped")
}
