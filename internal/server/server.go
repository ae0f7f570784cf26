// Package server accepts chat connections, owns the client and room
// registries, and coordinates shutdown of every session.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/packetchat/internal/protocol"
	"github.com/Tyrowin/packetchat/internal/storage"
)

// ErrServerClosed is returned by Serve after Shutdown has been called.
var ErrServerClosed = errors.New("server: closed")

// Server is the chat server. It accepts connections from any number of
// listeners and runs one session goroutine per connection.
type Server struct {
	cfg     Config
	clients *ClientRegistry
	rooms   *RoomRegistry
	store   *storage.Store
	origins originPolicy
	fileIDs atomic.Uint32

	mu           sync.Mutex
	listeners    map[net.Listener]struct{}
	shuttingDown bool
	sessions     sync.WaitGroup
}

// NewServer creates a Server from cfg. Passing nil uses defaults. The
// storage directory is created if needed, and file ids continue after the
// highest id already stored there.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	store, err := storage.New(sanitized.StorageDir)
	if err != nil {
		return nil, err
	}
	lastID, err := store.MaxID()
	if err != nil {
		return nil, err
	}

	clients := NewClientRegistry(sanitized.MaxClients)
	s := &Server{
		cfg:       sanitized,
		clients:   clients,
		rooms:     NewRoomRegistry(clients, sanitized.MaxRooms, sanitized.MaxRoomMembers),
		store:     store,
		origins:   newOriginPolicy(sanitized.AllowedOrigins),
		listeners: make(map[net.Listener]struct{}),
	}
	s.fileIDs.Store(lastID)
	return s, nil
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Clients returns the client registry.
func (s *Server) Clients() *ClientRegistry {
	return s.clients
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Store returns the file store.
func (s *Server) Store() *storage.Store {
	return s.store
}

// ListenAndServe listens on the configured TCP port and serves connections.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it fails or the server shuts down.
// It always closes ln and returns ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	log.Printf("Chat server listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("Temporary accept error: %v", err)
				continue
			}
			ln.Close()
			return fmt.Errorf("accept: %w", err)
		}
		s.Accept(conn)
	}
}

// Accept reserves a client slot for conn and starts its session. When the
// table is full the peer is told so and disconnected.
func (s *Server) Accept(conn Conn) {
	c := NewClient(conn, s.cfg)

	if _, err := s.clients.Reserve(c); err != nil {
		log.Printf("Accepted client %s but we're full. Closing connection.", c.addr)
		c.reply(protocol.ServerError{Message: clientMessage(err)})
		c.close()
		return
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		if _, err := s.clients.Remove(c.slot); err != nil {
			log.Printf("Error releasing slot %d: %v", c.slot, err)
		}
		c.close()
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()

	c.logf("Found slot %d for the new client. Total clients: %d", c.slot, s.clients.Count())
	go s.runSession(c)
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.shuttingDown {
			return false
		}
		s.listeners[ln] = struct{}{}
		return true
	}
	delete(s.listeners, ln)
	return true
}

func (s *Server) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// Shutdown stops accepting connections, closes every client connection and
// waits for all session and transfer goroutines to finish, or for ctx to
// expire.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Initiating chat server shutdown...")

	s.mu.Lock()
	s.shuttingDown = true
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing listener %s: %v", ln.Addr(), err)
		}
	}
	s.mu.Unlock()

	clients := s.clients.Clients()
	for _, c := range clients {
		c.cancel()
		c.close()
	}
	log.Printf("Closed %d client connections", len(clients))

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Chat server shutdown completed successfully")
		return nil
	case <-ctx.Done():
		log.Println("Chat server shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}
