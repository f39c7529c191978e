// Package server assembles the chat server: account stores, the session
// registry, the channel router, the private-session coordinator, and the
// TCP and WebSocket transports. It implements the transport Handler and
// dispatches every decoded frame to the protocol operation it names.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/handshake"
	"github.com/orcchg/ChatServer-sub000/pkg/observability"
	"github.com/orcchg/ChatServer-sub000/pkg/registry"
	"github.com/orcchg/ChatServer-sub000/pkg/router"
	"github.com/orcchg/ChatServer-sub000/pkg/store"
	"github.com/orcchg/ChatServer-sub000/pkg/transport"
)

// Server is one running chat server instance.
type Server struct {
	config Config
	log    logging.LeveledLogger
	obs    observability.Observer

	keys       store.KeyStore
	registry   *registry.Manager
	router     *router.Router
	handshakes *handshake.Coordinator

	tcp *transport.TCP
	ws  *transport.WS

	mu    sync.Mutex
	state State
}

// New creates a Server from the given configuration. Listeners bind on
// Start.
func New(config Config) (*Server, error) {
	config.applyDefaults()

	reg, err := registry.New(registry.Config{
		Accounts:      config.Accounts,
		LoggerFactory: config.LoggerFactory,
		Observer:      config.Observer,
	})
	if err != nil {
		return nil, err
	}
	rtr, err := router.New(router.Config{
		Roster:        reg,
		LoggerFactory: config.LoggerFactory,
		Observer:      config.Observer,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     config,
		log:        config.LoggerFactory.NewLogger("server"),
		obs:        config.Observer,
		keys:       config.Keys,
		registry:   reg,
		router:     rtr,
		handshakes: handshake.New(handshake.Config{LoggerFactory: config.LoggerFactory, Observer: config.Observer}),
		state:      StateInitialized,
	}

	s.tcp, err = transport.NewTCP(transport.TCPConfig{
		Address:       config.TCPAddress,
		Listener:      config.Listener,
		Handler:       s,
		ReadTimeout:   config.ReadTimeout,
		QueueDepth:    config.QueueDepth,
		MaxResidual:   config.MaxResidual,
		LoggerFactory: config.LoggerFactory,
		Observer:      config.Observer,
	})
	if err != nil {
		return nil, err
	}
	if config.WSAddress != "" {
		s.ws, err = transport.NewWS(transport.WSConfig{
			Address:       config.WSAddress,
			Handler:       s,
			ReadTimeout:   config.ReadTimeout,
			QueueDepth:    config.QueueDepth,
			MaxResidual:   config.MaxResidual,
			LoggerFactory: config.LoggerFactory,
			Observer:      config.Observer,
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start binds the listeners. It fails fast: if any listener cannot bind,
// everything already bound is torn down.
func (s *Server) Start() error {
	s.mu.Lock()
	if !s.state.CanStart() {
		s.mu.Unlock()
		if s.state == StateStopping || s.state == StateStopped {
			return ErrNotRunning
		}
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.tcp.Start(); err != nil {
		s.setState(StateStopped)
		return err
	}
	if s.ws != nil {
		if err := s.ws.Start(); err != nil {
			s.tcp.Stop()
			s.setState(StateStopped)
			return err
		}
	}

	s.setState(StateRunning)
	s.log.Infof("serving on %s (e2ee=%v)", s.tcp.Addr(), s.config.EnableE2EE)
	return nil
}

// Stop broadcasts the termination status, lets the senders drain briefly,
// then closes the listeners and every connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.state.CanStop() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.router.AnnounceTerminate(s.config.TerminatePayload)
	time.Sleep(terminateDrain)

	err := s.tcp.Stop()
	if s.ws != nil {
		if werr := s.ws.Stop(); err == nil {
			err = werr
		}
	}

	s.setState(StateStopped)
	s.log.Infof("stopped")
	return err
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Addr returns the bound TCP address, nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.Addr()
}

// WSAddr returns the bound WebSocket address, nil without a WS listener.
func (s *Server) WSAddr() net.Addr {
	if s.ws == nil {
		return nil
	}
	return s.ws.Addr()
}

// AddConnection adopts a pre-established connection on the TCP transport.
// Used by pipe-backed tests.
func (s *Server) AddConnection(conn net.Conn) transport.Conn {
	return s.tcp.AddConnection(conn)
}

// PeerCount returns the number of live peers.
func (s *Server) PeerCount() int {
	return s.registry.Count()
}
