package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/observability"
)

// TCPConfig configures the TCP transport.
type TCPConfig struct {
	// Address is the listen address (e.g. ":8080"). Ignored when
	// Listener is set; defaults to ":0".
	Address string

	// Listener is an optional pre-bound listener.
	Listener net.Listener

	// Handler receives decoded frames. Required.
	Handler Handler

	// ReadTimeout, WriteTimeout, QueueDepth, ReadBufferSize, MaxResidual
	// and StopTimeout default to the package constants when zero.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueDepth   int
	ReadBufSize  int
	MaxResidual  int
	StopTimeout  time.Duration

	// LoggerFactory creates the transport logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives connection events. Defaults to a no-op.
	Observer observability.Observer
}

func (c *TCPConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.ReadBufSize <= 0 {
		c.ReadBufSize = DefaultReadBufferSize
	}
	if c.MaxResidual <= 0 {
		c.MaxResidual = DefaultMaxResidual
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Observer == nil {
		c.Observer = observability.Noop{}
	}
}

// TCP accepts stream connections and runs one receive and one sender
// goroutine per connection.
type TCP struct {
	config   TCPConfig
	listener net.Listener
	handler  Handler
	log      logging.LeveledLogger
	obs      observability.Observer

	closeCh chan struct{}
	wg      sync.WaitGroup

	connsMu sync.Mutex
	conns   map[uint64]*netConn

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewTCP creates a TCP transport. The listener is bound by Start.
func NewTCP(config TCPConfig) (*TCP, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	config.applyDefaults()

	return &TCP{
		config:   config,
		listener: config.Listener,
		handler:  config.Handler,
		log:      config.LoggerFactory.NewLogger("transport"),
		obs:      config.Observer,
		closeCh:  make(chan struct{}),
		conns:    make(map[uint64]*netConn),
	}, nil
}

// Start binds the listener (unless one was provided) and begins accepting.
func (t *TCP) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.started {
		return ErrAlreadyStarted
	}

	if t.listener == nil {
		addr := t.config.Address
		if addr == "" {
			addr = ":0"
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		t.listener = ln
	}
	t.started = true

	t.log.Infof("listening on %s", t.listener.Addr())
	t.wg.Add(1)
	go t.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, then waits for the
// receive loops with a bounded deadline.
func (t *TCP) Stop() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.closed = true
	t.mu.Unlock()

	close(t.closeCh)
	if t.listener != nil {
		t.listener.Close()
	}

	t.connsMu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.connsMu.Unlock()

	if !waitTimeout(&t.wg, t.config.StopTimeout) {
		t.log.Warnf("stop deadline expired with receive loops still running")
	}
	return nil
}

// Addr returns the bound listen address, nil before Start.
func (t *TCP) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// AddConnection adopts a pre-established stream connection, as used by
// pipe-backed tests. The returned Conn is live immediately.
func (t *TCP) AddConnection(conn net.Conn) Conn {
	c := newNetConn(conn, t.config.QueueDepth, t.config.WriteTimeout, t.log)
	t.track(c)
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		c.sendLoop()
	}()
	go func() {
		defer t.wg.Done()
		t.receiveLoop(c)
	}()
	return c
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				t.log.Warnf("accept failed: %v", err)
				continue
			}
		}
		t.AddConnection(conn)
	}
}

func (t *TCP) track(c *netConn) {
	t.connsMu.Lock()
	t.conns[c.key] = c
	t.connsMu.Unlock()
	t.obs.ConnOpened("tcp")
	t.log.Debugf("connection %d from %s", c.key, c.RemoteAddr())
}

func (t *TCP) untrack(c *netConn) {
	t.connsMu.Lock()
	delete(t.conns, c.key)
	t.connsMu.Unlock()
	t.obs.ConnClosed("tcp")
}

// receiveLoop reads the connection, feeds the frame codec, and dispatches
// every decoded frame. On read error, timeout or residual overflow it
// tears the connection down and reports the disconnect exactly once.
func (t *TCP) receiveLoop(c *netConn) {
	defer func() {
		c.Close()
		t.untrack(c)
	}()

	buf := make([]byte, t.config.ReadBufSize)
	var residual []byte
	for {
		if t.config.ReadTimeout > 0 {
			// Deadline support is best-effort: pipe conns may lack it.
			c.conn.SetReadDeadline(time.Now().Add(t.config.ReadTimeout))
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			residual = append(residual, buf[:n]...)
			frames, rest, perrs := frame.Split(residual)
			residual = rest
			if len(residual) > t.config.MaxResidual {
				t.log.Warnf("connection %d exceeded residual bound, closing", c.key)
				c.notifyDisconnect(t.handler, ErrResidualOverflow)
				return
			}
			dispatchFrames(t.handler, c, frames, perrs, t.log)
		}
		if err != nil {
			c.notifyDisconnect(t.handler, err)
			return
		}
	}
}
