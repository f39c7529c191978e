package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
	"github.com/orcchg/ChatServer-sub000/pkg/observability"
)

// DefaultWSPath is the upgrade endpoint of the WebSocket transport.
const DefaultWSPath = "/ws"

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	// Address is the HTTP listen address. Defaults to ":0".
	Address string

	// Path is the upgrade endpoint. Defaults to DefaultWSPath.
	Path string

	// Handler receives decoded frames. Required.
	Handler Handler

	// ReadTimeout, WriteTimeout, QueueDepth, MaxResidual and StopTimeout
	// default to the package constants when zero.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueDepth   int
	MaxResidual  int
	StopTimeout  time.Duration

	// LoggerFactory creates the transport logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives connection events. Defaults to a no-op.
	Observer observability.Observer
}

func (c *WSConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = DefaultWSPath
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
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

// WS serves the chat protocol over WebSocket binary messages. Each message
// feeds the same residual-and-split path as a TCP read, so coalesced and
// split frames behave identically on both transports.
type WS struct {
	config   WSConfig
	handler  Handler
	log      logging.LeveledLogger
	obs      observability.Observer
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[uint64]*wsConn

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWS creates a WebSocket transport. The listener is bound by Start.
func NewWS(config WSConfig) (*WS, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	config.applyDefaults()

	return &WS{
		config:  config,
		handler: config.Handler,
		log:     config.LoggerFactory.NewLogger("transport"),
		obs:     config.Observer,
		upgrader: websocket.Upgrader{
			// The wire protocol authenticates inside frames; any origin
			// may open the socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[uint64]*wsConn),
	}, nil
}

// Start binds the HTTP listener and begins upgrading connections.
func (w *WS) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}

	addr := w.config.Address
	if addr == "" {
		addr = ":0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	w.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(w.config.Path, w.serveWS)
	w.server = &http.Server{Handler: mux}
	w.started = true

	w.log.Infof("websocket listening on %s%s", ln.Addr(), w.config.Path)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.server.Serve(ln)
	}()
	return nil
}

// Stop shuts the HTTP server down, closes every WebSocket, and waits for
// the receive loops with a bounded deadline.
func (w *WS) Stop() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	w.mu.Unlock()

	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), w.config.StopTimeout)
		defer cancel()
		w.server.Shutdown(ctx)
	}

	w.connsMu.Lock()
	for _, c := range w.conns {
		c.Close()
	}
	w.connsMu.Unlock()

	if !waitTimeout(&w.wg, w.config.StopTimeout) {
		w.log.Warnf("stop deadline expired with websocket loops still running")
	}
	return nil
}

// Addr returns the bound listen address, nil before Start.
func (w *WS) Addr() net.Addr {
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// serveWS upgrades one HTTP request and runs the connection loops.
func (w *WS) serveWS(rw http.ResponseWriter, r *http.Request) {
	ws, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warnf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	c := &wsConn{
		key:          nextConnKey(),
		ws:           ws,
		out:          make(chan []byte, w.config.QueueDepth),
		writeTimeout: w.config.WriteTimeout,
		log:          w.log,
		closeCh:      make(chan struct{}),
	}
	w.connsMu.Lock()
	w.conns[c.key] = c
	w.connsMu.Unlock()
	w.obs.ConnOpened("ws")
	w.log.Debugf("websocket connection %d from %s", c.key, ws.RemoteAddr())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		c.sendLoop()
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.receiveLoop(c)
	}()
}

// receiveLoop drains WebSocket messages into the frame codec.
func (w *WS) receiveLoop(c *wsConn) {
	defer func() {
		c.Close()
		w.connsMu.Lock()
		delete(w.conns, c.key)
		w.connsMu.Unlock()
		w.obs.ConnClosed("ws")
	}()

	var residual []byte
	for {
		if w.config.ReadTimeout > 0 {
			c.ws.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		}
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.notifyDisconnect(w.handler, err)
			return
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		residual = append(residual, data...)
		frames, rest, perrs := frame.Split(residual)
		residual = rest
		if len(residual) > w.config.MaxResidual {
			w.log.Warnf("websocket connection %d exceeded residual bound, closing", c.key)
			c.notifyDisconnect(w.handler, ErrResidualOverflow)
			return
		}
		dispatchFrames(w.handler, c, frames, perrs, w.log)
	}
}

// wsConn is one upgraded WebSocket with the shared queue discipline.
type wsConn struct {
	key          uint64
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration
	log          logging.LeveledLogger

	closeCh        chan struct{}
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

// Key implements Conn.
func (c *wsConn) Key() uint64 { return c.key }

// RemoteAddr implements Conn.
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// Enqueue implements Conn.
func (c *wsConn) Enqueue(b []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close implements Conn.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.ws.Close()
	})
	return nil
}

func (c *wsConn) sendLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case b := <-c.out:
			if c.writeTimeout > 0 {
				c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
				c.log.Warnf("websocket write to %s failed: %v", c.RemoteAddr(), err)
				c.Close()
				return
			}
		}
	}
}

func (c *wsConn) notifyDisconnect(h Handler, reason error) {
	c.disconnectOnce.Do(func() {
		h.HandleDisconnect(c, reason)
	})
}

// Verify both connection kinds implement Conn.
var (
	_ Conn = (*netConn)(nil)
	_ Conn = (*wsConn)(nil)
)
