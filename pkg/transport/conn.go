// Package transport owns the sockets of the chat server: the TCP listener,
// the optional WebSocket listener, the per-connection receive loops that
// feed the frame codec, and the bounded outbound queues that serialize
// writes per destination. It dispatches decoded frames to a Handler and
// reports every teardown exactly once.
package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/frame"
)

// Defaults shared by the TCP and WebSocket transports.
const (
	// DefaultReadTimeout is the keep-alive read deadline. A timeout
	// counts as EOF for cleanup purposes.
	DefaultReadTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds one outbound write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultQueueDepth is the outbound queue capacity per connection.
	// Overflow triggers slow-consumer teardown.
	DefaultQueueDepth = 64

	// DefaultReadBufferSize is the per-read buffer size.
	DefaultReadBufferSize = 4096

	// DefaultMaxResidual bounds the unterminated-frame bytes retained
	// between reads.
	DefaultMaxResidual = 64 * 1024

	// DefaultStopTimeout bounds how long Stop waits for receive loops.
	DefaultStopTimeout = 5 * time.Second
)

// Conn is one live connection as the rest of the server sees it.
// It satisfies the registry's Socket interface.
type Conn interface {
	// Key identifies the connection uniquely for the process lifetime.
	Key() uint64

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// Enqueue queues one encoded frame for sending. Never blocks; returns
	// ErrQueueFull or ErrConnClosed on failure.
	Enqueue(b []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Handler receives the decoded traffic of every connection. Calls for one
// connection arrive sequentially from its receive goroutine;
// HandleDisconnect is invoked exactly once per connection.
type Handler interface {
	HandleFrame(c Conn, f *frame.Frame)
	HandleParseError(c Conn, perr *frame.ParseError)
	HandleDisconnect(c Conn, reason error)
}

// connKeys hands out process-unique connection keys across transports.
var connKeys atomic.Uint64

func nextConnKey() uint64 {
	return connKeys.Add(1)
}

// netConn wraps a stream connection with a bounded outbound queue drained
// by a dedicated sender goroutine. Used for TCP and adopted pipe conns.
type netConn struct {
	key          uint64
	conn         net.Conn
	out          chan []byte
	writeTimeout time.Duration
	log          logging.LeveledLogger

	closeCh        chan struct{}
	closeOnce      sync.Once
	disconnectOnce sync.Once
}

func newNetConn(conn net.Conn, queueDepth int, writeTimeout time.Duration, log logging.LeveledLogger) *netConn {
	return &netConn{
		key:          nextConnKey(),
		conn:         conn,
		out:          make(chan []byte, queueDepth),
		writeTimeout: writeTimeout,
		log:          log,
		closeCh:      make(chan struct{}),
	}
}

// Key implements Conn.
func (c *netConn) Key() uint64 { return c.key }

// RemoteAddr implements Conn.
func (c *netConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Enqueue implements Conn.
func (c *netConn) Enqueue(b []byte) error {
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

// Close implements Conn. Closing wakes both the sender and the receive
// loop; the receive loop reports the disconnect.
func (c *netConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
	return nil
}

// sendLoop drains the outbound queue until the connection closes.
// A failed write tears the connection down; the receive loop observes the
// closed socket and runs the disconnect path.
func (c *netConn) sendLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		case b := <-c.out:
			if c.writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.conn.Write(b); err != nil {
				c.log.Warnf("write to %s failed: %v", c.RemoteAddr(), err)
				c.Close()
				return
			}
		}
	}
}

// dispatchFrames hands decoded frames and parse errors to the handler,
// recovering panics at the goroutine boundary: a panic in a handler tears
// the connection down instead of crashing the process.
func dispatchFrames(h Handler, c Conn, frames []*frame.Frame, perrs []*frame.ParseError, log logging.LeveledLogger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in frame handler for %s: %v", c.RemoteAddr(), r)
			c.Close()
		}
	}()
	for _, perr := range perrs {
		h.HandleParseError(c, perr)
	}
	for _, f := range frames {
		h.HandleFrame(c, f)
	}
}

// notifyDisconnect invokes HandleDisconnect at most once for the conn.
func (c *netConn) notifyDisconnect(h Handler, reason error) {
	c.disconnectOnce.Do(func() {
		h.HandleDisconnect(c, reason)
	})
}

// waitTimeout waits for wg with a bound, so Stop never hangs on a stuck
// receive loop.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
