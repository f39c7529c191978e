// Package observability defines the metrics seam of the chat server.
// Core packages report events through the narrow Observer interface and
// never import a metrics client; the prom subpackage adapts the interface
// to Prometheus collectors for deployments that want it.
package observability

// Observer receives operational events from the server core.
//
// Implementations must be safe for concurrent use and must not block:
// observers are called from hot paths (frame dispatch, fan-out).
type Observer interface {
	// ConnOpened records a new connection on the named transport
	// ("tcp" or "ws").
	ConnOpened(transport string)

	// ConnClosed records a connection teardown on the named transport.
	ConnClosed(transport string)

	// PeerLoggedIn records a successful login or register.
	PeerLoggedIn()

	// PeerLoggedOut records a logout, explicit or socket-reset driven.
	PeerLoggedOut()

	// MessageRouted records one delivered chat message. kind is
	// "broadcast", "direct" or "private"; fanout is the number of
	// sockets the message was enqueued to.
	MessageRouted(kind string, fanout int)

	// FrameError records a frame that failed to parse.
	FrameError()

	// QueueOverflow records a slow-consumer teardown.
	QueueOverflow()

	// HandshakeEvent records a private-session state transition. event is
	// "requested", "confirmed", "rejected", "active" or "aborted".
	HandshakeEvent(event string)
}

// Noop is an Observer that discards every event. It is the default for
// every component config.
type Noop struct{}

// ConnOpened implements Observer.
func (Noop) ConnOpened(string) {}

// ConnClosed implements Observer.
func (Noop) ConnClosed(string) {}

// PeerLoggedIn implements Observer.
func (Noop) PeerLoggedIn() {}

// PeerLoggedOut implements Observer.
func (Noop) PeerLoggedOut() {}

// MessageRouted implements Observer.
func (Noop) MessageRouted(string, int) {}

// FrameError implements Observer.
func (Noop) FrameError() {}

// QueueOverflow implements Observer.
func (Noop) QueueOverflow() {}

// HandshakeEvent implements Observer.
func (Noop) HandshakeEvent(string) {}

// Verify Noop implements Observer.
var _ Observer = Noop{}
