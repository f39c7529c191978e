package server

import (
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/orcchg/ChatServer-sub000/pkg/observability"
	"github.com/orcchg/ChatServer-sub000/pkg/store"
)

// DefaultTerminatePayload is the text carried by the shutdown broadcast.
const DefaultTerminatePayload = "server is shutting down"

// terminateDrain is how long Stop lets the sender goroutines flush the
// termination broadcast before the connections close.
const terminateDrain = 100 * time.Millisecond

// Config holds all configuration for a chat Server.
type Config struct {
	// TCPAddress is the main listen address. Defaults to ":0".
	TCPAddress string

	// Listener is an optional pre-bound TCP listener. Overrides TCPAddress.
	Listener net.Listener

	// WSAddress enables the WebSocket listener when non-empty.
	WSAddress string

	// EnableE2EE accepts the private-session handshake endpoints.
	EnableE2EE bool

	// Accounts is the account table. Defaults to an in-memory store.
	Accounts store.AccountStore

	// Keys is the public key table, used only with EnableE2EE. Defaults to
	// an in-memory store.
	Keys store.KeyStore

	// ReadTimeout, QueueDepth and MaxResidual pass through to the
	// transports; zero takes the transport defaults.
	ReadTimeout time.Duration
	QueueDepth  int
	MaxResidual int

	// TerminatePayload is the text of the code-99 shutdown broadcast.
	TerminatePayload string

	// LoggerFactory creates the component loggers. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory

	// Observer receives server metrics events. Defaults to a no-op.
	Observer observability.Observer
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Accounts == nil {
		c.Accounts = store.NewMemoryStore()
	}
	if c.Keys == nil {
		c.Keys = store.NewMemoryStore()
	}
	if c.TerminatePayload == "" {
		c.TerminatePayload = DefaultTerminatePayload
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.Observer == nil {
		c.Observer = observability.Noop{}
	}
}
