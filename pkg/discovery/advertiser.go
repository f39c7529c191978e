package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is one active mDNS registration. The seam allows tests to run
// without real multicast traffic.
type MDNSServer interface {
	// Shutdown withdraws the registration.
	Shutdown()
}

// MDNSServerFactory creates MDNSServer instances.
type MDNSServerFactory interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory is the production factory.
type zeroconfServerFactory struct{}

func (zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the DNS-SD instance name. When empty a random
	// "chatserver-<hex>" name is generated.
	InstanceName string

	// Port is the advertised TCP port. Required.
	Port int

	// Interfaces restricts which interfaces advertise. Nil means all.
	Interfaces []net.Interface

	// ServerFactory overrides the mDNS backend, for tests.
	ServerFactory MDNSServerFactory

	// LoggerFactory creates the discovery logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes one chat server instance over DNS-SD.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu       sync.Mutex
	server   MDNSServer
	instance string
	closed   bool
}

// NewAdvertiser creates an Advertiser. Advertising begins with Start.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidInfo, config.Port)
	}
	factory := config.ServerFactory
	if factory == nil {
		factory = zeroconfServerFactory{}
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Advertiser{
		config:  config,
		factory: factory,
		log:     config.LoggerFactory.NewLogger("discovery"),
	}, nil
}

// Start registers the service with the given info.
func (a *Advertiser) Start(info ServiceInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	instance := a.config.InstanceName
	if instance == "" {
		suffix, err := randomInstanceSuffix()
		if err != nil {
			return fmt.Errorf("discovery: instance name generation failed: %w", err)
		}
		instance = "chatserver-" + suffix
	}

	txt := info.Encode()
	a.log.Debugf("registering %s as %q on port %d, txt=%v", Service, instance, a.config.Port, txt)

	server, err := a.factory.Register(instance, Service, DefaultDomain, a.config.Port, txt, a.config.Interfaces)
	if err != nil {
		return fmt.Errorf("discovery: mDNS registration failed: %w", err)
	}
	a.server = server
	a.instance = instance
	a.log.Infof("advertising %q on %s", instance, Service)
	return nil
}

// Stop withdraws the registration. The advertiser may Start again.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	a.instance = ""
	return nil
}

// Close withdraws any registration and rejects further use.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising reports whether a registration is active.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// InstanceName returns the active instance name, "" when not advertising.
func (a *Advertiser) InstanceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.instance
}

// randomInstanceSuffix returns 4 random bytes as lowercase hex.
func randomInstanceSuffix() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
