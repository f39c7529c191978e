package discovery

import (
	"context"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockServerFactory records registrations instead of touching the network.
type MockServerFactory struct {
	mu          sync.Mutex
	registered  []*MockServer
	registerErr error
}

// NewMockServerFactory creates a factory whose Register always succeeds.
func NewMockServerFactory() *MockServerFactory {
	return &MockServerFactory{}
}

// FailWith makes subsequent Register calls return err.
func (f *MockServerFactory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerErr = err
}

// Register implements MDNSServerFactory.
func (f *MockServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	s := &MockServer{
		Instance: instance,
		Service:  service,
		Domain:   domain,
		Port:     port,
		TXT:      txt,
	}
	f.registered = append(f.registered, s)
	return s, nil
}

// Registered returns every registration made through the factory.
func (f *MockServerFactory) Registered() []*MockServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockServer, len(f.registered))
	copy(out, f.registered)
	return out
}

// MockServer is one recorded registration.
type MockServer struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	TXT      []string

	mu       sync.Mutex
	shutdown bool
}

// Shutdown implements MDNSServer.
func (s *MockServer) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
}

// IsShutdown reports whether Shutdown ran.
func (s *MockServer) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// MockMDNSResolver answers Browse and Lookup from a static service set.
type MockMDNSResolver struct {
	mu      sync.RWMutex
	entries []*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates an empty mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{}
}

// AddService registers an entry for later Browse and Lookup answers.
func (m *MockMDNSResolver) AddService(entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	snapshot := make([]*zeroconf.ServiceEntry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	go func() {
		defer close(entries)
		for _, entry := range snapshot {
			if entry.Service != service {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	snapshot := make([]*zeroconf.ServiceEntry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	go func() {
		defer close(entries)
		for _, entry := range snapshot {
			if entry.Service != service || entry.Instance != instance {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
			}
			return
		}
	}()
	return nil
}

// MockServiceEntry builds a zeroconf entry for one fake chat server.
func MockServiceEntry(instance string, port int, ip net.IP, info ServiceInfo) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  Service,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local.",
		Port:     port,
		AddrIPv4: []net.IP{ip},
		Text:     info.Encode(),
	}
}
