package discovery

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestResolver(t *testing.T, mock *MockMDNSResolver) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  mock,
		BrowseTimeout: 200 * time.Millisecond,
		LookupTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestResolverBrowse(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.AddService(MockServiceEntry("alpha", 8080, net.IPv4(192, 168, 1, 10),
		ServiceInfo{E2EE: true, WSPort: 8081, DisplayName: "alpha srv"}))
	mock.AddService(MockServiceEntry("beta", 9090, net.IPv4(192, 168, 1, 11), ServiceInfo{}))

	r := newTestResolver(t, mock)
	found, err := r.Browse(context.Background())
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Browse() found %d services, want 2", len(found))
	}

	byName := make(map[string]*ResolvedService)
	for _, svc := range found {
		byName[svc.Instance] = svc
	}
	alpha, ok := byName["alpha"]
	if !ok {
		t.Fatal("alpha not found")
	}
	if alpha.Port != 8080 {
		t.Errorf("alpha port = %d, want 8080", alpha.Port)
	}
	if got, want := alpha.Addr(), "192.168.1.10:8080"; got != want {
		t.Errorf("alpha Addr() = %q, want %q", got, want)
	}
	info := alpha.Info()
	if !info.E2EE || info.WSPort != 8081 || info.DisplayName != "alpha srv" {
		t.Errorf("alpha info = %+v", info)
	}
}

func TestResolverBrowseEmpty(t *testing.T) {
	r := newTestResolver(t, NewMockMDNSResolver())
	found, err := r.Browse(context.Background())
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Browse() found %d services, want 0", len(found))
	}
}

func TestResolverLookup(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.AddService(MockServiceEntry("target", 8080, net.IPv4(10, 0, 0, 5), ServiceInfo{DisplayName: "here"}))

	r := newTestResolver(t, mock)

	svc, err := r.Lookup(context.Background(), "target")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if svc.Instance != "target" || svc.Info().DisplayName != "here" {
		t.Errorf("Lookup() = %+v", svc)
	}

	if _, err := r.Lookup(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("Lookup(missing) error = %v, want %v", err, ErrNotFound)
	}
}
