package discovery

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout bounds a Browse call without an earlier deadline.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout bounds a Lookup call without an earlier deadline.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService is one discovered chat server.
type ResolvedService struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the advertised TCP port.
	Port int

	// IPs are the resolved addresses, IPv4 before IPv6.
	IPs []net.IP

	// TXT holds the raw TXT record strings.
	TXT []string
}

// Info parses the TXT record into a ServiceInfo.
func (r *ResolvedService) Info() ServiceInfo {
	return ParseServiceInfo(r.TXT)
}

// Addr returns "host:port" for the preferred IP, "" when unresolved.
func (r *ResolvedService) Addr() string {
	if len(r.IPs) == 0 {
		return ""
	}
	return net.JoinHostPort(r.IPs[0].String(), strconv.Itoa(r.Port))
}

// MDNSResolver is the browse/lookup seam over the zeroconf resolver.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver is the production implementation.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Lookup(ctx, instance, service, domain, entries)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver overrides the mDNS backend, for tests.
	MDNSResolver MDNSResolver

	// BrowseTimeout and LookupTimeout default to the package constants.
	BrowseTimeout time.Duration
	LookupTimeout time.Duration

	// LoggerFactory creates the discovery logger. Defaults to the pion
	// default factory.
	LoggerFactory logging.LoggerFactory
}

// Resolver finds chat servers on the local network.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Resolver{
		config:   config,
		resolver: resolver,
		log:      config.LoggerFactory.NewLogger("discovery"),
	}, nil
}

// Browse returns every chat server instance that answered before the
// context or the browse timeout expired.
func (r *Resolver) Browse(ctx context.Context) ([]*ResolvedService, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := r.resolver.Browse(ctx, Service, DefaultDomain, entries); err != nil {
		return nil, err
	}

	var found []*ResolvedService
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return found, nil
			}
			if entry == nil {
				continue
			}
			svc := fromEntry(entry)
			r.log.Debugf("browse found %q at %s", svc.Instance, svc.Addr())
			found = append(found, svc)
		case <-ctx.Done():
			return found, nil
		}
	}
}

// Lookup resolves one instance by name. Returns ErrNotFound when nothing
// answered in time.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*ResolvedService, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := r.resolver.Lookup(ctx, instance, Service, DefaultDomain, entries); err != nil {
		return nil, err
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}
			if entry == nil || !strings.EqualFold(entry.Instance, instance) {
				continue
			}
			return fromEntry(entry), nil
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

// fromEntry converts a zeroconf entry into a ResolvedService.
func fromEntry(entry *zeroconf.ServiceEntry) *ResolvedService {
	svc := &ResolvedService{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		TXT:      entry.Text,
	}
	svc.IPs = append(svc.IPs, entry.AddrIPv4...)
	svc.IPs = append(svc.IPs, entry.AddrIPv6...)
	return svc
}
