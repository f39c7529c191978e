// chatserver is the multi-user chat server.
//
// It listens on TCP (and optionally WebSocket) for HTTP-framed chat
// traffic, keeps accounts in memory or in a JSON snapshot file, and can
// advertise itself over DNS-SD and export Prometheus metrics.
//
// Usage:
//
//	chatserver [options]
//
// Options:
//
//	-addr          TCP listen address (default: ":8080")
//	-ws            WebSocket listen address (disabled when empty)
//	-e2ee          enable end-to-end encrypted private sessions
//	-accounts      account snapshot file (in-memory when empty)
//	-keys          public key snapshot file (in-memory when empty)
//	-metrics       Prometheus listen address (disabled when empty)
//	-mdns          advertise the server over DNS-SD
//	-name          advertised display name
//	-read-timeout  per-connection read deadline
//	-verbose       debug logging
//
// Example:
//
//	chatserver -addr :8080 -ws :8081 -e2ee -accounts accounts.json -mdns
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orcchg/ChatServer-sub000/examples/common"
	"github.com/orcchg/ChatServer-sub000/pkg/discovery"
	"github.com/orcchg/ChatServer-sub000/pkg/observability/prom"
	"github.com/orcchg/ChatServer-sub000/pkg/server"
	"github.com/orcchg/ChatServer-sub000/pkg/store"
)

func main() {
	opts := common.ParseFlags()
	loggerFactory := common.NewLoggerFactory(opts.Verbose)

	config := server.Config{
		TCPAddress:    opts.Addr,
		WSAddress:     opts.WSAddr,
		EnableE2EE:    opts.E2EE,
		ReadTimeout:   opts.ReadTimeout,
		LoggerFactory: loggerFactory,
	}

	if opts.AccountsPath != "" {
		accounts, err := store.OpenFileStore(opts.AccountsPath)
		if err != nil {
			log.Fatalf("open account store: %v", err)
		}
		config.Accounts = accounts
	}
	if opts.KeysPath != "" {
		keys, err := store.OpenFileStore(opts.KeysPath)
		if err != nil {
			log.Fatalf("open key store: %v", err)
		}
		config.Keys = keys
	}

	var registry *prometheus.Registry
	if opts.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		config.Observer = prom.New(registry)
	}

	s, err := server.New(config)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	var sidecars []func(context.Context) error
	if registry != nil {
		sidecars = append(sidecars, metricsSidecar(opts.MetricsAddr, registry))
	}
	if opts.MDNS {
		sidecars = append(sidecars, mdnsSidecar(s, opts, loggerFactory))
	}

	if err := common.Run(s, sidecars...); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// metricsSidecar serves the Prometheus registry until the context ends.
func metricsSidecar(addr string, registry *prometheus.Registry) func(context.Context) error {
	return func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

// mdnsSidecar advertises the running server over DNS-SD until the context
// ends.
func mdnsSidecar(s *server.Server, opts *common.Options, loggerFactory logging.LoggerFactory) func(context.Context) error {
	return func(ctx context.Context) error {
		tcpAddr, ok := s.Addr().(*net.TCPAddr)
		if !ok {
			return fmt.Errorf("mdns: unexpected listen address %v", s.Addr())
		}
		info := discovery.ServiceInfo{
			E2EE:        opts.E2EE,
			DisplayName: opts.Name,
		}
		if wsAddr, ok := s.WSAddr().(*net.TCPAddr); ok {
			info.WSPort = wsAddr.Port
		}

		advertiser, err := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Port:          tcpAddr.Port,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return err
		}
		if err := advertiser.Start(info); err != nil {
			return err
		}
		<-ctx.Done()
		return advertiser.Close()
	}
}
