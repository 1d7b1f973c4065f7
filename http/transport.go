package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/rs/dnscache"
	"golang.org/x/net/http2"
)

// TransportConfig configures the shared connection pool.
type TransportConfig struct {
	// EnableHTTP2 enables HTTP/2 multiplexing (default: true)
	EnableHTTP2 bool

	// EnableHTTP3 tries HTTP/3 first for https URLs (default: false, experimental)
	EnableHTTP3 bool

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls idle connections per host
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host (0 is unlimited)
	MaxConnsPerHost int

	DialTimeout           time.Duration
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration

	// TLSConfig overrides the default TLS settings (CA bundle, verification)
	TLSConfig *tls.Config

	// Resolver is shared by every connection. Nil creates a private one.
	Resolver *dnscache.Resolver
}

// DefaultTransportConfig returns default transport configuration
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableHTTP2:           true,
		EnableHTTP3:           false,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   12,
		MaxConnsPerHost:       0,
		DialTimeout:           10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewTransport creates the concurrent transport: one pool whose HTTP/2
// connections multiplex every in-flight request to the same origin, with
// DNS answers shared across dials.
func NewTransport(config TransportConfig) http.RoundTripper {
	transport := baseTransport(config)

	if config.EnableHTTP2 {
		// Falls back to HTTP/1.1 keep-alive when configuration fails
		_ = http2.ConfigureTransport(transport)
	}

	if config.EnableHTTP3 {
		return newHTTP3Transport(transport, config.TLSConfig)
	}
	return transport
}

// NewSequentialTransport creates a plain HTTP/1.1 transport with a single
// connection per host. It backs the sequential fallback path.
func NewSequentialTransport(config TransportConfig) http.RoundTripper {
	transport := baseTransport(config)
	transport.MaxConnsPerHost = 1
	transport.MaxIdleConnsPerHost = 1
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	return transport
}

func baseTransport(config TransportConfig) *http.Transport {
	resolver := config.Resolver
	if resolver == nil {
		resolver = &dnscache.Resolver{}
	}
	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           cachedDialer(resolver, dialer),
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,
	}
}

func cachedDialer(resolver *dnscache.Resolver, dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses for %s", host)
		}
		return nil, fmt.Errorf("failed to dial any resolved IP: %w", lastErr)
	}
}

// RefreshDNS refreshes the resolver cache on interval until ctx is done.
func RefreshDNS(ctx context.Context, resolver *dnscache.Resolver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolver.Refresh(true)
		}
	}
}

// TLSConfigFromFiles builds a TLS config trusting the CA bundle in cafile
// and every PEM file in capath. Empty arguments are ignored; with both
// empty the system roots are used and nil is returned.
func TLSConfigFromFiles(cafile, capath string) (*tls.Config, error) {
	if cafile == "" && capath == "" {
		return nil, nil
	}

	pool := x509.NewCertPool()
	added := 0
	load := func(path string) error {
		pem, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if pool.AppendCertsFromPEM(pem) {
			added++
		}
		return nil
	}

	if cafile != "" {
		if err := load(cafile); err != nil {
			return nil, fmt.Errorf("read cafile: %w", err)
		}
	}
	if capath != "" {
		entries, err := os.ReadDir(capath)
		if err != nil {
			return nil, fmt.Errorf("read capath: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := load(filepath.Join(capath, e.Name())); err != nil {
				return nil, fmt.Errorf("read capath: %w", err)
			}
		}
	}

	if added == 0 {
		return nil, fmt.Errorf("no certificates found in %q %q", cafile, capath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// http3Transport tries HTTP/3 for https and falls back to the TCP pool
type http3Transport struct {
	fallback http.RoundTripper
	quic     *http3.Transport
}

func newHTTP3Transport(fallback http.RoundTripper, tlsConfig *tls.Config) *http3Transport {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if tlsConfig != nil {
		cfg = tlsConfig.Clone()
	}
	return &http3Transport{
		fallback: fallback,
		quic: &http3.Transport{
			TLSClientConfig: cfg,
			QUICConfig:      &quic.Config{Allow0RTT: true},
		},
	}
}

// RoundTrip implements http.RoundTripper
func (t *http3Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "https" {
		resp, err := t.quic.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
	}
	return t.fallback.RoundTrip(req)
}

// Close closes the HTTP/3 transport
func (t *http3Transport) Close() error {
	return t.quic.Close()
}

// ProtocolVersion returns the HTTP protocol version from response
func ProtocolVersion(resp *http.Response) string {
	switch resp.ProtoMajor {
	case 3:
		return "HTTP/3"
	case 2:
		return "HTTP/2"
	default:
		return "HTTP/1.1"
	}
}
