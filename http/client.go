// Package http provides the transport used for Composer metadata and dist
// downloads.
//
// A Client shares one connection pool, one cookie jar and one DNS cache
// across every request, so concurrent fetches to the same origin multiplex
// over HTTP/2 instead of opening a connection each.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptrace"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/dnscache"
	"golang.org/x/net/publicsuffix"

	"github.com/willibrandon/composer-prefetch/auth"
	"github.com/willibrandon/composer-prefetch/observability"
	"github.com/willibrandon/composer-prefetch/resilience"
)

const (
	DefaultTimeout      = 0
	DefaultDialTimeout  = 10 * time.Second
	DefaultUserAgent    = "composer-prefetch/0.1.0"
	DefaultMaxRedirects = 10
)

// Client wraps http.Client with the shared pool and failure handling
type Client struct {
	httpClient  *http.Client
	userAgent   string
	retryConfig *RetryConfig
	logger      observability.Logger
	breakers    *resilience.HostBreakers // nil disables
	auth        auth.Authenticator
}

// Config holds HTTP client configuration
type Config struct {
	// Timeout bounds a whole request including the body. Zero relies on ctx.
	Timeout     time.Duration
	DialTimeout time.Duration
	UserAgent   string
	TLSConfig   *tls.Config

	// DisableTLS downgrades https URLs to http, mirroring Composer's disable-tls
	DisableTLS bool

	MaxIdleConns int
	EnableHTTP2  bool
	EnableHTTP3  bool

	// Sequential selects a single-connection HTTP/1.1 pool
	Sequential bool

	// Resolver shares DNS answers between clients. Nil creates one.
	Resolver *dnscache.Resolver

	RetryConfig   *RetryConfig
	Logger        observability.Logger      // Optional logger (nil uses NullLogger)
	EnableTracing bool                      // Enable OpenTelemetry HTTP tracing
	BreakerConfig *resilience.BreakerConfig // Optional per-host circuit breaker (nil disables)

	// Auth adds credentials to every request, typically an *auth.Store
	Auth auth.Authenticator
}

// DefaultConfig returns a client configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Timeout:      DefaultTimeout,
		DialTimeout:  DefaultDialTimeout,
		UserAgent:    DefaultUserAgent,
		MaxIdleConns: 100,
		EnableHTTP2:  true,
		RetryConfig:  DefaultRetryConfig(),
	}
}

// NewClient creates a new HTTP client with the given configuration
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig()
	}

	tc := DefaultTransportConfig()
	tc.EnableHTTP2 = cfg.EnableHTTP2
	tc.EnableHTTP3 = cfg.EnableHTTP3
	tc.TLSConfig = cfg.TLSConfig
	tc.Resolver = cfg.Resolver
	if cfg.DialTimeout > 0 {
		tc.DialTimeout = cfg.DialTimeout
	}
	if cfg.MaxIdleConns > 0 {
		tc.MaxIdleConns = cfg.MaxIdleConns
	}

	var transport http.RoundTripper
	if cfg.Sequential {
		transport = NewSequentialTransport(tc)
	} else {
		transport = NewTransport(tc)
	}
	if cfg.EnableTracing {
		transport = observability.NewInstrumentedTransport(transport)
	}

	// publicsuffix.List never makes cookiejar.New fail
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := &Client{
		httpClient: &http.Client{
			Transport:     transport,
			Timeout:       cfg.Timeout,
			Jar:           jar,
			CheckRedirect: limitRedirects(DefaultMaxRedirects),
		},
		userAgent:   userAgent,
		retryConfig: cfg.RetryConfig,
		logger:      logger,
		auth:        cfg.Auth,
	}
	if cfg.DisableTLS {
		client.httpClient.Transport = downgradeTLS{next: transport}
	}

	if cfg.BreakerConfig != nil {
		client.breakers = resilience.NewHostBreakers(*cfg.BreakerConfig)
	}

	return client
}

func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

// downgradeTLS rewrites https requests to plain http.
type downgradeTLS struct {
	next http.RoundTripper
}

func (d downgradeTLS) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == "https" {
		req = req.Clone(req.Context())
		req.URL.Scheme = "http"
	}
	return d.next.RoundTrip(req)
}

// Do executes an HTTP request with context and user agent
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.auth != nil {
		if err := c.auth.Authenticate(req); err != nil {
			return nil, fmt.Errorf("authenticate %s: %w", req.URL.Hostname(), err)
		}
	}

	c.logger.VerboseContext(ctx, "HTTP {Method} {URL}", req.Method, req.URL.String())

	start := time.Now()
	resp, err := c.send(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugContext(ctx, "HTTP {Method} {URL} failed after {Duration}ms: {Error}",
			req.Method, req.URL.String(), duration.Milliseconds(), err)
		observability.HTTPRequestsTotal.WithLabelValues(req.Method, "error", req.URL.Hostname()).Inc()
		return nil, err
	}

	c.logger.VerboseContext(ctx, "HTTP {Method} {URL} → {StatusCode} ({Duration}ms)",
		req.Method, req.URL.String(), resp.StatusCode, duration.Milliseconds())
	observability.HTTPRequestsTotal.WithLabelValues(req.Method, fmt.Sprintf("%d", resp.StatusCode), req.URL.Hostname()).Inc()
	observability.HTTPRequestDuration.WithLabelValues(req.Method, req.URL.Hostname()).Observe(duration.Seconds())

	return resp, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	if c.breakers == nil {
		return c.httpClient.Do(req)
	}
	return c.breakers.Do(req.URL.Hostname(), func() (*http.Response, error) {
		return c.httpClient.Do(req)
	})
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(ctx, req)
}

// EventType identifies a progress notification
type EventType int

const (
	// EventResolved fires once a connection for the request is obtained
	EventResolved EventType = iota
	// EventSizeKnown fires once when the response announces its length
	EventSizeKnown
	// EventProgress fires after every chunk with the cumulative byte count
	EventProgress
	// EventDone fires after the body has been fully received
	EventDone
)

func (e EventType) String() string {
	switch e {
	case EventResolved:
		return "resolved"
	case EventSizeKnown:
		return "size-known"
	case EventProgress:
		return "progress"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProgressEvent is delivered to a FetchRequest's Progress callback.
// Transferred never decreases within one fetch; chunk sizes are arbitrary.
type ProgressEvent struct {
	Type        EventType
	URL         string
	Total       int64
	Transferred int64
}

// ProgressFunc receives progress notifications
type ProgressFunc func(ProgressEvent)

// FetchRequest describes one fetch.
type FetchRequest struct {
	// Origin is the host the request is attributed to (e.g. "repo.packagist.org")
	Origin  string
	URL     string
	Method  string
	Body    []byte
	Headers map[string]string

	// Destination streams the body to this file instead of memory
	Destination string

	Progress ProgressFunc
}

// Response is the result of a successful fetch.
type Response struct {
	// URL is the final URL after redirects
	URL        string
	StatusCode int
	Header     http.Header

	// Body is nil when the fetch had a Destination
	Body []byte

	// Path is the Destination the body was written to
	Path string
}

// Fetch performs one request to completion. Non-2xx final statuses and
// transport failures are returned as *TransportError.
func (c *Client) Fetch(ctx context.Context, fr FetchRequest) (*Response, error) {
	method := fr.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if fr.Body != nil {
		body = bytes.NewReader(fr.Body)
	}

	if fr.Progress != nil {
		var once sync.Once
		ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
			GotConn: func(httptrace.GotConnInfo) {
				once.Do(func() {
					fr.Progress(ProgressEvent{Type: EventResolved, URL: fr.URL})
				})
			},
		})
	}

	req, err := http.NewRequestWithContext(ctx, method, fr.URL, body)
	if err != nil {
		return nil, &TransportError{URL: fr.URL, Message: err.Error(), Err: err}
	}

	for k, v := range fr.Headers {
		// the pool decides connection reuse and protocol version
		if strings.EqualFold(k, "Connection") {
			continue
		}
		req.Header.Set(k, v)
	}

	decodeGzip := false
	if fr.Destination == "" && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip")
		decodeGzip = true
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, &TransportError{URL: fr.URL, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			URL:        fr.URL,
			Message:    resp.Status,
			Header:     resp.Header,
		}
	}

	counter := &progressReader{
		r:        resp.Body,
		url:      fr.URL,
		total:    resp.ContentLength,
		progress: fr.Progress,
		host:     req.URL.Hostname(),
	}
	if counter.total > 0 && fr.Progress != nil {
		fr.Progress(ProgressEvent{Type: EventSizeKnown, URL: fr.URL, Total: counter.total})
	}

	var reader io.Reader = counter
	if decodeGzip && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(counter)
		if err != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, URL: fr.URL, Message: "invalid gzip body", Err: err}
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	result := &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	if fr.Destination != "" {
		if err := streamToFile(fr.Destination, reader); err != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, URL: fr.URL, Message: err.Error(), Err: err}
		}
		result.Path = fr.Destination
	} else {
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, &TransportError{StatusCode: resp.StatusCode, URL: fr.URL, Message: err.Error(), Err: err}
		}
		result.Body = data
	}

	if fr.Progress != nil {
		fr.Progress(ProgressEvent{Type: EventDone, URL: fr.URL, Total: counter.total, Transferred: counter.read})
	}
	return result, nil
}

// streamToFile writes r to dest through dest.part. The part file stays on
// disk when the copy fails.
func streamToFile(dest string, r io.Reader) error {
	part := dest + ".part"
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dest, err)
	}
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", part, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", part, err)
	}
	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

type progressReader struct {
	r        io.Reader
	url      string
	host     string
	total    int64
	read     int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		observability.HTTPBytesTotal.WithLabelValues(p.host).Add(float64(n))
		if p.progress != nil {
			p.progress(ProgressEvent{Type: EventProgress, URL: p.url, Total: p.total, Transferred: p.read})
		}
	}
	return n, err
}

// Host returns the host part of rawURL, or rawURL when it does not parse.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Option is a functional option for configuring the client
type Option func(*Config)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = timeout
	}
}

// WithUserAgent sets the user agent string
func WithUserAgent(ua string) Option {
	return func(cfg *Config) {
		cfg.UserAgent = ua
	}
}

// WithTLSConfig sets custom TLS configuration
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *Config) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithLogger sets the logger
func WithLogger(logger observability.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// WithResolver shares a DNS cache
func WithResolver(r *dnscache.Resolver) Option {
	return func(cfg *Config) {
		cfg.Resolver = r
	}
}

// WithSequential selects the single-connection HTTP/1.1 pool
func WithSequential() Option {
	return func(cfg *Config) {
		cfg.Sequential = true
	}
}

// WithBreaker enables per-host circuit breaking
func WithBreaker(bc resilience.BreakerConfig) Option {
	return func(cfg *Config) {
		cfg.BreakerConfig = &bc
	}
}

// WithAuth sets the request credentials
func WithAuth(a auth.Authenticator) Option {
	return func(cfg *Config) {
		cfg.Auth = a
	}
}

// WithRetryConfig sets custom retry configuration
func WithRetryConfig(retryCfg *RetryConfig) Option {
	return func(cfg *Config) {
		cfg.RetryConfig = retryCfg
	}
}

// NewClientWithOptions creates a client with functional options
func NewClientWithOptions(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewClient(cfg)
}
