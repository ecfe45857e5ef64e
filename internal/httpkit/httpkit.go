// Package httpkit provides shared HTTP client construction for all
// outbound HTTP calls in bluejay. It enforces consistent timeouts and
// connection management across the LLM client and the transport's REST
// calls.
package httpkit

import (
	"io"
	"net"
	"net/http"
	"time"
)

// Default timeouts and connection pool limits for the shared transport.
const (
	// DefaultDialTimeout is the maximum time to establish a TCP connection.
	DefaultDialTimeout = 10 * time.Second

	// DefaultKeepAlive is the interval between TCP keep-alive probes.
	DefaultKeepAlive = 30 * time.Second

	// DefaultTLSHandshakeTimeout is the maximum time for the TLS handshake.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultResponseHeader is the maximum time to wait for response headers
	// after a request is fully written.
	DefaultResponseHeader = 15 * time.Second

	// DefaultIdleConnTimeout is how long idle connections stay in the pool.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultMaxIdleConns is the total number of idle connections across all hosts.
	DefaultMaxIdleConns = 20

	// DefaultMaxIdleConnsPerHost is the per-host idle connection limit.
	DefaultMaxIdleConnsPerHost = 5
)

// NewTransport returns an *http.Transport with explicit dial, TLS, and
// response-header timeouts. Callers may adjust fields (e.g. raise
// ResponseHeaderTimeout for slow LLM endpoints) before wrapping it in
// a client.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
	}
}

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	timeoutSet bool
	transport  *http.Transport
}

// WithTimeout sets the overall request timeout on the http.Client.
// A zero value disables the timeout (useful for long-lived LLM
// responses); rely on ctx deadlines instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
		c.timeoutSet = true
	}
}

// WithTransport overrides the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// NewClient builds an *http.Client with the shared transport and a
// 30-second default timeout unless overridden.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = NewTransport()
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: transport,
	}
}

// ReadErrorBody reads up to maxBytes from an error response body for
// inclusion in an error message. Read failures return a placeholder
// rather than an empty string so logs stay informative.
func ReadErrorBody(r io.Reader, maxBytes int64) string {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes))
	if err != nil || len(data) == 0 {
		return "(unreadable body)"
	}
	return string(data)
}
