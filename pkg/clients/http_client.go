// Package clients provides the HTTP client used to reach node agents, with
// connection retry and a circuit breaker per host.
package clients

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/dctables/pkg/errors"
	"github.com/ajitpratap0/dctables/pkg/metrics"
)

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	// Connection settings
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`

	// ResponseHeaderTimeout bounds the wait for the first response byte.
	// Streaming bodies are bounded by the request context instead.
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" yaml:"response_header_timeout"`

	// H2C speaks cleartext HTTP/2 with prior knowledge, multiplexing every
	// fetch stream to a node over one connection. Agents must enable it too.
	H2C bool `mapstructure:"h2c" yaml:"h2c"`

	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	Retry                 RetryPolicy          `mapstructure:"retry" yaml:"retry"`
	CircuitBreakerEnabled bool                 `mapstructure:"circuit_breaker_enabled" yaml:"circuit_breaker_enabled"`
	CircuitBreaker        CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// DefaultHTTPConfig returns the defaults for node agent connections.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		UserAgent:             "dctables/1.0",
		Retry:                 DefaultRetryPolicy(),
		CircuitBreakerEnabled: true,
		CircuitBreaker:        DefaultCircuitBreakerConfig(),
	}
}

// HTTPClient sends requests to node agents.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  http.RoundTripper

	breakers map[string]*CircuitBreaker
	mu       sync.Mutex

	totalRequests  int64
	failedRequests int64
}

// NewHTTPClient creates a client. A nil config uses DefaultHTTPConfig.
func NewHTTPClient(config *HTTPConfig, logger *zap.Logger) *HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	client := &HTTPClient{
		config:   config,
		logger:   logger.With(zap.String("component", "http_client")),
		breakers: make(map[string]*CircuitBreaker),
	}

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}

	if config.H2C {
		client.transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: config.KeepAlive,
		}
		client.logger.Debug("cleartext HTTP/2 enabled")
	} else {
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
			IdleConnTimeout:       config.IdleConnTimeout,
			ResponseHeaderTimeout: config.ResponseHeaderTimeout,
			ExpectContinueTimeout: time.Second,
			// compression is negotiated by the caller
			DisableCompression: true,
		}
		if err := http2.ConfigureTransport(transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
		client.transport = transport
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return client
}

// Do sends req. Failures to connect, and 502/503/504 answers, are retried
// with backoff; once a response has been returned nothing is retried. The
// request body must be replayable (GetBody set) for retries to happen.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host
	cb := c.breaker(host)

	var resp *http.Response
	attempt := 0
	op := func() error {
		r := req
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return errors.New(errors.ErrorTypeInternal, "request body cannot be replayed")
			}
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return errors.Wrap(err, errors.ErrorTypeInternal, "failed to replay request body")
				}
				r.Body = body
			}
		}
		attempt++

		if cb != nil && !cb.Allow() {
			return errors.Newf(errors.ErrorTypeConnection, "circuit breaker open for %s", host)
		}

		var err error
		resp, err = c.roundTrip(r)
		if cb != nil && ctx.Err() == nil {
			if err != nil && errors.IsRetryable(err) {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
		}
		return err
	}

	err := c.config.Retry.ExecuteWithCondition(ctx, op, func(err error) bool {
		return ctx.Err() == nil && errors.IsRetryable(err)
	})
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) roundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	metrics.ClientRequests.WithLabelValues(req.URL.Host, metrics.Status(err)).Observe(timer.Stop().Seconds())

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "request to "+req.URL.Host+" cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request to "+req.URL.Host+" failed")
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.Newf(errors.ErrorTypeConnection, "%s answered %s", req.URL.Host, resp.Status)
	}
	return resp, nil
}

func (c *HTTPClient) breaker(host string) *CircuitBreaker {
	if !c.config.CircuitBreakerEnabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(host, c.config.CircuitBreaker, c.logger)
		c.breakers[host] = cb
	}
	return cb
}

// BreakerState returns the breaker state for host, StateClosed when none
// exists yet.
func (c *HTTPClient) BreakerState(host string) CircuitState {
	c.mu.Lock()
	cb, ok := c.breakers[host]
	c.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return cb.State()
}

// HTTPStats represents HTTP client statistics
type HTTPStats struct {
	TotalRequests  int64                   `json:"total_requests"`
	FailedRequests int64                   `json:"failed_requests"`
	Breakers       map[string]BreakerStats `json:"breakers"`
}

// GetStats returns current client statistics
func (c *HTTPClient) GetStats() HTTPStats {
	stats := HTTPStats{
		TotalRequests:  atomic.LoadInt64(&c.totalRequests),
		FailedRequests: atomic.LoadInt64(&c.failedRequests),
		Breakers:       make(map[string]BreakerStats),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, cb := range c.breakers {
		stats.Breakers[host] = cb.Stats()
	}
	return stats
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.logger.Debug("closing HTTP client")
	c.httpClient.CloseIdleConnections()
	return nil
}
