// Package upstream is a thin pass-through client for the remote
// clinical REST API the dashboard consumes directly. It adds a circuit
// breaker and a rate limit in front of the remote service but does no
// request shaping of its own; authorization headers are forwarded
// verbatim.
package upstream

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"clinicore/internal/config"
	"clinicore/internal/errors"
	"clinicore/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Response carries the upstream status, content type and body back to
// the proxy handler.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client provides access to the clinical API.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*Response]
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a client from config. An empty base URL yields a client
// whose every call fails with ErrUpstreamUnavailable; the proxy route
// stays mounted so the dashboard gets a clean error instead of a 404.
func New(cfg config.UpstreamConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30
	}
	maxFailures := cfg.BreakerFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30
	}

	breaker := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "clinical-api",
		MaxRequests: 1,
		Timeout:     time.Duration(cooldown) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Upstream breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		breaker: breaker,
		limiter: limiter,
		logger:  logger,
	}
}

// UpdateLimits applies new rate limit settings from a config reload.
// The breaker, timeout, and base URL keep their original values; those
// need a restart.
func (c *Client) UpdateLimits(cfg config.UpstreamConfig) {
	if c.limiter == nil {
		return
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter.SetLimit(rate.Limit(float64(cfg.RequestsPerMinute) / 60.0))
		if cfg.Burst > 0 {
			c.limiter.SetBurst(cfg.Burst)
		}
	} else {
		c.limiter.SetLimit(rate.Inf)
	}
}

// Do forwards one request. The path must include the /api/v1 prefix and
// any query string. A non-2xx upstream status is returned to the caller
// as a Response, not an error; only transport failures, the breaker and
// the rate limit produce errors.
func (c *Client) Do(ctx context.Context, method, path, authorization string, body []byte) (*Response, error) {
	if c.baseURL == "" {
		return nil, errors.ErrUpstreamUnavailable
	}

	if c.limiter != nil && !c.limiter.Allow() {
		metrics.RecordUpstreamRejected()
		return nil, errors.ErrUpstreamThrottled
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.send(ctx, method, path, authorization, body)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordUpstreamRejected()
			return nil, errors.ErrUpstreamOpen
		}
		metrics.RecordUpstream(false)
		return nil, errors.Wrap(err, "UPSTREAM_001", "clinical API unavailable")
	}
	metrics.RecordUpstream(true)
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, authorization string, body []byte) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// 5xx counts as a breaker failure; 4xx is the caller's problem.
	if resp.StatusCode >= 500 {
		c.logger.Warn("Upstream returned server error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, errors.New("UPSTREAM_001", "clinical API server error")
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}
