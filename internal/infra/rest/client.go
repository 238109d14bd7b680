// Package rest holds the HTTP plumbing shared by the exchange clients:
// pacing, user agent, body handling and error classification.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"maverage/internal/domain"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client is the boundary HTTP client of one exchange.
type Client struct {
	exchange   string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter replaces the request pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client that sends at most one request per interval.
// A non-positive interval disables pacing.
func NewClient(exchange, baseURL string, interval time.Duration, opts ...Option) *Client {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	c := &Client{
		exchange: exchange,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default().With("module", exchange+"_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange returns the exchange name used in errors.
func (c *Client) Exchange() string {
	return c.exchange
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Request describes one call. Path includes the query string.
type Request struct {
	Op      string
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// Do paces, sends and reads the request. Transport failures become retriable
// network errors; the caller classifies the HTTP status.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, domain.NewFatalNetworkError(req.Op, err)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewNetworkError(req.Op, fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewNetworkError(req.Op, err)
	}
	c.logger.Debug("HTTP call",
		slog.String("op", req.Op),
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
	)
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// StatusError classifies a non-2xx response. Throttling and server side
// failures are transient network errors, everything else is an exchange
// rejection carrying the message.
func (c *Client) StatusError(op string, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return domain.NewNetworkError(op, fmt.Errorf("http %d: %s", status, msg))
	}
	return &domain.ExchangeError{Exchange: c.exchange, Op: op, Code: fmt.Sprint(status), Message: msg}
}

// Reject builds an exchange rejection without HTTP status.
func (c *Client) Reject(op, msg string) error {
	return &domain.ExchangeError{Exchange: c.exchange, Op: op, Message: msg}
}
