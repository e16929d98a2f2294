// Package httpclient is the single outbound HTTP path for calls to external
// services (document storage, issuer keys, issuance). Every call carries a
// timeout and a bounded fixed-delay retry that only fires on transient
// failures. An optional circuit breaker fails calls fast while a service
// keeps failing.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/circuit"
	"healthcred/pkg/platform/retry"
)

var outboundRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "healthcred_outbound_retries_total",
	Help: "Number of retried outbound calls, labeled by target service",
}, []string{"service"})

// Doer is the minimal interface needed from an HTTP client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether the response is a server-side failure.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// Config configures a Client.
type Config struct {
	Service    string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Retry      retry.Policy
	Breaker    *circuit.Breaker
	HTTPClient Doer
	Logger     *slog.Logger
}

// Client performs JSON calls against one external service.
type Client struct {
	service string
	baseURL string
	apiKey  string
	timeout time.Duration
	policy  retry.Policy
	breaker *circuit.Breaker
	doer    Doer
	logger  *slog.Logger
}

// New creates a client, applying the default 10s timeout when unset.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		service: cfg.Service,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		policy:  cfg.Retry,
		breaker: cfg.Breaker,
		doer:    doer,
		logger:  logger,
	}
}

// BaseURL returns the configured service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON fetches path and decodes the response body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(c.service, body, out)
}

// PostJSON encodes in, posts it to path, and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
	}
	body, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(c.service, body, out)
}

// Delete issues a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.Do(ctx, http.MethodDelete, path, nil)
	return err
}

// Do executes one logical call, retrying transient failures per the policy.
// While the breaker is open the call fails at once with CodeTransient.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTransient, fmt.Sprintf("%s unavailable", c.service))
		}
	}
	var body []byte
	attempts, err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var callErr error
		body, callErr = c.once(ctx, method, path, payload)
		return callErr
	})
	if attempts > 1 {
		outboundRetries.WithLabelValues(c.service).Add(float64(attempts - 1))
	}
	if c.breaker != nil {
		// 4xx answers and caller cancellation say nothing about the service.
		c.breaker.Record(err != nil && ctx.Err() == nil && retry.IsTransient(err))
	}
	if err != nil {
		c.logger.WarnContext(ctx, "outbound call failed",
			"service", c.service,
			"method", method,
			"path", path,
			"attempts", attempts,
			"error", err,
		)
		if retry.IsTransient(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeTransient, fmt.Sprintf("%s unavailable", c.service))
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		// no response at all: timeout, refused connection, reset
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, fmt.Sprintf("%s did not respond", c.service))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: truncate(body, 256)}
	}
	return body, nil
}

func decode(service string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("%s returned malformed JSON", service))
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
