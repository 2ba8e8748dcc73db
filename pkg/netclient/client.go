// Package netclient wraps HTTP requests with fault classification, bounded
// retries and a normalized error shape. Intermediate failures are only
// logged; the failure that ends a request is reported once.
package netclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/armorclaw/faultline/pkg/config"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
	"github.com/armorclaw/faultline/pkg/retry"
)

const (
	// DefaultAttemptTimeout bounds each individual attempt
	DefaultAttemptTimeout = 10 * time.Second
	// DefaultMaxRetries is the number of retries after the first attempt
	DefaultMaxRetries = 5

	component = "netclient"

	maxErrorBody = 64 << 10
)

// RequestError is returned when a request fails for good
type RequestError struct {
	Method   string
	URL      string
	Attempts int
	Response ferrors.ErrorResponse
	Fault    *ferrors.ErrorContext
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %s", e.Method, e.URL, e.Attempts, e.Response.Error())
}

// Unwrap exposes the classified fault
func (e *RequestError) Unwrap() error {
	return e.Fault
}

// StatusError is an HTTP response with a failure status
type StatusError struct {
	Status int
	Body   ferrors.ErrorResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

// HTTPStatus returns the response status
func (e *StatusError) HTTPStatus() int { return e.Status }

// Client is an HTTP client with the retry and reporting policy applied
type Client struct {
	http     *http.Client
	base     *url.URL
	reporter faults.Reporter
	policy   retry.Policy
	retries  int
	timeout  time.Duration
	limiter  *rate.Limiter
	newTimer func() backoff.Timer
	jitter   retry.JitterFunc
	log      *logger.Logger

	mu           sync.Mutex
	offline      bool
	connectivity func(online bool)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithReporter sets where final failures are reported
func WithReporter(r faults.Reporter) Option {
	return func(c *Client) { c.reporter = r }
}

// WithTimer supplies the timer used between retries. Tests use it to avoid
// sleeping.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.newTimer = newTimer }
}

// WithJitter sets the jitter source for retry delays
func WithJitter(fn retry.JitterFunc) Option {
	return func(c *Client) { c.jitter = fn }
}

// WithConnectivity registers fn to learn when requests start failing for lack
// of connectivity (online=false) and when they succeed again (online=true).
func WithConnectivity(fn func(online bool)) Option {
	return func(c *Client) { c.connectivity = fn }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client from network configuration
func New(cfg config.NetworkConfig, opts ...Option) (*Client, error) {
	c := &Client{
		http:    &http.Client{},
		timeout: cfg.Timeout.D(),
		retries: cfg.MaxRetries,
		policy: retry.Policy{
			Initial:     cfg.BaseDelay.D(),
			Max:         cfg.MaxDelay.D(),
			Multiplier:  2,
			MaxAttempts: cfg.MaxRetries,
		},
	}
	if c.timeout <= 0 {
		c.timeout = DefaultAttemptTimeout
	}
	if c.retries < 0 {
		return nil, fmt.Errorf("max retries must not be negative: %d", c.retries)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		c.base = base
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global()
	}
	c.log = c.log.WithComponent(component)
	return c, nil
}

func (c *Client) backOff() backoff.BackOff {
	if c.retries == 0 {
		return &backoff.StopBackOff{}
	}
	var opts []retry.Option
	if c.jitter != nil {
		opts = append(opts, retry.WithJitter(c.jitter))
	}
	return retry.NewBackOff(c.policy, opts...)
}

// Online reports whether the last request reached the server
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.offline
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.offline == online
	c.offline = !online
	fn := c.connectivity
	c.mu.Unlock()

	if changed && fn != nil {
		fn(online)
	}
}

// Resolve joins path onto the configured base URL
func (c *Client) Resolve(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if c.base == nil || u.IsAbs() {
		return u.String(), nil
	}
	return c.base.ResolveReference(u).String(), nil
}

// Do sends req, retrying recoverable network failures. A successful response
// must have its body closed by the caller. Any failure is a *RequestError,
// except cancellation of ctx which is returned as is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.URL != nil && !req.URL.IsAbs() && c.base != nil {
		req = req.Clone(req.Context())
		req.URL = c.base.ResolveReference(req.URL)
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}

	method := methodOf(req)
	target := RedactURL(req.URL)
	hints := ferrors.Hints{Kind: ferrors.KindNetwork, Component: component, Action: method + " " + req.URL.Path}

	var (
		attempts int
		resp     *http.Response
		last     *ferrors.ErrorContext
	)

	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempts++
		attemptsTotal.WithLabelValues(method).Inc()

		r, fault := c.attempt(ctx, req, body, hints)
		if fault == nil {
			resp = r
			return nil
		}
		last = fault
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !ferrors.IsRetryable(fault) {
			return backoff.Permanent(fault)
		}
		return fault
	}

	notify := func(err error, next time.Duration) {
		retriesTotal.WithLabelValues(last.Code).Inc()
		retryDelay.Observe(next.Seconds())
		if c.reporter != nil {
			c.reporter.Log(ctx, last, hints)
		}
		c.log.Debug("retrying request", "method", method, "url", target, "attempt", attempts, "delay", next, "code", last.Code)
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	err = backoff.RetryNotifyWithTimer(operation, backoff.WithContext(c.backOff(), ctx), notify, timer)
	if err == nil {
		outcomesTotal.WithLabelValues(method, "ok").Inc()
		c.setOnline(true)
		return resp, nil
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		outcomesTotal.WithLabelValues(method, "canceled").Inc()
		return nil, err
	}
	if last == nil {
		last = ferrors.Classify(err, hints)
	}
	return nil, c.fail(ctx, method, target, attempts, last)
}

// attempt performs one try under its own timeout. On success the response
// body releases the attempt context when closed.
func (c *Client) attempt(ctx context.Context, req *http.Request, body []byte, hints ferrors.Hints) (*http.Response, *ferrors.ErrorContext) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	r := req.Clone(actx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	if c.log.Enabled(ctx, slog.LevelDebug) {
		c.log.Debug("request", "method", r.Method, "url", RedactURL(r.URL), "headers", RedactHeaders(r.Header))
	}

	start := time.Now()
	resp, err := c.http.Do(r)
	if err != nil {
		cancel()
		return nil, ferrors.Classify(err, hints)
	}

	if c.log.Enabled(ctx, slog.LevelDebug) {
		c.log.Debug("response", "method", r.Method, "url", RedactURL(r.URL), "status", resp.StatusCode,
			"duration", time.Since(start), "headers", RedactHeaders(resp.Header))
	}

	if resp.StatusCode < 400 {
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	cancel()

	statusErr := &StatusError{Status: resp.StatusCode}
	server, ok := ferrors.DecodeResponse(data)
	if ok {
		statusErr.Body = server
	}
	fault := ferrors.Classify(statusErr, hints)
	if ok {
		b := ferrors.From(fault).WithDetail("server_code", server.Code)
		if server.Message != "" {
			b.WithMessage(server.Message)
		}
		fault = b.Build()
	}
	return nil, fault
}

// fail reports the final failure and wraps it for the caller
func (c *Client) fail(ctx context.Context, method, target string, attempts int, fault *ferrors.ErrorContext) error {
	outcomesTotal.WithLabelValues(method, fault.Code).Inc()
	if ferrors.IsOfflineFailure(fault) {
		c.setOnline(false)
	}

	if c.reporter != nil {
		if _, err := c.reporter.ReportContext(ctx, fault); err != nil {
			c.log.Warn("request failure not surfaced", "code", fault.Code, "error", err)
		}
	} else {
		c.log.FaultEvent(ctx, "request failed", ferrors.Sanitize(fault, false))
	}

	return &RequestError{
		Method:   method,
		URL:      target,
		Attempts: attempts,
		Response: ferrors.ResponseFrom(fault),
		Fault:    fault,
	}
}

// GetJSON fetches path and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON sends in as a JSON body and decodes the JSON response into out.
// Either may be nil.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	target, err := c.Resolve(path)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fault := ferrors.NewBuilder(ferrors.CodeNetworkFailure).
			Wrap(err).
			WithRecoverable(false).
			WithOrigin(component, method+" "+req.URL.Path).
			WithMessage("The server sent a response that could not be read.").
			Build()
		return c.fail(ctx, method, RedactURL(req.URL), 1, fault)
	}
	return nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// IsRequestError reports whether err is a final request failure and returns it
func IsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func methodOf(req *http.Request) string {
	if req.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(req.Method)
}
