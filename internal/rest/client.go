package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// HTTPClient allows injecting fake transports in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	// Retries is the number of extra attempts made on transport errors.
	// HTTP error statuses are returned to the caller and never retried.
	Retries int
	// RequestsPerSecond throttles outgoing requests; 0 disables the limit.
	RequestsPerSecond float64
	HTTPClient        HTTPClient
	Logger            *slog.Logger
}

// Client talks to one connection server. TLS and retry policy live here;
// callers only see a status code and a body.
type Client struct {
	baseURL string
	http    HTTPClient
	retries int
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client for baseURL (e.g. https://cs01:443).
func NewClient(baseURL string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		retries: retries,
		limiter: limiter,
		logger:  logger.With("component", "rest"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues an authenticated GET. A non-nil error means the request never
// produced a response (transport failure or timeout). For non-2xx
// responses the status is returned with a nil body.
func (c *Client) Get(ctx context.Context, path, token string) (int, []byte, error) {
	headers := map[string]string{"Accept": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return c.do(ctx, http.MethodGet, path, headers, nil)
}

// Post issues a POST with the given headers and body.
func (c *Client) Post(ctx context.Context, path string, headers map[string]string, body []byte) (int, []byte, error) {
	return c.do(ctx, http.MethodPost, path, headers, body)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body []byte) (int, []byte, error) {
	url := c.baseURL + path

	var status int
	var payload []byte
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request for %s: %w", path, err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Debug("request failed, may retry", "method", method, "path", path, "error", err)
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		if status < 200 || status > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			payload = nil
			return nil
		}
		payload, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		return nil
	}

	var policy backoff.BackOff = &backoff.ZeroBackOff{}
	if c.retries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		policy = exp
	}
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return status, payload, nil
}

// OK reports whether status is a success status.
func OK(status int) bool {
	return status >= 200 && status <= 299
}
