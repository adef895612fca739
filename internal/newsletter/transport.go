// Package newsletter talks to the services that supply posts, page titles
// and recommendations for newsletter endpoints.
package newsletter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultUserAgent = "newsletter-reader/1.0 (+https://github.com/newsletter-reader)"

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// APIError carries the message of an {"error": ...} payload.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Options configure the HTTP transport shared by the clients.
type Options struct {
	Timeout           time.Duration
	Retry             int
	RequestsPerSecond float64
	UserAgent         string
	HTTPClient        *http.Client
}

type transport struct {
	http      *http.Client
	limiter   *rate.Limiter
	retry     int
	userAgent string
}

func newTransport(opts Options) *transport {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}

	cl := opts.HTTPClient
	if cl == nil {
		cl = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
				MaxIdleConnsPerHost:   8,
			},
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &transport{
		http:      cl,
		limiter:   rate.NewLimiter(limit, burst),
		retry:     opts.Retry,
		userAgent: ua,
	}
}

// postForm sends form-encoded fields and returns the body of the first 2xx
// response. Network errors, 429 and 5xx are retried with linear backoff.
func (t *transport) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	return t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
}

func (t *transport) get(ctx context.Context, target string) ([]byte, error) {
	return t.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (t *transport) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	attempts := t.retry + 1

	for i := 0; i < attempts; i++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("User-Agent", t.userAgent)

		body, retryable, err := t.roundTrip(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 300 * time.Millisecond):
		}
	}

	return nil, lastErr
}

func (t *transport) roundTrip(req *http.Request) ([]byte, bool, error) {
	resp, err := t.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, false, err
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	return body, false, nil
}
