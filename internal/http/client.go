package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Common errors.
var (
	ErrInvalidURL       = errors.New("http: invalid feed url")
	ErrBadRequest       = errors.New("http: bad request")
	ErrNotFound         = errors.New("http: resource not found")
	ErrGone             = errors.New("http: resource gone")
	ErrForbidden        = errors.New("http: access forbidden")
	ErrUnauthorized     = errors.New("http: unauthorized")
	ErrServerError      = errors.New("http: server error")
	ErrUnexpectedStatus = errors.New("http: unexpected status code")
)

// DefaultUserAgent is sent unless Options.UserAgent overrides it. Several feed
// hosts reject requests without a browser-like client identity.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0"

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds a whole request including reading the body.
	// Default: 5m
	Timeout time.Duration

	// DialTimeout bounds TCP connect and TLS handshake separately.
	// Default: 30s
	DialTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers.
	// Default: 30s
	ResponseHeaderTimeout time.Duration

	// KeepAlive is the TCP keep-alive period.
	// Default: 300s
	KeepAlive time.Duration

	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost:   100,
		Timeout:               5 * time.Minute,
		DialTimeout:           30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		KeepAlive:             300 * time.Second,
		UserAgent:             DefaultUserAgent,
	}
}

// Response is an open response body from a successful GET.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	ETag          string
	ContentType   string
}

// Client is an HTTP client tuned for fetching many archives from many hosts.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options. Zero fields
// fall back to DefaultOptions.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = def.KeepAlive
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.KeepAlive,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.DialTimeout,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		// Compression stays enabled: the transport negotiates gzip and
		// decodes it transparently.
	}

	// cookiejar.New only fails on a bad PublicSuffixList.
	jar, _ := cookiejar.New(nil)

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			Jar:       jar,
		},
		opts: opts,
	}
}

// DefaultHeader returns the headers sent with every request.
func (c *Client) DefaultHeader() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", c.opts.UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Connection", "keep-alive")
	return h
}

// Get performs a single GET of rawURL. Headers in extra are applied over the
// default header set. The caller must close the returned body.
//
// There is no retry: a failed attempt is reported to the caller as is.
func (c *Client) Get(ctx context.Context, rawURL string, extra http.Header) (*Response, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = c.DefaultHeader()
	for k, vs := range extra {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w (%s)", err, resp.Status)
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// ValidateURL reports whether rawURL is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// IsPermanent reports whether err describes a failure that will not go away
// by asking again: malformed URLs and client errors other than timeouts and
// rate limiting.
func IsPermanent(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidURL),
		errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrGone),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthorized):
		return true
	}
	return false
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest:
		return ErrBadRequest
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusGone:
		return ErrGone
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}
