package utils

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"panshare/internal"
)

// RetryConfig defines retry behavior configuration
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// HTTPClientConfig contains configuration for the HTTP client
type HTTPClientConfig struct {
	Timeout     time.Duration
	ProxyURL    string
	RetryConfig *RetryConfig
	UserAgents  []string
	Logger      *internal.SecureLogger
}

// NewHTTPClientConfig derives the client configuration from the application config
func NewHTTPClientConfig(cfg *internal.Config, logger *internal.SecureLogger) *HTTPClientConfig {
	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxRetries + 1
	return &HTTPClientConfig{
		Timeout:     cfg.RequestTimeout(),
		ProxyURL:    cfg.ProxyURL,
		RetryConfig: retry,
		UserAgents:  cfg.UserAgentList,
		Logger:      logger,
	}
}

// HTTPClient provides a custom HTTP client with retry logic and user-agent rotation
type HTTPClient struct {
	client       *http.Client
	userAgent    string
	userAgents   []string
	userAgentIdx int
	mutex        sync.RWMutex
	retryConfig  *RetryConfig
	logger       *internal.SecureLogger
}

// Request describes one call against a provider endpoint
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header map[string]string
	Cookie string
	// JSON and Form are mutually exclusive request bodies
	JSON interface{}
	Form url.Values
	// Mutation marks a call that changes remote state. Once issued it runs to
	// completion regardless of caller cancellation, and it is only retried when
	// the connection could not be established.
	Mutation bool
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Cookies parses the Set-Cookie headers of the response
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return internal.WrapPanError(err, "response is not valid JSON", internal.ErrRemoteProtocol).
			WithContext("body", truncate(string(r.Body), 200))
	}
	return nil
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/120.0",
}

// NewHTTPClientWithConfig creates a new HTTP client with custom configuration
func NewHTTPClientWithConfig(config *HTTPClientConfig) *HTTPClient {
	if config.RetryConfig == nil {
		config.RetryConfig = DefaultRetryConfig()
	}
	if config.RetryConfig.MaxAttempts < 1 {
		config.RetryConfig.MaxAttempts = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = internal.GetLogger()
	}
	userAgents := config.UserAgents
	if len(userAgents) == 0 {
		userAgents = defaultUserAgents
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
	}

	if config.ProxyURL != "" {
		if err := configureProxy(transport, config.ProxyURL); err != nil {
			logger.Warn("Failed to configure proxy %s: %v", config.ProxyURL, err)
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &HTTPClient{
		client:      client,
		userAgents:  userAgents,
		userAgent:   userAgents[0],
		retryConfig: config.RetryConfig,
		logger:      logger,
	}
}

// configureProxy sets up proxy configuration for the transport
func configureProxy(transport *http.Transport, proxyURL string) error {
	parsedURL, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsedURL)
	case "socks5":
		var auth *proxy.Auth
		if parsedURL.User != nil {
			password, _ := parsedURL.User.Password()
			auth = &proxy.Auth{User: parsedURL.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return fmt.Errorf("unsupported proxy scheme: %s", parsedURL.Scheme)
	}

	return nil
}

// Do sends the request with retry logic and returns the fully read response.
// Non-2xx answers become RemoteProtocolError, exhausted transport retries
// become TransportError.
func (c *HTTPClient) Do(ctx context.Context, r *Request) (*Response, error) {
	if r.Mutation {
		// a submitted mutation cannot be cancelled remotely; the client timeout still bounds each attempt
		ctx = context.WithoutCancel(ctx)
	}

	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, internal.WrapPanError(err, "failed to encode request body", internal.ErrInvalidRequest).WithURL(r.URL)
	}

	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, internal.WrapPanError(err, "invalid request URL", internal.ErrInvalidRequest).WithURL(r.URL)
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error

	for attempt := 0; attempt < c.retryConfig.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, internal.WrapPanError(ctx.Err(), "request cancelled before retry", internal.ErrTransport).WithURL(target)
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, internal.WrapPanError(err, "failed to create request", internal.ErrInvalidRequest).WithURL(target)
		}
		c.applyHeaders(req, r, contentType)
		c.logger.LogHTTPRequest(req)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if !c.isRetryableError(err, r.Mutation) {
				return nil, internal.WrapPanError(err, "request failed", internal.ErrTransport).WithURL(target)
			}
			c.logger.Debug("attempt %d for %s failed: %v", attempt+1, target, err)
			continue
		}
		c.logger.LogHTTPResponse(resp)

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if r.Mutation {
				return nil, internal.WrapPanError(readErr, "failed to read response", internal.ErrTransport).WithURL(target)
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
		case resp.StatusCode == http.StatusForbidden && !r.Mutation:
			c.RotateUserAgent()
			lastErr = internal.NewRemoteProtocolError(resp.StatusCode, "Forbidden - rotating user agent")
			continue
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = internal.NewRemoteProtocolError(resp.StatusCode, "Rate limited")
			continue
		case resp.StatusCode >= 500 && !r.Mutation:
			lastErr = internal.NewRemoteProtocolError(resp.StatusCode, "Server error")
			continue
		default:
			return nil, internal.NewRemoteProtocolError(resp.StatusCode, http.StatusText(resp.StatusCode)).
				WithURL(target).
				WithContext("body", truncate(string(data), 200))
		}
	}

	var pe *internal.PanError
	if errors.As(lastErr, &pe) {
		return nil, pe.WithURL(target).WithContext("attempts", c.retryConfig.MaxAttempts)
	}
	return nil, internal.WrapPanError(lastErr, fmt.Sprintf("request failed after %d attempts", c.retryConfig.MaxAttempts), internal.ErrTransport).
		WithURL(target)
}

func (c *HTTPClient) applyHeaders(req *http.Request, r *Request, contentType string) {
	c.mutex.RLock()
	req.Header.Set("User-Agent", c.userAgent)
	c.mutex.RUnlock()

	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.Cookie != "" {
		req.Header.Set("Cookie", r.Cookie)
	}
	for key, value := range r.Header {
		req.Header.Set(key, value)
	}
}

func encodeBody(r *Request) ([]byte, string, error) {
	switch {
	case r.JSON != nil && r.Form != nil:
		return nil, "", fmt.Errorf("request cannot carry both JSON and form bodies")
	case r.JSON != nil:
		data, err := json.Marshal(r.JSON)
		return data, "application/json;charset=UTF-8", err
	case r.Form != nil:
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded; charset=UTF-8", nil
	default:
		return nil, "", nil
	}
}

func buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// RotateUserAgent rotates to the next user agent string
func (c *HTTPClient) RotateUserAgent() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.userAgentIdx = (c.userAgentIdx + 1) % len(c.userAgents)
	c.userAgent = c.userAgents[c.userAgentIdx]
}

// calculateDelay calculates the delay for the next retry attempt
func (c *HTTPClient) calculateDelay(attempt int) time.Duration {
	// Exponential backoff: baseDelay * multiplier^(attempt-1)
	delay := float64(c.retryConfig.BaseDelay) * math.Pow(c.retryConfig.Multiplier, float64(attempt-1))

	jitter := delay * c.retryConfig.JitterPercent * (rand.Float64()*2 - 1)
	delay += jitter

	if delay > float64(c.retryConfig.MaxDelay) {
		delay = float64(c.retryConfig.MaxDelay)
	}

	if delay < 0 {
		delay = float64(c.retryConfig.BaseDelay)
	}

	return time.Duration(delay)
}

// isRetryableError determines if a transport error should trigger a retry.
// Mutations are only retried when the request provably never left this host.
func (c *HTTPClient) isRetryableError(err error, mutation bool) bool {
	if err == nil {
		return false
	}

	var pe *internal.PanError
	if errors.As(err, &pe) {
		return pe.IsRetryable() && !mutation
	}

	errStr := strings.ToLower(err.Error())

	notSent := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
	}
	for _, s := range notSent {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	if mutation {
		return false
	}

	retryableErrors := []string{
		"timeout",
		"connection reset",
		"temporary failure",
		"eof",
		"context deadline exceeded",
	}
	for _, retryableErr := range retryableErrors {
		if strings.Contains(errStr, retryableErr) {
			return true
		}
	}

	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
