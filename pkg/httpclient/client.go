// Package httpclient is the retry/backoff-aware cloud HTTP client (C3),
// built on hashicorp/go-retryablehttp: automatic retry on connection errors
// and 5xx for idempotent methods, backoff = min(base*2^n, cap) with jitter,
// no implicit retry of non-idempotent methods, per spec.md §4.3. Retried
// attempts are logged through pkg/logging's Component tagging.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/edged/edged/pkg/identity"
	"github.com/edged/edged/pkg/logging"
	"github.com/edged/edged/pkg/util"
)

// idempotentMethods is the set of HTTP methods CheckRetry will retry on
// connection errors or 5xx. Everything else — in particular POST — is sent
// at most once: Do hands it to DoOnce, which the provisioning handshake and
// the log upload also call directly.
var idempotentMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodPatch: true,
	http.MethodPut:   true,
}

const (
	defaultMaxAttempts = 4
	defaultBaseBackoff = 500 * time.Millisecond
	defaultCapBackoff  = 60 * time.Second
	defaultRequestTO   = 15 * time.Second
)

// Client is the cloud API client. One Client is constructed per base URL
// (the device's api_endpoint) and shared by CloudSync, the log Flusher, and
// the provisioning handshake.
type Client struct {
	baseURL    string
	underlying *retryablehttp.Client
	logger     *logging.Logger
	requestTO  time.Duration
}

// Option customizes Client construction.
type Option func(*Client)

// WithRequestTimeout overrides the per-request timeout (default 15s).
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTO = d }
}

// WithMaxAttempts overrides how many times a request may be retried after
// its first attempt (default 4).
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.underlying.RetryMax = n }
}

// New constructs a Client whose TLS trust store and base URL come from id.
// A zero-value APITLS.CACertificates leaves the system trust store in
// place; Verify=false (explicitly opted into, never the default) disables
// certificate verification entirely, for use only against a local
// development cloud endpoint.
func New(id identity.Identity, logger *logging.Logger, opts ...Option) (*Client, error) {
	transport := &http.Transport{}
	if id.APITLS.CACertificates != "" || !id.APITLS.Verify {
		tlsCfg := &tls.Config{}
		if id.APITLS.CACertificates != "" {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM([]byte(id.APITLS.CACertificates)) {
				return nil, util.NewConfigError("http_client", "api_tls.ca_certificates is not valid PEM")
			}
			tlsCfg.RootCAs = pool
		}
		if !id.APITLS.Verify {
			tlsCfg.InsecureSkipVerify = true
		}
		transport.TLSClientConfig = tlsCfg
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport}
	rc.RetryMax = defaultMaxAttempts
	rc.RetryWaitMin = defaultBaseBackoff
	rc.RetryWaitMax = defaultCapBackoff
	rc.Logger = nil // pkg/logging handles request logging via RequestLogHook below

	c := &Client{
		baseURL:    strings.TrimRight(id.APIEndpoint, "/"),
		underlying: rc,
		logger:     logger,
		requestTO:  defaultRequestTO,
	}

	rc.CheckRetry = c.checkRetry
	rc.Backoff = func(lo, hi time.Duration, attemptNum int, resp *http.Response) time.Duration {
		d := retryablehttp.DefaultBackoff(lo, hi, attemptNum, resp)
		if d <= 1 {
			return d
		}
		return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	}
	rc.RequestLogHook = c.logAttempt

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// checkRetry restricts retries to idempotent methods, on top of
// retryablehttp's own default policy (connection errors, 429, 5xx).
func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && !idempotentMethods[resp.Request.Method] {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) logAttempt(logger retryablehttp.Logger, req *http.Request, attempt int) {
	if attempt == 0 || c.logger == nil {
		return
	}
	c.logger.WithComponent(logging.ComponentHTTPClient).WithFields(map[string]interface{}{
		"method":  req.Method,
		"path":    req.URL.Path,
		"attempt": attempt,
	}).Warn("retrying cloud request")
}

// Response is the normalized result of a cloud call.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// NotModified reports whether the cloud responded 304, signaling the
// caller's cached copy (matched via If-None-Match) is still current.
func (r Response) NotModified() bool { return r.Status == http.StatusNotModified }

// Do issues one request against path (relative to the client's base URL).
// headers may set Authorization, If-None-Match, or Content-Type; the
// aggregate deadline on ctx (if any) is always respected on top of the
// client's own per-request timeout, whichever is shorter. A method outside
// idempotentMethods is sent through DoOnce.
func (c *Client) Do(ctx context.Context, method, path string, headers http.Header, body []byte) (Response, error) {
	if !idempotentMethods[method] {
		return c.DoOnce(ctx, method, path, headers, body)
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTO)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = strings.NewReader(string(body))
	}

	req, err := retryablehttp.NewRequestWithContext(reqCtx, method, c.baseURL+path, rdr)
	if err != nil {
		return Response{}, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.underlying.Do(req)
	if err != nil {
		return Response{}, util.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, util.NewNetworkError(method+" "+path+" (read body)", err)
	}

	return Response{Status: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

// DoOnce issues a single attempt with no retry, for calls that are
// non-idempotent at the application level (provisioning registration, log
// upload): a retried duplicate would double-register the device or
// double-count a log batch on the cloud side.
func (c *Client) DoOnce(ctx context.Context, method, path string, headers http.Header, body []byte) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTO)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, rdr)
	if err != nil {
		return Response{}, fmt.Errorf("httpclient: build request: %w", err)
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.underlying.HTTPClient.Do(req)
	if err != nil {
		return Response{}, util.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, util.NewNetworkError(method+" "+path+" (read body)", err)
	}

	return Response{Status: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
}

func unexpectedStatus(op string, status int) error {
	return util.NewNetworkError(op, fmt.Errorf("unexpected status %d", status))
}

// Post issues a single non-retried POST and returns the raw status/body.
// It is expressed in stdlib types only so pkg/identity's Transport
// interface can be satisfied structurally without importing this package
// (this package already imports pkg/identity for TLS configuration, so the
// reverse import would cycle).
func (c *Client) Post(ctx context.Context, path string, headers http.Header, body []byte) (int, []byte, error) {
	resp, err := c.DoOnce(ctx, http.MethodPost, path, headers, body)
	if err != nil {
		return 0, nil, err
	}
	return resp.Status, resp.Body, nil
}
