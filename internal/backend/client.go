// Package backend talks to the HeroELD/ApexHOS REST API: tenant sessions,
// driver rosters and the company listing.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/eld-roster-crawler/internal/metrics"
	"github.com/JakeFAU/eld-roster-crawler/internal/retry"
)

// Defaults for Config.
const (
	DefaultBaseURL   = "https://backend.apexhos.com"
	DefaultUserAgent = "eld-roster-crawler/1.0"
	DefaultTimeout   = 30 * time.Second
)

const tracerName = "github.com/JakeFAU/eld-roster-crawler/internal/backend"

// Alert service names, one per retried backend call.
const (
	ServiceAuthenticate = "getCompanyToken"
	ServiceFetchRoster  = "getDriversForCompany"
)

const (
	operationOperator  = "authenticateOperator"
	operationCompanies = "listCompanies"
)

// DefaultRetryPolicy is the policy applied to every backend call.
var DefaultRetryPolicy = retry.Policy{Attempts: 3, InitialDelay: 700 * time.Millisecond}

// Credentials are the global operator username/password.
type Credentials struct {
	Username string
	Password string
}

// Alerter is notified once when a call has exhausted its retries.
type Alerter interface {
	Raise(ctx context.Context, service string, attempts int, cause error)
}

// Config holds client settings.
type Config struct {
	BaseURL     string
	Credentials Credentials
	Retry       retry.Policy
	Timeout     time.Duration
	UserAgent   string
}

// Client is a backend REST client.
type Client struct {
	cfg     Config
	http    *http.Client
	pauser  retry.Pauser
	alerter Alerter
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithPauser replaces the retry wait, mainly for tests.
func WithPauser(p retry.Pauser) Option {
	return func(c *Client) {
		if p != nil {
			c.pauser = p
		}
	}
}

// WithAlerter registers the exhaustion alert sink.
func WithAlerter(a Alerter) Option {
	return func(c *Client) {
		c.alerter = a
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrCredentialMissing)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Retry.Attempts < 1 {
		cfg.Retry = DefaultRetryPolicy
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		cfg:    cfg,
		http:   newHTTPClient(cfg.Timeout),
		pauser: retry.TimerPauser{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// BasicAuthHeader returns "Basic " + base64("username:password").
func BasicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (c *Client) send(ctx context.Context, method, path, authorization string, payload any) (response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read %s response: %w", path, err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

// withRetry runs op under the client policy and returns the attempt count.
func withRetry[T any](ctx context.Context, c *Client, operation string, op func(context.Context) (T, error)) (T, int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+operation)
	defer span.End()

	attempts := 0
	result, err := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) (T, error) {
		attempts++
		v, err := op(ctx)
		metrics.ObserveAttempt(operation, err)
		return v, err
	},
		retry.WithPauser(c.pauser),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("backend call failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}),
	)
	span.SetAttributes(attribute.Int("backend.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, attempts, err
}

// exhausted raises the single alert for a call that used up its retries.
// Cancellation is not exhaustion and raises nothing.
func (c *Client) exhausted(ctx context.Context, service string, attempts int, err error) {
	if ctx.Err() != nil || c.alerter == nil {
		return
	}
	c.alerter.Raise(ctx, service, attempts, err)
}
