// Package servicex reports lookup results to the ServiceX app over its
// internal REST interface.
package servicex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ssl-hep/ServiceX-DID/errors"
	"github.com/ssl-hep/ServiceX-DID/internal/httpclient"
	"github.com/ssl-hep/ServiceX-DID/logger"
	"github.com/ssl-hep/ServiceX-DID/metrics"
)

// StatusSource identifies this service in status messages.
const StatusSource = "DID Finder"

// Defaults for Config fields left at zero.
const (
	DefaultBulkChunkSize = 300
	DefaultRetryMax      = 2
	DefaultRetryWait     = time.Second
	DefaultTimeout       = 30 * time.Second
)

// Config controls delivery to ServiceX.
type Config struct {
	// BulkChunkSize caps the number of files per bulk PUT.
	BulkChunkSize int

	// RetryMax is the number of retries after the first attempt. Only
	// connection failures are retried. Negative disables retries.
	RetryMax int

	// RetryWait is the fixed pause between attempts.
	RetryWait time.Duration

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// RateLimit is the maximum requests per second; zero is unlimited.
	RateLimit float64
	RateBurst int

	// PathPrefix is prepended to every file path, to route reads through a
	// caching proxy.
	PathPrefix string
}

func (c Config) withDefaults() Config {
	if c.BulkChunkSize <= 0 {
		c.BulkChunkSize = DefaultBulkChunkSize
	}
	if c.RetryMax == 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = DefaultRetryWait
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// Client is shared by all requests of a finder process.
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	policy  *httpclient.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time
	agent   string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records attempts and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.policy = httpclient.Wrap(hc) }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(agent string) Option {
	return func(c *Client) { c.agent = agent }
}

// NewClient creates a reporting client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		policy: httpclient.New(cfg.Timeout, httpclient.Options{}),
		log:    logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.ComponentLogger(c.log, "servicex")

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = c.policy.Client
	rc.Logger = nil
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = cfg.RetryWait
	rc.CheckRetry = retryOnConnectionError
	rc.Backoff = func(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return min
	}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		op, _ := req.Context().Value(opKey{}).(string)
		c.metrics.ReportAttempt(op)
		if attempt > 0 {
			c.log.Warnw("Retrying ServiceX request",
				logger.FieldEndpoint, req.URL.String(),
				logger.FieldAttempt, attempt+1)
		}
	}
	c.http = rc
	return c
}

// retryOnConnectionError retries transport failures only. Any HTTP response,
// including 5xx, is final.
func retryOnConnectionError(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Target addresses one transformation request in the ServiceX app.
type Target struct {
	// Endpoint is the base URL supplied with the request.
	Endpoint string

	// DatasetID selects the dataset-scoped layout
	// (<endpoint>/<dataset_id>/<op>) when set.
	DatasetID string
}

// For returns a Reporter bound to target.
func (c *Client) For(target Target) (*Reporter, error) {
	endpoint := strings.TrimRight(target.Endpoint, "/")
	if _, err := c.policy.ValidateURL(endpoint); err != nil {
		return nil, errors.Wrapf(err, "invalid ServiceX endpoint %q", target.Endpoint)
	}

	base := endpoint
	if target.DatasetID != "" {
		base = endpoint + "/" + url.PathEscape(target.DatasetID)
	}

	log := c.log.With(logger.FieldEndpoint, endpoint)
	if target.DatasetID != "" {
		log = log.With(logger.FieldDatasetID, target.DatasetID)
	}
	return &Reporter{client: c, base: base, datasetScoped: target.DatasetID != "", log: log}, nil
}

type opKey struct{}

// send delivers one request. Failures are logged and counted, never
// returned.
func (c *Client) send(ctx context.Context, log *zap.SugaredLogger, op, method, target, contentType string, body []byte) bool {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			log.Warnw("Rate limiter aborted ServiceX request", logger.FieldError, err)
			c.metrics.ReportFailed(op)
			return false
		}
	}

	req, err := retryablehttp.NewRequestWithContext(context.WithValue(ctx, opKey{}, op), method, target, body)
	if err != nil {
		log.Errorw("Failed to build ServiceX request", logger.FieldEndpoint, target, logger.FieldError, err)
		c.metrics.ReportFailed(op)
		return false
	}
	req.Header.Set("Content-Type", contentType)
	if c.agent != "" {
		req.Header.Set("User-Agent", c.agent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Errorw("Failed to reach ServiceX app, ignoring",
			logger.FieldEndpoint, target,
			logger.FieldAttempt, c.cfg.RetryMax+1,
			logger.FieldError, err)
		c.metrics.ReportFailed(op)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Errorw("ServiceX app rejected request",
			logger.FieldEndpoint, target,
			logger.FieldStatus, resp.StatusCode,
			"body", string(bytes.TrimSpace(detail)))
		c.metrics.ReportFailed(op)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}

func (c *Client) sendJSON(ctx context.Context, log *zap.SugaredLogger, op, method, target string, v any) bool {
	body, err := json.Marshal(v)
	if err != nil {
		log.Errorw("Failed to encode ServiceX message", logger.FieldError, err)
		c.metrics.ReportFailed(op)
		return false
	}
	return c.send(ctx, log, op, method, target, "application/json", body)
}

func (c *Client) timestamp() string {
	return c.now().Format("2006-01-02T15:04:05.000000")
}

func (c *Client) prefixed(paths []string) []string {
	if c.cfg.PathPrefix == "" {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.cfg.PathPrefix + p
	}
	return out
}
