// Package fgaclient is a client for an OpenFGA-style authorization service.
//
// A Client is built once from a validated Config. It owns one connection
// pool, one executor (blocking or async, chosen by Config.Mode) and one
// credential provider that shares the executor for token requests. Every
// call made through the Client carries the Authorization header the
// provider produces.
package fgaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/auth"
	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/config"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/stream"
	"github.com/torosent/fgaclient/internal/telemetry"
	"github.com/torosent/fgaclient/internal/transport"
)

// Version is reported in the default User-Agent.
const Version = "0.4.0"

// DefaultUserAgent is sent when the configuration names none.
var DefaultUserAgent = "fgaclient/" + Version

type Client struct {
	cfg      config.Config
	baseURL  *url.URL
	exec     transport.Executor
	provider auth.Provider
	metrics  *clientmetrics.ClientMetrics
	logger   *slog.Logger
	closed   atomic.Bool
}

// Option customizes a Client beyond what Config expresses.
type Option func(*clientOptions)

type clientOptions struct {
	logger        *slog.Logger
	httpClient    *http.Client
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	authOptions   []auth.Option
}

// WithLogger sets the logger. Clients log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithHTTPClient replaces the pooled HTTP client built from the TLS and
// proxy settings. Its Timeout should be zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithTracer sets the tracer used for request spans instead of the global
// tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *clientOptions) { o.tracer = t }
}

// WithMeterProvider records request and credential meters on mp instead of
// the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *clientOptions) { o.meterProvider = mp }
}

func withAuthOptions(opts ...auth.Option) Option {
	return func(o *clientOptions) { o.authOptions = append(o.authOptions, opts...) }
}

// New validates cfg and builds a Client. No network call is made; the
// first token is fetched on the first authenticated request.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", apierror.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL, err := cfg.ResolveAPIURL()
	if err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	meters, err := telemetry.NewMeters(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("meters: %w", err)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	metrics := clientmetrics.New()
	execOpts := transport.Options{
		Pool:       cfg.PoolOptions(),
		HTTPClient: o.httpClient,
		Timeout:    cfg.Timeout,
		Header:     cfg.DefaultHeader(),
		UserAgent:  userAgent,
		RateLimit:  cfg.RateLimit,
		Logger:     o.logger,
		Metrics:    metrics,
		Meters:     meters,
		Tracer:     o.tracer,
		Propagate:  cfg.Tracing.ShouldPropagate(),
	}

	var exec transport.Executor
	switch cfg.Mode {
	case config.ModeAsync:
		exec, err = transport.NewAsyncClient(execOpts)
	default:
		exec, err = transport.NewClient(execOpts)
	}
	if err != nil {
		return nil, err
	}

	authOpts := append([]auth.Option{
		auth.WithRetryPolicy(cfg.RetryPolicy()),
		auth.WithLogger(o.logger),
		auth.WithMeters(meters),
		auth.WithRefreshBeforeExpiry(cfg.Credentials.RefreshBeforeExpiry),
	}, o.authOptions...)
	provider, err := auth.New(cfg.Credentials.Credentials, exec, authOpts...)
	if err != nil {
		_ = exec.Close()
		return nil, err
	}

	return &Client{
		cfg:      *cfg,
		baseURL:  baseURL,
		exec:     exec,
		provider: provider,
		metrics:  metrics,
		logger:   o.logger,
	}, nil
}

// AuthenticationHeader returns the headers the credential provider adds to
// every request, refreshing the token first when it is stale.
func (c *Client) AuthenticationHeader(ctx context.Context) (http.Header, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.provider.AuthenticationHeader(ctx)
}

// Do sends req with the authentication header merged in and returns the
// fully read response. A relative req.URL is resolved against the API URL.
// Non-2xx statuses are returned as *APIError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	prepared, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	prepared.Preload = true
	return c.exec.Execute(ctx, prepared)
}

// Stream sends req on first iteration and yields each newline-delimited
// JSON record of the response body. The sequence can be ranged over once.
func (c *Client) Stream(ctx context.Context, req *Request) iter.Seq2[json.RawMessage, error] {
	var used atomic.Bool
	return func(yield func(json.RawMessage, error) bool) {
		if used.Swap(true) {
			yield(nil, stream.ErrConsumed)
			return
		}
		prepared, err := c.prepare(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		for rec, err := range c.exec.OpenStream(ctx, prepared) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Stats returns the counters of this client's executor.
func (c *Client) Stats() Stats {
	return c.metrics.Snapshot()
}

// Close drops the cached token and releases pooled connections. In async
// mode it waits for in-flight calls.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return errors.Join(c.provider.Close(), c.exec.Close())
}

// prepare copies req, resolves its URL and merges the authentication
// header. A caller supplied Authorization header is left alone.
func (c *Client) prepare(ctx context.Context, req *Request) (*Request, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", apierror.ErrInvalidArgument)
	}
	target, err := c.resolve(req.URL)
	if err != nil {
		return nil, err
	}

	out := *req
	out.URL = target
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if out.Header.Get("Authorization") == "" {
		authHeader, err := c.provider.AuthenticationHeader(ctx)
		if err != nil {
			return nil, err
		}
		maps.Copy(out.Header, authHeader)
	}
	return &out, nil
}

// resolve appends a relative path to the API URL segment for segment as
// written, so escaped separators and dot segments reach the server intact.
func (c *Client) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: request url: %w", apierror.ErrInvalidArgument, err)
	}
	if u.IsAbs() {
		return raw, nil
	}
	out := *c.baseURL
	out.RawQuery = u.RawQuery
	if u.Path != "" {
		out.Path = joinPath(c.baseURL.Path, u.Path)
		out.RawPath = joinPath(c.baseURL.EscapedPath(), u.EscapedPath())
	}
	return out.String(), nil
}

func joinPath(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// storeID returns the store for a call: the override when set, else the
// configured one.
func (c *Client) storeID(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.cfg.StoreID == "" {
		return "", fmt.Errorf("%w: store_id is required", apierror.ErrInvalidArgument)
	}
	return c.cfg.StoreID, nil
}

func (c *Client) modelID(override string) string {
	if override != "" {
		return override
	}
	return c.cfg.AuthorizationModelID
}

// request builds the JSON POST the store endpoints share.
func (c *Client) request(operation, storeID, modelID, path string, body any) *httpclient.Request {
	return &httpclient.Request{
		Method:    http.MethodPost,
		URL:       "/stores/" + url.PathEscape(storeID) + path,
		Header:    http.Header{"Content-Type": {httpclient.ContentTypeJSON}},
		Body:      body,
		Operation: operation,
		Attributes: (&telemetry.Set{}).
			AddString(telemetry.RequestStoreID, storeID).
			AddString(telemetry.RequestModelID, modelID).
			AddString(telemetry.RequestClientID, c.cfg.Credentials.ClientID).
			KeyValues(),
	}
}
