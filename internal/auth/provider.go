// Package auth produces the Authorization header for requests to the
// authorization service. The client credentials provider owns the token
// lifecycle: it caches a bearer token until it expires and refreshes it
// against the token endpoint with a bounded retry loop.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/retry"
	"github.com/torosent/fgaclient/internal/telemetry"
	"github.com/torosent/fgaclient/internal/transport"
)

// Provider defines the interface for authentication providers.
type Provider interface {
	// Token retrieves a valid token, using the cached value when it has not
	// expired. Providers without a token return "".
	Token(ctx context.Context) (string, error)

	// AuthenticationHeader returns the headers to merge into an outgoing
	// request. The result is empty for unauthenticated clients.
	AuthenticationHeader(ctx context.Context) (http.Header, error)

	// Close releases any resources held by the provider.
	Close() error
}

// New returns the provider for creds.Method. The client credentials
// provider sends its token requests through exec; the executor is shared
// with the caller and is not closed by the provider.
func New(creds credentials.Credentials, exec transport.Executor, opts ...Option) (Provider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	switch creds.EffectiveMethod() {
	case credentials.MethodNone:
		return NoneProvider{}, nil
	case credentials.MethodAPIToken:
		return NewStaticTokenProvider(creds.APIToken), nil
	case credentials.MethodClientCredentials:
		return NewClientCredentialsProvider(creds, exec, opts...)
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", credentials.ErrInvalidCredentials, creds.Method)
	}
}

// Option configures the client credentials provider.
type Option func(*options)

type options struct {
	policy              retry.Policy
	now                 func() time.Time
	random              retry.Source
	sleep               retry.Sleeper
	logger              *slog.Logger
	meters              *telemetry.Meters
	refreshBeforeExpiry time.Duration
}

func defaultOptions() options {
	return options{
		policy: retry.DefaultPolicy,
		now:    time.Now,
		random: retry.NewLockedSource(nil),
		sleep:  retry.Sleep,
	}
}

// WithRetryPolicy sets the token endpoint retry budget.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = p.Normalize() }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRandom sets the jitter source. A nil source pins every wait to the
// low end of its window.
func WithRandom(src retry.Source) Option {
	return func(o *options) { o.random = src }
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMeters(m *telemetry.Meters) Option {
	return func(o *options) { o.meters = m }
}

// WithRefreshBeforeExpiry treats a token as stale d before it actually
// expires.
func WithRefreshBeforeExpiry(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshBeforeExpiry = d
		}
	}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}
