package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/retry"
	"github.com/torosent/fgaclient/internal/telemetry"
	"github.com/torosent/fgaclient/internal/transport"
)

// Token is a bearer token and the instant it stops being usable.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// ValidAt reports whether the token can be sent at now. A token whose
// expiry equals now is already stale.
func (t Token) ValidAt(now time.Time) bool {
	return t.AccessToken != "" && t.Expiry.After(now)
}

// ClientCredentialsProvider implements the OAuth2 client credentials flow
// over a transport.Executor. It is safe for concurrent use; concurrent
// callers that find the token stale share one refresh.
type ClientCredentialsProvider struct {
	creds    credentials.Credentials
	endpoint string
	exec     transport.Executor
	opts     options
	logger   *slog.Logger

	mu    sync.RWMutex
	token Token
	group singleflight.Group

	flightMu sync.Mutex
	flight   *flight
	flights  uint64
}

// flight is one shared refresh. Its context outlives the caller that
// started it and is cancelled once every waiting caller has given up.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewClientCredentialsProvider validates creds and resolves the token
// endpoint. No network call is made until the first Token call.
func NewClientCredentialsProvider(creds credentials.Credentials, exec transport.Executor, opts ...Option) (*ClientCredentialsProvider, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: client credentials need an executor", apierror.ErrInvalidArgument)
	}
	if creds.EffectiveMethod() != credentials.MethodClientCredentials {
		return nil, fmt.Errorf("%w: method %q is not %q", credentials.ErrInvalidCredentials, creds.EffectiveMethod(), credentials.MethodClientCredentials)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	endpoint, err := credentials.TokenEndpoint(creds.APIIssuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", credentials.ErrInvalidCredentials, err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &ClientCredentialsProvider{
		creds:    creds,
		endpoint: endpoint,
		exec:     exec,
		opts:     o,
		logger:   logger.With("token_endpoint", endpoint, "client_id", creds.ClientID),
	}, nil
}

// Endpoint returns the resolved token endpoint URL.
func (p *ClientCredentialsProvider) Endpoint() string {
	return p.endpoint
}

// Token returns the cached access token, refreshing it first when stale.
// A caller whose ctx ends while a shared refresh is running returns
// ctx.Err(); the refresh keeps going for the remaining callers.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok.AccessToken, nil
	}

	f := p.join(ctx)
	defer p.leave(f)

	results := p.group.DoChan(f.key, func() (any, error) {
		// another caller may have refreshed while this one waited
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		tok, err := p.refresh(f.ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.token = tok
		p.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Token).AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *ClientCredentialsProvider) join(ctx context.Context) *flight {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if p.flight == nil {
		p.flights++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.flight = &flight{
			key:    "token-" + strconv.FormatUint(p.flights, 10),
			ctx:    fctx,
			cancel: cancel,
		}
	}
	p.flight.waiters++
	return p.flight
}

func (p *ClientCredentialsProvider) leave(f *flight) {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if p.flight == f {
		p.flight = nil
	}
}

func (p *ClientCredentialsProvider) AuthenticationHeader(ctx context.Context) (http.Header, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return nil, err
	}
	return bearer(token), nil
}

// Close drops the cached token. The executor belongs to the caller.
func (p *ClientCredentialsProvider) Close() error {
	p.mu.Lock()
	p.token = Token{}
	p.mu.Unlock()
	return nil
}

func (p *ClientCredentialsProvider) cached() (Token, bool) {
	p.mu.RLock()
	tok := p.token
	p.mu.RUnlock()
	return tok, tok.ValidAt(p.opts.now().Add(p.opts.refreshBeforeExpiry))
}

func (p *ClientCredentialsProvider) form() url.Values {
	form := url.Values{}
	form.Set("client_id", p.creds.ClientID)
	form.Set("client_secret", p.creds.ClientSecret)
	form.Set("audience", p.creds.APIAudience)
	form.Set("grant_type", "client_credentials")
	if scope := p.creds.ScopeString(); scope != "" {
		form.Set("scope", scope)
	}
	return form
}

// refresh runs the retry loop against the token endpoint. Attempts are
// numbered 0..MaxRetry; only 429 and 5xx other than 501 are retried.
func (p *ClientCredentialsProvider) refresh(ctx context.Context) (Token, error) {
	logger := logging.FromContext(ctx, p.logger)
	params := httpclient.FormParams(p.form())
	policy := p.opts.policy

	for attempt := 0; ; attempt++ {
		resp, err := p.exec.Execute(ctx, &httpclient.Request{
			Method: http.MethodPost,
			URL:    p.endpoint,
			Header: http.Header{
				"Content-Type": {httpclient.ContentTypeForm},
				"Accept":       {httpclient.ContentTypeJSON},
				"X-Request-Id": {ulid.Make().String()},
			},
			PostParams: params,
			Preload:    true,
			Operation:  "ClientCredentialsExchange",
			Attributes: []attribute.KeyValue{
				telemetry.RequestClientID.String(p.creds.ClientID),
				telemetry.HTTPRequestResendCount.Int(attempt),
			},
		})
		status, body := outcome(resp, err)

		var attrs telemetry.Set
		attrs.AddString(telemetry.RequestClientID, p.creds.ClientID).
			AddString(telemetry.HTTPRequestMethod, http.MethodPost).
			AddInt(telemetry.HTTPRequestResendCount, attempt)
		if status != 0 {
			attrs.AddInt(telemetry.HTTPResponseStatusCode, status)
		}
		p.opts.meters.RecordCredentialsRequest(ctx, attrs.KeyValues())

		if err == nil {
			tok, perr := parseToken(resp.Data, p.opts.now())
			if perr != nil {
				return Token{}, apierror.NewAuthenticationError(status, resp.Data, perr)
			}
			logger.Debug("token refreshed", "attempt", attempt, "expiry", tok.Expiry)
			return tok, nil
		}
		if status == 0 {
			return Token{}, apierror.NewAuthenticationError(0, nil, err)
		}
		if !retry.Retryable(status) || attempt >= policy.MaxRetry {
			return Token{}, apierror.NewAuthenticationError(status, body, err)
		}

		wait := retry.Backoff(attempt, policy.MinWait, p.opts.random)
		logger.Warn("token request failed, retrying",
			"status", status,
			"attempt", attempt,
			"max_retry", policy.MaxRetry,
			"wait", wait,
		)
		if serr := p.opts.sleep(ctx, wait); serr != nil {
			return Token{}, apierror.NewAuthenticationError(status, body, serr)
		}
	}
}

// outcome extracts the status and body of a token endpoint answer. A zero
// status means the endpoint was never reached.
func outcome(resp *transport.Response, err error) (int, []byte) {
	if err == nil {
		return resp.StatusCode, resp.Data
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, apiErr.Body
	}
	return 0, nil
}

var (
	errTokenNotJSON       = errors.New("token response is not valid JSON")
	errMissingAccessToken = errors.New("token response has no access_token")
	errMissingExpiresIn   = errors.New("token response has no usable expires_in")
)

func parseToken(body []byte, now time.Time) (Token, error) {
	if !gjson.ValidBytes(body) {
		return Token{}, errTokenNotJSON
	}
	parsed := gjson.ParseBytes(body)

	access := parsed.Get("access_token")
	if access.Type != gjson.String || access.String() == "" {
		return Token{}, errMissingAccessToken
	}
	expires := parsed.Get("expires_in")
	var seconds int64
	switch expires.Type {
	case gjson.Number:
		seconds = expires.Int()
	case gjson.String:
		// some issuers quote the number
		seconds = expires.Int()
	}
	if seconds <= 0 {
		return Token{}, errMissingExpiresIn
	}

	return Token{
		AccessToken: access.String(),
		Expiry:      now.Add(time.Duration(seconds) * time.Second),
	}, nil
}
