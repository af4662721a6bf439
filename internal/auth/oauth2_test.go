package auth

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/retry"
	"github.com/torosent/fgaclient/internal/transport"
)

// mockTokenServer answers token requests with a scripted list of statuses,
// then with success.
type mockTokenServer struct {
	server   *httptest.Server
	requests atomic.Int32

	mu        sync.Mutex
	statuses  []int
	errorBody string
	body      string
	delay     time.Duration
	forms     []url.Values
	headers   []http.Header
	paths     []string
}

func newMockTokenServer(statuses ...int) *mockTokenServer {
	m := &mockTokenServer{
		statuses:  statuses,
		body:      `{"access_token":"test-token-123","token_type":"Bearer","expires_in":3600}`,
		errorBody: `{"error":"temporarily_unavailable"}`,
	}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(m.requests.Add(1)) - 1
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.forms = append(m.forms, r.PostForm)
		m.headers = append(m.headers, r.Header.Clone())
		m.paths = append(m.paths, r.URL.Path)
		delay := m.delay
		status := http.StatusOK
		if n < len(m.statuses) {
			status = m.statuses[n]
		}
		body := m.body
		if status != http.StatusOK {
			body = m.errorBody
		}
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	return m
}

func (m *mockTokenServer) setBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = body
}

func (m *mockTokenServer) count() int {
	return int(m.requests.Load())
}

func (m *mockTokenServer) close() {
	m.server.Close()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func testCredentials(issuer string) credentials.Credentials {
	return credentials.Credentials{
		Method:       credentials.MethodClientCredentials,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		APIAudience:  "https://api.fga.example/",
		APIIssuer:    issuer,
		Scopes:       []string{"read", "write"},
	}
}

type executorFactory struct {
	name string
	new  func(t *testing.T) transport.Executor
}

func executorFactories() []executorFactory {
	return []executorFactory{
		{"blocking", func(t *testing.T) transport.Executor {
			t.Helper()
			c, err := transport.NewClient(transport.Options{})
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			t.Cleanup(func() { _ = c.Close() })
			return c
		}},
		{"async", func(t *testing.T) transport.Executor {
			t.Helper()
			c, err := transport.NewAsyncClient(transport.Options{})
			if err != nil {
				t.Fatalf("NewAsyncClient() error = %v", err)
			}
			t.Cleanup(func() { _ = c.Close() })
			return c
		}},
	}
}

func newTestProvider(t *testing.T, exec transport.Executor, issuer string, opts ...Option) *ClientCredentialsProvider {
	t.Helper()
	p, err := NewClientCredentialsProvider(testCredentials(issuer), exec, opts...)
	if err != nil {
		t.Fatalf("NewClientCredentialsProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestClientCredentialsSendsTokenRequest(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			defer mock.close()

			p := newTestProvider(t, ef.new(t), mock.server.URL)
			header, err := p.AuthenticationHeader(context.Background())
			if err != nil {
				t.Fatalf("AuthenticationHeader() error = %v", err)
			}
			if got := header.Get("Authorization"); got != "Bearer test-token-123" {
				t.Errorf("Authorization = %q, want Bearer test-token-123", got)
			}

			mock.mu.Lock()
			defer mock.mu.Unlock()
			if mock.paths[0] != "/oauth/token" {
				t.Errorf("path = %q, want /oauth/token", mock.paths[0])
			}
			form := mock.forms[0]
			want := map[string]string{
				"client_id":     "test-client",
				"client_secret": "test-secret",
				"audience":      "https://api.fga.example/",
				"grant_type":    "client_credentials",
				"scope":         "read write",
			}
			for k, v := range want {
				if form.Get(k) != v {
					t.Errorf("form[%s] = %q, want %q", k, form.Get(k), v)
				}
			}
			h := mock.headers[0]
			if h.Get("Content-Type") != "application/x-www-form-urlencoded" {
				t.Errorf("Content-Type = %q", h.Get("Content-Type"))
			}
			if h.Get("X-Request-Id") == "" {
				t.Error("X-Request-Id header missing")
			}
		})
	}
}

func TestTokenCachedWhileValid(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			defer mock.close()

			p := newTestProvider(t, ef.new(t), mock.server.URL)
			ctx := context.Background()
			first, err := p.AuthenticationHeader(ctx)
			if err != nil {
				t.Fatalf("first AuthenticationHeader() error = %v", err)
			}
			second, err := p.AuthenticationHeader(ctx)
			if err != nil {
				t.Fatalf("second AuthenticationHeader() error = %v", err)
			}
			if first.Get("Authorization") != second.Get("Authorization") {
				t.Errorf("headers differ: %q vs %q", first.Get("Authorization"), second.Get("Authorization"))
			}
			if mock.count() != 1 {
				t.Errorf("token requests = %d, want 1", mock.count())
			}
		})
	}
}

func TestTokenStaleAtExpiry(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			defer mock.close()
			mock.setBody(`{"access_token":"short-lived","expires_in":60}`)

			clock := newFakeClock()
			p := newTestProvider(t, ef.new(t), mock.server.URL, WithClock(clock.Now))
			ctx := context.Background()

			if _, err := p.Token(ctx); err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			clock.Advance(59 * time.Second)
			if _, err := p.Token(ctx); err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if mock.count() != 1 {
				t.Fatalf("token requests before expiry = %d, want 1", mock.count())
			}

			// expiry equal to now counts as stale
			clock.Advance(time.Second)
			if _, err := p.Token(ctx); err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if mock.count() != 2 {
				t.Errorf("token requests after expiry = %d, want 2", mock.count())
			}
		})
	}
}

func TestRefreshBeforeExpiryMargin(t *testing.T) {
	mock := newMockTokenServer()
	defer mock.close()
	mock.setBody(`{"access_token":"tok","expires_in":60}`)

	clock := newFakeClock()
	exec := executorFactories()[0].new(t)
	p := newTestProvider(t, exec, mock.server.URL, WithClock(clock.Now), WithRefreshBeforeExpiry(10*time.Second))

	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	clock.Advance(50 * time.Second)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if mock.count() != 2 {
		t.Errorf("token requests = %d, want 2 (refresh inside the margin)", mock.count())
	}
}

func TestRefreshRetriesRetryableStatuses(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer(http.StatusTooManyRequests, http.StatusServiceUnavailable)
			defer mock.close()

			sleeper := &recordingSleeper{}
			p := newTestProvider(t, ef.new(t), mock.server.URL,
				WithRetryPolicy(retry.Policy{MaxRetry: 3, MinWait: 100 * time.Millisecond}),
				WithRandom(retry.ZeroSource{}),
				WithSleeper(sleeper.Sleep),
			)

			token, err := p.Token(context.Background())
			if err != nil {
				t.Fatalf("Token() error = %v", err)
			}
			if token != "test-token-123" {
				t.Errorf("token = %q", token)
			}
			if mock.count() != 3 {
				t.Errorf("token requests = %d, want 3", mock.count())
			}
			want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
			got := sleeper.recorded()
			if len(got) != len(want) {
				t.Fatalf("sleeps = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("sleep[%d] = %s, want %s", i, got[i], want[i])
				}
			}
		})
	}
}

func TestRefreshStopsAfterMaxRetry(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer(429, 429, 429, 429, 429, 429)
			defer mock.close()

			sleeper := &recordingSleeper{}
			p := newTestProvider(t, ef.new(t), mock.server.URL,
				WithRetryPolicy(retry.Policy{MaxRetry: 3, MinWait: time.Millisecond}),
				WithSleeper(sleeper.Sleep),
			)

			_, err := p.Token(context.Background())
			if !errors.Is(err, apierror.ErrAuthentication) {
				t.Fatalf("Token() error = %v, want authentication error", err)
			}
			if mock.count() != 4 {
				t.Errorf("token requests = %d, want 4", mock.count())
			}
			if n := len(sleeper.recorded()); n != 3 {
				t.Errorf("sleeps = %d, want 3", n)
			}
			var authErr *apierror.AuthenticationError
			if !errors.As(err, &authErr) {
				t.Fatalf("error %T is not *AuthenticationError", err)
			}
			if authErr.StatusCode != http.StatusTooManyRequests {
				t.Errorf("StatusCode = %d, want 429", authErr.StatusCode)
			}
			if authErr.OAuthError != "temporarily_unavailable" {
				t.Errorf("OAuthError = %q", authErr.OAuthError)
			}
			if !errors.Is(err, apierror.ErrRateLimited) {
				t.Errorf("error should wrap the rate limited response: %v", err)
			}
		})
	}
}

func TestRefreshDoesNotRetryTerminalStatuses(t *testing.T) {
	cases := []int{http.StatusNotImplemented, http.StatusUnauthorized, http.StatusBadRequest, http.StatusForbidden}
	for _, ef := range executorFactories() {
		for _, status := range cases {
			t.Run(fmt.Sprintf("%s/%d", ef.name, status), func(t *testing.T) {
				mock := newMockTokenServer(status, status)
				defer mock.close()

				sleeper := &recordingSleeper{}
				p := newTestProvider(t, ef.new(t), mock.server.URL, WithSleeper(sleeper.Sleep))
				_, err := p.Token(context.Background())
				if !errors.Is(err, apierror.ErrAuthentication) {
					t.Fatalf("Token() error = %v, want authentication error", err)
				}
				if mock.count() != 1 {
					t.Errorf("token requests = %d, want 1", mock.count())
				}
				if len(sleeper.recorded()) != 0 {
					t.Errorf("slept %v, want no sleeps", sleeper.recorded())
				}
				if got, _ := apierror.StatusCode(err); got != status {
					t.Errorf("StatusCode = %d, want %d", got, status)
				}
			})
		}
	}
}

func TestRefreshRejectsIncompleteTokenResponses(t *testing.T) {
	cases := map[string]string{
		"not json":             `access_token=abc`,
		"missing access token": `{"expires_in":3600}`,
		"empty access token":   `{"access_token":"","expires_in":3600}`,
		"missing expires in":   `{"access_token":"abc"}`,
		"zero expires in":      `{"access_token":"abc","expires_in":0}`,
		"bad expires in":       `{"access_token":"abc","expires_in":"soon"}`,
	}
	for _, ef := range executorFactories() {
		for name, body := range cases {
			t.Run(ef.name+"/"+name, func(t *testing.T) {
				mock := newMockTokenServer()
				defer mock.close()
				mock.setBody(body)

				p := newTestProvider(t, ef.new(t), mock.server.URL)
				_, err := p.Token(context.Background())
				if !errors.Is(err, apierror.ErrAuthentication) {
					t.Fatalf("Token() error = %v, want authentication error", err)
				}
				if mock.count() != 1 {
					t.Errorf("token requests = %d, want 1", mock.count())
				}
			})
		}
	}
}

func TestParseTokenAcceptsQuotedExpiresIn(t *testing.T) {
	now := time.Unix(1000, 0)
	tok, err := parseToken([]byte(`{"access_token":"abc","expires_in":"120"}`), now)
	if err != nil {
		t.Fatalf("parseToken() error = %v", err)
	}
	if !tok.Expiry.Equal(now.Add(120 * time.Second)) {
		t.Errorf("Expiry = %s, want now+120s", tok.Expiry)
	}
	if tok.ValidAt(tok.Expiry) {
		t.Error("token must be stale at its expiry instant")
	}
	if !tok.ValidAt(tok.Expiry.Add(-time.Nanosecond)) {
		t.Error("token must be valid just before its expiry")
	}
}

func TestRefreshNetworkFailureIsTerminal(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			issuer := mock.server.URL
			mock.close()

			sleeper := &recordingSleeper{}
			p := newTestProvider(t, ef.new(t), issuer, WithSleeper(sleeper.Sleep))
			_, err := p.Token(context.Background())
			if !errors.Is(err, apierror.ErrAuthentication) {
				t.Fatalf("Token() error = %v, want authentication error", err)
			}
			if !errors.Is(err, apierror.ErrTransport) {
				t.Errorf("Token() error = %v, want wrapped transport error", err)
			}
			if len(sleeper.recorded()) != 0 {
				t.Errorf("network failures must not be retried, slept %v", sleeper.recorded())
			}
		})
	}
}

func TestRefreshHonoursCancellationDuringBackoff(t *testing.T) {
	mock := newMockTokenServer(http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	defer mock.close()

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestProvider(t, executorFactories()[0].new(t), mock.server.URL,
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return retry.Sleep(ctx, d)
		}),
	)
	_, err := p.Token(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Token() error = %v, want context.Canceled", err)
	}
	if mock.count() != 1 {
		t.Errorf("token requests = %d, want 1", mock.count())
	}
}

func TestJitteredBackoffStaysInWindow(t *testing.T) {
	mock := newMockTokenServer(500, 502, 503)
	defer mock.close()

	sleeper := &recordingSleeper{}
	minWait := 50 * time.Millisecond
	p := newTestProvider(t, executorFactories()[0].new(t), mock.server.URL,
		WithRetryPolicy(retry.Policy{MaxRetry: 3, MinWait: minWait}),
		WithRandom(rand.New(rand.NewPCG(7, 11))),
		WithSleeper(sleeper.Sleep),
	)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	sleeps := sleeper.recorded()
	if len(sleeps) != 3 {
		t.Fatalf("sleeps = %v, want 3", sleeps)
	}
	for n, d := range sleeps {
		lo := minWait << n
		if d < lo || d >= 2*lo {
			t.Errorf("sleep[%d] = %s, want in [%s, %s)", n, d, lo, 2*lo)
		}
	}
}

func TestConcurrentCallersShareRefresh(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			defer mock.close()
			mock.mu.Lock()
			mock.delay = 50 * time.Millisecond
			mock.mu.Unlock()

			p := newTestProvider(t, ef.new(t), mock.server.URL)

			var wg sync.WaitGroup
			errs := make(chan error, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					token, err := p.Token(context.Background())
					if err == nil && token != "test-token-123" {
						err = fmt.Errorf("unexpected token %q", token)
					}
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Errorf("Token() error = %v", err)
				}
			}
			if mock.count() != 1 {
				t.Errorf("token requests = %d, want 1", mock.count())
			}
		})
	}
}

func TestSharedRefreshOutlivesImpatientCaller(t *testing.T) {
	for _, ef := range executorFactories() {
		t.Run(ef.name, func(t *testing.T) {
			mock := newMockTokenServer()
			defer mock.close()
			mock.mu.Lock()
			mock.delay = 400 * time.Millisecond
			mock.mu.Unlock()

			p := newTestProvider(t, ef.new(t), mock.server.URL)

			short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			shortErr := make(chan error, 1)
			go func() {
				_, err := p.Token(short)
				shortErr <- err
			}()

			for mock.count() == 0 {
				time.Sleep(5 * time.Millisecond)
			}
			token, err := p.Token(context.Background())
			if err != nil {
				t.Fatalf("Token() with a live context error = %v", err)
			}
			if token != "test-token-123" {
				t.Errorf("token = %q", token)
			}
			if err := <-shortErr; !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("short caller error = %v, want context.DeadlineExceeded", err)
			}
			if mock.count() != 1 {
				t.Errorf("token requests = %d, want 1", mock.count())
			}
		})
	}
}

func TestRefreshAbandonedByEveryCallerStops(t *testing.T) {
	mock := newMockTokenServer(http.StatusServiceUnavailable)
	defer mock.close()

	sleeping := make(chan struct{})
	stopped := make(chan error, 1)
	p := newTestProvider(t, executorFactories()[0].new(t), mock.server.URL,
		WithRetryPolicy(retry.Policy{MaxRetry: 3, MinWait: time.Hour}),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			close(sleeping)
			err := retry.Sleep(ctx, d)
			stopped <- err
			return err
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sleeping
		cancel()
	}()
	if _, err := p.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Token() error = %v, want context.Canceled", err)
	}
	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("backoff ended with %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresh kept running after its only caller left")
	}
	if mock.count() != 1 {
		t.Errorf("token requests = %d, want 1", mock.count())
	}
}

func TestNewClientCredentialsProviderValidates(t *testing.T) {
	exec := executorFactories()[0].new(t)

	creds := testCredentials("https://issuer.example")
	creds.ClientSecret = ""
	if _, err := NewClientCredentialsProvider(creds, exec); !errors.Is(err, credentials.ErrInvalidCredentials) {
		t.Errorf("missing secret error = %v, want ErrInvalidCredentials", err)
	}

	creds = testCredentials("ftp://issuer.example")
	if _, err := NewClientCredentialsProvider(creds, exec); !errors.Is(err, credentials.ErrInvalidIssuerScheme) {
		t.Errorf("ftp issuer error = %v, want ErrInvalidIssuerScheme", err)
	}

	if _, err := NewClientCredentialsProvider(testCredentials("issuer.example"), nil); !errors.Is(err, apierror.ErrInvalidArgument) {
		t.Errorf("nil executor error = %v, want ErrInvalidArgument", err)
	}

	p, err := NewClientCredentialsProvider(testCredentials("issuer.example"), exec)
	if err != nil {
		t.Fatalf("NewClientCredentialsProvider() error = %v", err)
	}
	if p.Endpoint() != "https://issuer.example/oauth/token" {
		t.Errorf("Endpoint() = %q", p.Endpoint())
	}
}
