// Package config holds the client configuration and loads it from flags,
// a JSON or YAML file and FGA_* environment variables.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/retry"
)

// Mode selects the executor.
type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeAsync    Mode = "async"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	APIURL               string            `mapstructure:"api_url"`
	APIScheme            string            `mapstructure:"api_scheme"`
	APIHost              string            `mapstructure:"api_host"`
	StoreID              string            `mapstructure:"store_id"`
	AuthorizationModelID string            `mapstructure:"authorization_model_id"`
	Headers              map[string]string `mapstructure:"headers"`
	UserAgent            string            `mapstructure:"user_agent"`
	Timeout              time.Duration     `mapstructure:"timeout"`
	Mode                 Mode              `mapstructure:"mode"`
	MaxConnections       int               `mapstructure:"max_connections"`
	RateLimit            float64           `mapstructure:"rate_limit"`
	Retry                RetryConfig       `mapstructure:"retry"`
	TLS                  TLSConfig         `mapstructure:"tls"`
	Proxy                ProxyConfig       `mapstructure:"proxy"`
	Credentials          CredentialsConfig `mapstructure:"credentials"`
	Tracing              TracingConfig     `mapstructure:"tracing"`
	Log                  logging.Config    `mapstructure:"log"`
	ConfigFile           string            `mapstructure:"-"`
}

// RetryConfig bounds the token endpoint retry loop.
type RetryConfig struct {
	MaxRetry int           `mapstructure:"max_retry"`
	MinWait  time.Duration `mapstructure:"min_wait"`
}

type TLSConfig struct {
	CACertFile         string `mapstructure:"ca_cert_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

type ProxyConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// CredentialsConfig is the credentials descriptor plus the refresh margin
// applied by the client credentials provider.
type CredentialsConfig struct {
	credentials.Credentials `mapstructure:",squash"`
	RefreshBeforeExpiry     time.Duration `mapstructure:"refresh_before_expiry"`
}

// TracingConfig configures the OTLP exporter. Tracing is enabled when an
// endpoint is set here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to Enabled unless Propagate is set explicitly.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Default returns a Config holding every default the loader starts from.
func Default() *Config {
	return &Config{
		Headers:        map[string]string{},
		Timeout:        DefaultTimeout,
		Mode:           ModeBlocking,
		MaxConnections: httpclient.DefaultMaxConnections,
		Retry: RetryConfig{
			MaxRetry: retry.DefaultPolicy.MaxRetry,
			MinWait:  retry.DefaultPolicy.MinWait,
		},
		Credentials: CredentialsConfig{
			Credentials: credentials.Credentials{Method: credentials.MethodNone},
		},
		Tracing: TracingConfig{SampleRate: 1.0},
		Log:     logging.Config{Level: "info", Format: "text"},
	}
}

// ResolveAPIURL returns the base URL of the service. APIURL wins; otherwise
// the legacy api_scheme and api_host pair is used, with https as the
// default scheme.
func (c Config) ResolveAPIURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.APIURL)
	if raw == "" {
		host := strings.TrimSpace(c.APIHost)
		if host == "" {
			return nil, fmt.Errorf("api_url is required")
		}
		scheme := strings.TrimSpace(c.APIScheme)
		if scheme == "" {
			scheme = "https"
		}
		raw = scheme + "://" + host
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("api_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api_url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxRetry: c.Retry.MaxRetry, MinWait: c.Retry.MinWait}.Normalize()
}

// PoolOptions maps the TLS, proxy and pool settings onto the connection
// pool options.
func (c Config) PoolOptions() httpclient.PoolOptions {
	return httpclient.PoolOptions{
		CACertFile:         c.TLS.CACertFile,
		CertFile:           c.TLS.CertFile,
		KeyFile:            c.TLS.KeyFile,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		MaxConnections:     c.MaxConnections,
		ProxyURL:           c.Proxy.URL,
		ProxyHeaders:       toHeader(c.Proxy.Headers),
	}
}

// DefaultHeader returns the configured default headers, canonicalized.
func (c Config) DefaultHeader() http.Header {
	return toHeader(c.Headers)
}

func toHeader(m map[string]string) http.Header {
	if len(m) == 0 {
		return nil
	}
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if _, err := c.ResolveAPIURL(); err != nil {
		issues = append(issues, err.Error())
	}

	switch c.Mode {
	case "", ModeBlocking, ModeAsync:
	default:
		issues = append(issues, fmt.Sprintf("mode must be %q or %q, got %q", ModeBlocking, ModeAsync, c.Mode))
	}

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.MaxConnections < 0 {
		issues = append(issues, "max_connections must be >= 0")
	}
	if c.RateLimit < 0 {
		issues = append(issues, "rate_limit must be >= 0")
	}
	if c.Retry.MaxRetry < 0 {
		issues = append(issues, "retry.max_retry must be >= 0")
	}
	if c.Retry.MinWait < 0 {
		issues = append(issues, "retry.min_wait must be >= 0")
	}

	for key := range c.Headers {
		if strings.TrimSpace(key) == "" {
			issues = append(issues, "header key cannot be empty")
			break
		}
	}

	issues = append(issues, validateTLSConfig(c.TLS)...)
	issues = append(issues, validateProxyConfig(c.Proxy)...)
	issues = append(issues, validateCredentialsConfig(c.Credentials)...)
	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if c.TLS.InsecureSkipVerify {
		fmt.Fprintln(os.Stderr, "WARNING: TLS verification is DISABLED (insecure_skip_verify: true). This should ONLY be used in development environments.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

func validateTLSConfig(t TLSConfig) []string {
	var issues []string
	if strings.TrimSpace(t.KeyFile) != "" && strings.TrimSpace(t.CertFile) == "" {
		issues = append(issues, "tls.key_file requires tls.cert_file")
	}
	return issues
}

func validateProxyConfig(p ProxyConfig) []string {
	raw := strings.TrimSpace(p.URL)
	if raw == "" {
		if len(p.Headers) > 0 {
			return []string{"proxy.headers require proxy.url"}
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []string{fmt.Sprintf("proxy.url %q is not a valid URL", raw)}
	}
	return nil
}

func validateCredentialsConfig(c CredentialsConfig) []string {
	var issues []string
	if err := c.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	if c.RefreshBeforeExpiry < 0 {
		issues = append(issues, "credentials.refresh_before_expiry must be >= 0")
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be \"grpc\" or \"http\", got %q", t.Protocol))
	}
	return issues
}
