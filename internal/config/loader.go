package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/fgaclient/internal/credentials"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// envBindings maps setting keys to the environment variables that may
// supply them. Environment values override the config file; flags override
// both.
var envBindings = map[string]string{
	"api_url":                   "FGA_API_URL",
	"api_scheme":                "FGA_API_SCHEME",
	"api_host":                  "FGA_API_HOST",
	"store_id":                  "FGA_STORE_ID",
	"authorization_model_id":    "FGA_MODEL_ID",
	"mode":                      "FGA_MODE",
	"credentials.method":        "FGA_CREDENTIALS_METHOD",
	"credentials.client_id":     "FGA_CLIENT_ID",
	"credentials.client_secret": "FGA_CLIENT_SECRET",
	"credentials.api_audience":  "FGA_API_AUDIENCE",
	"credentials.api_issuer":    "FGA_API_ISSUER",
	"credentials.api_token":     "FGA_API_TOKEN",
	"credentials.scopes":        "FGA_SCOPES",
	"log.level":                 "FGA_LOG_LEVEL",
	"log.format":                "FGA_LOG_FORMAT",
}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments, the optional configuration file and
// the environment to produce a Config. The result is not validated.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	return l.LoadFlags(flagSet)
}

// LoadFlags builds a Config from an already parsed flag set carrying the
// flags registered by RegisterFlags.
func (Loader) LoadFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	for key, env := range envBindings {
		if err := cfgViper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.APIURL = strings.TrimSpace(cfg.APIURL)
	cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	cfg.Credentials.Method = credentials.Method(strings.ToLower(strings.TrimSpace(string(cfg.Credentials.Method))))

	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file and the
// environment to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if val, ok := lookupSetting(settings, "api_url", "apiUrl", "api-url"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("api_url: %w", err)
		}
		cfg.APIURL = str
	}
	if val, ok := lookupSetting(settings, "api_scheme", "apiScheme"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("api_scheme: %w", err)
		}
		cfg.APIScheme = str
	}
	if val, ok := lookupSetting(settings, "api_host", "apiHost"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("api_host: %w", err)
		}
		cfg.APIHost = str
	}
	if val, ok := lookupSetting(settings, "store_id", "storeId", "store-id"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("store_id: %w", err)
		}
		cfg.StoreID = strings.TrimSpace(str)
	}
	if val, ok := lookupSetting(settings, "authorization_model_id", "authorizationModelId", "model_id"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("authorization_model_id: %w", err)
		}
		cfg.AuthorizationModelID = strings.TrimSpace(str)
	}
	if val, ok := lookupSetting(settings, "headers"); ok {
		headers, err := asStringMap(val)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		cfg.Headers = canonicalHeaders(headers)
	}
	if val, ok := lookupSetting(settings, "user_agent", "userAgent", "user-agent"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("user_agent: %w", err)
		}
		cfg.UserAgent = str
	}
	if val, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(val)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}
	if val, ok := lookupSetting(settings, "mode"); ok {
		str, err := asString(val)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(str)))
	}
	if val, ok := lookupSetting(settings, "max_connections", "maxConnections", "max-connections"); ok {
		n, err := asInt(val)
		if err != nil {
			return fmt.Errorf("max_connections: %w", err)
		}
		cfg.MaxConnections = n
	}
	if val, ok := lookupSetting(settings, "rate_limit", "rateLimit", "rate-limit"); ok {
		f, err := asFloat64(val)
		if err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
		cfg.RateLimit = f
	}
	if val, ok := lookupSetting(settings, "retry"); ok {
		if err := parseRetry(&cfg.Retry, val); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	if val, ok := lookupSetting(settings, "tls"); ok {
		if err := parseTLS(&cfg.TLS, val); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	if val, ok := lookupSetting(settings, "proxy"); ok {
		if err := parseProxy(&cfg.Proxy, val); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	if val, ok := lookupSetting(settings, "credentials"); ok {
		if err := parseCredentials(&cfg.Credentials, val); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
	}
	if val, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracing(&cfg.Tracing, val); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	if val, ok := lookupSetting(settings, "log"); ok {
		m, err := toStringKeyMap(val)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if v, ok := lookupSetting(m, "level"); ok {
			cfg.Log.Level, _ = asString(v)
		}
		if v, ok := lookupSetting(m, "format"); ok {
			cfg.Log.Format, _ = asString(v)
		}
	}

	return nil
}

func parseRetry(r *RetryConfig, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(m, "max_retry", "maxRetry", "max-retry"); ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("max_retry: %w", err)
		}
		r.MaxRetry = n
	}
	if v, ok := lookupSetting(m, "min_wait", "minWait", "min-wait"); ok {
		d, err := asDuration(v)
		if err != nil {
			return fmt.Errorf("min_wait: %w", err)
		}
		r.MinWait = d
	}
	return nil
}

func parseTLS(t *TLSConfig, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(m, "ca_cert_file", "caCertFile"); ok {
		t.CACertFile, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "cert_file", "certFile"); ok {
		t.CertFile, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "key_file", "keyFile"); ok {
		t.KeyFile, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "insecure_skip_verify", "insecureSkipVerify"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure_skip_verify: %w", err)
		}
		t.InsecureSkipVerify = b
	}
	return nil
}

func parseProxy(p *ProxyConfig, value interface{}) error {
	// proxy: http://proxy:3128 is accepted as shorthand for proxy.url
	if s, ok := value.(string); ok {
		p.URL = strings.TrimSpace(s)
		return nil
	}
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(m, "url"); ok {
		str, _ := asString(v)
		p.URL = strings.TrimSpace(str)
	}
	if v, ok := lookupSetting(m, "headers"); ok {
		headers, err := asStringMap(v)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		p.Headers = canonicalHeaders(headers)
	}
	return nil
}

func parseCredentials(c *CredentialsConfig, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(m, "method"); ok {
		str, _ := asString(v)
		c.Method = credentials.Method(strings.ToLower(strings.TrimSpace(str)))
	}
	if v, ok := lookupSetting(m, "client_id", "clientId"); ok {
		str, _ := asString(v)
		c.ClientID = strings.TrimSpace(str)
	}
	if v, ok := lookupSetting(m, "client_secret", "clientSecret"); ok {
		c.ClientSecret, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "api_audience", "apiAudience", "audience"); ok {
		str, _ := asString(v)
		c.APIAudience = strings.TrimSpace(str)
	}
	if v, ok := lookupSetting(m, "api_issuer", "apiIssuer", "issuer", "api_token_issuer"); ok {
		str, _ := asString(v)
		c.APIIssuer = strings.TrimSpace(str)
	}
	if v, ok := lookupSetting(m, "api_token", "apiToken", "token"); ok {
		c.APIToken, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "scopes", "scope"); ok {
		scopes, err := asScopes(v)
		if err != nil {
			return fmt.Errorf("scopes: %w", err)
		}
		c.Scopes = scopes
	}
	if v, ok := lookupSetting(m, "refresh_before_expiry", "refreshBeforeExpiry"); ok {
		d, err := asDuration(v)
		if err != nil {
			return fmt.Errorf("refresh_before_expiry: %w", err)
		}
		c.RefreshBeforeExpiry = d
	}
	return nil
}

func parseTracing(t *TracingConfig, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if v, ok := lookupSetting(m, "endpoint"); ok {
		str, _ := asString(v)
		t.Endpoint = strings.TrimSpace(str)
	}
	if v, ok := lookupSetting(m, "protocol"); ok {
		str, _ := asString(v)
		t.Protocol = strings.ToLower(strings.TrimSpace(str))
	}
	if v, ok := lookupSetting(m, "service_name", "serviceName"); ok {
		t.ServiceName, _ = asString(v)
	}
	if v, ok := lookupSetting(m, "sample_rate", "sampleRate"); ok {
		f, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = f
	}
	if v, ok := lookupSetting(m, "insecure"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = b
	}
	if v, ok := lookupSetting(m, "propagate"); ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &b
	}
	return nil
}

func canonicalHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
	}
	return out
}
