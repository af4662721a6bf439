package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/retry"
)

// RegisterFlags registers all configuration flags as persistent flags of cmd
// so that every subcommand accepts them.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.PersistentFlags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fgaclient",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all configuration flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Service flags
	flags.String("api-url", "", "Base URL of the authorization service")
	flags.String("store-id", "", "Store identifier")
	flags.String("model-id", "", "Authorization model identifier")
	flags.StringSlice("header", nil, "Default request header in key=value form (repeatable)")
	flags.String("user-agent", "", "User-Agent sent with every request")

	// Transport flags
	flags.Duration("timeout", DefaultTimeout, "Per-request timeout (0 disables it)")
	flags.String("mode", string(ModeBlocking), "Executor mode: 'blocking' or 'async'")
	flags.Int("max-connections", httpclient.DefaultMaxConnections, "Connection pool size")
	flags.Float64("rate-limit", 0, "Client-side requests per second limit (0 means unlimited)")
	flags.Int("max-retry", retry.DefaultPolicy.MaxRetry, "Token request retries on 429 and 5xx")
	flags.Duration("min-wait", retry.DefaultPolicy.MinWait, "Base backoff between token request retries")

	// TLS and proxy flags
	flags.String("ca-cert", "", "PEM file with CA certificates to trust")
	flags.String("cert", "", "PEM client certificate (may also hold the key)")
	flags.String("key", "", "PEM client key")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification")
	flags.String("proxy", "", "Proxy URL")
	flags.StringSlice("proxy-header", nil, "Header sent to the proxy in key=value form (repeatable)")

	// Credential flags
	flags.String("credentials-method", string(credentials.MethodNone), "Credentials method: 'none', 'api_token' or 'client_credentials'")
	flags.String("client-id", "", "OAuth2 client id")
	flags.String("client-secret", "", "OAuth2 client secret (prefer FGA_CLIENT_SECRET)")
	flags.String("api-audience", "", "OAuth2 audience")
	flags.String("api-issuer", "", "OAuth2 issuer; the token endpoint defaults to <issuer>/oauth/token")
	flags.String("api-token", "", "Static API token (prefer FGA_API_TOKEN)")
	flags.StringSlice("scope", nil, "OAuth2 scope (repeatable)")
	flags.Duration("refresh-before-expiry", 0, "Refresh tokens this long before they expire")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported to the collector")
	flags.Float64("tracing-sample-rate", 1.0, "Trace sample rate between 0.0 and 1.0")
	flags.Bool("tracing-insecure", false, "Use a plaintext connection to the collector")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context headers")

	// Logging flags
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file and the environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("api-url") {
		val, err := fs.GetString("api-url")
		if err != nil {
			return err
		}
		cfg.APIURL = strings.TrimSpace(val)
	}
	if fs.Changed("store-id") {
		val, err := fs.GetString("store-id")
		if err != nil {
			return err
		}
		cfg.StoreID = strings.TrimSpace(val)
	}
	if fs.Changed("model-id") {
		val, err := fs.GetString("model-id")
		if err != nil {
			return err
		}
		cfg.AuthorizationModelID = strings.TrimSpace(val)
	}
	if fs.Changed("user-agent") {
		val, err := fs.GetString("user-agent")
		if err != nil {
			return err
		}
		cfg.UserAgent = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("mode") {
		val, err := fs.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Mode = Mode(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("max-connections") {
		val, err := fs.GetInt("max-connections")
		if err != nil {
			return err
		}
		cfg.MaxConnections = val
	}
	if fs.Changed("rate-limit") {
		val, err := fs.GetFloat64("rate-limit")
		if err != nil {
			return err
		}
		cfg.RateLimit = val
	}
	if fs.Changed("max-retry") {
		val, err := fs.GetInt("max-retry")
		if err != nil {
			return err
		}
		cfg.Retry.MaxRetry = val
	}
	if fs.Changed("min-wait") {
		val, err := fs.GetDuration("min-wait")
		if err != nil {
			return err
		}
		cfg.Retry.MinWait = val
	}

	headers, err := headerFlag(fs, "header")
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range headers {
			cfg.Headers[k] = v
		}
	}

	if fs.Changed("ca-cert") {
		val, err := fs.GetString("ca-cert")
		if err != nil {
			return err
		}
		cfg.TLS.CACertFile = strings.TrimSpace(val)
	}
	if fs.Changed("cert") {
		val, err := fs.GetString("cert")
		if err != nil {
			return err
		}
		cfg.TLS.CertFile = strings.TrimSpace(val)
	}
	if fs.Changed("key") {
		val, err := fs.GetString("key")
		if err != nil {
			return err
		}
		cfg.TLS.KeyFile = strings.TrimSpace(val)
	}
	if fs.Changed("insecure-skip-verify") {
		val, err := fs.GetBool("insecure-skip-verify")
		if err != nil {
			return err
		}
		cfg.TLS.InsecureSkipVerify = val
	}
	if fs.Changed("proxy") {
		val, err := fs.GetString("proxy")
		if err != nil {
			return err
		}
		cfg.Proxy.URL = strings.TrimSpace(val)
	}
	proxyHeaders, err := headerFlag(fs, "proxy-header")
	if err != nil {
		return err
	}
	if len(proxyHeaders) > 0 {
		if cfg.Proxy.Headers == nil {
			cfg.Proxy.Headers = map[string]string{}
		}
		for k, v := range proxyHeaders {
			cfg.Proxy.Headers[k] = v
		}
	}

	if err := applyCredentialFlags(&cfg.Credentials, fs); err != nil {
		return err
	}
	if err := applyTracingFlags(&cfg.Tracing, fs); err != nil {
		return err
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = val
	}

	return nil
}

func applyCredentialFlags(c *CredentialsConfig, fs *pflag.FlagSet) error {
	if fs.Changed("credentials-method") {
		val, err := fs.GetString("credentials-method")
		if err != nil {
			return err
		}
		c.Method = credentials.Method(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("client-id") {
		val, err := fs.GetString("client-id")
		if err != nil {
			return err
		}
		c.ClientID = strings.TrimSpace(val)
	}
	if fs.Changed("client-secret") {
		val, err := fs.GetString("client-secret")
		if err != nil {
			return err
		}
		c.ClientSecret = val
	}
	if fs.Changed("api-audience") {
		val, err := fs.GetString("api-audience")
		if err != nil {
			return err
		}
		c.APIAudience = strings.TrimSpace(val)
	}
	if fs.Changed("api-issuer") {
		val, err := fs.GetString("api-issuer")
		if err != nil {
			return err
		}
		c.APIIssuer = strings.TrimSpace(val)
	}
	if fs.Changed("api-token") {
		val, err := fs.GetString("api-token")
		if err != nil {
			return err
		}
		c.APIToken = val
	}
	if fs.Changed("scope") {
		val, err := fs.GetStringSlice("scope")
		if err != nil {
			return err
		}
		c.Scopes = val
	}
	if fs.Changed("refresh-before-expiry") {
		val, err := fs.GetDuration("refresh-before-expiry")
		if err != nil {
			return err
		}
		c.RefreshBeforeExpiry = val
	}
	return nil
}

func applyTracingFlags(t *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = &val
	}
	return nil
}

// headerFlag parses a repeatable key=value flag into canonical header keys.
func headerFlag(fs *pflag.FlagSet, name string) (map[string]string, error) {
	vals, err := fs.GetStringSlice(name)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(vals))
	for _, entry := range vals {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s must be in key=value format: %s", name, entry)
		}
		key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
		if key == "" {
			return nil, fmt.Errorf("%s key cannot be empty", name)
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out, nil
}
