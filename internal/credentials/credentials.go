// Package credentials describes how a client authenticates against the
// authorization service and validates that description before any network
// call is made.
package credentials

import (
	"errors"
	"fmt"
	"strings"
)

// Method selects the authentication scheme.
type Method string

const (
	MethodNone              Method = "none"
	MethodAPIToken          Method = "api_token"
	MethodClientCredentials Method = "client_credentials"
)

// ErrInvalidCredentials is wrapped by every validation failure returned from
// [Credentials.Validate].
var ErrInvalidCredentials = errors.New("invalid credentials configuration")

// Credentials is the credentials descriptor. It is built once by the caller and
// read on every authenticated request.
type Credentials struct {
	Method       Method   `mapstructure:"method"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	APIAudience  string   `mapstructure:"api_audience"`
	APIIssuer    string   `mapstructure:"api_issuer"`
	APIToken     string   `mapstructure:"api_token"`
	Scopes       []string `mapstructure:"scopes"`
}

// EffectiveMethod returns the configured method, treating an empty value as
// [MethodNone].
func (c Credentials) EffectiveMethod() Method {
	m := Method(strings.ToLower(strings.TrimSpace(string(c.Method))))
	if m == "" {
		return MethodNone
	}
	return m
}

// Validate checks that every field required by the method is present. For
// client credentials the issuer is also normalized so a malformed issuer is
// rejected here rather than on the first refresh.
func (c Credentials) Validate() error {
	switch c.EffectiveMethod() {
	case MethodNone:
		return nil
	case MethodAPIToken:
		if strings.TrimSpace(c.APIToken) == "" {
			return fmt.Errorf("%w: api_token is required for method %q", ErrInvalidCredentials, MethodAPIToken)
		}
		return nil
	case MethodClientCredentials:
		var missing []string
		if strings.TrimSpace(c.ClientID) == "" {
			missing = append(missing, "client_id")
		}
		if strings.TrimSpace(c.ClientSecret) == "" {
			missing = append(missing, "client_secret")
		}
		if strings.TrimSpace(c.APIAudience) == "" {
			missing = append(missing, "api_audience")
		}
		if strings.TrimSpace(c.APIIssuer) == "" {
			missing = append(missing, "api_issuer")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s required for method %q", ErrInvalidCredentials, strings.Join(missing, ", "), MethodClientCredentials)
		}
		if _, err := TokenEndpoint(c.APIIssuer); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidCredentials, c.Method)
	}
}

// ScopeString joins the configured scopes the way the token endpoint expects
// them. Empty entries are dropped.
func (c Credentials) ScopeString() string {
	scopes := make([]string, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return strings.Join(scopes, " ")
}

// String redacts secrets so a Credentials value is safe to log.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials{method=%s client_id=%s audience=%s issuer=%s}",
		c.EffectiveMethod(), c.ClientID, c.APIAudience, c.APIIssuer)
}
