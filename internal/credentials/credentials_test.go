package credentials_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/torosent/fgaclient/internal/credentials"
)

func TestTokenEndpoint(t *testing.T) {
	cases := []struct {
		issuer string
		want   string
	}{
		{"issuer.example", "https://issuer.example/oauth/token"},
		{"  issuer.example  ", "https://issuer.example/oauth/token"},
		{"issuer.example/", "https://issuer.example/oauth/token"},
		{"issuer.example:8080", "https://issuer.example:8080/oauth/token"},
		{"http://issuer.example", "http://issuer.example/oauth/token"},
		{"https://issuer.example/", "https://issuer.example/oauth/token"},
		{"https://issuer.example:8080/custom", "https://issuer.example:8080/custom"},
		{"https://issuer.example/tenant/oauth/token", "https://issuer.example/tenant/oauth/token"},
		{"HTTPS://issuer.example", "https://issuer.example/oauth/token"},
	}
	for _, tc := range cases {
		t.Run(tc.issuer, func(t *testing.T) {
			got, err := credentials.TokenEndpoint(tc.issuer)
			if err != nil {
				t.Fatalf("TokenEndpoint(%q) error = %v", tc.issuer, err)
			}
			if got != tc.want {
				t.Errorf("TokenEndpoint(%q) = %q, want %q", tc.issuer, got, tc.want)
			}
		})
	}
}

func TestTokenEndpointRejects(t *testing.T) {
	cases := []struct {
		issuer string
		want   error
	}{
		{"ftp://issuer.example", credentials.ErrInvalidIssuerScheme},
		{"ws://issuer.example/socket", credentials.ErrInvalidIssuerScheme},
		{"https://issuer.example:abc", credentials.ErrInvalidIssuer},
		{"issuer.example:99999", credentials.ErrInvalidIssuer},
		{"https://issuer.example:", credentials.ErrInvalidIssuer},
		{"", credentials.ErrInvalidIssuer},
		{"   ", credentials.ErrInvalidIssuer},
		{"https://", credentials.ErrInvalidIssuer},
	}
	for _, tc := range cases {
		t.Run(tc.issuer, func(t *testing.T) {
			got, err := credentials.TokenEndpoint(tc.issuer)
			if !errors.Is(err, tc.want) {
				t.Fatalf("TokenEndpoint(%q) = %q, %v; want %v", tc.issuer, got, err, tc.want)
			}
		})
	}
}

func TestCredentialsValidate(t *testing.T) {
	full := credentials.Credentials{
		Method:       credentials.MethodClientCredentials,
		ClientID:     "id",
		ClientSecret: "secret",
		APIAudience:  "aud",
		APIIssuer:    "issuer.example",
	}

	cases := []struct {
		name    string
		creds   credentials.Credentials
		missing []string
	}{
		{name: "none", creds: credentials.Credentials{}},
		{name: "explicit none", creds: credentials.Credentials{Method: "NONE"}},
		{name: "api token", creds: credentials.Credentials{Method: credentials.MethodAPIToken, APIToken: "t"}},
		{name: "api token missing", creds: credentials.Credentials{Method: credentials.MethodAPIToken}, missing: []string{"api_token"}},
		{name: "client credentials", creds: full},
		{
			name:    "client credentials empty",
			creds:   credentials.Credentials{Method: credentials.MethodClientCredentials},
			missing: []string{"client_id", "client_secret", "api_audience", "api_issuer"},
		},
		{
			name: "client credentials blank secret",
			creds: credentials.Credentials{
				Method: credentials.MethodClientCredentials, ClientID: "id", ClientSecret: "  ",
				APIAudience: "aud", APIIssuer: "issuer.example",
			},
			missing: []string{"client_secret"},
		},
		{name: "unknown method", creds: credentials.Credentials{Method: "password"}, missing: []string{"password"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.creds.Validate()
			if len(tc.missing) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, credentials.ErrInvalidCredentials) {
				t.Fatalf("Validate() error = %v, want ErrInvalidCredentials", err)
			}
			for _, field := range tc.missing {
				if !strings.Contains(err.Error(), field) {
					t.Errorf("Validate() error %q does not name %q", err.Error(), field)
				}
			}
		})
	}
}

func TestCredentialsValidateChecksIssuer(t *testing.T) {
	creds := credentials.Credentials{
		Method:       credentials.MethodClientCredentials,
		ClientID:     "id",
		ClientSecret: "secret",
		APIAudience:  "aud",
		APIIssuer:    "ftp://issuer.example",
	}
	err := creds.Validate()
	if !errors.Is(err, credentials.ErrInvalidCredentials) || !errors.Is(err, credentials.ErrInvalidIssuerScheme) {
		t.Fatalf("Validate() error = %v, want invalid issuer scheme", err)
	}
}

func TestScopeString(t *testing.T) {
	creds := credentials.Credentials{Scopes: []string{"read", " ", "write "}}
	if got := creds.ScopeString(); got != "read write" {
		t.Errorf("ScopeString() = %q, want %q", got, "read write")
	}
	if got := (credentials.Credentials{}).ScopeString(); got != "" {
		t.Errorf("ScopeString() = %q, want empty", got)
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	creds := credentials.Credentials{
		Method:       credentials.MethodClientCredentials,
		ClientID:     "id",
		ClientSecret: "super-secret",
		APIToken:     "token-value",
	}
	s := creds.String()
	if strings.Contains(s, "super-secret") || strings.Contains(s, "token-value") {
		t.Errorf("String() leaks secrets: %s", s)
	}
}
