package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/torosent/fgaclient/internal/credentials"
)

func TestStaticTokenProvider(t *testing.T) {
	p := NewStaticTokenProvider("api-token-xyz")
	defer p.Close()

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "api-token-xyz" {
		t.Errorf("Token() = %q, want api-token-xyz", token)
	}
	header, err := p.AuthenticationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthenticationHeader() error = %v", err)
	}
	if got := header.Get("Authorization"); got != "Bearer api-token-xyz" {
		t.Errorf("Authorization = %q, want Bearer api-token-xyz", got)
	}
}

func TestNoneProviderSendsNothing(t *testing.T) {
	var p Provider = NoneProvider{}
	header, err := p.AuthenticationHeader(context.Background())
	if err != nil {
		t.Fatalf("AuthenticationHeader() error = %v", err)
	}
	if len(header) != 0 {
		t.Errorf("header = %v, want empty", header)
	}
}

func TestNewSelectsProviderByMethod(t *testing.T) {
	exec := executorFactories()[0].new(t)

	cases := []struct {
		name  string
		creds credentials.Credentials
		check func(t *testing.T, p Provider)
	}{
		{
			name:  "empty method",
			creds: credentials.Credentials{},
			check: func(t *testing.T, p Provider) {
				if _, ok := p.(NoneProvider); !ok {
					t.Errorf("provider = %T, want NoneProvider", p)
				}
			},
		},
		{
			name:  "api token",
			creds: credentials.Credentials{Method: credentials.MethodAPIToken, APIToken: "tok"},
			check: func(t *testing.T, p Provider) {
				if _, ok := p.(*StaticTokenProvider); !ok {
					t.Errorf("provider = %T, want *StaticTokenProvider", p)
				}
			},
		},
		{
			name:  "client credentials",
			creds: testCredentials("issuer.example"),
			check: func(t *testing.T, p Provider) {
				if _, ok := p.(*ClientCredentialsProvider); !ok {
					t.Errorf("provider = %T, want *ClientCredentialsProvider", p)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.creds, exec)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer p.Close()
			tc.check(t, p)
		})
	}
}

func TestNewRejectsInvalidCredentials(t *testing.T) {
	cases := []credentials.Credentials{
		{Method: credentials.MethodAPIToken},
		{Method: credentials.MethodClientCredentials, ClientID: "id"},
		{Method: "password"},
	}
	for _, creds := range cases {
		if _, err := New(creds, nil); !errors.Is(err, credentials.ErrInvalidCredentials) {
			t.Errorf("New(%v) error = %v, want ErrInvalidCredentials", creds, err)
		}
	}
}
