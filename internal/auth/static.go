package auth

import (
	"context"
	"net/http"
)

// StaticTokenProvider returns a pre-configured API token. It never touches
// the network.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a new static token provider with the given token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	return p.token, nil
}

func (p *StaticTokenProvider) AuthenticationHeader(ctx context.Context) (http.Header, error) {
	return bearer(p.token), nil
}

// Close is a no-op for static token providers.
func (p *StaticTokenProvider) Close() error {
	return nil
}

// NoneProvider is used when the client sends no credentials.
type NoneProvider struct{}

func (NoneProvider) Token(context.Context) (string, error) { return "", nil }

func (NoneProvider) AuthenticationHeader(context.Context) (http.Header, error) {
	return http.Header{}, nil
}

func (NoneProvider) Close() error { return nil }
