package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultTokenPath is used when the issuer carries no path of its own.
const DefaultTokenPath = "/oauth/token"

var (
	// ErrInvalidIssuer is returned for issuers that cannot be turned into a URL.
	ErrInvalidIssuer = errors.New("invalid issuer")
	// ErrInvalidIssuerScheme is returned for issuers with a scheme other than http or https.
	ErrInvalidIssuerScheme = errors.New("invalid issuer scheme")
)

// TokenEndpoint turns a loosely specified issuer into the absolute URL of its
// token endpoint:
//
//	issuer.example                    -> https://issuer.example/oauth/token
//	http://issuer.example/            -> http://issuer.example/oauth/token
//	https://issuer.example:8080/custom -> https://issuer.example:8080/custom
func TokenEndpoint(issuer string) (string, error) {
	raw := strings.TrimSpace(issuer)
	if raw == "" {
		return "", fmt.Errorf("%w: issuer is empty", ErrInvalidIssuer)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// "issuer.example" parses as a bare path and "issuer.example:8080"
		// as scheme "issuer.example"; both mean the scheme was left out.
		if !strings.Contains(raw, "://") {
			u, err = url.Parse("https://" + raw)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidIssuer, raw, err)
		}
	}

	if _, err := parsePort(u); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidIssuer, raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIssuerScheme, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidIssuer, raw)
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultTokenPath
		u.RawPath = ""
	}
	return u.String(), nil
}

// parsePort rejects ports that are present but not numeric or out of range.
// url.Parse already catches most of these, but not every form.
func parsePort(u *url.URL) (int, error) {
	p := u.Port()
	if p == "" {
		if strings.HasSuffix(u.Host, ":") {
			return 0, errors.New("empty port")
		}
		return 0, nil
	}
	n := 0
	for _, r := range p {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		n = n*10 + int(r-'0')
		if n > 65535 {
			return 0, fmt.Errorf("port %q out of range", p)
		}
	}
	return n, nil
}
