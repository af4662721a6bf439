package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultMaxConnections bounds the pool when no size is configured.
const DefaultMaxConnections = 100

// PoolOptions configures the long-lived connection pool shared by every
// request issued through one executor.
type PoolOptions struct {
	CACertFile         string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
	MaxConnections     int
	ProxyURL           string
	ProxyHeaders       http.Header
}

// NewTLSConfig builds the TLS configuration once so that it can be shared by
// all connections of the pool.
func NewTLSConfig(opts PoolOptions) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if caFile := strings.TrimSpace(opts.CACertFile); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA certificate %q contains no PEM certificates", caFile)
		}
		tlsCfg.RootCAs = pool
	}

	certFile := strings.TrimSpace(opts.CertFile)
	keyFile := strings.TrimSpace(opts.KeyFile)
	if keyFile != "" && certFile == "" {
		return nil, errors.New("key file configured without a certificate file")
	}
	if certFile != "" {
		if keyFile == "" {
			// combined PEM holding both certificate and key
			keyFile = certFile
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// NewClient creates the pooled HTTP client. It carries no overall timeout;
// executors bound each call with a context deadline instead so that streams
// and per-call overrides are handled uniformly.
func NewClient(opts PoolOptions) (*http.Client, error) {
	tlsCfg, err := NewTLSConfig(opts)
	if err != nil {
		return nil, err
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	proxy := http.ProxyFromEnvironment
	var proxyURL *url.URL
	if raw := strings.TrimSpace(opts.ProxyURL); raw != "" {
		proxyURL, err = url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var rt http.RoundTripper = transport
	if proxyURL != nil && len(opts.ProxyHeaders) > 0 {
		transport.ProxyConnectHeader = opts.ProxyHeaders.Clone()
		rt = &proxyHeaderTransport{base: transport, headers: opts.ProxyHeaders.Clone()}
	}

	return &http.Client{Transport: rt}, nil
}

// proxyHeaderTransport adds proxy headers to plain-HTTP requests, which the
// proxy receives directly. HTTPS requests get them on the CONNECT instead.
type proxyHeaderTransport struct {
	base    *http.Transport
	headers http.Header
}

func (t *proxyHeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "http" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	for key, values := range t.headers {
		for _, v := range values {
			clone.Header.Add(key, v)
		}
	}
	return t.base.RoundTrip(clone)
}

func (t *proxyHeaderTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}
