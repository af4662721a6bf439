package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/torosent/fgaclient/internal/credentials"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{" 2s ", 2 * time.Second},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
	}{
		{2.5, 2.5},
		{10, 10},
		{"0.25", 0.25},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asFloat64(tt.input)
		if err != nil {
			t.Errorf("asFloat64(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asFloat64(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsScopes(t *testing.T) {
	tests := []struct {
		input interface{}
		want  []string
	}{
		{"read write", []string{"read", "write"}},
		{"read,write", []string{"read", "write"}},
		{[]interface{}{"read", "write admin"}, []string{"read", "write", "admin"}},
		{nil, nil},
	}

	for _, tt := range tests {
		got, err := asScopes(tt.input)
		if err != nil {
			t.Errorf("asScopes(%v) error = %v", tt.input, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("asScopes(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Default()
	settings := map[string]interface{}{
		"api_url":         "https://api.fga.example",
		"store_id":        "01HSTORE",
		"timeout":         "5s",
		"mode":            "ASYNC",
		"max_connections": 8,
		"rate_limit":      2.5,
		"headers": map[string]interface{}{
			"x-tenant": "acme",
		},
		"retry": map[string]interface{}{
			"max_retry": 5,
			"min_wait":  "250ms",
		},
		"proxy": "http://proxy.internal:3128",
		"credentials": map[string]interface{}{
			"method":        "client_credentials",
			"client_id":     "cid",
			"client_secret": "secret",
			"api_audience":  "https://api.fga.example/",
			"api_issuer":    "issuer.fga.example",
			"scopes":        "read write",
		},
		"tracing": map[string]interface{}{
			"endpoint":  "localhost:4317",
			"propagate": false,
		},
		"log": map[string]interface{}{
			"level": "debug",
		},
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.APIURL != "https://api.fga.example" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.StoreID != "01HSTORE" {
		t.Errorf("StoreID = %q", cfg.StoreID)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Mode != ModeAsync {
		t.Errorf("Mode = %q, want async", cfg.Mode)
	}
	if cfg.MaxConnections != 8 || cfg.RateLimit != 2.5 {
		t.Errorf("MaxConnections/RateLimit = %d/%v", cfg.MaxConnections, cfg.RateLimit)
	}
	if cfg.Headers["X-Tenant"] != "acme" {
		t.Errorf("Headers = %v, want canonical X-Tenant", cfg.Headers)
	}
	if cfg.Retry.MaxRetry != 5 || cfg.Retry.MinWait != 250*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Proxy.URL != "http://proxy.internal:3128" {
		t.Errorf("Proxy.URL = %q", cfg.Proxy.URL)
	}
	if cfg.Credentials.Method != credentials.MethodClientCredentials || cfg.Credentials.ClientSecret != "secret" {
		t.Errorf("Credentials = %v", cfg.Credentials)
	}
	if !reflect.DeepEqual(cfg.Credentials.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v", cfg.Credentials.Scopes)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.ShouldPropagate() {
		t.Errorf("Tracing = %+v, want endpoint set and propagation off", cfg.Tracing)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestApplyConfigSettingsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]interface{}
	}{
		{"timeout", map[string]interface{}{"timeout": "soon"}},
		{"max connections", map[string]interface{}{"max_connections": "many"}},
		{"retry section", map[string]interface{}{"retry": "often"}},
		{"retry min wait", map[string]interface{}{"retry": map[string]interface{}{"min_wait": "later"}}},
		{"tracing sample rate", map[string]interface{}{"tracing": map[string]interface{}{"sample_rate": "half"}}},
		{"tls insecure", map[string]interface{}{"tls": map[string]interface{}{"insecure_skip_verify": "maybe"}}},
		{"empty header key", map[string]interface{}{"headers": map[string]interface{}{" ": "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := applyConfigSettings(Default(), tt.settings); err == nil {
				t.Fatal("applyConfigSettings() error = nil, want error")
			}
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Default()
	cfg.APIURL = "https://from-file.example"
	cfg.Headers["X-File"] = "1"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--api-url=https://from-flag.example",
		"--mode=async",
		"--header=x-test=123",
		"--max-retry=1",
		"--credentials-method=api_token",
		"--api-token=tok",
		"--scope=read",
		"--scope=write",
		"--tracing-propagate=false",
		"--proxy-header=Proxy-Authorization=Basic abc",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.APIURL != "https://from-flag.example" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.Mode != ModeAsync {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Headers["X-Test"] != "123" || cfg.Headers["X-File"] != "1" {
		t.Errorf("Headers = %v, want flag header merged over file headers", cfg.Headers)
	}
	if cfg.Retry.MaxRetry != 1 {
		t.Errorf("Retry.MaxRetry = %d", cfg.Retry.MaxRetry)
	}
	if cfg.Credentials.Method != credentials.MethodAPIToken || cfg.Credentials.APIToken != "tok" {
		t.Errorf("Credentials = %v", cfg.Credentials)
	}
	if !reflect.DeepEqual(cfg.Credentials.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v", cfg.Credentials.Scopes)
	}
	if cfg.Tracing.Propagate == nil || *cfg.Tracing.Propagate {
		t.Errorf("Tracing.Propagate = %v, want explicit false", cfg.Tracing.Propagate)
	}
	if cfg.Proxy.Headers["Proxy-Authorization"] != "Basic abc" {
		t.Errorf("Proxy.Headers = %v", cfg.Proxy.Headers)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %s, unchanged flag should keep the default", cfg.Timeout)
	}
}

func TestApplyFlagOverridesRejectsMalformedHeader(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)
	if err := fs.Parse([]string{"--header=no-separator"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := applyFlagOverrides(Default(), fs); err == nil {
		t.Fatal("applyFlagOverrides() error = nil, want key=value error")
	}
}

func TestLoader_Load(t *testing.T) {
	clearEnv(t)
	loader := NewLoader()
	args := []string{
		"--api-url=https://api.fga.example/",
		"--store-id=01HSTORE",
	}

	cfg, err := loader.Load(args)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIURL != "https://api.fga.example/" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.StoreID != "01HSTORE" {
		t.Errorf("StoreID = %q", cfg.StoreID)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}
