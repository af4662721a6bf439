package mockfga

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseTuple(t *testing.T) {
	got, err := parseTuple("user:anne#viewer@document:1")
	if err != nil {
		t.Fatalf("parseTuple() error = %v", err)
	}
	if got != (tuple{user: "user:anne", relation: "viewer", object: "document:1"}) {
		t.Errorf("parseTuple() = %+v", got)
	}
	for _, bad := range []string{"", "user:anne", "user:anne@document:1", "#viewer@document:1", "user:anne#viewer@"} {
		if _, err := parseTuple(bad); err == nil {
			t.Errorf("parseTuple(%q) error = nil", bad)
		}
	}
}

func TestTokenFailuresThenSuccess(t *testing.T) {
	s, err := New(Options{ClientID: "cid", ClientSecret: "secret", FailTokens: 2, FailStatus: http.StatusTooManyRequests})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	form := url.Values{"grant_type": {"client_credentials"}, "client_id": {"cid"}, "client_secret": {"secret"}}

	for i, want := range []int{http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("request %d status = %d, want %d", i, rec.Code, want)
		}
	}
	if s.TokenRequests() != 3 {
		t.Errorf("TokenRequests() = %d, want 3", s.TokenRequests())
	}
}

func TestStoreRequiresIssuedToken(t *testing.T) {
	s, err := New(Options{ClientID: "cid"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/stores/s1/check", strings.NewReader(`{"tuple_key":{"user":"u","relation":"r","object":"o"}}`))
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if len(s.Requests()) != 1 {
		t.Errorf("Requests() = %d, want 1", len(s.Requests()))
	}
}

func TestSplitCoversInput(t *testing.T) {
	s, err := New(Options{MaxChunk: 3, Seed: 7})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	in := []byte(`{"result":{"object":"document:1"}}` + "\n")
	chunks := s.split(in)
	if len(chunks) < len(in)/3 {
		t.Errorf("split() produced %d chunks, want at least %d", len(chunks), len(in)/3)
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, in) {
		t.Errorf("split() rejoined = %q", got)
	}
	for _, c := range chunks {
		if len(c) == 0 || len(c) > 3 {
			t.Errorf("chunk length %d out of range", len(c))
		}
	}
}
