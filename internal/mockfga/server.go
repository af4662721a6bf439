// Package mockfga is an in-process stand-in for the authorization service
// and its token issuer. It backs the package tests and the mockfga test
// server binary.
package mockfga

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/fgaclient/internal/logging"
)

// Options configures the mock. The zero value accepts any client and
// grants nothing.
type Options struct {
	// ClientID and ClientSecret are checked on token requests when set.
	ClientID     string
	ClientSecret string
	// TokenTTL is the expires_in sent with each token. Defaults to an hour.
	TokenTTL time.Duration
	// FailTokens makes the first N token requests answer FailStatus.
	FailTokens int
	FailStatus int
	// Tuples are the relationships the store holds, as "user#relation@object".
	Tuples []string
	// MaxChunk bounds the random write size of streamed bodies. Zero writes
	// each record in one piece.
	MaxChunk int
	// Seed makes chunk boundaries reproducible.
	Seed   uint64
	Logger *slog.Logger
}

type tuple struct {
	user, relation, object string
}

// Server serves /oauth/token, /stores/{store_id}/check and
// /stores/{store_id}/streamed-list-objects.
type Server struct {
	opts   Options
	tuples []tuple
	logger *slog.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	tokenRequests int
	tokens        map[string]struct{}
	requests      []Recorded
}

// Recorded is what the mock saw of one store request.
type Recorded struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

func New(opts Options) (*Server, error) {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.FailStatus == 0 {
		opts.FailStatus = http.StatusServiceUnavailable
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		tokens: map[string]struct{}{},
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	for _, raw := range opts.Tuples {
		t, err := parseTuple(raw)
		if err != nil {
			return nil, err
		}
		s.tuples = append(s.tuples, t)
	}
	return s, nil
}

func parseTuple(raw string) (tuple, error) {
	userRel, object, ok := strings.Cut(raw, "@")
	if !ok {
		return tuple{}, fmt.Errorf("tuple %q: want user#relation@object", raw)
	}
	user, relation, ok := strings.Cut(userRel, "#")
	if !ok || user == "" || relation == "" || object == "" {
		return tuple{}, fmt.Errorf("tuple %q: want user#relation@object", raw)
	}
	return tuple{user: user, relation: relation, object: object}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", s.handleToken)
	mux.HandleFunc("POST /stores/{store_id}/check", s.authorized(s.handleCheck))
	mux.HandleFunc("POST /stores/{store_id}/streamed-list-objects", s.authorized(s.handleStreamedListObjects))
	return mux
}

// TokenRequests returns how many token requests were received.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// Requests returns the store requests received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenRequests++
	n := s.tokenRequests
	s.mu.Unlock()

	if n <= s.opts.FailTokens {
		s.logger.Info("failing token request", "attempt", n, "status", s.opts.FailStatus)
		respondJSON(w, s.opts.FailStatus, map[string]any{"error": "temporarily_unavailable"})
		return
	}
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	if (s.opts.ClientID != "" && r.PostForm.Get("client_id") != s.opts.ClientID) ||
		(s.opts.ClientSecret != "" && r.PostForm.Get("client_secret") != s.opts.ClientSecret) {
		respondJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "invalid_client",
			"error_description": "unknown client or bad secret",
		})
		return
	}

	token := "mock-" + ulid.Make().String()
	s.mu.Lock()
	s.tokens[token] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("issued token", "client_id", r.PostForm.Get("client_id"), "request_id", r.Header.Get("X-Request-Id"))
	respondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.opts.TokenTTL / time.Second),
	})
}

// authorized rejects store requests without a bearer token this mock
// issued. Without a configured client every request is accepted.
func (s *Server) authorized(next func(http.ResponseWriter, *http.Request, map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{"code": "validation_error", "message": "invalid JSON body"})
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, Recorded{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		s.mu.Unlock()

		if s.opts.ClientID != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			s.mu.Lock()
			_, known := s.tokens[token]
			s.mu.Unlock()
			if !ok || !known {
				respondJSON(w, http.StatusUnauthorized, map[string]any{"code": "auth_failed", "message": "invalid bearer token"})
				return
			}
		}
		next(w, r, body)
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request, body map[string]any) {
	key, _ := body["tuple_key"].(map[string]any)
	user, _ := key["user"].(string)
	relation, _ := key["relation"].(string)
	object, _ := key["object"].(string)
	if user == "" || relation == "" || object == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"code": "validation_error", "message": "tuple_key requires user, relation and object"})
		return
	}
	allowed := slices.Contains(s.tuples, tuple{user: user, relation: relation, object: object})
	respondJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (s *Server) handleStreamedListObjects(w http.ResponseWriter, r *http.Request, body map[string]any) {
	typ, _ := body["type"].(string)
	relation, _ := body["relation"].(string)
	user, _ := body["user"].(string)
	if typ == "" || relation == "" || user == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"code": "validation_error", "message": "type, relation and user are required"})
		return
	}

	var out []byte
	for _, t := range s.tuples {
		if t.user == user && t.relation == relation && strings.HasPrefix(t.object, typ+":") {
			line, _ := json.Marshal(map[string]any{"result": map[string]any{"object": t.object}})
			out = append(out, line...)
			out = append(out, '\n')
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	for _, chunk := range s.split(out) {
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// split cuts b at random boundaries no longer than MaxChunk.
func (s *Server) split(b []byte) [][]byte {
	if s.opts.MaxChunk <= 0 || len(b) == 0 {
		return [][]byte{b}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var chunks [][]byte
	for len(b) > 0 {
		n := 1 + s.rng.IntN(s.opts.MaxChunk)
		if n > len(b) {
			n = len(b)
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
