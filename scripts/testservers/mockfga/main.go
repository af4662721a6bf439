// Command mockfga serves the in-process mock authorization service on a
// local port so fgacurl and the client can be tried by hand.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/mockfga"
)

func main() {
	port := flag.Int("port", 0, "Listening port")
	clientID := flag.String("client-id", "", "Client id accepted by /oauth/token (any when empty)")
	clientSecret := flag.String("client-secret", "", "Client secret accepted by /oauth/token")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "Lifetime reported for issued tokens")
	failTokens := flag.Int("fail-tokens", 0, "Fail this many token requests before succeeding")
	failStatus := flag.Int("fail-status", http.StatusServiceUnavailable, "Status used for failed token requests")
	tuples := flag.String("tuples", "", "Comma-separated relationships as user#relation@object")
	maxChunk := flag.Int("max-chunk", 0, "Split streamed bodies into random writes of at most this many bytes")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed for chunk boundaries")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	var stored []string
	for _, t := range strings.Split(*tuples, ",") {
		if t = strings.TrimSpace(t); t != "" {
			stored = append(stored, t)
		}
	}

	logger := logging.New(logging.Config{Level: *logLevel, Format: "text"}, os.Stderr)
	server, err := mockfga.New(mockfga.Options{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		TokenTTL:     *tokenTTL,
		FailTokens:   *failTokens,
		FailStatus:   *failStatus,
		Tuples:       stored,
		MaxChunk:     *maxChunk,
		Seed:         *seed,
		Logger:       logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock authorization service listening", "addr", addr, "tuples", len(stored))
	srv := &http.Server{Addr: addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Fatal(srv.ListenAndServe())
}
