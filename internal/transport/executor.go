// Package transport executes requests against the authorization service.
//
// Two executors implement [Executor]. [Client] runs every operation to
// completion in the calling goroutine. [AsyncClient] dispatches operations to
// goroutines and hands back a [Future] or a channel of [StreamItem] values;
// its Execute and OpenStream methods wait on those. Both share the request
// builder, the response classifier and the stream reassembler, so they behave
// identically at the protocol level.
package transport

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/telemetry"
)

// Executor is the contract the endpoint layer and the credential manager
// consume. Callers merge the authentication header into the request
// themselves.
type Executor interface {
	// Execute dispatches req. With req.Preload the body is read in full and
	// non-2xx statuses are returned as classified errors; otherwise the
	// response is returned open and classification happens in
	// Response.ReadAll.
	Execute(ctx context.Context, req *httpclient.Request) (*Response, error)
	// OpenStream dispatches req lazily on first iteration and yields one
	// record per newline-delimited JSON line of the body. A non-2xx status
	// yields a single classified error whose Body holds at most the first
	// MiB of the response.
	OpenStream(ctx context.Context, req *httpclient.Request) iter.Seq2[json.RawMessage, error]
	// Close releases pooled connections.
	Close() error
}

// Options configures an executor. The zero value is usable: a pool with
// default limits, no timeout, no rate limit and no logging.
type Options struct {
	// Pool configures the connection pool built when HTTPClient is nil.
	Pool httpclient.PoolOptions
	// HTTPClient overrides the pooled client. Its Timeout should be zero;
	// timeouts are applied per request.
	HTTPClient *http.Client

	// Timeout is the default per-request timeout. Request.Timeout overrides
	// it for a single call. Zero disables it.
	Timeout time.Duration
	// Header holds default headers. Request headers take precedence.
	Header    http.Header
	UserAgent string
	// RateLimit caps dispatches per second with a burst of one. Zero
	// disables the limiter.
	RateLimit float64
	// ChunkSize is the read size for streamed bodies.
	ChunkSize int

	Logger    *slog.Logger
	Metrics   *clientmetrics.ClientMetrics
	Meters    *telemetry.Meters
	Tracer    trace.Tracer
	Propagate bool
}

var (
	_ Executor = (*Client)(nil)
	_ Executor = (*AsyncClient)(nil)
)
