package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/logging"
	"github.com/torosent/fgaclient/internal/stream"
	"github.com/torosent/fgaclient/internal/telemetry"
	"github.com/torosent/fgaclient/internal/tracing"
)

const tracerName = "github.com/torosent/fgaclient/internal/transport"

// maxErrorBody bounds how much of a failed stream's body is kept for the
// error.
const maxErrorBody = 1 << 20

// dispatcher holds everything both executors share: the pool, the limiter
// and the instrumentation.
type dispatcher struct {
	http    *http.Client
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
	metrics *clientmetrics.ClientMetrics
	meters  *telemetry.Meters
}

func newDispatcher(opts Options) (*dispatcher, error) {
	hc := opts.HTTPClient
	if hc == nil {
		var err error
		hc, err = httpclient.NewClient(opts.Pool)
		if err != nil {
			return nil, fmt.Errorf("connection pool: %w", err)
		}
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", apierror.ErrInvalidArgument, opts.Timeout)
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("%w: negative rate limit %g", apierror.ErrInvalidArgument, opts.RateLimit)
	}

	d := &dispatcher{
		http:    hc,
		opts:    opts,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		meters:  opts.Meters,
	}
	if d.logger == nil {
		d.logger = logging.Discard()
	}
	if d.tracer == nil {
		d.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if d.meters == nil {
		d.meters = telemetry.NoopMeters()
	}
	if opts.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return d, nil
}

// call tracks one in-flight request from dispatch until its body is
// released.
type call struct {
	ctx    context.Context
	span   trace.Span
	cancel context.CancelFunc
	start  time.Time
	attrs  telemetry.Set
	once   sync.Once
	// failure marks the span as failed for error statuses.
	failure error
}

func (c *call) end(err error) {
	c.once.Do(func() {
		if err == nil {
			err = c.failure
		}
		tracing.EndSpan(c.span, err)
		c.cancel()
	})
}

func (c *call) release() { c.end(nil) }

// dispatch builds and sends req. On success the caller owns resp.Body and
// must release the returned call once the body is done with.
func (d *dispatcher) dispatch(ctx context.Context, req *httpclient.Request) (*http.Response, *call, error) {
	if req == nil {
		return nil, nil, fmt.Errorf("%w: nil request", apierror.ErrInvalidArgument)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}

	timeout := d.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	ctx, span := tracing.StartRequestSpan(ctx, d.tracer, method, req.Operation)
	c := &call{ctx: ctx, span: span, cancel: cancel, start: time.Now()}

	httpReq, err := httpclient.Build(ctx, d.prepare(req))
	if err != nil {
		c.end(err)
		return nil, nil, err
	}
	c.attrs.
		AddString(telemetry.HTTPRequestMethod, httpReq.Method).
		AddString(telemetry.HTTPHost, httpReq.URL.Host).
		AddString(telemetry.URLFull, httpReq.URL.Redacted()).
		AddString(telemetry.UserAgent, httpReq.UserAgent()).
		AddString(telemetry.RequestMethod, req.Operation).
		Add(req.Attributes...)
	span.SetAttributes(c.attrs.KeyValues()...)
	if d.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}

	resp, err := d.http.Do(httpReq)
	elapsed := time.Since(c.start)
	if err != nil {
		d.metrics.RecordRequest(elapsed, true)
		d.meters.RecordRequest(ctx, elapsed, c.attrs.KeyValues())
		terr := &apierror.TransportError{Method: httpReq.Method, URL: httpReq.URL.Redacted(), Err: err}
		c.end(terr)
		return nil, nil, terr
	}

	c.attrs.AddInt(telemetry.HTTPResponseStatusCode, resp.StatusCode)
	span.SetAttributes(telemetry.HTTPResponseStatusCode.Int(resp.StatusCode))
	if resp.StatusCode >= 400 {
		c.failure = apierror.Classify(resp.StatusCode, reasonPhrase(resp), resp.Header, nil)
	}
	d.metrics.RecordRequest(elapsed, resp.StatusCode >= 400)
	d.meters.RecordRequest(ctx, elapsed, c.attrs.KeyValues())
	return resp, c, nil
}

// prepare returns a copy of req with default headers merged underneath its
// own.
func (d *dispatcher) prepare(req *httpclient.Request) *httpclient.Request {
	out := *req
	header := make(http.Header, len(d.opts.Header)+len(req.Header)+1)
	for k, v := range d.opts.Header {
		header[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	for k, v := range req.Header {
		header[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	if header.Get("User-Agent") == "" && d.opts.UserAgent != "" {
		header.Set("User-Agent", d.opts.UserAgent)
	}
	out.Header = header
	return &out
}

func (d *dispatcher) execute(ctx context.Context, req *httpclient.Request) (*Response, error) {
	resp, c, err := d.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	out := newResponse(resp, c.release, d.metrics)
	if !req.Preload {
		return out, nil
	}
	if err := out.ReadAll(); err != nil {
		return nil, err
	}
	return out, nil
}

// stream returns a single-use sequence. The request is sent on the first
// iteration.
func (d *dispatcher) stream(ctx context.Context, req *httpclient.Request) iter.Seq2[json.RawMessage, error] {
	var used atomic.Bool
	return func(yield func(json.RawMessage, error) bool) {
		if used.Swap(true) {
			yield(nil, stream.ErrConsumed)
			return
		}

		resp, c, err := d.dispatch(ctx, req)
		if err != nil {
			yield(nil, err)
			return
		}
		d.metrics.MarkStreamOpened()
		body := &releasingBody{ReadCloser: resp.Body, release: c.release}
		reason := reasonPhrase(resp)
		logger := logging.FromContext(ctx, d.logger).With(
			"stream_id", ulid.Make().String(),
			"status", resp.StatusCode,
		)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer body.Close()
			data, readErr := io.ReadAll(io.LimitReader(body, maxErrorBody))
			d.metrics.IncrementReceived(int64(len(data)))
			if readErr != nil {
				logger.Warn("failed to read error stream body", "error", readErr)
			}
			yield(nil, apierror.Classify(resp.StatusCode, reason, resp.Header, data))
			return
		}

		records := stream.Decode[json.RawMessage](c.ctx, body, stream.Options{
			ChunkSize: d.opts.ChunkSize,
			Logger:    logger,
			Metrics:   d.metrics,
			Finish: func() error {
				return apierror.Classify(resp.StatusCode, reason, resp.Header, nil)
			},
		})
		for rec, err := range records {
			if !yield(rec, err) {
				return
			}
		}
	}
}

func (d *dispatcher) closeIdle() {
	d.http.CloseIdleConnections()
}
