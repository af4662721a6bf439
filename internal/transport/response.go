package transport

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/clientmetrics"
)

// Response is the envelope returned by Execute. A preloaded response carries
// the full body in Data and a nil Body. Otherwise Body is the open response
// body; the caller must call ReadAll or Close to release the connection.
//
// A Response is not safe for concurrent use.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Data       []byte
	Body       io.ReadCloser

	method  string
	url     string
	metrics *clientmetrics.ClientMetrics
}

func newResponse(resp *http.Response, release func(), metrics *clientmetrics.ClientMetrics) *Response {
	out := &Response{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Header:     resp.Header,
		Body:       &releasingBody{ReadCloser: resp.Body, release: release},
		metrics:    metrics,
	}
	if resp.Request != nil {
		out.method = resp.Request.Method
		out.url = resp.Request.URL.Redacted()
	}
	return out
}

// ReadAll materializes the body into Data, releases the connection and runs
// the response classifier. Calling it again only repeats the classification.
func (r *Response) ReadAll() error {
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = nil
		r.metrics.IncrementReceived(int64(len(data)))
		if err != nil {
			return &apierror.TransportError{Method: r.method, URL: r.url, Err: err}
		}
		r.Data = data
	}
	return apierror.Classify(r.StatusCode, r.Reason, r.Header, r.Data)
}

// Close releases an unread body. It is a no-op on preloaded responses and
// safe to call more than once.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	err := r.Body.Close()
	r.Body = nil
	return err
}

// Successful reports whether the status is 2xx.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// releasingBody ends the request span and cancels the request context the
// first time the body is closed.
type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
	err     error
}

func (b *releasingBody) Close() error {
	b.once.Do(func() {
		b.err = b.ReadCloser.Close()
		if b.release != nil {
			b.release()
		}
	})
	return b.err
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
