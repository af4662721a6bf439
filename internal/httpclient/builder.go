package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/fgaclient/internal/apierror"
)

const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
)

// Request is the logical description of one call. Body and PostParams are
// mutually exclusive.
type Request struct {
	Method     string
	URL        string
	Query      url.Values
	Header     http.Header
	Body       any
	PostParams []Param
	// Preload makes the executor read and classify the whole body before
	// returning. When false the caller owns the open body.
	Preload bool
	// Timeout overrides the executor default for this call when > 0.
	Timeout time.Duration

	// Operation names the API call in spans and meters, e.g. "Check".
	Operation string
	// Attributes are added to the span and meters of this call. They are
	// never sent.
	Attributes []attribute.KeyValue
}

// Param is one form or multipart field. File is only valid for multipart
// requests.
type Param struct {
	Name  string
	Value string
	File  *FilePart
}

// FilePart is the (filename, content, content type) triple of a multipart
// file field.
type FilePart struct {
	Filename    string
	Content     []byte
	ContentType string
}

// FormParams converts url.Values into a sorted Param list.
func FormParams(values url.Values) []Param {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	params := make([]Param, 0, len(values))
	for _, k := range keys {
		for _, v := range values[k] {
			params = append(params, Param{Name: k, Value: v})
		}
	}
	return params
}

var allowedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodDelete:  {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodOptions: {},
}

// methods whose requests carry a payload
var payloadMethods = map[string]struct{}{
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodOptions: {},
	http.MethodDelete:  {},
}

// Build turns r into a wire request bound to ctx.
func Build(ctx context.Context, r *Request) (*http.Request, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: request cannot be nil", apierror.ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Body != nil && len(r.PostParams) > 0 {
		return nil, fmt.Errorf("%w: body and post params cannot both be provided", apierror.ErrInvalidArgument)
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if _, ok := allowedMethods[method]; !ok {
		return nil, fmt.Errorf("%w: unsupported HTTP method %q", apierror.ErrInvalidArgument, r.Method)
	}

	target, err := appendQuery(r.URL, r.Query)
	if err != nil {
		return nil, err
	}

	headers, err := sanitizeHeaders(r.Header)
	if err != nil {
		return nil, err
	}
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", ContentTypeJSON)
	}

	var payload []byte
	if _, ok := payloadMethods[method]; ok {
		var contentType string
		payload, contentType, err = encodeBody(headers.Get("Content-Type"), r.Body, r.PostParams)
		if err != nil {
			return nil, err
		}
		headers.Set("Content-Type", contentType)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apierror.ErrInvalidArgument, err)
	}
	req.Header = headers
	if payload != nil {
		req.ContentLength = int64(len(payload))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	return req, nil
}

func appendQuery(target string, query url.Values) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: request URL is required", apierror.ErrInvalidArgument)
	}
	if len(query) == 0 {
		return target, nil
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + query.Encode(), nil
}

func sanitizeHeaders(in http.Header) (http.Header, error) {
	headers := make(http.Header, len(in)+1)
	for key, values := range in {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("%w: invalid header key %q", apierror.ErrInvalidArgument, key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		for _, value := range values {
			if strings.ContainsAny(value, "\r\n") {
				return nil, fmt.Errorf("%w: invalid header value for %s", apierror.ErrInvalidArgument, canonicalKey)
			}
			headers.Add(canonicalKey, value)
		}
	}
	return headers, nil
}
