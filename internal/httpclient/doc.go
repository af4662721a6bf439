// Package httpclient builds wire requests and the pooled HTTP client used by
// the transport executors.
//
// # Request Building
//
// [Build] turns a logical [Request] into an *http.Request:
//
//	req, err := httpclient.Build(ctx, &httpclient.Request{
//		Method: "post",
//		URL:    "https://api.example.com/stores/01H/check",
//		Body:   map[string]any{"tuple_key": key},
//	})
//
// The builder enforces the payload rules of the service:
//   - Body and PostParams are mutually exclusive
//   - Methods are upper-cased and limited to the standard verb set
//   - Content-Type defaults to application/json
//   - JSON content types marshal the body, form content types encode
//     PostParams, multipart content types write each PostParam as a field
//     (or file part) with a fresh boundary
//   - Raw []byte or string bodies are sent as-is
//
// Caller mistakes wrap [github.com/torosent/fgaclient/internal/apierror.ErrInvalidArgument]
// or [github.com/torosent/fgaclient/internal/apierror.ErrContentMismatch].
//
// # HTTP Client
//
// [NewClient] creates the long-lived pooled client. TLS material (CA bundle,
// client certificate) is loaded once here and reused by every connection:
//
//	client, err := httpclient.NewClient(httpclient.PoolOptions{
//		CACertFile:     "/etc/ssl/internal-ca.pem",
//		MaxConnections: 50,
//		ProxyURL:       "http://proxy.internal:3128",
//	})
package httpclient
