package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/torosent/fgaclient/internal/apierror"
)

// encodeBody serializes the payload according to contentType and returns the
// bytes to send together with the content type the request must carry.
func encodeBody(contentType string, body any, params []Param) ([]byte, string, error) {
	lowered := strings.ToLower(contentType)

	switch {
	case strings.Contains(lowered, "json"):
		if len(params) > 0 {
			return nil, "", fmt.Errorf("%w: post params need %s or %s", apierror.ErrContentMismatch, ContentTypeForm, ContentTypeMultipart)
		}
		data, err := encodeJSON(body)
		if err != nil {
			return nil, "", err
		}
		return data, contentType, nil

	case strings.HasPrefix(lowered, ContentTypeForm):
		if body != nil {
			if raw, ok := rawBytes(body); ok {
				return raw, contentType, nil
			}
			return nil, "", fmt.Errorf("%w: %s requires post params, got %T body", apierror.ErrContentMismatch, ContentTypeForm, body)
		}
		values := url.Values{}
		for _, p := range params {
			if p.File != nil {
				return nil, "", fmt.Errorf("%w: file field %q needs %s", apierror.ErrContentMismatch, p.Name, ContentTypeMultipart)
			}
			values.Add(p.Name, p.Value)
		}
		return []byte(values.Encode()), contentType, nil

	case strings.HasPrefix(lowered, ContentTypeMultipart):
		// The caller's content type cannot carry our boundary, so it is
		// replaced by the writer's.
		return encodeMultipart(params)
	}

	if raw, ok := rawBytes(body); ok {
		return raw, contentType, nil
	}
	if body == nil && len(params) == 0 {
		return nil, contentType, nil
	}
	return nil, "", fmt.Errorf("%w: cannot send %T with content type %q", apierror.ErrContentMismatch, body, contentType)
}

// encodeJSON writes compact JSON such as {"foo":"bar"}. Raw bytes and text
// pass through untouched. Byte equality with any other spacing of the same
// document is not a goal.
func encodeJSON(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := rawBytes(body); ok {
		return raw, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode JSON body: %w", apierror.ErrInvalidArgument, err)
	}
	return data, nil
}

func rawBytes(body any) ([]byte, bool) {
	switch v := body.(type) {
	case []byte:
		return v, true
	case json.RawMessage:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(params []Param) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range params {
		if p.File == nil {
			if err := w.WriteField(p.Name, p.Value); err != nil {
				return nil, "", fmt.Errorf("write multipart field %q: %w", p.Name, err)
			}
			continue
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(p.Name), quoteEscaper.Replace(p.File.Filename)))
		ct := p.File.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create multipart file %q: %w", p.Name, err)
		}
		if _, err := part.Write(p.File.Content); err != nil {
			return nil, "", fmt.Errorf("write multipart file %q: %w", p.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
