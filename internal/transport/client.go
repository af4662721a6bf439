package transport

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/torosent/fgaclient/internal/httpclient"
)

// Client is the blocking executor. Every call runs to completion in the
// calling goroutine. It is safe for concurrent use; the pool is shared.
type Client struct {
	d *dispatcher
}

// NewClient builds the pool once and returns a blocking executor.
func NewClient(opts Options) (*Client, error) {
	d, err := newDispatcher(opts)
	if err != nil {
		return nil, err
	}
	return &Client{d: d}, nil
}

func (c *Client) Execute(ctx context.Context, req *httpclient.Request) (*Response, error) {
	return c.d.execute(ctx, req)
}

func (c *Client) OpenStream(ctx context.Context, req *httpclient.Request) iter.Seq2[json.RawMessage, error] {
	return c.d.stream(ctx, req)
}

// Close closes idle pooled connections. Open bodies stay valid until they
// are closed.
func (c *Client) Close() error {
	c.d.closeIdle()
	return nil
}
