package transport

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/stream"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("executor closed")

// DefaultStreamBuffer is the channel capacity used by Subscribe.
const DefaultStreamBuffer = 16

// AsyncClient is the non-blocking executor. Go and Subscribe return
// immediately; the network work happens on a goroutine owned by the client.
type AsyncClient struct {
	d      *dispatcher
	buffer int

	mu     sync.Mutex
	closed bool
	// closing is cancelled by Close; subscriptions derive from it.
	closing context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewAsyncClient builds the pool once and returns a non-blocking executor.
func NewAsyncClient(opts Options) (*AsyncClient, error) {
	d, err := newDispatcher(opts)
	if err != nil {
		return nil, err
	}
	closing, stop := context.WithCancel(context.Background())
	return &AsyncClient{d: d, buffer: DefaultStreamBuffer, closing: closing, stop: stop}, nil
}

// Future is the pending result of Go.
type Future struct {
	done chan struct{}

	mu        sync.Mutex
	resp      *Response
	err       error
	completed bool
	abandoned bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. When ctx wins,
// the future is abandoned and a response that arrives later has its body
// closed.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.resp, f.err
	case <-ctx.Done():
	}

	f.mu.Lock()
	f.abandoned = true
	resp := f.resp
	completed := f.completed
	f.mu.Unlock()
	if completed {
		_ = resp.Close()
	}
	return nil, ctx.Err()
}

func (f *Future) complete(resp *Response, err error) {
	f.mu.Lock()
	f.resp, f.err = resp, err
	f.completed = true
	abandoned := f.abandoned
	f.mu.Unlock()
	if abandoned {
		_ = resp.Close()
	}
	close(f.done)
}

func (c *AsyncClient) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// Go dispatches req on a new goroutine.
func (c *AsyncClient) Go(ctx context.Context, req *httpclient.Request) *Future {
	f := newFuture()
	if !c.acquire() {
		f.complete(nil, ErrClosed)
		return f
	}
	go func() {
		defer c.wg.Done()
		f.complete(c.d.execute(ctx, req))
	}()
	return f
}

// Execute dispatches req and waits for the result.
func (c *AsyncClient) Execute(ctx context.Context, req *httpclient.Request) (*Response, error) {
	return c.Go(ctx, req).Wait(ctx)
}

// StreamItem is one element delivered by Subscribe. Exactly one of Record
// and Err is set.
type StreamItem struct {
	Record json.RawMessage
	Err    error
}

// Subscribe opens the stream on a new goroutine and delivers its records on
// the returned channel, which is closed when the stream ends. Cancel ctx or
// Close the client to stop early, even while the server sends nothing; the
// connection is released either way.
func (c *AsyncClient) Subscribe(ctx context.Context, req *httpclient.Request) <-chan StreamItem {
	out := make(chan StreamItem, max(c.buffer, 1))
	if !c.acquire() {
		out <- StreamItem{Err: ErrClosed}
		close(out)
		return out
	}
	ctx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(c.closing, cancel)
	go func() {
		defer c.wg.Done()
		defer close(out)
		defer stopOnClose()
		defer cancel()
		for rec, err := range c.d.stream(ctx, req) {
			select {
			case out <- StreamItem{Record: rec, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// OpenStream adapts Subscribe to a sequence. Breaking out of the loop
// cancels the producer.
func (c *AsyncClient) OpenStream(ctx context.Context, req *httpclient.Request) iter.Seq2[json.RawMessage, error] {
	var used atomic.Bool
	return func(yield func(json.RawMessage, error) bool) {
		if used.Swap(true) {
			yield(nil, stream.ErrConsumed)
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for item := range c.Subscribe(ctx, req) {
			if !yield(item.Record, item.Err) {
				return
			}
		}
	}
}

// Close rejects new work, ends open subscriptions, waits for in-flight
// requests and closes idle connections.
func (c *AsyncClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stop()
	c.mu.Unlock()

	c.wg.Wait()
	c.d.closeIdle()
	return nil
}
