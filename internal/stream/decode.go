package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/logging"
)

// DefaultChunkSize is the read size used when Options.ChunkSize is unset.
const DefaultChunkSize = 16 * 1024

// ErrConsumed is yielded when a sequence is ranged over a second time.
var ErrConsumed = errors.New("stream already consumed")

// Options configures Decode.
type Options struct {
	ChunkSize int
	Logger    *slog.Logger
	Metrics   *clientmetrics.ClientMetrics
	// Finish runs once the body reached EOF. A non-nil result is yielded as
	// the final element of the sequence.
	Finish func() error
}

// Decode returns a single-use sequence of the records in body. Reading and
// decoding are interleaved, so memory is bounded by one chunk plus one partial
// line. body is closed exactly once, whichever way iteration ends.
//
// A read failure in the middle of the stream is logged and ends the sequence
// without an error element.
func Decode[T any](ctx context.Context, body io.ReadCloser, opts Options) iter.Seq2[T, error] {
	logger := logging.FromContext(ctx, opts.Logger)
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	release := ReleaseOnce(body)
	var used atomic.Bool

	return func(yield func(T, error) bool) {
		if used.Swap(true) {
			var zero T
			yield(zero, ErrConsumed)
			return
		}
		defer release()

		r := NewReassembler[T](logger, opts.Metrics)
		emit := func(v T) bool {
			opts.Metrics.IncrementRecords()
			return yield(v, nil)
		}

		buf := make([]byte, chunkSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				opts.Metrics.IncrementReceived(int64(n))
				if !r.Feed(buf[:n], emit) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				opts.Metrics.IncrementAborted()
				logger.Warn("stream ended by connection failure", "error", err, "pending_bytes", r.Pending())
				return
			}
		}

		if !r.Flush(emit) {
			return
		}
		if opts.Finish != nil {
			if err := opts.Finish(); err != nil {
				var zero T
				yield(zero, err)
			}
		}
	}
}

// ReleaseOnce wraps Close so that repeated calls close body only once.
func ReleaseOnce(body io.Closer) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if body != nil {
				_ = body.Close()
			}
		})
	}
}
