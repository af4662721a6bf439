// Package stream turns an arbitrarily chunked byte stream of newline-delimited
// JSON into a lazy sequence of decoded values.
package stream

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/logging"
)

// Reassembler keeps the unterminated tail of the stream between chunks. It is
// not safe for concurrent use; one Reassembler serves one stream.
type Reassembler[T any] struct {
	leftover []byte
	logger   *slog.Logger
	metrics  *clientmetrics.ClientMetrics
}

// NewReassembler creates a Reassembler. logger and metrics may be nil.
func NewReassembler[T any](logger *slog.Logger, metrics *clientmetrics.ClientMetrics) *Reassembler[T] {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reassembler[T]{logger: logger, metrics: metrics}
}

// Feed appends chunk to the pending tail and yields every complete line that
// decodes as T. Lines that do not decode are logged and skipped. Feed returns
// false as soon as yield does.
func (r *Reassembler[T]) Feed(chunk []byte, yield func(T) bool) bool {
	r.leftover = append(r.leftover, chunk...)

	start := 0
	for {
		idx := bytes.IndexByte(r.leftover[start:], '\n')
		if idx < 0 {
			break
		}
		line := r.leftover[start : start+idx]
		start += idx + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			r.metrics.IncrementSkipped()
			r.logger.Warn("skipping undecodable stream record", "error", err, "bytes", len(line))
			continue
		}
		if !yield(v) {
			r.compact(start)
			return false
		}
	}

	r.compact(start)
	return true
}

// Flush decodes whatever is left once the stream has ended. An empty or
// undecodable remainder is dropped.
func (r *Reassembler[T]) Flush(yield func(T) bool) bool {
	rest := r.leftover
	r.leftover = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return true
	}

	var v T
	if err := json.Unmarshal(rest, &v); err != nil {
		r.logger.Debug("discarding trailing stream remainder", "error", err, "bytes", len(rest))
		return true
	}
	return yield(v)
}

// Pending reports how many bytes are waiting for a newline.
func (r *Reassembler[T]) Pending() int {
	return len(r.leftover)
}

// compact drops consumed bytes so the buffer never holds more than the
// current partial line.
func (r *Reassembler[T]) compact(consumed int) {
	if consumed == 0 {
		return
	}
	r.leftover = append(r.leftover[:0], r.leftover[consumed:]...)
}
