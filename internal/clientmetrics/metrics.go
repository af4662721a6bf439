package clientmetrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// ClientMetrics tracks request, stream and latency statistics for one
// executor. It is safe for concurrent use.
type ClientMetrics struct {
	mu             sync.Mutex
	hist           *hdrhistogram.Histogram
	requests       int64
	failures       int64
	bytesRecv      int64
	streamsOpened  int64
	recordsDecoded int64
	recordsSkipped int64
	streamsAborted int64
}

// New creates a new ClientMetrics instance.
func New() *ClientMetrics {
	return &ClientMetrics{
		// microseconds, 1µs to 10 minutes
		hist: hdrhistogram.New(1, 600_000_000, 3),
	}
}

// RecordRequest records one completed request and its latency.
func (m *ClientMetrics) RecordRequest(latency time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if failed {
		m.failures++
	}
	us := latency.Microseconds()
	if us < 1 {
		us = 1
	}
	_ = m.hist.RecordValue(us)
}

// IncrementReceived adds to the received bytes counter.
func (m *ClientMetrics) IncrementReceived(bytes int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRecv += bytes
}

// MarkStreamOpened counts a stream whose headers arrived.
func (m *ClientMetrics) MarkStreamOpened() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamsOpened++
}

// IncrementRecords counts decoded stream records.
func (m *ClientMetrics) IncrementRecords() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsDecoded++
}

// IncrementSkipped counts stream records that failed to decode.
func (m *ClientMetrics) IncrementSkipped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordsSkipped++
}

// IncrementAborted counts streams cut short by a connection failure.
func (m *ClientMetrics) IncrementAborted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamsAborted++
}

// Snapshot returns a snapshot of all metrics at a point in time.
type Snapshot struct {
	Requests       int64
	Failures       int64
	BytesReceived  int64
	StreamsOpened  int64
	RecordsDecoded int64
	RecordsSkipped int64
	StreamsAborted int64
	P50Latency     time.Duration
	P95Latency     time.Duration
	P99Latency     time.Duration
	MaxLatency     time.Duration
}

// Snapshot returns a consistent snapshot of all metrics.
func (m *ClientMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Requests:       m.requests,
		Failures:       m.failures,
		BytesReceived:  m.bytesRecv,
		StreamsOpened:  m.streamsOpened,
		RecordsDecoded: m.recordsDecoded,
		RecordsSkipped: m.recordsSkipped,
		StreamsAborted: m.streamsAborted,
	}
	if m.hist.TotalCount() > 0 {
		s.P50Latency = time.Duration(m.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P95Latency = time.Duration(m.hist.ValueAtQuantile(95)) * time.Microsecond
		s.P99Latency = time.Duration(m.hist.ValueAtQuantile(99)) * time.Microsecond
		s.MaxLatency = time.Duration(m.hist.Max()) * time.Microsecond
	}
	return s
}
