package clientmetrics

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshotCounts(t *testing.T) {
	m := New()
	m.RecordRequest(10*time.Millisecond, false)
	m.RecordRequest(20*time.Millisecond, true)
	m.RecordRequest(30*time.Millisecond, false)
	m.IncrementReceived(128)
	m.MarkStreamOpened()
	m.IncrementRecords()
	m.IncrementRecords()
	m.IncrementSkipped()
	m.IncrementAborted()

	s := m.Snapshot()
	if s.Requests != 3 || s.Failures != 1 {
		t.Errorf("Requests/Failures = %d/%d, want 3/1", s.Requests, s.Failures)
	}
	if s.BytesReceived != 128 {
		t.Errorf("BytesReceived = %d", s.BytesReceived)
	}
	if s.StreamsOpened != 1 || s.RecordsDecoded != 2 || s.RecordsSkipped != 1 || s.StreamsAborted != 1 {
		t.Errorf("stream counters = %+v", s)
	}
	if s.MaxLatency < 29*time.Millisecond || s.MaxLatency > 31*time.Millisecond {
		t.Errorf("MaxLatency = %s, want ~30ms", s.MaxLatency)
	}
	if s.P50Latency < 19*time.Millisecond || s.P50Latency > 21*time.Millisecond {
		t.Errorf("P50Latency = %s, want ~20ms", s.P50Latency)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *ClientMetrics
	m.RecordRequest(time.Second, true)
	m.IncrementReceived(1)
	m.MarkStreamOpened()
	m.IncrementRecords()
	m.IncrementSkipped()
	m.IncrementAborted()
	if s := m.Snapshot(); s != (Snapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", s)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordRequest(time.Millisecond, false)
				m.IncrementRecords()
			}
		}()
	}
	wg.Wait()
	s := m.Snapshot()
	if s.Requests != 1000 || s.RecordsDecoded != 1000 {
		t.Errorf("Snapshot() = %+v", s)
	}
}
