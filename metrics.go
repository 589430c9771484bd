package lcap

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the round-trip latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-reader operational statistics.
type Metrics struct {
	RecordsRead   atomic.Uint64 // records pulled from the source
	RecordsSent   atomic.Uint64 // records delivered to consumers
	RecordsAcked  atomic.Uint64 // records cleared by consumers
	BytesRead     atomic.Uint64 // record payload bytes pulled from the source
	BytesSent     atomic.Uint64 // record payload bytes delivered to consumers

	SourceErrors atomic.Uint64 // errors returned by the source
	DequeueHits  atomic.Uint64 // DEQUEUE requests served with a bucket
	DequeueMiss  atomic.Uint64 // DEQUEUE requests that found nothing ready

	QueueDepthTotal atomic.Uint64 // cumulative cached-bucket-count samples
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordEnqueue records one record pulled from the source into the cache.
// bytes is the record's payload size as read from the source, not yet
// delivered to any consumer; see RecordSent for that.
func (m *Metrics) RecordEnqueue(bytes uint64) {
	m.RecordsRead.Add(1)
	m.BytesRead.Add(bytes)
}

// RecordSent records count records, totalling bytes of payload,
// delivered to a consumer in a DEQUEUE reply.
func (m *Metrics) RecordSent(count, bytes uint64) {
	m.RecordsSent.Add(count)
	m.BytesSent.Add(bytes)
}

// RecordDequeue records a DEQUEUE request, noting whether a bucket was
// available to serve.
func (m *Metrics) RecordDequeue(hit bool, latencyNs uint64) {
	if hit {
		m.DequeueHits.Add(1)
	} else {
		m.DequeueMiss.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordClear records an acknowledgement advancing a consumer's cursor.
func (m *Metrics) RecordClear(count uint64) {
	m.RecordsAcked.Add(count)
}

// RecordSourceError records a failure surfaced by the underlying source.
func (m *Metrics) RecordSourceError() {
	m.SourceErrors.Add(1)
}

// RecordQueueDepth samples the current number of cached buckets.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the reader as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for logging
// or the SIGUSR1 stats dump.
type MetricsSnapshot struct {
	RecordsRead  uint64
	RecordsSent  uint64
	RecordsAcked uint64
	BytesRead    uint64
	BytesSent    uint64

	SourceErrors uint64
	DequeueHits  uint64
	DequeueMiss  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs     uint64
	UptimeNs         uint64
	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RecordsRead:   m.RecordsRead.Load(),
		RecordsSent:   m.RecordsSent.Load(),
		RecordsAcked:  m.RecordsAcked.Load(),
		BytesRead:     m.BytesRead.Load(),
		BytesSent:     m.BytesSent.Load(),
		SourceErrors:  m.SourceErrors.Load(),
		DequeueHits:   m.DequeueHits.Load(),
		DequeueMiss:   m.DequeueMiss.Load(),
		MaxQueueDepth: m.MaxQueueDepth.Load(),
	}

	if qc := m.QueueDepthCount.Load(); qc > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(qc)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	for i := range m.LatencyBuckets {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if start > 0 {
		if stop > 0 {
			snap.UptimeNs = uint64(stop - start)
		} else {
			snap.UptimeNs = uint64(time.Now().UnixNano() - start)
		}
	}

	return snap
}
