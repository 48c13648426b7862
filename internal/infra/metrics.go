package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	eventsIngested     atomic.Uint64
	eventsDiscarded    atomic.Uint64
	fetchErrors        atomic.Uint64
	balanceRefreshes   atomic.Uint64
	transitionsApplied atomic.Uint64
	transitionsFailed  atomic.Uint64

	// Merge latency tracking
	mergeSumNs atomic.Int64
	mergeCount atomic.Uint64

	// Gauges
	activeStreams atomic.Int32
	feedDegraded  atomic.Int32 // 1 = push stream down, 0 = healthy
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordMerge records one merge recomputation with its latency.
func (m *Metrics) RecordMerge(latencyNs int64) {
	m.mergeSumNs.Add(latencyNs)
	m.mergeCount.Add(1)
}

// RecordEventIngested counts a push event accepted into the buffer.
func (m *Metrics) RecordEventIngested() {
	m.eventsIngested.Add(1)
}

// RecordEventDiscarded counts a push event or fetch result dropped as stale or malformed.
func (m *Metrics) RecordEventDiscarded() {
	m.eventsDiscarded.Add(1)
}

// RecordFetchError records a failed history or balance fetch.
func (m *Metrics) RecordFetchError() {
	m.fetchErrors.Add(1)
}

// RecordBalanceRefresh records a successful balance entry replacement.
func (m *Metrics) RecordBalanceRefresh() {
	m.balanceRefreshes.Add(1)
}

// RecordTransition records the outcome of a lifecycle transition.
func (m *Metrics) RecordTransition(applied bool) {
	if applied {
		m.transitionsApplied.Add(1)
	} else {
		m.transitionsFailed.Add(1)
	}
}

// IncrementStreams increments active push streams by 1.
func (m *Metrics) IncrementStreams() {
	m.activeStreams.Add(1)
}

// DecrementStreams decrements active push streams by 1.
func (m *Metrics) DecrementStreams() {
	m.activeStreams.Add(-1)
}

// SetFeedDegraded sets whether the push stream is currently down.
func (m *Metrics) SetFeedDegraded(degraded bool) {
	if degraded {
		m.feedDegraded.Store(1)
	} else {
		m.feedDegraded.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	EventsIngested     uint64
	EventsDiscarded    uint64
	FetchErrors        uint64
	BalanceRefreshes   uint64
	TransitionsApplied uint64
	TransitionsFailed  uint64
	AvgMergeLatencyNs  int64
	ActiveStreams      int32
	FeedDegraded       bool
	Timestamp          time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.mergeCount.Load()
	if count > 0 {
		avgLatency = m.mergeSumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		EventsIngested:     m.eventsIngested.Load(),
		EventsDiscarded:    m.eventsDiscarded.Load(),
		FetchErrors:        m.fetchErrors.Load(),
		BalanceRefreshes:   m.balanceRefreshes.Load(),
		TransitionsApplied: m.transitionsApplied.Load(),
		TransitionsFailed:  m.transitionsFailed.Load(),
		AvgMergeLatencyNs:  avgLatency,
		ActiveStreams:      m.activeStreams.Load(),
		FeedDegraded:       m.feedDegraded.Load() == 1,
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.eventsIngested.Store(0)
	m.eventsDiscarded.Store(0)
	m.fetchErrors.Store(0)
	m.balanceRefreshes.Store(0)
	m.transitionsApplied.Store(0)
	m.transitionsFailed.Store(0)
	m.mergeSumNs.Store(0)
	m.mergeCount.Store(0)
	m.activeStreams.Store(0)
	m.feedDegraded.Store(0)
}
