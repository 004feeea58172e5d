package observability

import (
	"sync/atomic"
	"time"
)

// RunnerMetrics is the worker-local counter set logged periodically by the
// runner. Prometheus covers scraping; this snapshot keeps the numbers in the
// worker's own log stream for quick triage.
type RunnerMetrics struct {
	consumed  atomic.Uint64
	completed atomic.Uint64
	skipped   atomic.Uint64
	transient atomic.Uint64
	poisoned  atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewRunnerMetrics() *RunnerMetrics {
	m := &RunnerMetrics{}
	m.durationMax.Store(0)
	return m
}

func (m *RunnerMetrics) IncConsumed() {
	m.consumed.Add(1)
}

func (m *RunnerMetrics) IncCompleted() {
	m.completed.Add(1)
}

func (m *RunnerMetrics) IncSkipped() {
	m.skipped.Add(1)
}

func (m *RunnerMetrics) IncTransient() {
	m.transient.Add(1)
}

func (m *RunnerMetrics) IncPoisoned() {
	m.poisoned.Add(1)
}

func (m *RunnerMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	// max update

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type RunnerMetricsSnapshot struct {
	Consumed        uint64
	Completed       uint64
	Skipped         uint64
	Transient       uint64
	Poisoned        uint64
	DurationCount   uint64
	AverageDuration time.Duration
	MaxDuration     time.Duration
}

func (m *RunnerMetrics) Snapshot() RunnerMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return RunnerMetricsSnapshot{
		Consumed:        m.consumed.Load(),
		Completed:       m.completed.Load(),
		Skipped:         m.skipped.Load(),
		Transient:       m.transient.Load(),
		Poisoned:        m.poisoned.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
