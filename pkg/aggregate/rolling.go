package aggregate

import (
	"sync"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// RollingSnapshot is a point-in-time read of a Rolling accumulator.
type RollingSnapshot struct {
	TotalRequests       int64   `json:"totalRequests"`
	TotalFailures       int64   `json:"totalFailures"`
	FailureRate         Percent `json:"errorRate"`
	AvgLatency          int64   `json:"avgLatency"`
	LastBatchAvgLatency int64   `json:"lastBatchAvgLatency"`
	Batches             int64   `json:"batches"`
}

// Rolling keeps running raw counts over a live stream. Rates are derived on read
// from the counts so repeated updates never compound rounding error.
type Rolling struct {
	mu         sync.Mutex
	requests   int64
	failures   int64
	latencySum float64
	lastAvg    float64
	batches    int64
}

// NewRolling returns an empty accumulator.
func NewRolling() *Rolling {
	return &Rolling{}
}

// Observe folds the api_request events of a batch into the running counts.
func (r *Rolling) Observe(batch []metric.Event) {
	var (
		count    int64
		failures int64
		sum      float64
	)
	for _, evt := range batch {
		if !evt.IsRequest() {
			continue
		}
		count++
		if evt.Failed() {
			failures++
		}
		sum += duration(evt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	if count == 0 {
		return
	}
	r.requests += count
	r.failures += failures
	r.latencySum += sum
	r.lastAvg = sum / float64(count)
}

// Snapshot derives the current view from the raw counts.
func (r *Rolling) Snapshot() RollingSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RollingSnapshot{
		TotalRequests:       r.requests,
		TotalFailures:       r.failures,
		LastBatchAvgLatency: roundMS(r.lastAvg),
		Batches:             r.batches,
	}
	if r.requests > 0 {
		snap.FailureRate = Percent(round2(float64(r.failures) / float64(r.requests) * 100))
		snap.AvgLatency = roundMS(r.latencySum / float64(r.requests))
	}
	return snap
}

// Reset clears all counts.
func (r *Rolling) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests, r.failures, r.batches = 0, 0, 0
	r.latencySum, r.lastAvg = 0, 0
}
