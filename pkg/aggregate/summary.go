// Package aggregate turns a raw event log into bounded derived views. Every function
// is pure and total: malformed events contribute zeros and nothing panics.
package aggregate

import (
	"math"
	"strconv"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// Percent is a percentage rounded to two decimals on the wire.
type Percent float64

// MarshalJSON renders the value with exactly two decimals.
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(p), 'f', 2, 64)), nil
}

// String formats the value like MarshalJSON.
func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', 2, 64)
}

// Summary is the headline view over API requests.
type Summary struct {
	AvgLatency      int64   `json:"avgLatency"`
	FailureRate     Percent `json:"failureRate"`
	TotalRequests   int     `json:"totalRequests"`
	ActiveEndpoints int     `json:"activeEndpoints"`
}

// Summarize computes the summary over api_request events.
func Summarize(events []metric.Event) Summary {
	requests := Requests(events)
	total := len(requests)
	if total == 0 {
		return Summary{}
	}

	var (
		failed    int
		latency   float64
		endpoints = make(map[string]struct{})
	)
	for _, evt := range requests {
		if evt.Failed() {
			failed++
		}
		latency += duration(evt)
		endpoints[evt.Endpoint] = struct{}{}
	}
	return Summary{
		AvgLatency:      roundMS(latency / float64(total)),
		FailureRate:     rate(failed, total),
		TotalRequests:   total,
		ActiveEndpoints: len(endpoints),
	}
}

// Requests filters events down to api_request events, keeping order.
func Requests(events []metric.Event) []metric.Event {
	out := make([]metric.Event, 0, len(events))
	for _, evt := range events {
		if evt.IsRequest() {
			out = append(out, evt)
		}
	}
	return out
}

func rate(part, total int) Percent {
	if total <= 0 {
		return 0
	}
	return Percent(round2(float64(part) / float64(total) * 100))
}

func duration(evt metric.Event) float64 {
	if math.IsNaN(evt.Duration) || evt.Duration < 0 {
		return 0
	}
	return evt.Duration
}

func roundMS(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
