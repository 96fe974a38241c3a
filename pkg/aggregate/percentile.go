package aggregate

import (
	"math"
	"sort"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// DistributionStep is the spacing of the percentile ladder.
const DistributionStep = 5

// Point is one rung of the percentile ladder.
type Point struct {
	Percentile int   `json:"percentile"`
	Latency    int64 `json:"latency"`
}

// Percentiles holds the named percentiles.
type Percentiles struct {
	P50 int64 `json:"p50"`
	P90 int64 `json:"p90"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// Distribution is the latency percentile view.
type Distribution struct {
	Points      []Point     `json:"distribution"`
	Percentiles Percentiles `json:"percentiles"`
}

// Latencies returns the api_request durations sorted ascending.
func Latencies(events []metric.Event) []float64 {
	out := make([]float64, 0, len(events))
	for _, evt := range events {
		if evt.IsRequest() {
			out = append(out, duration(evt))
		}
	}
	sort.Float64s(out)
	return out
}

// Percentile returns the nearest-rank percentile of sorted values: the element at
// index ceil(p/100*n)-1, clamped to the slice. Empty input yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// Distribute builds the percentile ladder from 0 to 100 in DistributionStep steps plus
// the named percentiles.
func Distribute(events []metric.Event) Distribution {
	sorted := Latencies(events)
	points := make([]Point, 0, 100/DistributionStep+1)
	for p := 0; p <= 100; p += DistributionStep {
		points = append(points, Point{Percentile: p, Latency: roundMS(Percentile(sorted, float64(p)))})
	}
	return Distribution{
		Points: points,
		Percentiles: Percentiles{
			P50: roundMS(Percentile(sorted, 50)),
			P90: roundMS(Percentile(sorted, 90)),
			P95: roundMS(Percentile(sorted, 95)),
			P99: roundMS(Percentile(sorted, 99)),
		},
	}
}
