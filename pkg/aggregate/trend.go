package aggregate

import "github.com/utpal16raj09/PerformaMeter/pkg/metric"

// DefaultTrendWindow is the number of recent requests a trend covers.
const DefaultTrendWindow = 20

// Dimension selects the value plotted by a trend series.
type Dimension string

const (
	DimensionLatency Dimension = "latency"
	DimensionMemory  Dimension = "memory"
	DimensionStatus  Dimension = "status"
)

// TrendPoint is one evenly spaced sample. Index is the position in the trimmed
// window, not a timestamp.
type TrendPoint struct {
	Index int     `json:"time"`
	Value float64 `json:"value"`
}

// TrendSet maps each requested dimension to its series.
type TrendSet map[Dimension][]TrendPoint

// Trend takes the most recent window api_request events in arrival order and emits
// one series per dimension. With no dimensions it emits latency and memory.
func Trend(events []metric.Event, window int, dims ...Dimension) TrendSet {
	if window <= 0 {
		window = DefaultTrendWindow
	}
	if len(dims) == 0 {
		dims = []Dimension{DimensionLatency, DimensionMemory}
	}
	recent := Requests(events)
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	set := make(TrendSet, len(dims))
	for _, dim := range dims {
		series := make([]TrendPoint, 0, len(recent))
		for i, evt := range recent {
			series = append(series, TrendPoint{Index: i, Value: dimensionValue(evt, dim)})
		}
		set[dim] = series
	}
	return set
}

func dimensionValue(evt metric.Event, dim Dimension) float64 {
	switch dim {
	case DimensionLatency:
		return duration(evt)
	case DimensionMemory:
		if evt.MemoryUsage == nil {
			return 0
		}
		return *evt.MemoryUsage
	case DimensionStatus:
		return float64(evt.Status)
	default:
		return 0
	}
}
