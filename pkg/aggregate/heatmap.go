package aggregate

import (
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// HeatmapCell is one (endpoint, hour-of-day) bucket.
type HeatmapCell struct {
	Endpoint   string `json:"endpoint"`
	Hour       int    `json:"hour"`
	AvgLatency int64  `json:"avgLatency"`
	Count      int    `json:"count"`
}

// Heatmap holds the flattened buckets and the endpoint axis, both in first-seen order.
type Heatmap struct {
	Cells     []HeatmapCell `json:"heatmapData"`
	Endpoints []string      `json:"endpoints"`
}

type heatKey struct {
	endpoint string
	hour     int
}

type heatBucket struct {
	key   heatKey
	count int
	sum   float64
}

// BuildHeatmap buckets api_request events by endpoint and hour of day in loc.
// A nil loc means time.Local.
func BuildHeatmap(events []metric.Event, loc *time.Location) Heatmap {
	var (
		order     []*heatBucket
		buckets   = make(map[heatKey]*heatBucket)
		endpoints = make([]string, 0)
		seen      = make(map[string]struct{})
	)
	for _, evt := range events {
		if !evt.IsRequest() {
			continue
		}
		key := heatKey{endpoint: evt.Endpoint, hour: evt.Time(loc).Hour()}
		bucket := buckets[key]
		if bucket == nil {
			bucket = &heatBucket{key: key}
			buckets[key] = bucket
			order = append(order, bucket)
		}
		bucket.count++
		bucket.sum += duration(evt)

		if _, ok := seen[evt.Endpoint]; !ok {
			seen[evt.Endpoint] = struct{}{}
			endpoints = append(endpoints, evt.Endpoint)
		}
	}

	cells := make([]HeatmapCell, 0, len(order))
	for _, b := range order {
		cells = append(cells, HeatmapCell{
			Endpoint:   b.key.endpoint,
			Hour:       b.key.hour,
			AvgLatency: roundMS(b.sum / float64(b.count)),
			Count:      b.count,
		})
	}
	return Heatmap{Cells: cells, Endpoints: endpoints}
}
