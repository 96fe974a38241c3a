package aggregate

import (
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// Report bundles every derived view over one event log.
type Report struct {
	Summary      Summary      `json:"summary"`
	Distribution Distribution `json:"distribution"`
	Heatmap      Heatmap      `json:"heatmap"`
	Trend        TrendSet     `json:"trend"`
	Gauges       Gauges       `json:"gauges"`
	Alerts       []Alert      `json:"alerts"`
}

// Build computes the full report. Callers pass a snapshot, never a live slice.
func Build(events []metric.Event, loc *time.Location) Report {
	gauges := ComputeGauges(events, DefaultGaugeWindow)
	return Report{
		Summary:      Summarize(events),
		Distribution: Distribute(events),
		Heatmap:      BuildHeatmap(events, loc),
		Trend:        Trend(events, DefaultTrendWindow),
		Gauges:       gauges,
		Alerts:       Evaluate(gauges, DefaultThresholds),
	}
}
