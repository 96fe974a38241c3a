package aggregate

import (
	"fmt"
	"math"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// DefaultGaugeWindow is the number of recent requests the quick gauges cover.
const DefaultGaugeWindow = 50

// Gauges are quick stats over the most recent requests.
type Gauges struct {
	TotalRequests int     `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	AvgLatency    float64 `json:"avgLatency"`
	MemoryUsage   float64 `json:"memoryUsage"`
}

// ComputeGauges derives the gauges from the last window api_request events.
// TotalRequests counts every request, not just the window.
func ComputeGauges(events []metric.Event, window int) Gauges {
	if window <= 0 {
		window = DefaultGaugeWindow
	}
	requests := Requests(events)
	g := Gauges{TotalRequests: len(requests)}
	recent := requests
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) == 0 {
		return g
	}
	var (
		sum    float64
		errors int
	)
	for _, evt := range recent {
		sum += duration(evt)
		if evt.Failed() {
			errors++
		}
	}
	g.AvgLatency = sum / float64(len(recent))
	g.ErrorRate = float64(errors) / float64(len(recent)) * 100
	if last := recent[len(recent)-1]; last.MemoryUsage != nil {
		g.MemoryUsage = *last.MemoryUsage
	}
	return g
}

// Severity grades an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Alert is a threshold breach.
type Alert struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Thresholds configure alert evaluation. Zero fields take the defaults.
type Thresholds struct {
	AvgLatencyMS float64
	ErrorRate    float64
	MemoryUsage  float64
}

// DefaultThresholds are 1000 ms average latency, 10 % errors and 80 % memory.
var DefaultThresholds = Thresholds{AvgLatencyMS: 1000, ErrorRate: 10, MemoryUsage: 80}

// Evaluate returns the alerts breached by g. NaN inputs count as zero.
func Evaluate(g Gauges, th Thresholds) []Alert {
	if th.AvgLatencyMS <= 0 {
		th.AvgLatencyMS = DefaultThresholds.AvgLatencyMS
	}
	if th.ErrorRate <= 0 {
		th.ErrorRate = DefaultThresholds.ErrorRate
	}
	if th.MemoryUsage <= 0 {
		th.MemoryUsage = DefaultThresholds.MemoryUsage
	}

	alerts := make([]Alert, 0, 3)
	if latency := finite(g.AvgLatency); latency > th.AvgLatencyMS {
		alerts = append(alerts, Alert{
			ID:       "latency-high",
			Title:    "High Latency Detected",
			Message:  fmt.Sprintf("Average response time is %dms (Threshold: %.0fms)", roundMS(latency), th.AvgLatencyMS),
			Severity: SeverityCritical,
		})
	}
	if errRate := finite(g.ErrorRate); errRate > th.ErrorRate {
		alerts = append(alerts, Alert{
			ID:       "error-rate-high",
			Title:    "Critical Error Rate",
			Message:  fmt.Sprintf("Error rate has spiked to %.1f%%", errRate),
			Severity: SeverityCritical,
		})
	}
	if mem := finite(g.MemoryUsage); mem > th.MemoryUsage {
		alerts = append(alerts, Alert{
			ID:       "memory-high",
			Title:    "High Memory Usage",
			Message:  fmt.Sprintf("Heap usage is at %.1f%%", mem),
			Severity: SeverityWarning,
		})
	}
	return alerts
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
