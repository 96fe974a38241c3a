package metric

import (
	"maps"
	"time"
)

// Type classifies a metric event.
type Type string

const (
	TypeAPIRequest Type = "api_request"
	TypeError      Type = "error"
	TypeNavigation Type = "navigation"
	TypePageLoad   Type = "pageLoad"
	TypeResource   Type = "resource"
	TypeCustom     Type = "custom"
)

// Event is one observed fact: a request outcome, an error or a timing sample.
type Event struct {
	Type        Type           `json:"type"`
	Timestamp   int64          `json:"timestamp"`
	SessionID   string         `json:"sessionId,omitempty"`
	RequestID   string         `json:"requestId,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Method      string         `json:"method,omitempty"`
	Status      int            `json:"status,omitempty"`
	Duration    float64        `json:"duration,omitempty"`
	Success     bool           `json:"success"`
	Error       *string        `json:"error"`
	MemoryUsage *float64       `json:"memoryUsage"`
	Name        string         `json:"name,omitempty"`
	Message     string         `json:"message,omitempty"`
	Stack       string         `json:"stack,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	URL         string         `json:"url,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Batch is an ordered group of events flushed together.
type Batch []Event

// Clone returns a deep copy of the batch. The Error and MemoryUsage pointers and
// the top level of Attributes are copied; nested attribute values are shared.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	for i, evt := range b {
		out[i] = evt.Clone()
	}
	return out
}

// Clone returns a copy of e that shares no pointers or maps with it.
func (e Event) Clone() Event {
	if e.Error != nil {
		msg := *e.Error
		e.Error = &msg
	}
	if e.MemoryUsage != nil {
		mem := *e.MemoryUsage
		e.MemoryUsage = &mem
	}
	if e.Attributes != nil {
		e.Attributes = maps.Clone(e.Attributes)
	}
	return e
}

// IsRequest reports whether the event describes an API request outcome.
func (e Event) IsRequest() bool {
	return e.Type == TypeAPIRequest
}

// Failed reports whether a request event did not succeed.
func (e Event) Failed() bool {
	return !e.Success
}

// Time converts the millisecond timestamp to a time in loc. A nil loc means time.Local.
func (e Event) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(e.Timestamp).In(loc)
}

// ErrorText returns the error message or an empty string.
func (e Event) ErrorText() string {
	if e.Error == nil {
		return ""
	}
	return *e.Error
}

// Normalize fills the timestamp when absent, clamps negative durations and derives
// Success for request events.
func (e *Event) Normalize(now time.Time) {
	if e.Timestamp <= 0 {
		e.Timestamp = now.UnixMilli()
	}
	if e.Duration < 0 {
		e.Duration = 0
	}
	if e.MemoryUsage != nil {
		mem := clampPercent(*e.MemoryUsage)
		e.MemoryUsage = &mem
	}
	if e.IsRequest() {
		e.Success = DeriveSuccess(e.Status, e.Error)
	}
}

// DeriveSuccess is the only source of truth for request success.
func DeriveSuccess(status int, errText *string) bool {
	if errText != nil {
		return false
	}
	return status >= 200 && status < 400
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
