package perfwatch

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

// RequestOptions describes a tracked request.
type RequestOptions struct {
	Method     string
	Attributes map[string]any
}

// RequestHandle measures one request from TrackRequest to End.
type RequestHandle struct {
	RequestID string

	c        *Collector
	endpoint string
	method   string
	attrs    map[string]any
	started  time.Time
	active   bool

	mu    sync.Mutex
	ended bool
}

// TrackRequest starts timing a request to endpoint and counts it.
func (c *Collector) TrackRequest(endpoint string, opts RequestOptions) *RequestHandle {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	h := &RequestHandle{
		RequestID: "req_" + uuid.NewString(),
		c:         c,
		endpoint:  endpoint,
		method:    method,
		attrs:     opts.Attributes,
		started:   c.platform.Now(),
	}

	c.mu.Lock()
	if !c.opts.Disabled && !c.destroyed {
		c.totalRequests++
		h.active = true
	}
	c.mu.Unlock()
	return h
}

// End records the outcome. Only the first call records an event; later calls return
// false and are logged.
func (h *RequestHandle) End(status int, err error) (metric.Event, bool) {
	h.mu.Lock()
	if h.ended {
		h.mu.Unlock()
		h.c.log.Warn("request already ended", "request_id", h.RequestID, "endpoint", h.endpoint)
		return metric.Event{}, false
	}
	h.ended = true
	h.mu.Unlock()

	if !h.active {
		return metric.Event{}, false
	}

	now := h.c.platform.Now()
	var errText *string
	if err != nil {
		errText = metric.StringPtr(err.Error())
		if errText == nil {
			errText = metric.StringPtr("error")
		}
	}
	evt := metric.Event{
		Type:        metric.TypeAPIRequest,
		Timestamp:   now.UnixMilli(),
		RequestID:   h.RequestID,
		Endpoint:    h.endpoint,
		Method:      h.method,
		Status:      status,
		Duration:    float64(now.Sub(h.started)) / float64(time.Millisecond),
		Error:       errText,
		MemoryUsage: h.c.platform.MemoryUsage(),
		Attributes:  h.attrs,
	}
	evt.Normalize(now)

	if evt.Error != nil || status >= http.StatusBadRequest {
		h.c.mu.Lock()
		h.c.totalErrors++
		h.c.mu.Unlock()
	}
	h.c.Track(evt)
	evt.SessionID = h.c.sessionID
	return evt, true
}
