package perfwatch

import (
	"net/http"
)

// RoundTripper wraps base so every outbound request is tracked as an api_request
// event. A nil base uses http.DefaultTransport.
func (c *Collector) RoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		handle := c.TrackRequest(req.URL.Path, RequestOptions{
			Method:     req.Method,
			Attributes: map[string]any{"host": req.URL.Host, "direction": "outbound"},
		})
		resp, err := base.RoundTrip(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		handle.End(status, err)
		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware tracks every inbound request handled by next.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle := c.TrackRequest(r.URL.Path, RequestOptions{
			Method:     r.Method,
			Attributes: map[string]any{"direction": "inbound"},
		})
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		handle.End(recorder.status, nil)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
