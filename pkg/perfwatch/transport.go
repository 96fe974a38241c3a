package perfwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

// ErrRejected indicates the relay refused the batch as malformed.
var ErrRejected = errors.New("perfwatch batch rejected")

// ErrRateLimited indicates the relay throttled ingestion.
var ErrRateLimited = errors.New("perfwatch ingestion rate limited")

// ErrTooLarge indicates the batch exceeded the relay's body limit.
var ErrTooLarge = errors.New("perfwatch batch too large")

// ErrNotFound indicates the ingestion endpoint does not exist.
var ErrNotFound = errors.New("perfwatch ingestion endpoint not found")

// Delivery channels.
const (
	ChannelHTTP = "http"
	ChannelLive = "live"
)

// DeliveryResult reports the fate of one flushed batch on one channel.
type DeliveryResult struct {
	Channel string
	Count   int
	Err     error
}

// Delivered reports whether the batch was accepted.
func (r DeliveryResult) Delivered() bool {
	return r.Err == nil
}

// Transport delivers a batch to the ingestion endpoint.
type Transport interface {
	Send(ctx context.Context, batch metric.Batch) error
}

// HTTPTransport posts batches as {"metrics": [...]} to a relay.
type HTTPTransport struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

// NewHTTPTransport creates a transport for endpoint. A nil client gets a 5s timeout.
func NewHTTPTransport(endpoint string, client *http.Client) (*HTTPTransport, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errors.New("perfwatch endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &HTTPTransport{endpoint: trimmed, client: client}, nil
}

// Send posts the batch. Any 2xx status counts as delivered; the response body is
// not inspected.
func (t *HTTPTransport) Send(ctx context.Context, batch metric.Batch) error {
	if t == nil {
		return errors.New("perfwatch transport not initialised")
	}
	if batch == nil {
		batch = metric.Batch{}
	}
	body, err := json.Marshal(metric.IngestRequest{Metrics: batch})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorForStatus(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
	return nil
}

func errorForStatus(resp *http.Response) error {
	limited := io.LimitReader(resp.Body, maxErrorBodySize)
	buf, _ := io.ReadAll(limited)
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrRejected, summary)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, summary)
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %s", ErrTooLarge, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("ingest request failed: %s", summary)
	}
}
