package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utpal16raj09/PerformaMeter/pkg/metric"
	"github.com/utpal16raj09/PerformaMeter/pkg/perfwatch"
)

func TestWriteReportSummarisesStoredEvents(t *testing.T) {
	store := perfwatch.NewMemoryStore()
	raw, err := json.Marshal([]metric.Event{
		{Type: metric.TypeAPIRequest, Endpoint: "/a", Status: 200, Success: true, Duration: 100, Timestamp: 1_700_000_000_000},
		{Type: metric.TypeAPIRequest, Endpoint: "/a", Status: 503, Duration: 300, Timestamp: 1_700_000_001_000},
	})
	require.NoError(t, err)
	require.NoError(t, store.Save("perfwatch_metrics", raw))

	var out bytes.Buffer
	require.NoError(t, writeReport(&out, store, "perfwatch_metrics", time.UTC))

	var report struct {
		Summary struct {
			AvgLatency    int64   `json:"avgLatency"`
			FailureRate   float64 `json:"failureRate"`
			TotalRequests int     `json:"totalRequests"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, int64(200), report.Summary.AvgLatency)
	assert.Equal(t, 50.0, report.Summary.FailureRate)
	assert.Equal(t, 2, report.Summary.TotalRequests)
}

func TestWriteReportEmptyStore(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeReport(&out, perfwatch.NewMemoryStore(), "missing", time.UTC))
	assert.Contains(t, out.String(), `"totalRequests": 0`)
}

func TestReportCommandReadsFileStore(t *testing.T) {
	dir := t.TempDir()
	store, err := perfwatch.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save("k", []byte(`[{"type":"api_request","endpoint":"/x","status":200,"success":true,"duration":40}]`)))

	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"report", "--store", "file", "--dir", dir, "--key", "k"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"avgLatency": 40`)
}

func TestVersionCommand(t *testing.T) {
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "perfwatch dev\n", out.String())
}
