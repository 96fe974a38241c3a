package perfwatch

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	value := []byte("abc")
	require.NoError(t, store.Save("k", value))
	value[0] = 'z'

	got, err := store.Load("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	missing, err := store.Load("missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	missing, err := store.Load("perfwatch_metrics")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save("perfwatch_metrics", []byte(`[1]`)))
	require.NoError(t, store.Save("perfwatch_metrics", []byte(`[1,2]`)))
	got, err := store.Load("perfwatch_metrics")
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, filepath.Join(dir, "a_b.json"), store.Path("a/b"))
}

func TestRedisStoreRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedisStoreFromClient(client, time.Hour)
	defer store.Close()

	missing, err := store.Load("perfwatch_metrics")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save("perfwatch_metrics", []byte(`[{"type":"custom"}]`)))
	got, err := store.Load("perfwatch_metrics")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"custom"}]`, string(got))
	assert.Equal(t, time.Hour, srv.TTL("perfwatch:store:perfwatch_metrics"))
}

func TestHostPlatformPersistsAndReportsPanics(t *testing.T) {
	platform := NewHostPlatform(nil)
	require.NoError(t, platform.Persist("k", []byte("v")))
	got, err := platform.Retrieve("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	var seen []ErrorInfo
	stop := platform.ObserveUnhandledErrors(func(info ErrorInfo) { seen = append(seen, info) })

	assert.Panics(t, func() {
		defer platform.Recover()
		panic("boom")
	})
	require.Len(t, seen, 1)
	assert.Equal(t, "panic", seen[0].Kind)
	assert.Equal(t, "boom", seen[0].Message)
	assert.NotEmpty(t, seen[0].Stack)

	stop()
	stop()
	platform.Report(ErrorInfo{Message: "after stop"})
	assert.Len(t, seen, 1)

	mem := platform.MemoryUsage()
	require.NotNil(t, mem)
	assert.True(t, *mem > 0 && *mem <= 100)
}

func TestHeapPercent(t *testing.T) {
	pct := heapPercent(50, 200, 1000)
	require.NotNil(t, pct)
	assert.Equal(t, 25.0, *pct)

	pct = heapPercent(50, math.MaxInt64, 1000)
	require.NotNil(t, pct)
	assert.Equal(t, 5.0, *pct, "unset limit falls back to total")

	pct = heapPercent(500, 100, 1000)
	require.NotNil(t, pct)
	assert.Equal(t, 100.0, *pct)

	assert.Nil(t, heapPercent(10, 0, 0))
}
