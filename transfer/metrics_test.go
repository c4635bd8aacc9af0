package transfer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panshare/internal"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestPrometheusObserver_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	obs.RecordStore(internal.ProviderQuark, time.Second, nil)
	obs.RecordStore(internal.ProviderQuark, time.Second, internal.NewPollTimeoutError("t", 3))
	obs.RecordStore(internal.ProviderBaidu, time.Second, internal.NewPartialSuccessError("/a"))
	obs.RecordDelete(internal.ProviderBaidu, time.Second, nil)

	assert.Equal(t, 1.0, counterValue(t, obs.operations.WithLabelValues("quark", "store", "success")))
	assert.Equal(t, 1.0, counterValue(t, obs.operations.WithLabelValues("quark", "store", "PollTimeout")))
	assert.Equal(t, 1.0, counterValue(t, obs.operations.WithLabelValues("baidu", "store", "partial")))
	assert.Equal(t, 1.0, counterValue(t, obs.operations.WithLabelValues("baidu", "delete", "success")))
}

func TestPrometheusObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	second.RecordDelete(internal.ProviderQuark, time.Millisecond, nil)
	assert.Equal(t, 1.0, counterValue(t, first.operations.WithLabelValues("quark", "delete", "success")))
}

func TestPrometheusObserver_WriteTextfile(t *testing.T) {
	obs, err := NewPrometheusObserver("", nil)
	require.NoError(t, err)
	obs.RecordStore(internal.ProviderQuark, 2*time.Second, nil)

	path := filepath.Join(t.TempDir(), "panshare.prom")
	require.NoError(t, obs.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `panshare_operations_total{operation="store",outcome="success",provider="quark"} 1`), string(data))
}

func TestNilObserverIsSafe(t *testing.T) {
	var obs *PrometheusObserver
	assert.NotPanics(t, func() { obs.RecordStore(internal.ProviderQuark, time.Second, nil) })
}
