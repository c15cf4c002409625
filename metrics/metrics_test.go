package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_NilConfig(t *testing.T) {
	c, err := NewMetrics(nil)

	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestNewMetrics_Success(t *testing.T) {
	cfg := &Config{
		Namespace: "test",
		Path:      "/metrics",
	}

	c, err := NewMetrics(cfg)

	require.NoError(t, err)
	assert.IsType(t, &PrometheusCollector{}, c)
}

func TestMustNewMetrics_NilConfig(t *testing.T) {
	assert.Panics(t, func() {
		MustNewMetrics(nil)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "/metrics", cfg.Path)
	assert.Equal(t, "jobkit", cfg.Namespace)
}

func TestPrometheusCollector_RecordJobRun(t *testing.T) {
	c := MustNewMetrics(&Config{Namespace: "test"})

	c.RecordJobRun("report", "success", 20*time.Millisecond)
	c.RecordJobRun("report", "success", 30*time.Millisecond)
	c.RecordJobRun("report", "fatal", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.jobRunsTotal.WithLabelValues("report", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.jobRunsTotal.WithLabelValues("report", "fatal")))
}

func TestPrometheusCollector_PoolAndRegistry(t *testing.T) {
	c := MustNewMetrics(&Config{Namespace: "test"})

	c.RecordSubmit()
	c.RecordSubmit()
	c.SetRegisteredJobs(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.submitsTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.registeredJobs))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := MustNewMetrics(&Config{Namespace: "test"})
	c.RecordJobRun("sync", "warned", time.Second)

	mux := http.NewServeMux()
	require.True(t, Mount(mux, c))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_job_runs_total{job_id="sync",outcome="warned"} 1`)
	assert.Contains(t, string(body), "test_registry_jobs")
}

func TestMount_WithoutHandler(t *testing.T) {
	assert.False(t, Mount(http.NewServeMux(), Nop{}))
}
